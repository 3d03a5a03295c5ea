package enhance

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestClassifyError(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ErrorKindNone},
		{"deadline", context.DeadlineExceeded, ErrorKindTimeout},
		{"canceled", context.Canceled, ErrorKindCancelled},
		{"wrapped canceled", fmt.Errorf("call: %w", context.Canceled), ErrorKindCancelled},
		{"unavailable", ErrEnhancerUnavailable, ErrorKindDependencyMissing},
		{"no model", fmt.Errorf("select: %w", ErrNoSuitableModel), ErrorKindNoSuitableModel},
		{"status 429", &StatusError{Status: 429, Message: "throttled"}, ErrorKindRateLimited},
		{"status 500", &StatusError{Status: 500, Message: "oops"}, ErrorKindTransient},
		{"status 503", &StatusError{Status: 503, Message: "busy"}, ErrorKindTransient},
		{"status 401", &StatusError{Status: 401, Message: "nope"}, ErrorKindFatal},
		{"status 400", &StatusError{Status: 400, Message: "bad"}, ErrorKindFatal},
		{"message rate limit", errors.New("rate limit exceeded, slow down"), ErrorKindRateLimited},
		{"message resource exhausted", errors.New("RESOURCE_EXHAUSTED: quota"), ErrorKindRateLimited},
		{"message api key", errors.New("API key not valid"), ErrorKindFatal},
		{"message permission", errors.New("permission denied for project"), ErrorKindFatal},
		{"message timeout", errors.New("request timeout after 45s"), ErrorKindTimeout},
		{"unknown", errors.New("connection reset by peer"), ErrorKindTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyError(tc.err))
		})
	}
}

func TestRetryHint(t *testing.T) {
	d, ok := retryHint(&StatusError{Status: 429, RetryAfter: 9 * time.Second})
	assert.True(t, ok)
	assert.Equal(t, 9*time.Second, d)

	_, ok = retryHint(&StatusError{Status: 429})
	assert.False(t, ok)
	_, ok = retryHint(errors.New("plain"))
	assert.False(t, ok)
}

func TestErrorKindRetryable(t *testing.T) {
	assert.True(t, ErrorKindRateLimited.Retryable())
	assert.True(t, ErrorKindTransient.Retryable())
	assert.True(t, ErrorKindTimeout.Retryable())
	assert.False(t, ErrorKindFatal.Retryable())
	assert.False(t, ErrorKindParseFailure.Retryable())
	assert.False(t, ErrorKindCancelled.Retryable())
	assert.False(t, ErrorKindDependencyMissing.Retryable())
}

func TestUnavailableEnhancer(t *testing.T) {
	_, err := UnavailableEnhancer{}.Complete(context.Background(), CompletionRequest{})
	assert.ErrorIs(t, err, ErrEnhancerUnavailable)
}

func TestLiveEnhancerNilClient(t *testing.T) {
	e := NewLiveEnhancer(nil, nil)
	_, err := e.Complete(context.Background(), CompletionRequest{Model: "m", Prompt: "p"})
	assert.ErrorIs(t, err, ErrEnhancerUnavailable)
}

func TestStatusErrorMessage(t *testing.T) {
	err := &StatusError{Status: 429, Message: "quota exceeded"}
	assert.Equal(t, "provider status 429: quota exceeded", err.Error())
}
