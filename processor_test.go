package enhance

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoCompletion builds a well-formed batch answer with one enhanced segment
// per item marker in the prompt.
func echoCompletion(req CompletionRequest) (Completion, error) {
	count := len(promptItemPattern.FindAllString(req.Prompt, -1))
	text := ""
	for i := 1; i <= count; i++ {
		if i > 1 {
			text += "\n\n"
		}
		text += fmt.Sprintf("Enhanced Item %d: rewritten content %d", i, i)
	}
	return Completion{
		Text:             text,
		PromptTokens:     EstimateTokens(req.Prompt),
		CompletionTokens: EstimateTokens(text),
	}, nil
}

func makeChunks(n int) []ContentChunk {
	chunks := make([]ContentChunk, n)
	for i := range chunks {
		chunks[i] = ContentChunk{Text: fmt.Sprintf("source paragraph number %d with some padding text", i)}
	}
	return chunks
}

func newTestProcessor(t *testing.T, mock *MockEnhancer) *Processor {
	t.Helper()
	l := NewRateLimiter(testCatalog(0, 0), mock, nil)
	newFakeClock().install(l)
	p, err := NewProcessor(l, nil, nil, nil)
	require.NoError(t, err)
	return p
}

func TestProcessEmptyInput(t *testing.T) {
	p := newTestProcessor(t, NewMockEnhancer())
	run, err := p.Process(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, run.Results)
	assert.Zero(t, run.Completed)
	assert.Zero(t, run.Failed)
	assert.False(t, run.Cancelled)
}

func TestProcessRequiresLimiter(t *testing.T) {
	_, err := NewProcessor(nil, nil, nil, nil)
	assert.ErrorIs(t, err, ErrNoProcessor)
}

func TestProcessOrderPreservedUnderConcurrency(t *testing.T) {
	// Batches finish out of order; the result slice must still line up with
	// the input, index for index.
	mock := NewMockEnhancer()
	mock.Fn = func(req CompletionRequest) (Completion, error) {
		time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond)
		return echoCompletion(req)
	}
	p := newTestProcessor(t, mock)

	chunks := makeChunks(30)
	run, err := p.Process(context.Background(), chunks,
		WithBatchLimits(3, 1<<20),
		WithConcurrency(4),
		WithTone("professional"),
	)
	require.NoError(t, err)

	require.Len(t, run.Results, 30)
	assert.Equal(t, 30, run.Completed)
	assert.Zero(t, run.Failed)
	assert.False(t, run.Cancelled)
	assert.Greater(t, run.TotalCost, 0.0)
	for i, r := range run.Results {
		assert.Equal(t, i, r.SourceIndex)
		assert.Equal(t, chunks[i].Text, r.OriginalText)
		assert.True(t, r.Success, "chunk %d", i)
		assert.NotEmpty(t, r.EnhancedText)
		assert.Equal(t, "professional", r.Tone)
	}
}

func TestProcessFatalStopsRemainingBatches(t *testing.T) {
	mock := NewMockEnhancer()
	calls := 0
	mock.Fn = func(req CompletionRequest) (Completion, error) {
		calls++
		if calls == 1 {
			return Completion{}, &StatusError{Status: 401, Message: "invalid api key"}
		}
		return echoCompletion(req)
	}
	p := newTestProcessor(t, mock)

	run, err := p.Process(context.Background(), makeChunks(10),
		WithBatchLimits(4, 1<<20),
		WithSequential(),
	)
	require.NoError(t, err)

	require.Len(t, run.Results, 10)
	assert.Zero(t, run.Completed)
	assert.Equal(t, 10, run.Failed)
	// A fatal abort is not a user cancellation.
	assert.False(t, run.Cancelled)
	for i := 0; i < 4; i++ {
		assert.Equal(t, ErrorKindFatal, run.Results[i].ErrorKind, "chunk %d", i)
	}
	for i := 4; i < 10; i++ {
		assert.Equal(t, ErrorKindCancelled, run.Results[i].ErrorKind, "chunk %d", i)
		assert.NotEmpty(t, run.Results[i].OriginalText)
	}
	assert.Equal(t, 1, calls, "no batch may be dispatched after the fatal failure")
}

func TestProcessContinueOnFatal(t *testing.T) {
	mock := NewMockEnhancer()
	calls := 0
	mock.Fn = func(req CompletionRequest) (Completion, error) {
		calls++
		if calls == 1 {
			return Completion{}, &StatusError{Status: 401, Message: "invalid api key"}
		}
		return echoCompletion(req)
	}
	p := newTestProcessor(t, mock)

	run, err := p.Process(context.Background(), makeChunks(10),
		WithBatchLimits(4, 1<<20),
		WithSequential(),
		WithContinueOnFatal(),
	)
	require.NoError(t, err)

	assert.Equal(t, 6, run.Completed)
	assert.Equal(t, 4, run.Failed)
	assert.Equal(t, 3, calls)
	for i := 0; i < 4; i++ {
		assert.Equal(t, ErrorKindFatal, run.Results[i].ErrorKind)
	}
	for i := 4; i < 10; i++ {
		assert.True(t, run.Results[i].Success, "chunk %d", i)
	}
}

func TestProcessCancelFlagStopsScheduling(t *testing.T) {
	mock := NewMockEnhancer()
	p := newTestProcessor(t, mock)

	stop := false
	run, err := p.Process(context.Background(), makeChunks(6),
		WithBatchLimits(2, 1<<20),
		WithSequential(),
		WithCancel(func() bool { return stop }),
		WithProgress(func(done, total int, cost float64) {
			if done >= 2 {
				stop = true
			}
		}),
	)
	require.NoError(t, err)

	assert.True(t, run.Cancelled)
	assert.Equal(t, 2, run.Completed)
	assert.Equal(t, 4, run.Failed)
	for i := 2; i < 6; i++ {
		assert.Equal(t, ErrorKindCancelled, run.Results[i].ErrorKind, "chunk %d", i)
	}
}

func TestProcessShortResponseYieldsParseFailures(t *testing.T) {
	mock := NewMockEnhancer()
	mock.Fn = func(req CompletionRequest) (Completion, error) {
		// Two segments for a three-item batch.
		return Completion{Text: "Enhanced Item 1: first\n\nEnhanced Item 2: second"}, nil
	}
	p := newTestProcessor(t, mock)

	run, err := p.Process(context.Background(), makeChunks(3),
		WithBatchLimits(3, 1<<20),
		WithSequential(),
	)
	require.NoError(t, err)

	assert.Equal(t, 2, run.Completed)
	assert.Equal(t, 1, run.Failed)
	assert.True(t, run.Results[0].Success)
	assert.True(t, run.Results[1].Success)
	assert.Equal(t, ErrorKindParseFailure, run.Results[2].ErrorKind)
	assert.Equal(t, "response segment missing", run.Results[2].ErrorDetail)
}

func TestProcessRateLimitedBatchCarriesKind(t *testing.T) {
	mock := NewMockEnhancer()
	mock.Fn = func(req CompletionRequest) (Completion, error) {
		return Completion{}, &StatusError{Status: 429, Message: "throttled"}
	}
	p := newTestProcessor(t, mock)

	run, err := p.Process(context.Background(), makeChunks(2),
		WithRetry(-1, 0),
		WithSequential(),
	)
	require.NoError(t, err)

	assert.Equal(t, 2, run.Failed)
	for _, r := range run.Results {
		assert.Equal(t, ErrorKindRateLimited, r.ErrorKind)
		assert.True(t, r.ErrorKind.Retryable())
	}
}

func TestProcessProgressSequence(t *testing.T) {
	mock := NewMockEnhancer()
	p := newTestProcessor(t, mock)

	type call struct{ done, total int }
	var calls []call
	run, err := p.Process(context.Background(), makeChunks(5),
		WithBatchLimits(2, 1<<20),
		WithSequential(),
		WithProgress(func(done, total int, cost float64) {
			calls = append(calls, call{done, total})
		}),
	)
	require.NoError(t, err)
	assert.Equal(t, 5, run.Completed)
	assert.Equal(t, []call{{2, 5}, {4, 5}, {5, 5}}, calls)
}

func TestProcessPersistsResultsUnderStoreKey(t *testing.T) {
	store, err := NewSessionStore(t.TempDir(), 1<<20, nil)
	require.NoError(t, err)

	l := NewRateLimiter(testCatalog(0, 0), NewMockEnhancer(), nil)
	newFakeClock().install(l)
	p, err := NewProcessor(l, nil, store, nil)
	require.NoError(t, err)

	run, err := p.Process(context.Background(), makeChunks(4),
		WithSequential(),
		WithStoreKey("run-1"),
	)
	require.NoError(t, err)
	assert.Equal(t, 4, run.Completed)

	var got []EnhancementResult
	require.NoError(t, store.Get("run-1", &got))
	require.Len(t, got, 4)
	assert.Equal(t, run.Results[2].EnhancedText, got[2].EnhancedText)
}

func TestProcessTrackerObservesBatches(t *testing.T) {
	mock := NewMockEnhancer()
	p := newTestProcessor(t, mock)
	tracker := NewTracker()
	p.SetTracker(tracker)

	_, err := p.Process(context.Background(), makeChunks(5),
		WithBatchLimits(2, 1<<20),
		WithSequential(),
	)
	require.NoError(t, err)

	snap := tracker.Snapshot()
	assert.Equal(t, 5, snap.Total)
	assert.Equal(t, 5, snap.Completed)
	assert.Zero(t, snap.Failed)
	assert.Zero(t, snap.Pending)
	assert.Equal(t, 1.0, snap.Fraction)
}
