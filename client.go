package enhance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"
)

// ErrEnhancerUnavailable is returned by UnavailableEnhancer for every call.
var ErrEnhancerUnavailable = errors.New("enhancement client not available")

// CompletionRequest is the outbound shape of one enhancement call.
type CompletionRequest struct {
	Model       string
	Prompt      string
	MaxTokens   int
	Temperature float32
}

// Completion is the provider's answer plus its reported token usage.
type Completion struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}

// Enhancer executes one completion call against a provider. Implementations
// are selected once at startup, never probed per call.
type Enhancer interface {
	Complete(ctx context.Context, req CompletionRequest) (Completion, error)
}

// StatusError carries an HTTP-like status from the provider boundary so
// failures can be classified without string matching. RetryAfter is the
// server's wait hint when it sent one.
type StatusError struct {
	Status     int
	Message    string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider status %d: %s", e.Status, e.Message)
}

// ClassifyError maps a call failure onto the ErrorKind taxonomy. Statuses are
// preferred; otherwise the message is sniffed the way the original provider
// exceptions had to be.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return ErrorKindNone
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ErrorKindCancelled
	}
	if errors.Is(err, ErrEnhancerUnavailable) {
		return ErrorKindDependencyMissing
	}
	if errors.Is(err, ErrNoSuitableModel) {
		return ErrorKindNoSuitableModel
	}
	var se *StatusError
	if errors.As(err, &se) {
		switch {
		case se.Status == 429:
			return ErrorKindRateLimited
		case se.Status >= 500:
			return ErrorKindTransient
		case se.Status >= 400:
			return ErrorKindFatal
		}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "429"),
		strings.Contains(msg, "resource_exhausted"), strings.Contains(msg, "resource exhausted"):
		return ErrorKindRateLimited
	case strings.Contains(msg, "api key"), strings.Contains(msg, "unauthenticated"),
		strings.Contains(msg, "unauthorized"), strings.Contains(msg, "permission denied"),
		strings.Contains(msg, "invalid argument"):
		return ErrorKindFatal
	case strings.Contains(msg, "deadline"), strings.Contains(msg, "timeout"):
		return ErrorKindTimeout
	}
	return ErrorKindTransient
}

// retryHint extracts a server-provided wait hint, if any.
func retryHint(err error) (time.Duration, bool) {
	var se *StatusError
	if errors.As(err, &se) && se.RetryAfter > 0 {
		return se.RetryAfter, true
	}
	return 0, false
}

// LiveEnhancer talks to the Gemini API via Google GenAI.
type LiveEnhancer struct {
	client *genai.Client
	log    *slog.Logger
}

// NewLiveEnhancer wraps an initialized genai client.
func NewLiveEnhancer(client *genai.Client, log *slog.Logger) *LiveEnhancer {
	if log == nil {
		log = slog.Default()
	}
	return &LiveEnhancer{client: client, log: log}
}

// Complete implements Enhancer against the live API.
func (e *LiveEnhancer) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	if e.client == nil {
		return Completion{}, ErrEnhancerUnavailable
	}

	e.log.Debug("Dispatching completion",
		"model", req.Model,
		"prompt_length", len(req.Prompt),
		"max_tokens", req.MaxTokens)

	config := &genai.GenerateContentConfig{}
	if req.Temperature > 0 {
		temp := req.Temperature
		config.Temperature = &temp
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{genai.NewPartFromText(req.Prompt)}, genai.RoleUser),
	}

	resp, err := e.client.Models.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		return Completion{}, fmt.Errorf("generate content: %w", err)
	}

	if len(resp.Candidates) == 0 {
		return Completion{}, fmt.Errorf("no candidates in response")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return Completion{}, fmt.Errorf("no parts in candidate content")
	}
	part := candidate.Content.Parts[0]
	if part.Text == "" {
		return Completion{}, fmt.Errorf("no text in first part of response")
	}

	out := Completion{Text: part.Text}
	if resp.UsageMetadata != nil {
		out.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	e.log.Debug("Received completion",
		"model", req.Model,
		"response_length", len(out.Text),
		"prompt_tokens", out.PromptTokens,
		"completion_tokens", out.CompletionTokens)
	return out, nil
}

// UnavailableEnhancer fails fast with a clear error when no provider client
// could be constructed. Selected once at startup in place of LiveEnhancer.
type UnavailableEnhancer struct{}

// Complete implements Enhancer by always failing.
func (UnavailableEnhancer) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	return Completion{}, ErrEnhancerUnavailable
}
