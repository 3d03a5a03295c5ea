package enhance

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

var promptItemPattern = regexp.MustCompile(`(?m)^Item \d+:`)

// MockEnhancer is a test double that answers with well-formed batch
// responses derived from the prompt, or with whatever Fn returns when set.
// It records every request it sees.
type MockEnhancer struct {
	mu       sync.Mutex
	requests []CompletionRequest

	// Fn overrides the default echo behavior when non-nil.
	Fn func(req CompletionRequest) (Completion, error)
}

// NewMockEnhancer returns an enhancer whose default answer is one
// "Enhanced Item N:" segment per "Item N:" marker found in the prompt.
func NewMockEnhancer() *MockEnhancer {
	return &MockEnhancer{}
}

// Complete implements Enhancer.
func (m *MockEnhancer) Complete(ctx context.Context, req CompletionRequest) (Completion, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Completion{}, err
	}
	if m.Fn != nil {
		return m.Fn(req)
	}

	count := len(promptItemPattern.FindAllString(req.Prompt, -1))
	if count == 0 {
		count = 1
	}
	var sb strings.Builder
	for i := 1; i <= count; i++ {
		if i > 1 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "Enhanced Item %d: rewritten content %d", i, i)
	}
	text := sb.String()
	return Completion{
		Text:             text,
		PromptTokens:     EstimateTokens(req.Prompt),
		CompletionTokens: EstimateTokens(text),
	}, nil
}

// Requests returns a copy of every request seen so far.
func (m *MockEnhancer) Requests() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CompletionRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// CallCount reports how many calls were dispatched.
func (m *MockEnhancer) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}
