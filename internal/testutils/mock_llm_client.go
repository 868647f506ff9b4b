// Package testutils provides deterministic fakes for testing the ranking
// pipeline without live provider calls.
package testutils

import (
	"context"
	"strings"
	"sync"

	"github.com/scoutline/picklist/internal/ports"
)

// MockResponse is a scripted reply matched against prompts by substring.
type MockResponse struct {
	// Pattern is matched as a substring of the prompt. Empty matches
	// everything and acts as the default.
	Pattern string

	// Response is the reply text for matching prompts.
	Response string

	// Err, when set, is returned instead of the response.
	Err error
}

// MockLLMClient implements ports.LLMClient with scripted responses.
// Replies are selected by longest matching pattern, so specific scripts
// win over the default. Safe for concurrent use.
type MockLLMClient struct {
	mu        sync.Mutex
	model     string
	responses []MockResponse
	replyFunc func(prompt string) (string, error)
	failNext  int
	failErr   error
	calls     int
	prompts   []string
}

var _ ports.LLMClient = (*MockLLMClient)(nil)

// NewMockLLMClient creates a mock with no scripted responses. Unmatched
// prompts return an empty ranking reply.
func NewMockLLMClient(model string) *MockLLMClient {
	return &MockLLMClient{model: model}
}

// AddResponse scripts a reply for prompts containing the pattern.
func (m *MockLLMClient) AddResponse(response MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, response)
}

// SetReplyFunc installs a function that computes replies from prompts.
// It takes precedence over scripted responses.
func (m *MockLLMClient) SetReplyFunc(fn func(prompt string) (string, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replyFunc = fn
}

// FailNext makes the next n calls return err before any matching applies.
func (m *MockLLMClient) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
	m.failErr = err
}

// Complete returns the scripted reply for the prompt.
func (m *MockLLMClient) Complete(ctx context.Context, prompt string, options map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	m.prompts = append(m.prompts, prompt)

	if m.failNext > 0 {
		m.failNext--
		return "", m.failErr
	}

	if m.replyFunc != nil {
		return m.replyFunc(prompt)
	}

	var best *MockResponse
	for i := range m.responses {
		r := &m.responses[i]
		if !strings.Contains(prompt, r.Pattern) {
			continue
		}
		if best == nil || len(r.Pattern) > len(best.Pattern) {
			best = r
		}
	}
	if best == nil {
		return `{"ranking": []}`, nil
	}
	if best.Err != nil {
		return "", best.Err
	}
	return best.Response, nil
}

// EstimateTokens approximates tokens as words, mirroring the production
// estimator closely enough for batch planning in tests.
func (m *MockLLMClient) EstimateTokens(text string) (int, error) {
	return len(strings.Fields(text)), nil
}

// GetModel returns the mock model identifier.
func (m *MockLLMClient) GetModel() string { return m.model }

// CallCount reports how many Complete calls were made.
func (m *MockLLMClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Prompts returns a copy of all prompts seen, in call order.
func (m *MockLLMClient) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.prompts))
	copy(out, m.prompts)
	return out
}
