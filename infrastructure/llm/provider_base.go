package llm

import (
	"fmt"
	"net/url"
	"sync"
)

// Parameter bounds shared by all providers.
const (
	// DefaultMaxTokens is the reply budget when the caller sets none.
	DefaultMaxTokens = 1024

	// MinTemperature and MaxTemperature bound the sampling temperature.
	// The upper bound accommodates Gemini's 0-2 range.
	MinTemperature = 0.0
	MaxTemperature = 2.0
)

// BaseProvider carries the thread-safe model field every provider embeds.
type BaseProvider struct {
	mu    sync.RWMutex
	model string
}

// GetModel returns the configured model name. Safe for concurrent use.
func (b *BaseProvider) GetModel() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.model
}

// SetModel updates the model name. Safe for concurrent use.
func (b *BaseProvider) SetModel(model string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.model = model
}

// RequestOptions is the standardized parameter set extracted from the
// per-request options map.
type RequestOptions struct {
	// MaxTokens caps the generated reply length.
	MaxTokens int

	// Model overrides the provider's configured model for this request.
	Model string

	// Temperature controls sampling randomness; nil uses the provider
	// default.
	Temperature *float64

	// System is an optional system prompt.
	System string
}

// ParseRequestOptions extracts standardized parameters from an options map,
// applying defaults for missing or invalid entries.
func ParseRequestOptions(opts map[string]any, defaultModel string) RequestOptions {
	options := RequestOptions{
		MaxTokens: optionInt(opts, "max_tokens", DefaultMaxTokens),
		Model:     optionString(opts, "model", defaultModel),
		System:    optionString(opts, "system", ""),
	}
	if temp, ok := optionFloat(opts, "temperature"); ok && temp >= MinTemperature && temp <= MaxTemperature {
		options.Temperature = &temp
	}
	return options
}

// optionInt reads an int option, tolerating float64 values from decoded
// JSON/YAML. Non-positive values fall back to the default.
func optionInt(opts map[string]any, key string, def int) int {
	switch v := opts[key].(type) {
	case int:
		if v > 0 {
			return v
		}
	case int64:
		if v > 0 {
			return int(v)
		}
	case float64:
		if v > 0 {
			return int(v)
		}
	}
	return def
}

// optionString reads a string option, falling back on empty.
func optionString(opts map[string]any, key, def string) string {
	if v, ok := opts[key].(string); ok && v != "" {
		return v
	}
	return def
}

// optionFloat reads a float option, tolerating ints.
func optionFloat(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	}
	return 0, false
}

// ValidateBaseURL checks that an endpoint override is a well-formed http(s)
// URL. Empty is valid and means the provider default.
func ValidateBaseURL(baseURL string) (string, error) {
	if baseURL == "" {
		return "", nil
	}
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("URL scheme must be http or https, got %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("URL must include a host")
	}
	return parsed.String(), nil
}

// TokenCounter estimates token counts for a provider when API usage
// metadata is missing.
type TokenCounter struct {
	// CharactersPerToken is the approximation ratio, ~4 for English text.
	CharactersPerToken float64
}

// NewTokenCounter returns a counter with the default English ratio.
func NewTokenCounter() *TokenCounter {
	return &TokenCounter{CharactersPerToken: 4.0}
}

// EstimateTokens approximates the token count of a text.
func (tc *TokenCounter) EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return int(float64(len(text)) / tc.CharactersPerToken)
}

// Count prefers the provider-reported token count, estimating from text
// only when the report is absent.
func (tc *TokenCounter) Count(reported int, text string) int {
	if reported > 0 {
		return reported
	}
	return tc.EstimateTokens(text)
}
