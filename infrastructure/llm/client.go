// Package llm provides the picklist engine's LLM client: a unified
// interface over multiple providers (Anthropic, OpenAI, Google) with
// middleware for retries, rate limiting, timeouts, metrics, and tracing.
//
// Providers implement the minimal CoreLLM interface; cross-cutting concerns
// wrap it through the Middleware chain, so operational features compose
// without touching provider logic:
//
//	client, err := llm.NewClient("anthropic", llm.ClientConfig{
//	    APIKey: os.Getenv("ANTHROPIC_API_KEY"),
//	    Model:  "claude-sonnet-4-20250514",
//	    Middleware: []llm.Middleware{
//	        llm.RateLimitMiddleware(10, 20),
//	        llm.RetryMiddleware(3, 500*time.Millisecond, 30*time.Second),
//	    },
//	})
package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/scoutline/picklist/internal/ports"
)

// Usage reports the token consumption of one request. Providers fill it
// from API usage metadata, falling back to estimation when the metadata is
// absent.
type Usage struct {
	// TokensIn is the prompt token count.
	TokensIn int

	// TokensOut is the completion token count.
	TokensOut int
}

// CoreLLM is the minimal surface a provider must implement. Middleware
// wraps any conforming implementation.
type CoreLLM interface {
	// DoRequest sends a prompt to the provider and returns the response
	// text and token usage. opts carries provider-tunable parameters
	// such as "temperature" (float64) and "max_tokens" (int).
	DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, Usage, error)

	// GetModel returns the configured model name.
	GetModel() string

	// SetModel updates the model for subsequent requests.
	SetModel(model string)
}

// Middleware wraps a CoreLLM to add cross-cutting behavior. Middleware in
// ClientConfig applies in order, the first being outermost.
type Middleware func(CoreLLM) CoreLLM

// TokenEstimator approximates token counts without calling a provider.
type TokenEstimator interface {
	EstimateTokens(text string) int
}

// ClientConfig configures provider construction and the middleware chain.
type ClientConfig struct {
	// APIKey authenticates with the provider. For the Google provider it
	// may instead name a service-account credentials file.
	APIKey string

	// Model selects the provider model. Empty uses the provider default.
	Model string

	// BaseURL overrides the provider endpoint; empty uses the default.
	BaseURL string

	// Timeout bounds individual requests; zero means no client timeout.
	Timeout time.Duration

	// TokenEstimator overrides token counting; nil uses a word-based
	// estimator.
	TokenEstimator TokenEstimator

	// Middleware is applied in order, first outermost.
	Middleware []Middleware
}

// Client implements ports.LLMClient over a middleware-wrapped provider.
type Client struct {
	core      CoreLLM
	estimator TokenEstimator
}

var _ ports.LLMClient = (*Client)(nil)

// ProviderFactory builds a CoreLLM from configuration. Providers register
// themselves at init time.
type ProviderFactory func(ClientConfig) (CoreLLM, error)

var providerFactories = map[string]ProviderFactory{}

// RegisterProviderFactory registers a provider under a name. Built-in
// providers self-register; applications may add their own.
func RegisterProviderFactory(name string, factory ProviderFactory) {
	providerFactories[name] = factory
}

// NewClient builds a client for the named provider, assembling the
// middleware chain and validating configuration.
func NewClient(provider string, config ClientConfig) (*Client, error) {
	if config.APIKey == "" {
		return nil, ErrEmptyAPIKey
	}

	factory, ok := providerFactories[provider]
	if !ok {
		return nil, fmt.Errorf("unknown LLM provider: %q", provider)
	}

	core, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("create %s provider: %w", provider, err)
	}

	// Reverse application keeps the first-listed middleware outermost.
	for i := len(config.Middleware) - 1; i >= 0; i-- {
		core = config.Middleware[i](core)
	}

	estimator := config.TokenEstimator
	if estimator == nil {
		estimator = NewWordEstimator(0)
	}

	return &Client{core: core, estimator: estimator}, nil
}

// Complete sends a prompt and returns the response text, discarding usage.
func (c *Client) Complete(ctx context.Context, prompt string, options map[string]any) (string, error) {
	response, _, err := c.core.DoRequest(ctx, prompt, options)
	return response, err
}

// CompleteWithUsage sends a prompt and returns the response text with its
// token usage, for cost tracking.
func (c *Client) CompleteWithUsage(ctx context.Context, prompt string, options map[string]any) (string, Usage, error) {
	return c.core.DoRequest(ctx, prompt, options)
}

// EstimateTokens approximates the token count of a text using the
// configured estimator.
func (c *Client) EstimateTokens(text string) (int, error) {
	return c.estimator.EstimateTokens(text), nil
}

// GetModel returns the underlying provider's model name.
func (c *Client) GetModel() string { return c.core.GetModel() }
