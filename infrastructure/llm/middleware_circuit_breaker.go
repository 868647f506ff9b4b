package llm

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker rejects a request
// without forwarding it to the provider.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState is the current circuit breaker state.
type CircuitState int

const (
	// StateClosed forwards requests normally.
	StateClosed CircuitState = iota

	// StateOpen rejects requests until the cooldown expires.
	StateOpen

	// StateHalfOpen lets one request through to probe recovery.
	StateHalfOpen
)

// CircuitBreaker trips open after maxFailures consecutive errors and
// probes recovery after a cooldown. It keeps a misbehaving provider from
// burning the whole retry budget of every batch in a run.
type CircuitBreaker struct {
	mu          sync.RWMutex
	state       CircuitState
	failures    int
	maxFailures int
	cooldown    time.Duration
	lastFailure time.Time
}

// NewCircuitBreaker creates a breaker that opens after maxFailures
// consecutive errors and stays open for cooldown.
func NewCircuitBreaker(maxFailures int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		state:       StateClosed,
		maxFailures: maxFailures,
		cooldown:    cooldown,
	}
}

// Call runs fn through the breaker, returning ErrCircuitOpen without
// calling it while the circuit is open.
func (cb *CircuitBreaker) Call(fn func() error) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastFailure) < cb.cooldown {
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		fallthrough
	case StateHalfOpen:
		if err := fn(); err != nil {
			cb.failures++
			cb.lastFailure = time.Now()
			cb.state = StateOpen
			return err
		}
		cb.failures = 0
		cb.state = StateClosed
		return nil
	default:
		if err := fn(); err != nil {
			cb.failures++
			cb.lastFailure = time.Now()
			if cb.failures >= cb.maxFailures {
				cb.state = StateOpen
			}
			return err
		}
		cb.failures = 0
		return nil
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

type circuitBreakedLLM struct {
	next CoreLLM
	cb   *CircuitBreaker
}

// CircuitBreakerMiddleware wraps requests in a circuit breaker. Place it
// inside RetryMiddleware so an open circuit short-circuits the retry loop.
func CircuitBreakerMiddleware(maxFailures int, cooldown time.Duration) Middleware {
	cb := NewCircuitBreaker(maxFailures, cooldown)
	return func(next CoreLLM) CoreLLM {
		return &circuitBreakedLLM{next: next, cb: cb}
	}
}

func (c *circuitBreakedLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, Usage, error) {
	var (
		response string
		usage    Usage
	)
	err := c.cb.Call(func() error {
		var reqErr error
		response, usage, reqErr = c.next.DoRequest(ctx, prompt, opts)
		return reqErr
	})
	if err != nil {
		return "", Usage{}, err
	}
	return response, usage, nil
}

func (c *circuitBreakedLLM) GetModel() string  { return c.next.GetModel() }
func (c *circuitBreakedLLM) SetModel(m string) { c.next.SetModel(m) }
