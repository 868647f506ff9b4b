package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/scoutline/picklist/internal/ports"
)

type metricsLLM struct {
	next      CoreLLM
	collector ports.MetricsCollector
}

// MetricsMiddleware records request latency, outcome, and token usage per
// provider and model. A nil collector disables collection.
func MetricsMiddleware(collector ports.MetricsCollector) Middleware {
	return func(next CoreLLM) CoreLLM {
		return &metricsLLM{next: next, collector: collector}
	}
}

func (m *metricsLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, Usage, error) {
	start := time.Now()
	response, usage, err := m.next.DoRequest(ctx, prompt, opts)
	if m.collector == nil {
		return response, usage, err
	}

	labels := map[string]string{
		"provider": providerFromModel(m.next.GetModel()),
		"model":    m.next.GetModel(),
		"status":   statusLabel(ctx, err),
	}

	m.collector.RecordLatency("llm_request", time.Since(start), labels)
	m.collector.RecordCounter("llm_requests_total", 1, labels)

	if err == nil {
		labels["token_type"] = "input"
		m.collector.RecordCounter("llm_tokens_total", float64(usage.TokensIn), labels)
		labels["token_type"] = "output"
		m.collector.RecordCounter("llm_tokens_total", float64(usage.TokensOut), labels)
	}

	return response, usage, err
}

func statusLabel(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

// providerFromModel infers the provider from the model name for metric
// labels, avoiding a second plumbing path for a string the model name
// already implies.
func providerFromModel(model string) string {
	switch {
	case strings.Contains(model, "claude"):
		return "anthropic"
	case strings.Contains(model, "gpt"):
		return "openai"
	case strings.Contains(model, "gemini"):
		return "google"
	default:
		return "unknown"
	}
}

func (m *metricsLLM) GetModel() string      { return m.next.GetModel() }
func (m *metricsLLM) SetModel(model string) { m.next.SetModel(model) }
