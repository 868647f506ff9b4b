// Package ports defines the interfaces between the picklist engine and its
// external collaborators: the LLM provider, the dataset source, progress
// reporting, and metrics. The engine depends only on these interfaces;
// adapters live under infrastructure.
package ports

import (
	"context"
	"time"

	"github.com/scoutline/picklist/internal/domain"
)

// LLMClient is the engine's view of a large-language-model provider.
// Implementations handle authentication, request formatting, retries, and
// rate limiting; the engine only sends prompts and counts tokens.
type LLMClient interface {
	// Complete sends a completion request and returns the raw response
	// text. Options carry provider-tunable parameters such as
	// "temperature" (float64) and "max_tokens" (int).
	Complete(ctx context.Context, prompt string, options map[string]any) (string, error)

	// EstimateTokens approximates the token count of a text without
	// calling the provider. The batch planner uses it to keep prompts
	// under the configured token budget.
	EstimateTokens(text string) (int, error)

	// GetModel returns the configured model identifier, for logging.
	GetModel() string
}

// DatasetProvider loads a per-event dataset snapshot. Load failures surface
// as *domain.DatasetUnavailableError.
type DatasetProvider interface {
	// Load reads the snapshot and returns the parsed dataset. The returned
	// dataset's ID must be deterministic for identical snapshot content.
	Load(ctx context.Context) (*domain.Dataset, error)

	// Ref identifies the snapshot source, for logging and errors.
	Ref() string
}

// ProgressSink receives push-style progress updates during a batch run.
// The orchestrator tolerates a nil sink; implementations must be safe for
// concurrent calls.
type ProgressSink interface {
	// ReportProgress is called after each batch completes with the number
	// of finished batches, the total batch count, and a short message.
	ReportProgress(completed, total int, message string)
}

// MetricsCollector records operational metrics. Implementations integrate
// with Prometheus or similar systems; a nil collector disables collection.
type MetricsCollector interface {
	// RecordLatency records the execution time of an operation.
	RecordLatency(operation string, duration time.Duration, labels map[string]string)

	// RecordCounter increments a counter metric.
	RecordCounter(metric string, value float64, labels map[string]string)

	// RecordGauge sets the current value of a gauge metric.
	RecordGauge(metric string, value float64, labels map[string]string)

	// RecordHistogram records a value in a histogram.
	RecordHistogram(metric string, value float64, labels map[string]string)
}
