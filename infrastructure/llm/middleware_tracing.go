package llm

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type tracingLLM struct {
	next   CoreLLM
	tracer trace.Tracer
}

// TracingMiddleware wraps each request in an OpenTelemetry span carrying
// the model, prompt size, and token usage. Spans nest under whatever span
// the incoming context carries, so a ranking run's batches show up as
// children of the run.
func TracingMiddleware(serviceName string) Middleware {
	tracer := otel.Tracer(serviceName)
	return func(next CoreLLM) CoreLLM {
		return &tracingLLM{next: next, tracer: tracer}
	}
}

func (t *tracingLLM) DoRequest(ctx context.Context, prompt string, opts map[string]any) (string, Usage, error) {
	ctx, span := t.tracer.Start(ctx, "llm.request", trace.WithAttributes(
		attribute.String("llm.model", t.next.GetModel()),
		attribute.Int("llm.prompt_chars", len(prompt)),
	))
	defer span.End()

	response, usage, err := t.next.DoRequest(ctx, prompt, opts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return response, usage, err
	}

	span.SetAttributes(
		attribute.Int("llm.tokens_in", usage.TokensIn),
		attribute.Int("llm.tokens_out", usage.TokensOut),
		attribute.Int("llm.response_chars", len(response)),
	)
	span.SetStatus(codes.Ok, "")
	return response, usage, nil
}

func (t *tracingLLM) GetModel() string  { return t.next.GetModel() }
func (t *tracingLLM) SetModel(m string) { t.next.SetModel(m) }
