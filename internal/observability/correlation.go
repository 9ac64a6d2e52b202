package observability

import (
	"context"

	"go.opentelemetry.io/otel/trace"
)

// WithCorrelation returns a context whose log records carry a trace context
// derived from id, so every record of one operation shares a trace ID.
// The context is returned unchanged when id is all zeros.
func WithCorrelation(ctx context.Context, id [16]byte) context.Context {
	var spanID trace.SpanID
	copy(spanID[:], id[8:])

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID(id),
		SpanID:  spanID,
	})
	if !sc.IsValid() {
		return ctx
	}
	return trace.ContextWithSpanContext(ctx, sc)
}
