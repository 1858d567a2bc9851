package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartRunSpan starts the root span covering one full run.
func StartRunSpan(ctx context.Context, tracer trace.Tracer, runID, protocol string) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "run",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		attribute.String("rpcfire.run_id", runID),
		attribute.String("rpc.system", protocol),
	)
	return ctx, span
}

// StartWindowSpan starts a child span for one stats window.
func StartWindowSpan(ctx context.Context, tracer trace.Tracer, window int) (context.Context, trace.Span) {
	ctx, span := tracer.Start(ctx, "window")
	span.SetAttributes(attribute.Int("rpcfire.window", window))
	return ctx, span
}

// EndSpan finishes a span, recording error status if applicable.
func EndSpan(span trace.Span, err error, attrs ...attribute.KeyValue) {
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
