package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for syncline tracing.
const tracerName = "github.com/syncline/syncline"

// Tracing returns middleware that wraps run execution in an OpenTelemetry
// span. If no TracerProvider is configured globally, the default noop
// tracer is used and this middleware becomes a pass-through with zero
// overhead.
//
// Span attributes include: syncline.run.id, syncline.job.name,
// syncline.collection, syncline.schedule. On error, the span status is
// set to codes.Error with the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, r *Run, next Handler) error {
		ctx, span := tracer.Start(ctx, "syncline.run.execute",
			trace.WithAttributes(
				attribute.String("syncline.run.id", r.ID.String()),
				attribute.String("syncline.job.name", r.Def.Name),
				attribute.String("syncline.collection", r.Def.Collection),
				attribute.String("syncline.schedule", r.Def.Schedule),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
