package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName identifies this module's spans in whatever exporter the
// application wires up; it never forces a particular exporter.
const tracerName = "nimbusdb.io/nimbus"

func tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartOperationSpan opens a span for one logical client operation (the
// caller-visible call, which may drive several attempts).
func StartOperationSpan(ctx context.Context, service, operation string) (context.Context, trace.Span) {
	return tracer().Start(ctx, service+"."+operation, trace.WithAttributes(
		attribute.String("db.system", "nimbus"),
		attribute.String("nimbus.service", service),
		attribute.String("nimbus.operation", operation),
	))
}

// StartAttemptSpan opens a child span for a single wire attempt within an
// operation span.
func StartAttemptSpan(ctx context.Context, attemptNum int, node string) (context.Context, trace.Span) {
	return tracer().Start(ctx, "attempt", trace.WithAttributes(
		attribute.Int("nimbus.attempt", attemptNum),
		attribute.String("nimbus.node", node),
	))
}

// EndWithError finalizes span with err: records it and sets the span's
// status, or marks Ok when err is nil. Safe to call with a nil err on the
// success path.
func EndWithError(span trace.Span, err error) {
	defer span.End()
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
