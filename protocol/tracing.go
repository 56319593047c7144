package protocol

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer reads whatever TracerProvider the embedding process installed via
// otel.SetTracerProvider; a host that never calls it gets the SDK's no-op
// default, so invoker and executor spans are free with no provider wired.
var tracer = otel.Tracer("github.com/lattice-iot/meridian/protocol")

var (
	attrCommandName   = attribute.Key("meridian.command_name")
	attrCorrelationID = attribute.Key("meridian.correlation_id")
	attrStatus        = attribute.Key("meridian.status")
)

func startInvokeSpan(ctx context.Context, commandName, correlationID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "meridian.invoke",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrCommandName.String(commandName), attrCorrelationID.String(correlationID)),
	)
}

func startExecuteSpan(ctx context.Context, commandName, correlationID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "meridian.execute",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attrCommandName.String(commandName), attrCorrelationID.String(correlationID)),
	)
}

func endSpan(span trace.Span, status Status, err error) {
	span.SetAttributes(attrStatus.Int(int(status)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
