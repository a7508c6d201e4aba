package pipeline

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/rockbotlabs/rockbot/internal/pipeline"

// Tracing opens one span per dispatched envelope. A no-op tracer provider
// makes this free when telemetry is disabled.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, mc *MessageContext) error {
			ctx, span := tracer.Start(ctx, "dispatch "+mc.Envelope.MessageType,
				trace.WithSpanKind(trace.SpanKindConsumer),
				trace.WithAttributes(
					attribute.String("messaging.message.id", mc.Envelope.MessageID),
					attribute.String("messaging.message.type", mc.Envelope.MessageType),
					attribute.String("messaging.source", mc.Envelope.Source),
					attribute.String("agent.name", mc.Identity.Name),
					attribute.String("agent.instance", mc.Identity.InstanceID),
				))
			defer span.End()

			err := next(ctx, mc)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return err
		}
	}
}
