package broker

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel"
)

// headerCarrier adapts amqp.Table to otel's propagation.TextMapCarrier so
// trace context can ride in AMQP message headers — AMQP has no built-in
// trace propagation the way gRPC metadata does.
type headerCarrier amqp.Table

func (c headerCarrier) Get(key string) string {
	if v, ok := c[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func (c headerCarrier) Set(key, value string) {
	c[key] = value
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// InjectTraceContext packs ctx's active span into AMQP headers for a
// downstream consumer to continue the trace.
func InjectTraceContext(ctx context.Context) amqp.Table {
	headers := make(amqp.Table)
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier(headers))
	return headers
}

// ExtractTraceContext resumes a trace from a delivery's headers.
func ExtractTraceContext(ctx context.Context, headers amqp.Table) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, headerCarrier(headers))
}
