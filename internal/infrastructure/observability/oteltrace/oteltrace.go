package oteltrace

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Zhima-Mochi/stockledger/internal/observability"
)

const (
	// EventSpanPrefix names bus deliveries; they are recorded as consumer spans.
	EventSpanPrefix = "Event."
	defaultName     = "stockledger"
)

type tracer struct {
	t       trace.Tracer
	service string
}

// New wraps the global tracer provider. Exporters are configured by whoever calls
// otel.SetTracerProvider; without one, spans are no-ops that still carry context.
func New(name string) observability.Tracer {
	if name == "" {
		name = defaultName
	}
	return &tracer{t: otel.Tracer(name), service: name}
}

// NewWithProvider is New against an explicit provider instead of the global one.
func NewWithProvider(tp trace.TracerProvider, name string) observability.Tracer {
	if name == "" {
		name = defaultName
	}
	return &tracer{t: tp.Tracer(name), service: name}
}

func (t *tracer) Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("service.name", t.service))
	return t.t.Start(ctx, name, trace.WithSpanKind(kindOf(name)), trace.WithAttributes(attrs...))
}

func kindOf(name string) trace.SpanKind {
	if strings.HasPrefix(name, EventSpanPrefix) {
		return trace.SpanKindConsumer
	}
	return trace.SpanKindInternal
}
