package workerpresentation

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	domoutbox "github.com/Zhima-Mochi/stockledger/internal/domain/outbox"
	"github.com/Zhima-Mochi/stockledger/internal/observability"
	"github.com/Zhima-Mochi/stockledger/internal/observability/logctx"
)

// WithEventContext injects a request-scoped logger for background/worker executions.
// Dynamic fields only: trace_id/span_id (if valid), event_id (generated if empty),
// plus caller-provided low-cardinality attributes (e.g. "use_case", "event", "tenant_id").
func WithEventContext(
	ctx context.Context,
	base observability.Logger,
	tel observability.Observability,
	traceID trace.TraceID,
	spanID trace.SpanID,
	attrs map[string]string,
) context.Context {
	if base == nil {
		base = tel.Logger()
	}
	if attrs == nil {
		attrs = make(map[string]string)
	}

	fields := make([]observability.Field, 0, 6)

	evtID := attrs["event_id"]
	if evtID == "" {
		evtID = uuid.NewString()
	}
	fields = append(fields, observability.F("event_id", evtID))

	if traceID.IsValid() {
		fields = append(fields, observability.F("trace_id", traceID.String()))
	}
	if spanID.IsValid() {
		fields = append(fields, observability.F("span_id", spanID.String()))
	}

	for k, v := range attrs {
		if k == "event_id" || v == "" {
			continue
		}
		fields = append(fields, observability.F(k, v))
	}

	return logctx.With(ctx, base.With(fields...))
}

// Middleware wraps a bus handler in a delivery span and an event-scoped logger.
// Its signature matches outbox.Middleware.
func Middleware(base observability.Logger, tel observability.Observability) func(string, domoutbox.Handler) domoutbox.Handler {
	if tel == nil {
		tel = observability.Nop()
	}
	return func(eventName string, next domoutbox.Handler) domoutbox.Handler {
		return func(ctx context.Context, e domoutbox.Event) error {
			attrs := map[string]string{"event": eventName}
			spanAttrs := []attribute.KeyValue{attribute.String("event", eventName)}
			if tenantID := domoutbox.TenantOf(e); tenantID != "" {
				attrs["tenant_id"] = tenantID
				spanAttrs = append(spanAttrs, attribute.String("tenant.id", tenantID))
			}

			ctx, span := tel.Tracer().Start(ctx, "Event."+eventName, spanAttrs...)
			defer span.End()

			sc := span.SpanContext()
			ctx = WithEventContext(ctx, logctx.FromOr(ctx, base), tel, sc.TraceID(), sc.SpanID(), attrs)
			err := next(ctx, e)
			if err != nil {
				span.RecordError(err)
			}
			return err
		}
	}
}
