package logctx

import (
	"context"
	"testing"

	"github.com/Zhima-Mochi/stockledger/internal/observability"
)

type recordingLogger struct {
	observability.Logger
	fields []observability.Field
}

func (l *recordingLogger) With(fields ...observability.Field) observability.Logger {
	return &recordingLogger{Logger: observability.NopLogger(), fields: append(append([]observability.Field(nil), l.fields...), fields...)}
}

func TestEnrichStacksOnContextLogger(t *testing.T) {
	base := &recordingLogger{Logger: observability.NopLogger()}
	ctx := With(context.Background(), base.With(observability.F("request_id", "r-1")))

	ctx, logger := Enrich(ctx, nil, observability.F("order_id", "o-1"))
	got := logger.(*recordingLogger).fields
	if len(got) != 2 || got[0].Key != "request_id" || got[1].Key != "order_id" {
		t.Fatalf("unexpected fields: %+v", got)
	}
	if From(ctx) != logger {
		t.Fatalf("expected the enriched logger on the context")
	}
}

func TestEnrichWithoutAnyLogger(t *testing.T) {
	_, logger := Enrich(context.Background(), nil)
	if logger == nil {
		t.Fatalf("expected a nop logger")
	}
	var missing context.Context
	if FromOr(missing, logger) != logger {
		t.Fatalf("nil context must fall back")
	}
}
