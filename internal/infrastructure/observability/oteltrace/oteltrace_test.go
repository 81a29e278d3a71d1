package oteltrace

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		want trace.SpanKind
	}{
		{"Event.order.fulfilled", trace.SpanKindConsumer},
		{"UC.ApplyFulfillment", trace.SpanKindInternal},
		{"", trace.SpanKindInternal},
	}
	for _, tt := range tests {
		if got := kindOf(tt.name); got != tt.want {
			t.Errorf("kindOf(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestStartReturnsUsableSpan(t *testing.T) {
	tr := NewWithProvider(noop.NewTracerProvider(), "")
	ctx, span := tr.Start(context.Background(), "UC.ApplyFulfillment")
	defer span.End()
	if ctx == nil || span == nil {
		t.Fatalf("expected a context and a span")
	}
	if got := tr.(*tracer).service; got != defaultName {
		t.Fatalf("expected default service name, got %q", got)
	}
}
