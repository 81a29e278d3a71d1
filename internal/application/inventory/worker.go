package inventory

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Zhima-Mochi/stockledger/internal/application"
	"github.com/Zhima-Mochi/stockledger/internal/domain/fulfillment"
	dominv "github.com/Zhima-Mochi/stockledger/internal/domain/inventory"
	domoutbox "github.com/Zhima-Mochi/stockledger/internal/domain/outbox"
	"github.com/Zhima-Mochi/stockledger/internal/observability"
	"github.com/Zhima-Mochi/stockledger/internal/observability/logctx"
)

const workerService = "inventory_worker"

// Worker feeds order.fulfilled deliveries into the deduction use case.
type Worker struct {
	subscriber domoutbox.Subscriber
	useCase    application.UseCase[fulfillment.Event, *DeductionResult]
	tel        observability.Observability

	log          observability.Logger
	reqCounter   observability.Counter   // usecase_requests_total{use_case,outcome}
	durHistogram observability.Histogram // usecase_duration_seconds{use_case}
}

func NewWorker(
	subscriber domoutbox.Subscriber,
	useCase application.UseCase[fulfillment.Event, *DeductionResult],
	tel observability.Observability,
	logger observability.Logger,
) *Worker {
	if tel == nil {
		tel = observability.Nop()
	}
	baseLogger := logger
	if baseLogger == nil {
		baseLogger = tel.Logger()
	}
	metricsProvider := tel.Metrics()
	return &Worker{
		subscriber:   subscriber,
		useCase:      useCase,
		tel:          tel,
		log:          baseLogger.With(observability.F("service", workerService)),
		reqCounter:   metricsProvider.Counter(observability.MUsecaseRequests),
		durHistogram: metricsProvider.Histogram(observability.MUsecaseDuration),
	}
}

func (w *Worker) Start() {
	if w.subscriber == nil || w.useCase == nil {
		return
	}
	w.subscriber.Subscribe(fulfillment.Event{}.EventName(), w.handleFulfilled)
}

// handleFulfilled returns an error only for failures a redelivery can fix, so the
// bus retries transient storage trouble and drops permanent rejections.
func (w *Worker) handleFulfilled(ctx context.Context, e domoutbox.Event) error {
	const useCase = "inventory.worker.order_fulfilled"
	var evt fulfillment.Event
	switch v := e.(type) {
	case fulfillment.Event:
		evt = v
	case *fulfillment.Event:
		if v == nil {
			w.count(useCase, "ignored")
			return nil
		}
		evt = *v
	default:
		w.count(useCase, "ignored")
		return nil
	}

	ctx, span := w.tel.Tracer().Start(ctx, spanPrefix+"OrderFulfilled",
		attribute.String("use_case", useCase),
		attribute.String("event", e.EventName()),
	)
	start := time.Now()
	outcome, status := "success", "OK"

	fields := []observability.Field{
		observability.F("use_case", useCase),
		observability.F("event", e.EventName()),
		observability.F("order_id", evt.OrderID),
		observability.F("tenant_id", evt.TenantID),
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			observability.F("trace_id", sc.TraceID().String()),
			observability.F("span_id", sc.SpanID().String()),
		)
	}
	ctx, logger := logctx.Enrich(ctx, w.log, fields...)

	var res *DeductionResult
	defer func() {
		lat := time.Since(start).Seconds()
		w.observe(useCase, outcome, lat)

		done := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", status),
			observability.F("latency_seconds", lat),
		}
		if res != nil {
			done = append(done,
				observability.F("applied_count", res.AppliedCount),
				observability.F("already_applied", res.AlreadyApplied),
				observability.F("warnings", len(res.Warnings)),
			)
			for _, warn := range res.Warnings {
				logger.Warn("resolution_warning",
					observability.F("component_id", warn.ComponentID),
					observability.F("quantity", warn.Quantity.String()),
					observability.F("context", warn.Context),
				)
			}
		}
		logger.Info("use_case_done", done...)

		if outcome == "error" {
			span.SetStatus(codes.Error, status)
		} else {
			span.SetStatus(codes.Ok, status)
		}
		span.End()
	}()

	var err error
	res, err = w.useCase.Execute(ctx, evt)
	if err != nil {
		outcome = "error"
		if dominv.IsRetryable(err) {
			status = "REDELIVER"
			return fmt.Errorf("worker: apply fulfillment %s: %w", evt.OrderID, err)
		}
		status = "REJECTED"
		return nil
	}
	return nil
}

func (w *Worker) count(useCase, outcome string) {
	w.reqCounter.Add(1,
		observability.L("use_case", useCase),
		observability.L("outcome", outcome),
	)
}

func (w *Worker) observe(useCase string, outcome string, latencySeconds float64) {
	w.count(useCase, outcome)
	w.durHistogram.Observe(latencySeconds,
		observability.L("use_case", useCase),
	)
}
