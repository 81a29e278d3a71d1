package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Zhima-Mochi/stockledger/internal/application/bom"
	"github.com/Zhima-Mochi/stockledger/internal/domain/fulfillment"
	dominv "github.com/Zhima-Mochi/stockledger/internal/domain/inventory"
	domoutbox "github.com/Zhima-Mochi/stockledger/internal/domain/outbox"
	"github.com/Zhima-Mochi/stockledger/internal/domain/recipe"
	"github.com/Zhima-Mochi/stockledger/internal/observability"
	"github.com/Zhima-Mochi/stockledger/internal/observability/logctx"
)

const (
	inventoryService        = "inventory-service"
	useCaseApplyFulfillment = "inventory.apply_fulfillment"
	spanPrefix              = "UC."
	publishTimeout          = 300 * time.Millisecond

	DefaultMaxAttempts  = 3
	DefaultBackoff      = 50 * time.Millisecond
	DefaultApplyTimeout = 5 * time.Second
)

// Resolver flattens one product reference into stock consumption.
type Resolver interface {
	Resolve(ctx context.Context, tenantID string, ref recipe.ComponentRef, qty decimal.Decimal) (*bom.Resolution, error)
}

// DeductionResult is returned for every processed order. Warnings never make it a failure.
type DeductionResult struct {
	OrderID        string                     `json:"order_id"`
	TenantID       string                     `json:"tenant_id"`
	AppliedCount   int                        `json:"applied_count"`
	AlreadyApplied bool                       `json:"already_applied"`
	Warnings       []dominv.ResolutionWarning `json:"warnings"`
	BelowThreshold []dominv.StockItem         `json:"-"`
	FatalError     *dominv.DataIntegrityError `json:"-"`
}

type Options struct {
	MaxAttempts  int
	Backoff      time.Duration
	ApplyTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Backoff <= 0 {
		o.Backoff = DefaultBackoff
	}
	if o.ApplyTimeout <= 0 {
		o.ApplyTimeout = DefaultApplyTimeout
	}
	return o
}

// DeductionCoordinator turns one fulfillment event into exactly one atomic stock mutation.
type DeductionCoordinator struct {
	resolver  Resolver
	ledger    dominv.Ledger
	publisher domoutbox.Publisher
	opts      Options
	sleep     func(ctx context.Context, d time.Duration) error

	log          observability.Logger
	tracer       observability.Tracer
	reqCounter   observability.Counter
	durHistogram observability.Histogram
	deductions   observability.Counter
	attempts     observability.Counter
	warnCounter  observability.Counter
	pubFailures  observability.Counter
}

func NewDeductionCoordinator(resolver Resolver, ledger dominv.Ledger, publisher domoutbox.Publisher, tel observability.Observability, opts Options) *DeductionCoordinator {
	if tel == nil {
		tel = observability.Nop()
	}
	metrics := tel.Metrics()
	return &DeductionCoordinator{
		resolver:     resolver,
		ledger:       ledger,
		publisher:    publisher,
		opts:         opts.withDefaults(),
		sleep:        sleepContext,
		log:          tel.Logger().With(observability.F("service", inventoryService)),
		tracer:       tel.Tracer(),
		reqCounter:   metrics.Counter(observability.MUsecaseRequests),
		durHistogram: metrics.Histogram(observability.MUsecaseDuration),
		deductions:   metrics.Counter(observability.MStockDeductions),
		attempts:     metrics.Counter(observability.MStockApplyAttempts),
		warnCounter:  metrics.Counter(observability.MResolutionWarnings),
		pubFailures:  metrics.Counter(observability.MEventPublishFailed),
	}
}

// Execute is ApplyFulfillment: validate, resolve every line item, merge, then apply
// the whole plan atomically with bounded retries.
func (uc *DeductionCoordinator) Execute(ctx context.Context, e fulfillment.Event) (_ *DeductionResult, err error) {
	logger := logctx.FromOr(ctx, uc.log).With(
		observability.F("use_case", useCaseApplyFulfillment),
		observability.F("order_id", e.OrderID),
		observability.F("tenant_id", e.TenantID),
		observability.F("line_items", len(e.LineItems)),
	)

	ctx, span := uc.tracer.Start(ctx, spanPrefix+"ApplyFulfillment",
		attribute.String("use_case", useCaseApplyFulfillment),
		attribute.String("order.id", e.OrderID),
		attribute.String("tenant.id", e.TenantID),
		attribute.Int("order.line_items", len(e.LineItems)),
	)
	start := time.Now()
	outcome, statusText := "success", "OK"
	result := &DeductionResult{OrderID: e.OrderID, TenantID: e.TenantID}

	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, statusText)
		} else {
			span.SetStatus(codes.Ok, statusText)
		}
		span.End()

		latency := time.Since(start).Seconds()
		uc.reqCounter.Add(1,
			observability.L("use_case", useCaseApplyFulfillment),
			observability.L("outcome", outcome),
		)
		uc.durHistogram.Observe(latency,
			observability.L("use_case", useCaseApplyFulfillment),
		)
		uc.deductions.Add(1, observability.L("outcome", statusText))
		if n := len(result.Warnings); n > 0 {
			uc.warnCounter.Add(float64(n), observability.L("tenant_id", e.TenantID))
		}

		fields := []observability.Field{
			observability.F("outcome", outcome),
			observability.F("status", statusText),
			observability.F("latency_seconds", latency),
			observability.F("applied_count", result.AppliedCount),
			observability.F("already_applied", result.AlreadyApplied),
			observability.F("warnings", len(result.Warnings)),
		}
		if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
			fields = append(fields,
				observability.F("trace_id", sc.TraceID().String()),
				observability.F("span_id", sc.SpanID().String()),
			)
		}
		if err != nil {
			fields = append(fields, observability.F("error", err.Error()))
		}
		logger.Info("use_case_done", fields...)
	}()

	if err = e.Validate(); err != nil {
		outcome, statusText = "error", "VALIDATION_FAILED"
		uc.publish(ctx, dominv.NewStockDeductionFailedEvent(e.TenantID, e.OrderID, dominv.FailureReasonValidation))
		return result, err
	}

	plan := dominv.DeductionPlan{
		TenantID: e.TenantID,
		OrderID:  e.OrderID,
		Reason:   dominv.OrderReason(e.OrderID),
	}
	for _, li := range e.LineItems {
		res, rerr := uc.resolver.Resolve(ctx, e.TenantID, recipe.ComponentRef{ID: li.ProductID, Kind: recipe.KindAny}, li.Quantity)
		if rerr != nil {
			outcome = "error"
			statusText, err = uc.classify(logger, result, rerr)
			return result, err
		}
		for _, l := range res.Lines {
			plan.Entries = append(plan.Entries, dominv.PlanEntry{StockItemID: l.StockItemID, Quantity: l.Quantity})
		}
		result.Warnings = append(result.Warnings, res.Warnings...)
	}
	plan.Normalize()

	if len(plan.Entries) == 0 {
		statusText = "NOTHING_TO_APPLY"
		uc.publish(ctx, dominv.NewStockDeductedEvent(e.TenantID, e.OrderID, 0, false, len(result.Warnings)))
		return result, nil
	}

	applied, aerr := uc.apply(ctx, plan)
	if aerr != nil {
		outcome = "error"
		statusText, err = uc.classify(logger, result, aerr)
		return result, err
	}

	result.AppliedCount = applied.Applied
	result.AlreadyApplied = applied.AlreadyApplied
	result.BelowThreshold = applied.BelowThreshold
	for _, id := range applied.Missing {
		result.Warnings = append(result.Warnings, dominv.ResolutionWarning{
			ComponentID: id,
			Quantity:    planQuantity(plan, id),
			Context:     "stock record missing at apply time",
		})
	}
	if applied.AlreadyApplied {
		statusText = "ALREADY_APPLIED"
	}

	span.AddEvent("inventory.deducted", trace.WithAttributes(
		attribute.Int("applied_count", applied.Applied),
		attribute.Bool("already_applied", applied.AlreadyApplied),
	))
	uc.publish(ctx, dominv.NewStockDeductedEvent(e.TenantID, e.OrderID, applied.Applied, applied.AlreadyApplied, len(result.Warnings)))
	for _, item := range applied.BelowThreshold {
		uc.publish(ctx, dominv.NewLowStockEvent(item, e.OrderID))
	}
	return result, nil
}

// apply runs the atomic step, retrying conflicts and transient failures with
// exponential backoff. A timed-out attempt counts as failed, never as applied.
func (uc *DeductionCoordinator) apply(ctx context.Context, plan dominv.DeductionPlan) (*dominv.ApplyOutcome, error) {
	backoff := uc.opts.Backoff
	for attempt := 1; ; attempt++ {
		actx, cancel := context.WithTimeout(ctx, uc.opts.ApplyTimeout)
		out, err := uc.ledger.ApplyDeductionPlan(actx, plan)
		timedOut := errors.Is(actx.Err(), context.DeadlineExceeded)
		cancel()

		if err == nil && !timedOut {
			uc.attempts.Add(1, observability.L("outcome", "success"))
			return out, nil
		}
		if err == nil || (timedOut && ctx.Err() == nil) {
			err = fmt.Errorf("%w: apply timed out after %s", dominv.ErrTransientStorage, uc.opts.ApplyTimeout)
		}
		if !dominv.IsRetryable(err) {
			uc.attempts.Add(1, observability.L("outcome", "error"))
			return nil, err
		}
		if attempt >= uc.opts.MaxAttempts {
			uc.attempts.Add(1, observability.L("outcome", "exhausted"))
			return nil, fmt.Errorf("%w: order %s gave up after %d attempts: %w", dominv.ErrTransientStorage, plan.OrderID, attempt, err)
		}
		uc.attempts.Add(1, observability.L("outcome", "retry"))
		if serr := uc.sleep(ctx, backoff); serr != nil {
			return nil, fmt.Errorf("%w: %w", dominv.ErrTransientStorage, serr)
		}
		backoff *= 2
	}
}

// classify maps a failure onto a status and logs the security and integrity
// classes under their own messages.
func (uc *DeductionCoordinator) classify(logger observability.Logger, result *DeductionResult, err error) (string, error) {
	switch {
	case errors.Is(err, dominv.ErrCycleDetected), errors.Is(err, dominv.ErrMaxDepthExceeded), errors.Is(err, dominv.ErrDataIntegrity):
		die := &dominv.DataIntegrityError{OrderID: result.OrderID, Err: err}
		result.FatalError = die
		logger.Error("data_integrity_error", observability.F("error", err.Error()))
		uc.publish(context.Background(), dominv.NewStockDeductionFailedEvent(result.TenantID, result.OrderID, dominv.FailureReasonDataIntegrity))
		return "DATA_INTEGRITY", die
	case errors.Is(err, dominv.ErrTenantScopeViolation):
		logger.Error("tenant_scope_violation", observability.F("error", err.Error()))
		uc.publish(context.Background(), dominv.NewStockDeductionFailedEvent(result.TenantID, result.OrderID, dominv.FailureReasonTenantScope))
		return "TENANT_SCOPE_VIOLATION", err
	case errors.Is(err, dominv.ErrValidation):
		return "VALIDATION_FAILED", err
	default:
		if !errors.Is(err, dominv.ErrTransientStorage) {
			err = fmt.Errorf("%w: %w", dominv.ErrTransientStorage, err)
		}
		uc.publish(context.Background(), dominv.NewStockDeductionFailedEvent(result.TenantID, result.OrderID, dominv.FailureReasonTransient))
		return "TRANSIENT_STORAGE", err
	}
}

func (uc *DeductionCoordinator) publish(ctx context.Context, event domoutbox.Event) {
	if uc.publisher == nil || event == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := uc.publisher.Publish(pubCtx, event); err != nil {
		uc.pubFailures.Add(1, observability.L("event", event.EventName()))
		logctx.FromOr(ctx, uc.log).Warn("event_publish_failed",
			observability.F("event", event.EventName()),
			observability.F("error", err.Error()),
		)
	}
}

func planQuantity(plan dominv.DeductionPlan, id string) decimal.Decimal {
	for _, e := range plan.Entries {
		if e.StockItemID == id {
			return e.Quantity
		}
	}
	return decimal.Zero
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
