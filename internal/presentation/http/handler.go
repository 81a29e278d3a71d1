package httppresentation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/Zhima-Mochi/stockledger/internal/application"
	appinventory "github.com/Zhima-Mochi/stockledger/internal/application/inventory"
	"github.com/Zhima-Mochi/stockledger/internal/domain/fulfillment"
	dominv "github.com/Zhima-Mochi/stockledger/internal/domain/inventory"
	domoutbox "github.com/Zhima-Mochi/stockledger/internal/domain/outbox"
	"github.com/Zhima-Mochi/stockledger/internal/domain/recipe"
	"github.com/Zhima-Mochi/stockledger/internal/infrastructure/report"
	"github.com/Zhima-Mochi/stockledger/internal/observability"
	"github.com/Zhima-Mochi/stockledger/internal/observability/logctx"
)

const (
	componentHTTPHandler = "http_server"
	headerRequestID      = "X-Request-ID"
	maxBodyBytes         = 1 << 20
	xlsxContentType      = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// StockQueries is the read side the HTTP boundary serves.
type StockQueries interface {
	GetLowStockItems(ctx context.Context, tenantID string) ([]dominv.StockItem, error)
	GetMovementHistory(ctx context.Context, stockItemID, tenantID string) ([]dominv.StockMovement, error)
	GetStockItem(ctx context.Context, tenantID, stockItemID string) (*dominv.StockItem, error)
}

type Handler struct {
	deduct  application.UseCase[fulfillment.Event, *appinventory.DeductionResult]
	queries StockQueries
	guard   *TenantGuard
	// events receives fulfillments submitted with ?mode=async; nil disables async mode.
	events  domoutbox.Publisher

	log          observability.Logger
	reqCounter   observability.Counter   // http_requests_total{method,route,status}
	durHistogram observability.Histogram // http_request_duration_seconds{method,route,status}
}

func NewHandler(
	deduct application.UseCase[fulfillment.Event, *appinventory.DeductionResult],
	queries StockQueries,
	guard *TenantGuard,
	events domoutbox.Publisher,
	logger observability.Logger,
	tel observability.Observability,
) *Handler {
	if tel == nil {
		tel = observability.Nop()
	}
	baseLogger := logger
	if baseLogger == nil {
		baseLogger = tel.Logger()
	}
	return &Handler{
		deduct:       deduct,
		queries:      queries,
		guard:        guard,
		events:       events,
		log:          baseLogger.With(observability.F("component", componentHTTPHandler)),
		reqCounter:   tel.Metrics().Counter(observability.MHTTPRequests),
		durHistogram: tel.Metrics().Histogram(observability.MHTTPRequestDuration),
	}
}

func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	h.muxHandle(mux, "POST /fulfillments", h.handleApplyFulfillment, true)
	h.muxHandle(mux, "GET /tenants/{tenant}/stock-items/low", h.handleLowStock, true)
	h.muxHandle(mux, "GET /tenants/{tenant}/stock-items/{id}/movements", h.handleMovements, true)
	h.muxHandle(mux, "GET /tenants/{tenant}/stock-items/{id}/movements.xlsx", h.handleMovementExport, true)
	h.muxHandle(mux, "GET /health", h.handleHealth, false)

	return mux
}

// muxHandle wraps a route as Trace → request logger → metrics → access log → tenant guard → handler.
func (h *Handler) muxHandle(mux *http.ServeMux, pattern string, handler http.HandlerFunc, guarded bool) {
	var inner http.Handler = handler
	if guarded {
		inner = h.guard.Middleware(inner)
	}
	wrapped := h.withTrace(pattern,
		ObservabilityMiddleware(
			h.log,
			func(r *http.Request) string { return r.Header.Get(headerRequestID) },
			func(r *http.Request) string { return r.PathValue("tenant") },
		)(
			h.withHTTPMetrics(pattern,
				h.withAccessLog(pattern, inner),
			),
		),
	)
	mux.Handle(pattern, wrapped)
}

type movementResponse struct {
	ID            string          `json:"id"`
	StockItemID   string          `json:"stock_item_id"`
	QuantityDelta decimal.Decimal `json:"quantity_delta"`
	Reason        string          `json:"reason"`
	OrderID       string          `json:"order_id,omitempty"`
	CostAtTime    decimal.Decimal `json:"cost_at_time"`
	Timestamp     time.Time       `json:"timestamp"`
}

type stockItemResponse struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenant_id"`
	Name            string          `json:"name"`
	Unit            string          `json:"unit"`
	CurrentQuantity decimal.Decimal `json:"current_quantity"`
	MinQuantity     decimal.Decimal `json:"min_quantity"`
	UnitCost        decimal.Decimal `json:"unit_cost"`
}

type fulfillmentResponse struct {
	*appinventory.DeductionResult
	LowStock []stockItemResponse `json:"low_stock,omitempty"`
}

func (h *Handler) handleApplyFulfillment(w http.ResponseWriter, r *http.Request) {
	var evt fulfillment.Event
	if err := decodeJSON(w, r, &evt); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := authorizeTenant(r.Context(), evt.TenantID); err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}

	if r.URL.Query().Get("mode") == "async" {
		h.enqueueFulfillment(w, r, evt)
		return
	}

	result, err := h.deduct.Execute(r.Context(), evt)
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}

	resp := fulfillmentResponse{DeductionResult: result}
	for _, item := range result.BelowThreshold {
		resp.LowStock = append(resp.LowStock, toStockItemResponse(item))
	}
	writeJSON(w, http.StatusOK, resp)
}

// enqueueFulfillment hands a validated event to the worker and answers 202.
func (h *Handler) enqueueFulfillment(w http.ResponseWriter, r *http.Request, evt fulfillment.Event) {
	if h.events == nil {
		writeError(w, http.StatusNotImplemented, errors.New("async fulfillment is not enabled"))
		return
	}
	if err := evt.Validate(); err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	if err := h.events.Publish(r.Context(), evt); err != nil {
		h.writeDomainError(r.Context(), w, fmt.Errorf("%w: enqueue order %s: %w", dominv.ErrTransientStorage, evt.OrderID, err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"order_id": evt.OrderID, "status": "queued"})
}

func (h *Handler) handleLowStock(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant")
	if err := authorizeTenant(r.Context(), tenantID); err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	items, err := h.queries.GetLowStockItems(r.Context(), tenantID)
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	out := make([]stockItemResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toStockItemResponse(item))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleMovements(w http.ResponseWriter, r *http.Request) {
	tenantID, itemID := r.PathValue("tenant"), r.PathValue("id")
	if err := authorizeTenant(r.Context(), tenantID); err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	movements, err := h.queries.GetMovementHistory(r.Context(), itemID, tenantID)
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	out := make([]movementResponse, 0, len(movements))
	for _, m := range movements {
		out = append(out, movementResponse{
			ID:            m.ID,
			StockItemID:   m.StockItemID,
			QuantityDelta: m.QuantityDelta,
			Reason:        m.Reason,
			OrderID:       m.OrderID,
			CostAtTime:    m.CostAtTime,
			Timestamp:     m.Timestamp,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleMovementExport(w http.ResponseWriter, r *http.Request) {
	tenantID, itemID := r.PathValue("tenant"), r.PathValue("id")
	if err := authorizeTenant(r.Context(), tenantID); err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	item, err := h.queries.GetStockItem(r.Context(), tenantID, itemID)
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	movements, err := h.queries.GetMovementHistory(r.Context(), itemID, tenantID)
	if err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}

	var buf bytes.Buffer
	if err := report.WriteMovements(&buf, item, movements); err != nil {
		h.writeDomainError(r.Context(), w, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+itemID+`-movements.xlsx"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// withAccessLog writes a single access log after the handler completes.
// It relies on the request-scoped logger already injected by ObservabilityMiddleware.
func (h *Handler) withAccessLog(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(lrw, r)

		logctx.FromOr(r.Context(), h.log).Info("http_access",
			observability.F("method", r.Method),
			observability.F("route", route),
			observability.F("path", r.URL.Path),
			observability.F("status", lrw.status),
			observability.F("latency_ms", time.Since(start).Milliseconds()),
		)
	})
}

// withTrace creates a server span for the request using OTel and W3C propagation.
func (h *Handler) withTrace(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tracer := otel.Tracer("stockledger.http")
		parentCtx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))

		ctxWithSpan, span := tracer.Start(parentCtx,
			route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.route", route),
				attribute.String("http.target", r.URL.Path),
				attribute.String("http.user_agent", r.UserAgent()),
			),
		)
		defer span.End()

		next.ServeHTTP(w, r.WithContext(ctxWithSpan))
	})
}

// withHTTPMetrics records request count and latency on the injected instruments.
func (h *Handler) withHTTPMetrics(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(lrw, r)

		labels := []observability.Label{
			observability.L("method", r.Method),
			observability.L("route", route),
			observability.L("status", strconv.Itoa(lrw.status)),
		}
		h.reqCounter.Add(1, labels...)
		h.durHistogram.Observe(time.Since(start).Seconds(), labels...)
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	return decoder.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (h *Handler) writeDomainError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dominv.ErrValidation):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, dominv.ErrTenantScopeViolation):
		logctx.FromOr(ctx, h.log).Error("tenant_scope_violation", observability.F("error", err.Error()))
		writeError(w, http.StatusForbidden, err)
	case errors.Is(err, dominv.ErrNotFound), errors.Is(err, recipe.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, dominv.ErrDataIntegrity):
		writeError(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, dominv.ErrTransientStorage), errors.Is(err, dominv.ErrConflict):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

func toStockItemResponse(item dominv.StockItem) stockItemResponse {
	return stockItemResponse{
		ID:              item.ID,
		TenantID:        item.TenantID,
		Name:            item.Name,
		Unit:            item.Unit,
		CurrentQuantity: item.CurrentQuantity,
		MinQuantity:     item.MinQuantity,
		UnitCost:        item.UnitCost,
	}
}
