package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/Zhima-Mochi/stockledger/internal/application/bom"
	appinventory "github.com/Zhima-Mochi/stockledger/internal/application/inventory"
	"github.com/Zhima-Mochi/stockledger/internal/config"
	dominv "github.com/Zhima-Mochi/stockledger/internal/domain/inventory"
	domoutbox "github.com/Zhima-Mochi/stockledger/internal/domain/outbox"
	infraobs "github.com/Zhima-Mochi/stockledger/internal/infrastructure/observability"
	"github.com/Zhima-Mochi/stockledger/internal/infrastructure/observability/oteltrace"
	"github.com/Zhima-Mochi/stockledger/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/stockledger/internal/infrastructure/observability/zaplogger"
	"github.com/Zhima-Mochi/stockledger/internal/infrastructure/outbox"
	"github.com/Zhima-Mochi/stockledger/internal/observability"
	"github.com/Zhima-Mochi/stockledger/internal/observability/logctx"
	httppresentation "github.com/Zhima-Mochi/stockledger/internal/presentation/http"
	workerpresentation "github.com/Zhima-Mochi/stockledger/internal/presentation/worker"
)

const (
	// systemTraceID marks log lines emitted outside any distributed trace.
	systemTraceID   = "system"
	shutdownTimeout = 10 * time.Second
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the fulfillment worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	zl, err := zaplogger.New(zaplogger.Config{
		Service: cfg.ServiceName,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
	})
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = zl.Sync() }()

	systemLogger := zl.With(
		observability.F("trace_id", systemTraceID),
		observability.F("span_id", systemTraceID),
	)

	counters, histograms := prometrics.Instruments(prometrics.New("", "", nil))
	tel := infraobs.New(oteltrace.New(cfg.ServiceName), zl, counters, histograms)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logctx.With(ctx, systemLogger)

	st, err := openStores(ctx, cfg, systemLogger)
	if err != nil {
		systemLogger.Error("stores_open_failed", observability.Err(err))
		return err
	}
	defer func() { _ = st.Close() }()

	bus := outbox.NewBus(zl, tel, outbox.Options{
		MaxDeliveries: cfg.EventMaxDeliveries,
		Backoff:       cfg.EventBackoff,
	})
	bus.Use(workerpresentation.Middleware(zl, tel))
	bus.Subscribe(dominv.LowStockEvent{}.EventName(), logLowStock)
	bus.Subscribe(dominv.StockDeductionFailedEvent{}.EventName(), logDeductionFailed)

	resolver := bom.NewResolver(st.catalog, st.ledger, bom.WithMaxDepth(cfg.BOMMaxDepth))
	coordinator := appinventory.NewDeductionCoordinator(resolver, st.ledger, bus, tel, appinventory.Options{
		MaxAttempts:  cfg.DeductionMaxAttempts,
		Backoff:      cfg.DeductionBackoff,
		ApplyTimeout: cfg.DeductionApplyTimeout,
	})
	appinventory.NewWorker(bus, coordinator, tel, zl).Start()

	bus.Start(ctx)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		bus.Stop(logctx.With(stopCtx, systemLogger))
	}()

	handler := httppresentation.NewHandler(
		coordinator,
		appinventory.NewQueryService(st.ledger),
		httppresentation.NewTenantGuard(cfg.JWTSecret),
		bus,
		zl,
		tel,
	)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", handler.Router())

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		systemLogger.Info("http_server_start",
			observability.F("addr", server.Addr),
			observability.F("store", cfg.Store),
			observability.F("tenant_guard", cfg.JWTSecret != ""),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			systemLogger.Error("http_server_error", observability.Err(err))
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		systemLogger.Error("http_server_shutdown_error", observability.Err(err))
		return err
	}
	systemLogger.Info("http_server_stopped")
	return nil
}

func logLowStock(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(dominv.LowStockEvent)
	if !ok {
		return nil
	}
	logctx.FromOr(ctx, observability.NopLogger()).Warn("low_stock_alert",
		observability.F("stock_item_id", evt.StockItemID),
		observability.F("current_quantity", evt.CurrentQuantity.String()),
		observability.F("min_quantity", evt.MinQuantity.String()),
		observability.F("order_id", evt.OrderID),
	)
	return nil
}

func logDeductionFailed(ctx context.Context, e domoutbox.Event) error {
	evt, ok := e.(dominv.StockDeductionFailedEvent)
	if !ok {
		return nil
	}
	logctx.FromOr(ctx, observability.NopLogger()).Warn("deduction_failed",
		observability.F("order_id", evt.OrderID),
		observability.F("reason", evt.Reason),
	)
	return nil
}
