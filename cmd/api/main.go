package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/josh-kwaku/settlement-ledger/internal/config"
	"github.com/josh-kwaku/settlement-ledger/internal/events"
	"github.com/josh-kwaku/settlement-ledger/internal/handler"
	"github.com/josh-kwaku/settlement-ledger/internal/logging"
	"github.com/josh-kwaku/settlement-ledger/internal/middleware"
	"github.com/josh-kwaku/settlement-ledger/internal/provider"
	"github.com/josh-kwaku/settlement-ledger/internal/repository"
	"github.com/josh-kwaku/settlement-ledger/internal/service/idempotency"
	"github.com/josh-kwaku/settlement-ledger/internal/service/ledger"
	"github.com/josh-kwaku/settlement-ledger/internal/service/outbox"
	"github.com/josh-kwaku/settlement-ledger/internal/service/payment"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.Init("settlement-api", cfg.LogLevel, cfg.AppEnv)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := repository.NewPostgresDB(ctx, cfg.DatabaseURL, repository.PoolConfig{
		MaxOpenConns:     cfg.DBMaxOpenConns,
		MaxIdleConns:     cfg.DBMaxIdleConns,
		ConnMaxLifetimeS: cfg.DBConnMaxLifetimeS,
		ConnMaxIdleTimeS: cfg.DBConnMaxIdleTimeS,
		ConnectAttempts:  30,
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	prov, err := newProvider(cfg)
	if err != nil {
		return err
	}

	ledgerRepo := repository.NewLedgerRepository(db)
	idempotencyRepo := repository.NewIdempotencyRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)

	eventLog := events.NewLogger(logger)
	// Balance reads are logged only; parking them in the outbox would turn
	// read traffic into writes.
	ledgerSvc := ledger.NewService(db, ledgerRepo, events.Fanout{eventLog, outbox.NewWriter(outboxRepo)},
		ledger.WithReadPublisher(eventLog),
	)
	projector := ledger.NewProjector(ledgerSvc)

	// Payment events reach the ledger synchronously and are parked in the
	// outbox for external delivery.
	paymentSvc := payment.NewService(
		repository.NewPaymentRepository(db),
		prov,
		idempotency.NewCache(idempotencyRepo, cfg.IdempotencyTTL),
		events.Fanout{eventLog, projector, outbox.NewWriter(outboxRepo)},
		cfg.ProviderTimeout,
	)

	// Redelivery runs the projector again so a posting lost after commit
	// is recovered; the natural key makes the repeat a no-op.
	sink := events.Fanout{projector}
	if cfg.EventWebhookURL != "" {
		sink = append(sink, outbox.NewHTTPSink(cfg.EventWebhookURL, 10*time.Second))
	}
	dispatcher := outbox.NewDispatcher(db, outboxRepo, sink, logger, cfg.OutboxPollInterval,
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
	)
	sweeper := idempotency.NewSweeper(idempotencyRepo, logger, cfg.IdempotencySweepInterval)

	health := handler.NewHealthHandler(db, prov.Name())
	payments := handler.NewPaymentHandler(paymentSvc)
	ledgerHandler := handler.NewLedgerHandler(ledgerSvc, cfg.LedgerIngestSecret)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", health.Liveness)
	mux.HandleFunc("GET /health/ready", health.Readiness)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/v1/payments", payments.Initialize)
	mux.HandleFunc("POST /api/v1/payments/authorize", payments.AuthorizeInline)
	mux.HandleFunc("POST /api/v1/payments/{id}/authorize", payments.Authorize)
	mux.HandleFunc("POST /api/v1/payments/{id}/capture", payments.Capture)
	mux.HandleFunc("POST /api/v1/payments/{id}/refund", payments.Refund)
	mux.HandleFunc("POST /api/v1/payments/{id}/cancel", payments.Cancel)
	mux.HandleFunc("GET /api/v1/payments/{id}", payments.Get)
	mux.HandleFunc("GET /api/v1/payments/{id}/events", payments.ListEvents)

	mux.HandleFunc("POST /api/v1/ledger/transactions", ledgerHandler.RecordTransaction)
	mux.HandleFunc("GET /api/v1/ledger/balances/{entityId}/{currency}", ledgerHandler.GetBalance)
	mux.HandleFunc("GET /api/v1/ledger/entities/{entityId}/transactions", ledgerHandler.ListTransactions)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           middleware.Tracing(middleware.Logging(middleware.Recovery(mux))),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server started", "addr", addr, "provider", prov.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		sweeper.Start(gctx)
		return nil
	})
	g.Go(func() error {
		dispatcher.Start(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped")
	return nil
}

func newProvider(cfg *config.Config) (provider.Provider, error) {
	caps := provider.DefaultCapabilities()
	if cfg.ProviderCapsFile != "" {
		loaded, err := provider.LoadCapabilities(cfg.ProviderCapsFile)
		if err != nil {
			return nil, fmt.Errorf("load provider capabilities: %w", err)
		}
		caps = loaded
	}

	switch cfg.ProviderKind {
	case "http":
		return provider.NewHTTPClient(cfg.ProviderURL, caps, cfg.ProviderTimeout), nil
	default:
		return provider.NewMock(caps), nil
	}
}
