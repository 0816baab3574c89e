package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/outreachhq/invoicing/pkg/api"
	"github.com/outreachhq/invoicing/pkg/catalog"
	"github.com/outreachhq/invoicing/pkg/config"
	"github.com/outreachhq/invoicing/pkg/document"
	"github.com/outreachhq/invoicing/pkg/ledger"
	"github.com/outreachhq/invoicing/pkg/middleware"
	"github.com/outreachhq/invoicing/pkg/observability"
	"github.com/outreachhq/invoicing/pkg/scheduler"
	"github.com/outreachhq/invoicing/pkg/storage/postgres"
)

func main() {
	if err := config.LoadEnvFile(os.Getenv("INVOICING_ENV_FILE")); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Invoicing server stopped with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	defer observability.RecoverPanic(logger, "invoiced")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otelProviders, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(registry)
	}

	store, err := postgres.Open(ctx, cfg.Storage, logger, metrics)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	store.Connections().StartHealthCheckRoutine(ctx, 30*time.Second, metrics)
	logger.WithFields(map[string]interface{}{
		"driver":      cfg.Storage.DatabaseDriver,
		"blob_store":  cfg.Storage.Type,
		"blob_cache":  cfg.Storage.CacheEnabled,
		"replicas":    len(postgres.ParseReplicaURLs(cfg.Storage.DatabaseReplicaURLs)),
		"run_migrate": cfg.Storage.RunMigrations,
	}).Info("Storage ready")

	source, err := newCatalog(cfg.Billing, store)
	if err != nil {
		store.Close()
		return err
	}

	synthesizer, watcher, err := newSynthesizer(ctx, cfg.Billing, logger)
	if err != nil {
		store.Close()
		return err
	}

	invoices := ledger.New(store.Invoices, store.Blobs, synthesizer,
		ledger.WithLogger(logger.WithField("component", "ledger")),
		ledger.WithMetrics(metrics),
	)

	httpLogger := newHTTPLogger(cfg.Observability.LogLevel)
	handlers := api.NewInvoiceHandlers(invoices, source, httpLogger)
	handlers.SetBatchConcurrency(cfg.Billing.BatchConcurrency)

	apiServer := &http.Server{
		Addr: net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler: api.NewServer(handlers, httpLogger, metrics, api.ServerOptions{
			RequestTimeout: cfg.Server.RequestTimeout,
			MaxBodyBytes:   cfg.Server.MaxBodyBytes,
			RateLimit:      newRateLimit(ctx, cfg.Server, store, httpLogger),
		}),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	healthServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:      newHealthMux(cfg, store, registry),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout, apiServer, healthServer)
	// Cleanup runs last-registered first
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return store.Close()
	})
	if watcher != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return watcher.Close()
		})
	}

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(invoices, logger.WithField("component", "scheduler"))
		if err := sched.ScheduleOverdueSweep(cfg.Scheduler.OverdueSchedule); err != nil {
			store.Close()
			return err
		}
		sched.Start()
		shutdown.RegisterShutdownFunc(sched.Stop)
		sched.SweepInBackground(ctx)
		logger.WithField("schedule", cfg.Scheduler.OverdueSchedule).Info("Overdue sweep scheduled")
	}

	for _, srv := range []*http.Server{apiServer, healthServer} {
		go serve(srv, logger, cancel)
	}
	logger.WithFields(map[string]interface{}{
		"addr":        apiServer.Addr,
		"health_addr": healthServer.Addr,
	}).Info("Invoicing server started")

	return shutdown.WaitForShutdown(ctx)
}

// serve runs srv until it is shut down; any other exit cancels the process
func serve(srv *http.Server, logger *observability.Logger, cancel context.CancelFunc) {
	defer observability.RecoverPanic(logger, "http server "+srv.Addr)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).WithField("addr", srv.Addr).Error("HTTP server failed")
		cancel()
	}
}

// newCatalog reads clients and plans from the fixture file when one is
// configured and from the database otherwise
func newCatalog(cfg config.BillingConfig, store *postgres.Storage) (catalog.Source, error) {
	if cfg.CatalogFile != "" {
		fixture, err := catalog.LoadFixture(cfg.CatalogFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load catalog: %w", err)
		}
		return fixture, nil
	}
	return catalog.NewSQLSource(store.Connections(), store.Dialect()), nil
}

// newSynthesizer builds the PDF renderer. A configured branding file is
// watched and reloaded until ctx is done.
func newSynthesizer(ctx context.Context, cfg config.BillingConfig, logger *observability.Logger) (*document.Synthesizer, *document.BrandingWatcher, error) {
	if cfg.BrandingFile == "" {
		return document.NewSynthesizer(), nil, nil
	}

	watcher, err := document.NewBrandingWatcher(cfg.BrandingFile, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load branding: %w", err)
	}
	go watcher.Run(ctx, nil)

	return document.NewSynthesizer(document.WithBrandingSource(watcher)), watcher, nil
}

// newRateLimit shares limits through Redis when the store has a client and
// keeps them in process otherwise
func newRateLimit(ctx context.Context, cfg config.ServerConfig, store *postgres.Storage, logger *logrus.Logger) func(http.Handler) http.Handler {
	if !cfg.RateLimitEnabled {
		return nil
	}
	limits := &middleware.RateLimitConfig{
		RequestsPerWindow: cfg.RateLimitPerMinute,
		WindowDuration:    time.Minute,
		BurstSize:         cfg.RateLimitBurst,
	}

	var limiter middleware.Limiter
	if r := store.Redis(); r != nil {
		limiter = middleware.NewDistributedRateLimiter(r.GetClient(), limits, "invoicing:ratelimit")
	} else {
		local := middleware.NewRateLimiter(limits)
		local.StartCleanup(ctx)
		limiter = local
	}
	return middleware.NewRateLimitMiddleware(limiter, logger).Handler
}

func newHealthMux(cfg *config.Config, store *postgres.Storage, registry *prometheus.Registry) *http.ServeMux {
	var redisClient *redis.Client
	if r := store.Redis(); r != nil {
		redisClient = r.GetClient()
	}

	checker := observability.NewHealthChecker(store.DB(), redisClient)
	checker.SetVersion(cfg.Observability.OTelServiceVersion)
	if cfg.Storage.Type == "s3" {
		checker.AddProbe("s3", store.S3HealthCheck, true)
	}

	mux := http.NewServeMux()
	observability.RegisterHealthRoutes(mux, checker)
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(mux, registry)
	}
	return mux
}

func newHTTPLogger(level observability.LogLevel) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.JSONFormatter{})
	if lvl, err := logrus.ParseLevel(level.String()); err == nil {
		logger.SetLevel(lvl)
	}
	return logger
}
