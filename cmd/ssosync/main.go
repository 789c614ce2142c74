package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/sso-sync/internal/config"
	"github.com/boddenberg/sso-sync/internal/handler"
	"github.com/boddenberg/sso-sync/internal/infra/cache"
	"github.com/boddenberg/sso-sync/internal/infra/observability"
	"github.com/boddenberg/sso-sync/internal/infra/postgres"
	"github.com/boddenberg/sso-sync/internal/infra/resilience"
	"github.com/boddenberg/sso-sync/internal/infra/supabase"
	"github.com/boddenberg/sso-sync/internal/port"
	"github.com/boddenberg/sso-sync/internal/service"

	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("log_format", cfg.LogFormat),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.Int("max_concurrency", cfg.MaxConcurrency),
		zap.Float64("tenant_rate_limit", cfg.TenantRateLimit),
		zap.Duration("client_cache_ttl", cfg.ClientCacheTTL),
		zap.Bool("admin_auth", cfg.AdminJWTSecret != ""),
		zap.Bool("postgres_sync_log", cfg.SyncLogDatabaseURL != ""),
	)

	if cfg.SupabaseURL == "" || cfg.CentralKey() == "" {
		logger.Fatal("SUPABASE_URL and a Supabase key are required for the central registry")
	}

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "sso-sync")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Resilience ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxConcurrency: cfg.MaxConcurrency,
	}

	// --- Central registry ---
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	centralClient := supabase.NewClient(
		httpClient,
		supabase.ClientConfig{
			Name:    "central",
			BaseURL: cfg.SupabaseURL,
			APIKey:  cfg.CentralKey(),
		},
		resilience.NewCircuitBreaker("central", supabase.IgnoreForBreaker),
		resilienceCfg,
		nil,
		nil,
		logger,
	)
	directory := supabase.NewDirectoryStore(centralClient)

	// --- Sync log ---
	var syncLog port.SyncLogStore = supabase.NewSyncLogStore(centralClient)
	var readiness []handler.Pinger
	if cfg.SyncLogDatabaseURL != "" {
		pg, err := postgres.Open(cfg.SyncLogDatabaseURL)
		if err != nil {
			logger.Fatal("failed to open sync log database", zap.Error(err))
		}
		defer pg.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = pg.EnsureSchema(ctx)
		cancel()
		if err != nil {
			logger.Fatal("failed to prepare sync log schema", zap.Error(err))
		}
		syncLog = pg
		readiness = append(readiness, pg)
		logger.Info("sync log stored in postgres")
	}

	// --- Tenant connections ---
	conns := cache.New[*port.TenantConn](cfg.ClientCacheTTL)
	defer conns.Close()
	connector := supabase.NewConnector(httpClient, supabase.ConnectorConfig{
		Resilience:       resilienceCfg,
		RateLimit:        cfg.TenantRateLimit,
		RateBurst:        cfg.TenantRateBurst,
		IdentityPageSize: cfg.IdentityPageSize,
	}, conns, logger)

	// --- Services ---
	opts := service.Options{
		MaxConcurrency: cfg.MaxConcurrency,
		ReadLimit:      cfg.ReadLimit,
	}
	registry := service.NewRegistry(directory, connector, logger)
	prober := service.NewSchemaProber(metrics, logger)
	syncSvc := service.NewSyncService(directory, registry, prober, syncLog, opts, metrics, logger)
	reader := service.NewUserReader(directory, registry, prober, opts, metrics, logger)

	// --- Router ---
	router := handler.NewRouter(handler.Dependencies{
		Sync:        syncSvc,
		Users:       reader,
		Sites:       registry,
		Ready:       readiness,
		Metrics:     metrics,
		AdminSecret: cfg.AdminJWTSecret,
		Logger:      logger,
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute, // all-users sync fans out over every tenant
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
