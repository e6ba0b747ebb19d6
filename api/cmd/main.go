package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/baechuer/real-time-ressys/services/view-service/internal/audit"
	"github.com/baechuer/real-time-ressys/services/view-service/internal/config"
	"github.com/baechuer/real-time-ressys/services/view-service/internal/domain"
	"github.com/baechuer/real-time-ressys/services/view-service/internal/infrastructure/cache"
	"github.com/baechuer/real-time-ressys/services/view-service/internal/infrastructure/memory"
	"github.com/baechuer/real-time-ressys/services/view-service/internal/infrastructure/postgres"
	"github.com/baechuer/real-time-ressys/services/view-service/internal/infrastructure/rabbitmq"
	"github.com/baechuer/real-time-ressys/services/view-service/internal/infrastructure/redis"
	"github.com/baechuer/real-time-ressys/services/view-service/internal/pkg/logger"
	"github.com/baechuer/real-time-ressys/services/view-service/internal/security"
	"github.com/baechuer/real-time-ressys/services/view-service/internal/service"
	"github.com/baechuer/real-time-ressys/services/view-service/internal/transport/rest"
	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		_ = os.Setenv("LOG_LEVEL", cfg.LogLevel)
	}

	logger.Init()
	log := logger.Logger.With().
		Str("service", "view-service").
		Str("env", cfg.AppEnv).
		Logger()

	// Root ctx with signal cancellation
	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	auditLog := audit.New(logger.Logger)

	// ---- Store ----
	var (
		store domain.ViewStore
		repo  *postgres.Repository
	)
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		if cfg.DBMigrate {
			if err := postgres.Migrate(cfg.DBDSN); err != nil {
				log.Fatal().Err(err).Msg("migrations failed")
			}
		}

		dbPool, err := pgxpool.New(rootCtx, cfg.DBDSN)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres pool create failed")
		}
		defer dbPool.Close()

		pingCtx, cancel := context.WithTimeout(rootCtx, 5*time.Second)
		err = dbPool.Ping(pingCtx)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("postgres ping failed")
		}
		log.Info().Msg("postgres connected")

		repo = postgres.New(dbPool, cfg.TxMaxRetries)
		store = repo
	case config.StoreDriverMemory:
		log.Warn().Msg("using in-memory store; data is lost on restart")
		store = memory.NewStore()
	}

	// ---- Unique-view cache (+ shared HTTP limiter when Redis is up) ----
	var (
		uniqueCache domain.UniqueViewCache
		limiter     rest.RequestLimiter
	)
	if cfg.RedisEnabled {
		rc := redis.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
		pingCtx, cancel := context.WithTimeout(rootCtx, 2*time.Second)
		err := rc.Ping(pingCtx)
		cancel()
		if err != nil {
			// redis is optional; fall back to process-local state
			log.Warn().Err(err).Msg("redis ping failed; using in-process cache")
			_ = rc.Close()
		} else {
			log.Info().Msg("redis connected")
			defer rc.Close()
			uniqueCache = rc
			limiter = rc
		}
	}
	if uniqueCache == nil {
		uniqueCache = cache.NewLRU(cfg.UniqueCacheSize, cfg.UniqueCacheTTL)
	}

	// ---- Application service ----
	svc := service.NewViewService(store, service.Options{
		RateLimitWindow:    cfg.RateLimitWindow,
		MaxViewsPerWindow:  cfg.MaxViewsPerWindow,
		SessionDedupWindow: cfg.SessionDedupWindow,
		StoreTimeout:       cfg.StoreTimeout,
		UniqueCacheTTL:     cfg.UniqueCacheTTL,
		PublishEvents:      cfg.OutboxEnabled && repo != nil,
	},
		service.WithUniqueCache(uniqueCache),
		service.WithAudit(auditLog),
		service.WithAdvisoryGuards(
			service.NewAdvisoryGuard("rate_limit", cfg.BreakerFailures, cfg.BreakerOpenTimeout),
			service.NewAdvisoryGuard("dedup", cfg.BreakerFailures, cfg.BreakerOpenTimeout),
		),
	)

	// ---- Background maintenance ----
	svc.StartRateLimitCleanup(rootCtx, time.Minute, cfg.RateLimitRecordTTL)
	if cfg.ReconcileInterval > 0 {
		svc.StartReconcileSweep(rootCtx, cfg.ReconcileInterval, cfg.ReconcileBatch)
		log.Info().Dur("interval", cfg.ReconcileInterval).Msg("reconcile sweep started")
	}

	// ---- MQ ----
	if repo != nil && cfg.OutboxEnabled {
		repo.StartOutboxWorker(rootCtx, cfg.RabbitURL, cfg.RabbitExchange, auditLog)
		log.Info().Msg("outbox worker started")
	}
	if cfg.ConsumerEnabled {
		// inbound profile snapshots keep the subject projection populated
		mqConsumer := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitExchange, store)
		if err := mqConsumer.Start(rootCtx); err != nil {
			log.Error().Err(err).Msg("consumer start failed (continuing)")
		}
	}

	// ---- Router ----
	httpHandler := rest.NewRouter(rest.RouterDeps{
		Handler:   rest.NewHandler(svc),
		Verifier:  security.NewHS256Verifier(cfg.JWTSecret, cfg.JWTIssuer),
		RLEnabled: cfg.RLEnabled,
		RLLimit:   cfg.RLLimit,
		RLWindow:  cfg.RLWindow,
		Limiter:   limiter,
	})

	// ---- HTTP server ----
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Port).Msg("http server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server crash
	select {
	case <-rootCtx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("http server crashed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	log.Info().Msg("shutdown complete")
}
