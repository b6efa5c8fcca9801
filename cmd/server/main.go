package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"zonecore/internal/commitlog"
	"zonecore/internal/feed"
	"zonecore/internal/platform/config"
	"zonecore/internal/platform/httpserver"
	"zonecore/internal/platform/logger"
	"zonecore/internal/platform/postgres"
	"zonecore/internal/platform/redis"
	"zonecore/internal/registry/handler"
	registrymetrics "zonecore/internal/registry/metrics"
	"zonecore/internal/registry/service"
	"zonecore/internal/replay"
	replaymetrics "zonecore/internal/replay/metrics"
	"zonecore/internal/timestamp"
	"zonecore/pkg/clock"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps
// the server lifecycle small. Business logic lives in internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Commit log store: Postgres when configured, in-memory for development.
	var logStore commitlog.Store
	if cfg.DatabaseURL != "" {
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("postgres connection failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		pg := commitlog.NewPostgres(db, cfg.BucketDuration)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Error("commit log schema migration failed", "error", err)
			os.Exit(1)
		}
		logStore = pg
		log.Info("commit log backed by postgres")
	} else {
		logStore = commitlog.NewInMemoryStore(cfg.BucketDuration)
		log.Warn("commit log is in-memory; data will not survive restarts")
	}

	// Last-timestamp store: Redis when configured, in-process otherwise.
	var lastSeen timestamp.LastSeenStore
	redisClient, err := redis.New(ctx, cfg.RedisURL)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		lastSeen = timestamp.NewRedisLastSeenStore(redisClient.Client)
		log.Info("timestamp authority backed by redis")
	} else {
		lastSeen = timestamp.NewInMemoryLastSeenStore()
	}
	authority := timestamp.New(lastSeen, clock.System(), cfg.ClockTolerance)

	// Commit feed: optional.
	var publisher feed.Publisher = feed.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPub, err := feed.NewKafkaPublisher(ctx, cfg.KafkaBrokers, cfg.FeedTopic, log)
		if err != nil {
			log.Error("commit feed connection failed", "error", err)
			os.Exit(1)
		}
		defer kafkaPub.Close()
		publisher = kafkaPub
		log.Info("commit feed enabled", "topic", cfg.FeedTopic)
	}

	engine := replay.New(logStore, log, replaymetrics.New())
	checkpointer := commitlog.NewCheckpointer(logStore, log)
	svc := service.New(
		logStore,
		authority,
		engine,
		checkpointer,
		publisher,
		cfg.ExportRoot,
		log,
		registrymetrics.New(),
	)

	// Seal on a fraction of the bucket width so idle buckets become
	// provably empty soon after they close.
	go runSealer(ctx, svc, cfg.BucketDuration/2, log)

	router := chi.NewRouter()
	handler.New(svc, log).Register(router)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			if err := redisClient.Health(r.Context()); err != nil {
				http.Error(w, "redis unhealthy", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	router.Handle("/metrics", promhttp.Handler())

	srv := httpserver.New(cfg.Addr, router)

	log.Info("starting zonecore", "addr", cfg.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
}

func runSealer(ctx context.Context, svc *service.Service, interval time.Duration, log *slog.Logger) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := svc.Seal(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WarnContext(ctx, "bucket seal pass failed", "error", err)
			}
		}
	}
}
