package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	zlog "github.com/rs/zerolog/log"
	"github.com/tokenscout/analytics-service/internal/cache"
	"github.com/tokenscout/analytics-service/internal/config"
	"github.com/tokenscout/analytics-service/internal/infrastructure/postgres"
	"github.com/tokenscout/analytics-service/internal/infrastructure/redis"
	"github.com/tokenscout/analytics-service/internal/pkg/logger"
	"github.com/tokenscout/analytics-service/internal/service"
	"github.com/tokenscout/analytics-service/internal/transport/rest"
	"github.com/tokenscout/analytics-service/internal/upstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init()
	zlog.Info().Msg("logger initialized")

	// Database
	pool, err := pgxpool.New(context.Background(), cfg.DBDSN)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	// Redis (rate limiting)
	rdb := redis.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)

	// Repositories
	eventRepo := postgres.NewEventRepo(pool)
	popularityRepo := postgres.NewPopularityRepo(pool)
	trendingRepo := postgres.NewTrendingRepo(pool)
	recommendRepo := postgres.NewRecommendRepo(pool)

	// Shared by derived reads and the explorer response cache.
	results := cache.New(time.Now)

	// Upstream explorer (optional in dev)
	var explorer *upstream.Client
	var explorerProxy http.Handler
	if cfg.ExplorerURL != "" {
		explorer = upstream.NewClient(upstream.DefaultClientConfig(cfg.ExplorerURL, cfg.ExplorerAPIKey))
		proxy, err := upstream.NewProxy(cfg.ExplorerURL, "/explorer", "/api/v1", cfg.ExplorerAPIKey)
		if err != nil {
			zlog.Fatal().Err(err).Msg("invalid explorer url")
		}
		explorerProxy = upstream.CacheReads(proxy, results, cfg.ExplorerTTL)
	}

	// Service
	deps := service.Deps{
		Events:      eventRepo,
		Popularity:  popularityRepo,
		Trending:    trendingRepo,
		Recommend:   recommendRepo,
		Results:     results,
		DB:          pool,
		TrendingTTL: cfg.TrendingTTL,
		NetStatsTTL: cfg.NetStatsTTL,
	}
	if explorer != nil {
		deps.Stats = explorer
	}
	svc := service.New(deps)

	// Router
	routerDeps := rest.RouterDeps{
		Handler:       rest.NewHandler(svc),
		ExplorerProxy: explorerProxy,
	}
	if cfg.RLEnabled {
		routerDeps.Cache = rdb
		routerDeps.RateLimit = rest.RateLimitOptions{Limit: cfg.RLLimit, Window: cfg.RLWindow}
	}
	router := rest.NewRouter(routerDeps)

	// Retention purge worker
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	eventRepo.StartRetentionPurge(workerCtx, cfg.RetentionPurgeEvery)

	// HTTP Server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		zlog.Info().Int("port", cfg.Port).Msg("analytics service starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info().Msg("shutting down")
	stopWorkers()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		zlog.Warn().Err(err).Msg("shutdown error")
	}
}
