package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"swap-gateway/gateway"
	"swap-gateway/middleware/ratelimit"
	"swap-gateway/middleware/ratelimit/domain"
	"swap-gateway/middleware/ratelimit/infra"
	"swap-gateway/observability"
	"swap-gateway/upstream/retry"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// .env é opcional; variáveis já exportadas têm precedência
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("ignoring .env: %v", err)
	}

	cfg, err := readConfig()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := observability.NewLogger(cfg.logLevel, cfg.logFormat)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.inchAPIKey == "" {
		logger.Warn("INCH_API_KEY is empty; swap routes will be rejected upstream")
	}
	if cfg.moralisKey == "" {
		logger.Warn("MORALIS_KEY is empty; /tokenPrice will be rejected upstream")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metrics := observability.NewMetrics()

	httpClient := &http.Client{Timeout: cfg.upstreamTimeout}
	inchFetcher := retry.New(httpClient,
		retry.WithName("inch"),
		retry.WithPolicy(cfg.retry),
		retry.WithPacer(cfg.upstreamRPS, cfg.upstreamBurst),
		retry.WithLogger(logger),
		retry.WithAttemptHook(metrics.ObserveAttempt),
	)
	moralisFetcher := retry.New(httpClient,
		retry.WithName("moralis"),
		retry.WithPolicy(cfg.retry),
		retry.WithLogger(logger),
		retry.WithAttemptHook(metrics.ObserveAttempt),
	)

	var quotaStore domain.QuotaStore
	switch cfg.quotaBackend {
	case "redis":
		rdb := newRedis(ctx, logger, cfg.quotaRedisAddr, cfg.quotaRedisPassword, cfg.quotaRedisDB)
		defer func() { _ = rdb.Close() }()
		quotaStore = infra.NewRedisQuotaStore(rdb, infra.WithQuotaPrefix(cfg.quotaRedisPrefix))
	default:
		mem := infra.NewMemoryQuotaStore()
		mem.StartJanitor(ctx)
		quotaStore = mem
	}

	stats := domain.MultiStats{metrics}
	if cfg.rateStatsEnabled {
		rdb := newRedis(ctx, logger, cfg.rateStatsRedisAddr, cfg.quotaRedisPassword, cfg.quotaRedisDB)
		defer func() { _ = rdb.Close() }()
		stats = append(stats, infra.NewRedisStatsStore(
			rdb,
			infra.WithStatsPrefix(cfg.rateStatsPrefix),
			infra.WithStatsTTL(cfg.rateStatsTTL),
			infra.WithStatsBucket(cfg.rateStatsBucket),
			infra.WithStatsTrackKeys(cfg.rateStatsTrackKeys),
		))
	}

	var debugStats *infra.MemoryStatsStore
	if cfg.rateStatsDebug {
		debugStats = infra.NewMemoryStatsStore(infra.WithTrackKeys(cfg.rateStatsTrackKeys))
		stats = append(stats, debugStats)
	}

	admission := ratelimit.Middleware(ratelimit.Options{
		Store:               quotaStore,
		Policy:              domain.WindowPolicy{Window: cfg.quotaWindow, Max: cfg.quotaMax},
		Stats:               stats,
		Logger:              logger,
		KeyHeader:           cfg.rateKeyHeader,
		TrustXForwardedFor:  cfg.trustXFF,
		FailClosed:          cfg.quotaFailClosed,
		AddRateLimitHeaders: cfg.addHeaders,
	})
	concurrency := ratelimit.ConcurrencyMiddleware(ratelimit.ConcurrencyOptions{
		Max:            cfg.concurrencyMax,
		RejectStatus:   http.StatusServiceUnavailable,
		AcquireTimeout: cfg.concurrencyTimeout,
		OnAcquire:      metrics.ObserveAcquire,
	})

	h := gateway.NewRouter(gateway.Config{
		Fetcher:        inchFetcher,
		PriceFetcher:   moralisFetcher,
		InchBaseURL:    cfg.inchBaseURL,
		InchAPIKey:     cfg.inchAPIKey,
		MoralisBaseURL: cfg.moralisBaseURL,
		MoralisAPIKey:  cfg.moralisKey,
		Routes:         cfg.routes,
		Admission:      admission,
		Concurrency:    concurrency,
		AdmissionStats: debugStats,
		CORSOrigins:    cfg.corsOrigins,
		Metrics:        metrics,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:              cfg.listenAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      writeTimeout(cfg),
		IdleTimeout:       90 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("gateway listening",
		zap.String("addr", cfg.listenAddr),
		zap.Strings("gated_routes", cfg.routes.Gated()),
		zap.Duration("quota_window", cfg.quotaWindow),
		zap.Int("quota_max", cfg.quotaMax),
		zap.String("quota_backend", cfg.quotaBackend),
		zap.Int("retry_max", cfg.retry.MaxRetries),
		zap.Duration("retry_initial_delay", cfg.retry.InitialDelay),
		zap.Float64("retry_multiplier", cfg.retry.Multiplier),
		zap.Float64("upstream_rps", cfg.upstreamRPS),
		zap.Int("concurrency_max", cfg.concurrencyMax))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}
}

func newRedis(ctx context.Context, logger *zap.Logger, addr, password string, db int) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Fatal("redis ping error", zap.String("addr", addr), zap.Error(err))
	}
	return rdb
}
