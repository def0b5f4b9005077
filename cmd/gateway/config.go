package main

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"swap-gateway/gateway"
	"swap-gateway/upstream/retry"

	"gopkg.in/yaml.v3"
)

type config struct {
	listenAddr string

	inchAPIKey     string
	inchBaseURL    string
	moralisKey     string
	moralisBaseURL string

	upstreamTimeout time.Duration
	upstreamRPS     float64
	upstreamBurst   int
	retry           retry.Policy
	routes          gateway.Routes

	quotaWindow        time.Duration
	quotaMax           int
	quotaBackend       string
	quotaRedisAddr     string
	quotaRedisPassword string
	quotaRedisDB       int
	quotaRedisPrefix   string
	quotaFailClosed    bool
	rateKeyHeader      string
	trustXFF           bool
	addHeaders         bool

	concurrencyMax     int
	concurrencyTimeout time.Duration

	corsOrigins []string
	logLevel    string
	logFormat   string

	rateStatsEnabled   bool
	rateStatsRedisAddr string
	rateStatsPrefix    string
	rateStatsTTL       time.Duration
	rateStatsBucket    string
	rateStatsTrackKeys bool
	rateStatsDebug     bool
}

func readConfig() (config, error) {
	cfg := config{}

	cfg.listenAddr = os.Getenv("LISTEN_ADDR")
	if cfg.listenAddr == "" {
		cfg.listenAddr = ":" + getenvDefault("PORT", "9001")
	}

	cfg.inchAPIKey = os.Getenv("INCH_API_KEY")
	cfg.inchBaseURL = getenvDefault("INCH_BASE_URL", "")
	cfg.moralisKey = os.Getenv("MORALIS_KEY")
	cfg.moralisBaseURL = getenvDefault("MORALIS_BASE_URL", "")

	cfg.upstreamTimeout = getenvDurationDefault("UPSTREAM_TIMEOUT", 15*time.Second)
	// a API de swap no plano gratuito aceita ~1 rps; 0 desliga o pacing
	cfg.upstreamRPS = getenvFloatDefault("UPSTREAM_RPS", 0)
	cfg.upstreamBurst = getenvIntDefault("UPSTREAM_BURST", 1)

	def := retry.DefaultPolicy()
	cfg.retry = retry.Policy{
		MaxRetries:   getenvIntDefault("RETRY_MAX", def.MaxRetries),
		InitialDelay: getenvDurationDefault("RETRY_INITIAL_DELAY", def.InitialDelay),
		Multiplier:   getenvFloatDefault("RETRY_MULTIPLIER", def.Multiplier),
		MaxDelay:     getenvDurationDefault("RETRY_MAX_DELAY", 0),
	}

	cfg.quotaWindow = getenvDurationDefault("QUOTA_WINDOW", time.Minute)
	cfg.quotaMax = getenvIntDefault("QUOTA_MAX", 10)
	cfg.quotaBackend = strings.ToLower(getenvDefault("QUOTA_BACKEND", "memory"))
	cfg.quotaRedisAddr = os.Getenv("QUOTA_REDIS_ADDR")
	cfg.quotaRedisPassword = os.Getenv("QUOTA_REDIS_PASSWORD")
	cfg.quotaRedisDB = getenvIntDefault("QUOTA_REDIS_DB", 0)
	cfg.quotaRedisPrefix = getenvDefault("QUOTA_REDIS_PREFIX", "ratelimit:quota")
	cfg.quotaFailClosed = getenvBoolDefault("QUOTA_FAIL_CLOSED", false)
	cfg.rateKeyHeader = os.Getenv("RATE_KEY_HEADER")
	cfg.trustXFF = getenvBoolDefault("TRUST_XFF", false)
	cfg.addHeaders = getenvBoolDefault("ADD_RATELIMIT_HEADERS", false)

	cfg.concurrencyMax = getenvIntDefault("CONCURRENCY_MAX", 100)
	cfg.concurrencyTimeout = getenvDurationDefault("CONCURRENCY_TIMEOUT", 0)

	cfg.corsOrigins = splitList(getenvDefault("CORS_ORIGINS", "*"))
	cfg.logLevel = getenvDefault("LOG_LEVEL", "info")
	cfg.logFormat = getenvDefault("LOG_FORMAT", "json")

	cfg.rateStatsEnabled = getenvBoolDefault("RATE_STATS_ENABLED", false)
	cfg.rateStatsRedisAddr = getenvDefault("RATE_STATS_REDIS_ADDR", cfg.quotaRedisAddr)
	cfg.rateStatsPrefix = getenvDefault("RATE_STATS_PREFIX", "ratelimit:stats")
	cfg.rateStatsTTL = getenvDurationDefault("RATE_STATS_TTL", 24*time.Hour)
	cfg.rateStatsBucket = getenvDefault("RATE_STATS_BUCKET", "minute")
	cfg.rateStatsTrackKeys = getenvBoolDefault("RATE_STATS_TRACK_KEYS", false)
	cfg.rateStatsDebug = getenvBoolDefault("RATE_STATS_DEBUG", false)

	if cfg.retry.MaxRetries < 0 {
		return config{}, errors.New("RETRY_MAX must be >= 0")
	}
	if cfg.retry.Multiplier < 1 {
		return config{}, errors.New("RETRY_MULTIPLIER must be >= 1")
	}
	if cfg.quotaWindow <= 0 {
		return config{}, errors.New("QUOTA_WINDOW must be > 0")
	}
	if cfg.quotaMax < 0 {
		return config{}, errors.New("QUOTA_MAX must be >= 0")
	}
	switch cfg.quotaBackend {
	case "memory":
	case "redis":
		if strings.TrimSpace(cfg.quotaRedisAddr) == "" {
			return config{}, errors.New("QUOTA_REDIS_ADDR is required when QUOTA_BACKEND=redis")
		}
	default:
		return config{}, fmt.Errorf("QUOTA_BACKEND must be memory or redis, got %q", cfg.quotaBackend)
	}
	if cfg.rateStatsEnabled && strings.TrimSpace(cfg.rateStatsRedisAddr) == "" {
		return config{}, errors.New("RATE_STATS_REDIS_ADDR is required when RATE_STATS_ENABLED=true")
	}
	if cfg.concurrencyMax < 0 {
		return config{}, errors.New("CONCURRENCY_MAX must be >= 0")
	}

	routes, err := buildRoutes(cfg.retry, os.Getenv("QUOTA_ROUTES"), os.Getenv("ROUTES_FILE"))
	if err != nil {
		return config{}, err
	}
	cfg.routes = routes

	return cfg, nil
}

// buildRoutes parte das rotas padrão, aplica a política de retry do ambiente nas rotas
// que repetem, troca o conjunto com quota (QUOTA_ROUTES) e por fim aplica o arquivo YAML.
func buildRoutes(p retry.Policy, quotaRoutes, routesFile string) (gateway.Routes, error) {
	routes := gateway.DefaultRoutes()
	for path, rp := range routes {
		if rp.Retry.MaxRetries > 0 {
			rp.Retry = p
			routes[path] = rp
		}
	}

	if strings.TrimSpace(quotaRoutes) != "" {
		var err error
		routes, err = routes.WithAdmission(splitList(quotaRoutes))
		if err != nil {
			return nil, fmt.Errorf("QUOTA_ROUTES: %w", err)
		}
	}

	if routesFile != "" {
		var err error
		routes, err = loadRoutesFile(routesFile, routes)
		if err != nil {
			return nil, err
		}
	}
	return routes, nil
}

type routesFile struct {
	Routes map[string]struct {
		Admission *bool         `yaml:"admission"`
		Retry     *retry.Policy `yaml:"retry"`
	} `yaml:"routes"`
}

// loadRoutesFile aplica overrides por rota; campos ausentes mantêm o valor de base.
func loadRoutesFile(path string, base gateway.Routes) (gateway.Routes, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read routes file: %w", err)
	}
	var rf routesFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("parse routes file: %w", err)
	}

	out := make(gateway.Routes, len(base))
	for k, v := range base {
		out[k] = v
	}
	for path, o := range rf.Routes {
		if !gateway.Known(path) {
			return nil, fmt.Errorf("routes file: unknown route %q", path)
		}
		rp := out.Policy(path)
		if o.Admission != nil {
			rp.Admission = *o.Admission
		}
		if o.Retry != nil {
			if o.Retry.Multiplier == 0 {
				o.Retry.Multiplier = 2
			}
			rp.Retry = *o.Retry
		}
		out[path] = rp
	}
	return out, nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvFloatDefault(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// writeBase é a folga de escrita além do tempo gasto com o upstream.
const writeBase = 30 * time.Second

// writeTimeout cobre a rota mais lenta: cada tentativa pode levar upstreamTimeout,
// mais todo o backoff entre elas.
func writeTimeout(cfg config) time.Duration {
	var worst time.Duration
	for _, rp := range cfg.routes {
		if d := rp.Retry.AttemptsBudget(cfg.upstreamTimeout); d > worst {
			worst = d
		}
	}
	if worst > time.Duration(math.MaxInt64)-writeBase {
		return time.Duration(math.MaxInt64)
	}
	return writeBase + worst
}
