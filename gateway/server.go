package gateway

import (
	"net/http"

	"swap-gateway/middleware/ratelimit/infra"
	"swap-gateway/observability"
	"swap-gateway/upstream/inch"
	"swap-gateway/upstream/moralis"
	"swap-gateway/upstream/retry"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type Middleware = func(http.Handler) http.Handler

type Config struct {
	// Fetcher fala com a API de swap; cada rota aplica sua política sobre ele.
	Fetcher *retry.Fetcher
	// PriceFetcher fala com a API de preços. Vazio usa Fetcher.
	PriceFetcher *retry.Fetcher

	InchBaseURL    string
	InchAPIKey     string
	MoralisBaseURL string
	MoralisAPIKey  string

	Routes Routes
	// Admission é aplicada só nas rotas com RoutePolicy.Admission.
	Admission Middleware
	// Concurrency envolve todas as rotas que falam com upstream.
	Concurrency Middleware
	// AdmissionStats, quando presente, é exposto em /debug/ratelimit.
	AdmissionStats *infra.MemoryStatsStore

	CORSOrigins []string
	Metrics     *observability.Metrics
	Logger      *zap.Logger
}

type server struct {
	logger *zap.Logger
}

// NewRouter monta o handler HTTP do gateway.
func NewRouter(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Fetcher == nil {
		cfg.Fetcher = retry.New(nil, retry.WithLogger(cfg.Logger))
	}
	if cfg.PriceFetcher == nil {
		cfg.PriceFetcher = cfg.Fetcher.Named("moralis")
	}
	if cfg.Routes == nil {
		cfg.Routes = DefaultRoutes()
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}

	s := &server{logger: cfg.Logger}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(RequestID)
	r.Use(AccessLog(cfg.Logger, cfg.Metrics))
	r.Use(CORS(cfg.CORSOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}
	if cfg.AdmissionStats != nil {
		r.Get("/debug/ratelimit", admissionStats(cfg.AdmissionStats))
	}

	inchFor := func(path string) *inch.Client {
		return inch.New(cfg.Fetcher.WithPolicy(cfg.Routes.Policy(path).Retry), cfg.InchBaseURL, cfg.InchAPIKey)
	}
	pricesFor := func(path string) *moralis.Client {
		return moralis.New(cfg.PriceFetcher.WithPolicy(cfg.Routes.Policy(path).Retry), cfg.MoralisBaseURL, cfg.MoralisAPIKey)
	}

	r.Group(func(r chi.Router) {
		if cfg.Concurrency != nil {
			r.Use(cfg.Concurrency)
		}

		mount := func(path string, h http.HandlerFunc) {
			if cfg.Routes.Policy(path).Admission && cfg.Admission != nil {
				r.With(cfg.Admission).Get(path, h)
				return
			}
			r.Get(path, h)
		}

		mount(PathTokenPrice, s.tokenPrice(pricesFor(PathTokenPrice)))
		mount(PathAllowance, s.allowance(inchFor(PathAllowance)))
		mount(PathTransaction, s.transaction(inchFor(PathTransaction)))
		mount(PathSwap, s.swap(inchFor(PathSwap)))
	})

	return r
}
