package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"time"

	"swap-gateway/middleware/ratelimit/application"
	"swap-gateway/middleware/ratelimit/domain"

	"go.uber.org/zap"
)

// DefaultMessage é o corpo da resposta quando a quota estoura.
const DefaultMessage = "Too many requests, please try again later."

type KeyFunc func(r *http.Request) string

type Options struct {
	Store  domain.QuotaStore
	Policy domain.WindowPolicy
	Clock  domain.Clock
	Stats  domain.StatsStore
	Logger *zap.Logger

	KeyFn              KeyFunc
	KeyHeader          string
	TrustXForwardedFor bool

	RejectStatus int
	Message      string
	// FailClosed rejeita quando o store falha; por padrão a requisição passa.
	FailClosed          bool
	AddRateLimitHeaders bool
}

func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			// primeiro IP do X-Forwarded-For (cliente original)
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				first, _, _ := strings.Cut(xff, ",")
				if ip := strings.TrimSpace(first); ip != "" {
					return ip
				}
			}
		}

		// fallback: RemoteAddr
		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.Message == "" {
		opts.Message = DefaultMessage
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}
	if opts.Clock == nil {
		opts.Clock = domain.SystemClock
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	svc := application.Service{
		Store:  opts.Store,
		Policy: opts.Policy,
		Clock:  opts.Clock,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := opts.KeyFn(r)

			dec, err := svc.Admit(r.Context(), domain.Key(key))
			if err != nil {
				opts.Logger.Warn("admission store failed",
					zap.String("key", key),
					zap.String("path", r.URL.Path),
					zap.Bool("fail_closed", opts.FailClosed),
					zap.Error(err))
				if opts.FailClosed {
					dec = domain.Decision{Allowed: false, Limit: opts.Policy.Max, RetryAfter: time.Second}
				}
			}

			if opts.Stats != nil {
				if err := opts.Stats.Record(r.Context(), domain.StatsEvent{
					Key:       domain.Key(key),
					Allowed:   dec.Allowed,
					Method:    r.Method,
					Path:      r.URL.Path,
					Remaining: dec.Remaining,
					At:        opts.Clock.Now(),
				}); err != nil {
					opts.Logger.Debug("admission stats not recorded", zap.Error(err))
				}
			}

			// sem decisão do store não há quota real para anunciar
			if opts.AddRateLimitHeaders && err == nil && dec.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", formatInt(dec.Limit))
				w.Header().Set("X-RateLimit-Remaining", formatInt(dec.Remaining))
				if !dec.ResetAt.IsZero() {
					w.Header().Set("X-RateLimit-Reset", formatInt(int(dec.ResetAt.Unix())))
				}
			}

			if !dec.Allowed {
				opts.Logger.Info("request rejected by quota",
					zap.String("key", key),
					zap.String("path", r.URL.Path),
					zap.Duration("retry_after", dec.RetryAfter))
				w.Header().Set("Retry-After", formatSeconds(dec.RetryAfter))
				http.Error(w, opts.Message, opts.RejectStatus)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
