package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"swap-gateway/middleware/ratelimit/domain"
	"swap-gateway/upstream/retry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics concentra os coletores do gateway em um registry próprio.
type Metrics struct {
	registry *prometheus.Registry

	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	upstreamAttempts *prometheus.CounterVec
	upstreamRetries  *prometheus.CounterVec
	admissions       *prometheus.CounterVec
	concurrencyWait  prometheus.Histogram
	concurrencyDrops prometheus.Counter
}

var _ domain.StatsStore = (*Metrics)(nil)

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Inbound requests by route and status code.",
		}, []string{"route", "code"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Inbound request latency, including upstream retries.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"route"}),
		upstreamAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_upstream_attempts_total",
			Help: "Outbound attempts by upstream and outcome.",
		}, []string{"upstream", "outcome"}),
		upstreamRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_upstream_retries_total",
			Help: "Retries scheduled after a 429 from the upstream.",
		}, []string{"upstream"}),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_admission_decisions_total",
			Help: "Quota decisions by path.",
		}, []string{"path", "decision"}),
		concurrencyWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_concurrency_wait_seconds",
			Help:    "Time spent waiting for an in-flight slot.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		concurrencyDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gateway_concurrency_rejected_total",
			Help: "Requests rejected because no in-flight slot was free.",
		}),
	}

	m.registry.MustRegister(
		m.requests,
		m.requestDuration,
		m.upstreamAttempts,
		m.upstreamRetries,
		m.admissions,
		m.concurrencyWait,
		m.concurrencyDrops,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveRequest(route string, status int, d time.Duration) {
	m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// ObserveAttempt serve como retry.WithAttemptHook.
func (m *Metrics) ObserveAttempt(a retry.Attempt) {
	m.upstreamAttempts.WithLabelValues(a.Upstream, attemptOutcome(a)).Inc()
	if a.Delay > 0 {
		m.upstreamRetries.WithLabelValues(a.Upstream).Inc()
	}
}

// Record implementa domain.StatsStore.
func (m *Metrics) Record(_ context.Context, ev domain.StatsEvent) error {
	decision := "denied"
	if ev.Allowed {
		decision = "allowed"
	}
	m.admissions.WithLabelValues(ev.Path, decision).Inc()
	return nil
}

// ObserveAcquire serve como ConcurrencyOptions.OnAcquire.
func (m *Metrics) ObserveAcquire(wait time.Duration, ok bool) {
	m.concurrencyWait.Observe(wait.Seconds())
	if !ok {
		m.concurrencyDrops.Inc()
	}
}

func attemptOutcome(a retry.Attempt) string {
	if a.Err == nil {
		return "success"
	}
	e, ok := retry.AsError(a.Err)
	switch {
	case !ok || e.Kind == retry.KindNetwork:
		return "network"
	case e.RateLimited():
		return "rate_limited"
	default:
		return "error"
	}
}
