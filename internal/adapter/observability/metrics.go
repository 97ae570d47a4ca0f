package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	AIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_requests_total",
			Help: "Total number of AI requests by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)
	AIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_request_duration_seconds",
			Help:    "AI request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"operation"},
	)
	AIStreamChunksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ai_stream_chunks_total",
			Help: "Total number of streamed response chunks forwarded to callers",
		},
	)
	AITokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_total",
			Help: "Approximate token usage by kind (prompt, completion)",
		},
		[]string{"kind"},
	)

	CredentialsAvailable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "credential_pool_available",
			Help: "Number of credentials currently eligible for acquisition",
		},
	)
	CredentialCooldownsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "credential_cooldowns_total",
			Help: "Total number of credential cool-down transitions",
		},
	)
	CredentialExhaustionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "credential_exhaustions_total",
			Help: "Total number of credentials permanently exhausted",
		},
	)

	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Cache lookups that returned a usable entry, by content kind",
		},
		[]string{"kind"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Cache lookups that fell through to the content source, by content kind",
		},
		[]string{"kind"},
	)
	CacheStoreFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_store_failures_total",
			Help: "Cache store operations that failed and were recovered locally",
		},
		[]string{"op"},
	)
)

// InitMetrics registers all Prometheus collectors. Call once per process.
func InitMetrics() {
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(AIRequestsTotal)
	prometheus.MustRegister(AIRequestDuration)
	prometheus.MustRegister(AIStreamChunksTotal)
	prometheus.MustRegister(AITokensTotal)
	prometheus.MustRegister(CredentialsAvailable)
	prometheus.MustRegister(CredentialCooldownsTotal)
	prometheus.MustRegister(CredentialExhaustionsTotal)
	prometheus.MustRegister(CacheHitsTotal)
	prometheus.MustRegister(CacheMissesTotal)
	prometheus.MustRegister(CacheStoreFailuresTotal)
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		// Route pattern may be unavailable outside chi router; guard nil
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(ww.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}
