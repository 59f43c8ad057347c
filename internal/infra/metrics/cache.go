package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(cacheRequestsTotal, rateLimitedTotal) }

var (
	cacheRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_requests_total",
			Help: "Tracks cache hits and misses for various caches.",
		},
		[]string{"cache", "result"}, // e.g., cache="chat_history", result="hit"
	)

	rateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limited_total",
			Help: "Requests rejected by the rate limiter, per scope.",
		},
		[]string{"scope"},
	)
)

func IncCacheRequest(cacheName, result string) {
	cacheRequestsTotal.WithLabelValues(norm(cacheName), norm(result)).Inc()
}

func IncRateLimited(scope string) {
	rateLimitedTotal.WithLabelValues(norm(scope)).Inc()
}
