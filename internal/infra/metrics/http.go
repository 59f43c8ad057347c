package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(httpRequestDuration, botUpdatesTotal) }

var (
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "API request duration by route and status code.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "code"},
	)

	botUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telegram_updates_total",
			Help: "Telegram updates handled, labeled by kind.",
		},
		[]string{"kind"}, // 'voice', 'text', 'command', 'other'
	)
)

func ObserveHTTP(route string, code int, elapsed time.Duration) {
	httpRequestDuration.WithLabelValues(route, strconv.Itoa(code)).Observe(elapsed.Seconds())
}

func IncBotUpdate(kind string) {
	botUpdatesTotal.WithLabelValues(norm(kind)).Inc()
}
