package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		sessionDuration,
		sessionSegments,
		sessionResultsTotal,
		decodeFailuresTotal,
	)
}

var (
	sessionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "transcription_session_duration_seconds",
			Help:    "Wall time from upload to the last snapshot.",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 12),
		},
	)

	sessionSegments = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "transcription_session_segments",
			Help:    "Number of speech segments per session.",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64, 128},
		},
	)

	sessionResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transcription_sessions_total",
			Help: "Finished transcription sessions, labeled by result.",
		},
		[]string{"result"}, // 'ok', 'empty', 'failed', 'canceled'
	)

	decodeFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "media_decode_failures_total",
			Help: "Uploads that could not be decoded.",
		},
	)
)

func ObserveSession(result string, segments int, elapsed time.Duration) {
	sessionResultsTotal.WithLabelValues(norm(result)).Inc()
	sessionSegments.Observe(float64(segments))
	sessionDuration.Observe(elapsed.Seconds())
}

func IncDecodeFailure() { decodeFailuresTotal.Inc() }
