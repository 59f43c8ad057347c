package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		assistantRoutesTotal,
		searchFailuresTotal,
		passagesKept,
	)
}

var (
	assistantRoutesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_routes_total",
			Help: "Assistant requests per chosen plugin.",
		},
		[]string{"plugin"}, // 'local', 'search'
	)

	searchFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_search_failures_total",
			Help: "Search and page fetch failures.",
		},
		[]string{"stage"}, // 'search', 'fetch'
	)

	passagesKept = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assistant_passages",
			Help:    "Passages per stage of the retrieval pipeline.",
			Buckets: []float64{0, 1, 3, 5, 10, 20, 50, 100, 200},
		},
		[]string{"stage"}, // 'candidates', 'ranked', 'relevant'
	)
)

func IncAssistantRoute(plugin string) {
	assistantRoutesTotal.WithLabelValues(norm(plugin)).Inc()
}

func IncSearchFailure(stage string) {
	searchFailuresTotal.WithLabelValues(norm(stage)).Inc()
}

func ObservePassages(stage string, n int) {
	passagesKept.WithLabelValues(norm(stage)).Observe(float64(n))
}
