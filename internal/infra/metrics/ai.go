package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		aiTokensIn,
		aiTokensOut,
		aiCallsLatencyMs,
		aiEmbeddingsTotal,
	)
}

var (
	aiTokensIn = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_in",
			Help: "Sum of prompt (input) tokens per provider/model.",
		},
		[]string{"provider", "model"},
	)

	aiTokensOut = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_out",
			Help: "Sum of completion (output) tokens per provider/model.",
		},
		[]string{"provider", "model"},
	)

	aiCallsLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_calls_latency_ms",
			Help:    "LLM call latency distribution in milliseconds.",
			Buckets: []float64{10, 25, 50, 100, 200, 400, 800, 1600, 3000, 5000, 10000, 30000},
		},
		[]string{"provider", "model", "success"},
	)

	aiEmbeddingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_embeddings_total",
			Help: "Texts embedded per provider/model.",
		},
		[]string{"provider", "model"},
	)
)

// ObserveLLMCall records one completion call.
func ObserveLLMCall(provider, model string, tokensIn, tokensOut int, latencyMs int64, success bool) {
	lbl := []string{norm(provider), norm(model)}
	aiTokensIn.WithLabelValues(lbl...).Add(float64(tokensIn))
	aiTokensOut.WithLabelValues(lbl...).Add(float64(tokensOut))
	aiCallsLatencyMs.WithLabelValues(norm(provider), norm(model), boolLabel(success)).
		Observe(float64(latencyMs))
}

func AddEmbeddings(provider, model string, n int) {
	aiEmbeddingsTotal.WithLabelValues(norm(provider), norm(model)).Add(float64(n))
}
