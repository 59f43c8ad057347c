package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		jobsEnqueuedTotal,
		jobsDequeuedTotal,
		jobsProcessedTotal,
		asrLatencyMs,
	)
}

var (
	jobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asr_jobs_enqueued_total",
			Help: "Chunks handed to the job queue, labeled by backend.",
		},
		[]string{"backend"},
	)

	jobsDequeuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asr_jobs_dequeued_total",
			Help: "Jobs handed out to workers, labeled by backend.",
		},
		[]string{"backend"},
	)

	jobsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "asr_jobs_processed_total",
			Help: "Total number of transcription jobs processed, labeled by status.",
		},
		[]string{"status"}, // 'done', 'failed'
	)

	asrLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "asr_inference_latency_ms",
			Help:    "ASR call latency distribution in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2000, 4000, 8000, 16000, 32000},
		},
		[]string{"model_config", "success"},
	)
)

func IncJobEnqueued(backend string) {
	jobsEnqueuedTotal.WithLabelValues(norm(backend)).Inc()
}

func IncJobDequeued(backend string) {
	jobsDequeuedTotal.WithLabelValues(norm(backend)).Inc()
}

func IncJobProcessed(status string) {
	jobsProcessedTotal.WithLabelValues(norm(status)).Inc()
}

func ObserveASR(modelConfig string, latencyMs int64, success bool) {
	asrLatencyMs.WithLabelValues(norm(modelConfig), boolLabel(success)).Observe(float64(latencyMs))
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
