//go:build !integration

package metrics

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, status string) float64 {
	t.Helper()
	var m dto.Metric
	if err := jobsProcessedTotal.WithLabelValues(status).Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestIncJobProcessed_NormalisesLabel(t *testing.T) {
	before := counterValue(t, "done")
	IncJobProcessed(" DONE ")
	if got := counterValue(t, "done"); got != before+1 {
		t.Fatalf("done counter = %v, want %v", got, before+1)
	}
}

func TestMustRegister_Idempotent(t *testing.T) {
	MustRegister()
	MustRegister()
}
