package jobmetrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

// counterValue sums the samples of family whose labels include want.
func counterValue(t *testing.T, reg *prometheus.Registry, family string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, mf := range families {
		if mf.GetName() != family {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			for k, v := range want {
				if labels[k] != v {
					continue metrics
				}
			}
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestTrackerRecordsOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	require.NoError(t, m.Track("dunning:evaluate").End(nil))
	boom := errors.New("boom")
	require.ErrorIs(t, m.Track("dunning:evaluate").End(boom), boom)
	m.Track("dunning:evaluate").Skip()

	job := map[string]string{"job": "dunning:evaluate"}
	require.Equal(t, 1.0, counterValue(t, reg, "velo_jobs_total", map[string]string{"job": "dunning:evaluate", "status": "success"}))
	require.Equal(t, 1.0, counterValue(t, reg, "velo_jobs_total", map[string]string{"job": "dunning:evaluate", "status": "failure"}))
	require.Equal(t, 1.0, counterValue(t, reg, "velo_jobs_failures_total", job))
	require.Equal(t, 1.0, counterValue(t, reg, "velo_jobs_skipped_total", job))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	tr := m.Track("reminder:notify")
	require.NoError(t, tr.End(nil))
	tr.Skip()
}
