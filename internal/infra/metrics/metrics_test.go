package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersDistinctSeriesPerNamespace(t *testing.T) {
	a := New("test_metrics_a")
	b := New("test_metrics_b")

	a.SampleStore(3, 1, 5)
	require.Equal(t, float64(3), testutil.ToFloat64(a.Queued))
	require.Equal(t, float64(0), testutil.ToFloat64(b.Queued), "namespaces must not share series")
}

func TestMetrics_SampleStore_SetsGauges(t *testing.T) {
	m := New("test_metrics_sample")
	m.SampleStore(7, 2, 4)

	require.Equal(t, float64(7), testutil.ToFloat64(m.Queued))
	require.Equal(t, float64(2), testutil.ToFloat64(m.Active))
	require.Equal(t, float64(4), testutil.ToFloat64(m.Cached))
}

func TestMetrics_Counters_Increment(t *testing.T) {
	m := New("test_metrics_counters")
	m.Processed.Inc()
	m.Processed.Inc()
	m.SpoilDeleted.Inc()

	require.Equal(t, float64(2), testutil.ToFloat64(m.Processed))
	require.Equal(t, float64(1), testutil.ToFloat64(m.SpoilDeleted))
}
