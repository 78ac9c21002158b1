package obs

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestObserveReadWriteCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	o := NewPrometheusObserver(reg)

	o.ObserveRead(1024, 1_000_000, true)
	o.ObserveRead(512, 500_000, false)
	o.ObserveWrite(2048, 2_000_000, true)

	require.Equal(t, float64(2), testutil.ToFloat64(o.readOps))
	require.Equal(t, float64(1024), testutil.ToFloat64(o.readBytes))
	require.Equal(t, float64(1), testutil.ToFloat64(o.readErrs))
	require.Equal(t, float64(1), testutil.ToFloat64(o.writeOps))
	require.Equal(t, float64(2048), testutil.ToFloat64(o.writeBytes))
}

func TestObserveAllocationRecordsErrorsSeparately(t *testing.T) {
	reg := prometheus.NewRegistry()
	o := NewPrometheusObserver(reg)

	o.ObserveAllocation(3, 1_000_000, true)
	o.ObserveAllocation(4, 1_000_000, false)

	require.Equal(t, float64(1), testutil.ToFloat64(o.allocErrs))
}

func TestObserveBitmapEvictionAndMiss(t *testing.T) {
	reg := prometheus.NewRegistry()
	o := NewPrometheusObserver(reg)

	o.ObserveBitmapMiss(1)
	o.ObserveBitmapMiss(2)
	o.ObserveBitmapEviction(1)

	require.Equal(t, float64(2), testutil.ToFloat64(o.bitmapMisses))
	require.Equal(t, float64(1), testutil.ToFloat64(o.bitmapEvictions))
}

func TestObserveQueueDepthIsAGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	o := NewPrometheusObserver(reg)

	o.ObserveQueueDepth(5)
	require.Equal(t, float64(5), testutil.ToFloat64(o.queueDepth))
	o.ObserveQueueDepth(2)
	require.Equal(t, float64(2), testutil.ToFloat64(o.queueDepth))
}
