package vhd

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestNewPrometheusObserverSatisfiesObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	o := NewPrometheusObserver(reg)
	require.NotNil(t, o)

	// Should not panic.
	o.ObserveRead(512, 100, true)
	o.ObserveWrite(512, 100, true)
	o.ObserveQueueDepth(1)
}

func TestNoOpObserverSatisfiesInterface(t *testing.T) {
	var o Observer = NoOpObserver{}
	o.ObserveRead(0, 0, true)
	o.ObserveWrite(0, 0, true)
	o.ObserveAllocation(0, 0, true)
	o.ObserveBitmapEviction(0)
	o.ObserveBitmapMiss(0)
	o.ObserveTransactionLatency(0, 0)
	o.ObserveQueueDepth(0)
}
