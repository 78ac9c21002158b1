package vhd

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ehrlich-b/go-vhd/internal/interfaces"
	"github.com/ehrlich-b/go-vhd/internal/obs"
)

// Observer is the metrics contract a Volume reports against (spec §9's
// observation points): reads, writes, block allocations, bitmap cache
// evictions/misses, transaction latency, and queue depth.
type Observer = interfaces.Observer

// Logger is the logging contract threaded through Config; callers may
// leave it nil to disable logging entirely.
type Logger = interfaces.Logger

// NewPrometheusObserver builds an Observer backed by Prometheus counters,
// histograms, and gauges, registered onto reg.
func NewPrometheusObserver(reg prometheus.Registerer) Observer {
	return obs.NewPrometheusObserver(reg)
}

// NoOpObserver discards every observation. It is not installed
// automatically: a Config whose Observer is nil skips observation instead.
type NoOpObserver struct{}

func (NoOpObserver) ObserveRead(uint64, uint64, bool)       {}
func (NoOpObserver) ObserveWrite(uint64, uint64, bool)      {}
func (NoOpObserver) ObserveAllocation(uint32, uint64, bool) {}
func (NoOpObserver) ObserveBitmapEviction(uint32)           {}
func (NoOpObserver) ObserveBitmapMiss(uint32)               {}
func (NoOpObserver) ObserveTransactionLatency(uint64, int)  {}
func (NoOpObserver) ObserveQueueDepth(uint32)               {}

var _ Observer = NoOpObserver{}
