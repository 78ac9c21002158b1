// Package obs implements interfaces.Observer against Prometheus, the way
// ChuLiYu-raft-recovery's internal/metrics exposes a worker pool's RED
// metrics: counters for volume, histograms for latency, gauges for
// instantaneous state.
package obs

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusObserver records every spec §7/§9 observation point onto a
// Prometheus registry.
type PrometheusObserver struct {
	readOps    prometheus.Counter
	writeOps   prometheus.Counter
	readBytes  prometheus.Counter
	writeBytes prometheus.Counter
	readErrs   prometheus.Counter
	writeErrs  prometheus.Counter

	allocLatency prometheus.Histogram
	allocErrs    prometheus.Counter

	bitmapEvictions prometheus.Counter
	bitmapMisses    prometheus.Counter

	txnLatency prometheus.Histogram
	txnMembers prometheus.Histogram

	queueDepth prometheus.Gauge
}

// NewPrometheusObserver builds and registers the metric set on reg. Pass
// prometheus.NewRegistry() for an isolated test registry, or
// prometheus.DefaultRegisterer to serve at the process's /metrics.
func NewPrometheusObserver(reg prometheus.Registerer) *PrometheusObserver {
	o := &PrometheusObserver{
		readOps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vhd_read_ops_total",
			Help: "Total completed read operations.",
		}),
		writeOps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vhd_write_ops_total",
			Help: "Total completed write operations.",
		}),
		readBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vhd_read_bytes_total",
			Help: "Total bytes read.",
		}),
		writeBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vhd_write_bytes_total",
			Help: "Total bytes written.",
		}),
		readErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vhd_read_errors_total",
			Help: "Total read operations that completed with an error.",
		}),
		writeErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vhd_write_errors_total",
			Help: "Total write operations that completed with an error.",
		}),
		allocLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vhd_block_allocation_latency_seconds",
			Help:    "Latency of the ZERO_BM_WRITE+BAT_WRITE allocation sub-protocol.",
			Buckets: prometheus.DefBuckets,
		}),
		allocErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vhd_block_allocation_errors_total",
			Help: "Total failed block allocations.",
		}),
		bitmapEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vhd_bitmap_cache_evictions_total",
			Help: "Total bitmap cache evictions.",
		}),
		bitmapMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vhd_bitmap_cache_misses_total",
			Help: "Total bitmap cache misses (NOT_CACHED rows).",
		}),
		txnLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vhd_transaction_latency_seconds",
			Help:    "Latency from a bitmap transaction's first member to its FINISHED state.",
			Buckets: prometheus.DefBuckets,
		}),
		txnMembers: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "vhd_transaction_members",
			Help:    "Member count per finished bitmap transaction.",
			Buckets: []float64{1, 2, 3, 4, 8, 16},
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vhd_queue_depth",
			Help: "Outstanding requests at last sample.",
		}),
	}
	reg.MustRegister(
		o.readOps, o.writeOps, o.readBytes, o.writeBytes, o.readErrs, o.writeErrs,
		o.allocLatency, o.allocErrs, o.bitmapEvictions, o.bitmapMisses,
		o.txnLatency, o.txnMembers, o.queueDepth,
	)
	return o
}

func (o *PrometheusObserver) ObserveRead(bytes uint64, latencyNs uint64, success bool) {
	o.readOps.Inc()
	if success {
		o.readBytes.Add(float64(bytes))
	} else {
		o.readErrs.Inc()
	}
}

func (o *PrometheusObserver) ObserveWrite(bytes uint64, latencyNs uint64, success bool) {
	o.writeOps.Inc()
	if success {
		o.writeBytes.Add(float64(bytes))
	} else {
		o.writeErrs.Inc()
	}
}

func (o *PrometheusObserver) ObserveAllocation(blk uint32, latencyNs uint64, success bool) {
	o.allocLatency.Observe(float64(latencyNs) / 1e9)
	if !success {
		o.allocErrs.Inc()
	}
}

func (o *PrometheusObserver) ObserveBitmapEviction(blk uint32) {
	o.bitmapEvictions.Inc()
}

func (o *PrometheusObserver) ObserveBitmapMiss(blk uint32) {
	o.bitmapMisses.Inc()
}

func (o *PrometheusObserver) ObserveTransactionLatency(latencyNs uint64, members int) {
	o.txnLatency.Observe(float64(latencyNs) / 1e9)
	o.txnMembers.Observe(float64(members))
}

func (o *PrometheusObserver) ObserveQueueDepth(depth uint32) {
	o.queueDepth.Set(float64(depth))
}
