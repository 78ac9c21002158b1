// Package interfaces provides internal interface definitions for go-vhd.
// These are separate from the public package to avoid circular imports
// between the root package and the internal packages that need them.
package interfaces

// Logger is the logging contract threaded through constructors, same shape
// as the teacher's: callers may pass nil to disable logging entirely.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// Observer collects metrics for the core write/read path. Implementations
// must be safe to call from the single volume goroutine that drives Poll;
// they are never called concurrently for the same Volume, but one process
// may host several volumes each calling into a shared Observer.
type Observer interface {
	ObserveRead(bytes uint64, latencyNs uint64, success bool)
	ObserveWrite(bytes uint64, latencyNs uint64, success bool)
	ObserveAllocation(blk uint32, latencyNs uint64, success bool)
	ObserveBitmapEviction(blk uint32)
	ObserveBitmapMiss(blk uint32)
	ObserveTransactionLatency(latencyNs uint64, members int)
	ObserveQueueDepth(depth uint32)
}
