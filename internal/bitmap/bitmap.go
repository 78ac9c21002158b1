// Package bitmap implements Component C: the bounded LRU cache of
// per-block presence bitmaps, with pin ("locked") semantics and a
// map/shadow pair for atomic update (spec §4.C).
package bitmap

import "github.com/ehrlich-b/go-vhd/internal/txn"

// Status bits tracked per cached bitmap (spec §3 "Bitmap").
type Status uint8

const (
	StatusReadPending Status = 1 << iota
	StatusWritePending
	StatusLocked
)

func (s Status) Has(bit Status) bool { return s&bit != 0 }

// Waiter is one request parked on a bitmap's waiting or queue list,
// modeled as a slot/epoch pair into the shared request pool rather than an
// intrusive pointer list (spec §9).
type Waiter struct {
	Slot  int
	Epoch uint32
}

// Bitmap is one cached per-block presence bitmap.
type Bitmap struct {
	Slot int // index into the cache's slot array
	Blk  uint32
	Seq  uint64 // LRU touch sequence

	Status Status
	Map    []byte // committed contents, mirrors disk
	Shadow []byte // pending contents, mutated by in-flight writes

	Txn      *txn.Transaction
	TxnEpoch uint32 // bumped each time Txn resets; pairs with reqpool.TxnRef for stale-reference detection

	Waiting []Waiter // parked on the initial bitmap read
	Queue   []Waiter // parked writes waiting for the next transaction to open

	// AllocStartedAt is a UnixNano timestamp set when a block allocation
	// begins, read back when its BAT write lands to report allocation
	// latency to an Observer. Zero outside an allocation.
	AllocStartedAt int64

	inUse bool
}

// ResetTxn installs a fresh IDLE transaction and bumps TxnEpoch, as spec
// §4.D's FINISHED step requires ("clear the transaction; start a new OPEN
// transaction from any writes that queued up").
func (b *Bitmap) ResetTxn() {
	b.Txn = txn.New()
	b.TxnEpoch++
}

// Bytes returns the bitmap size in bytes for spb sectors per block.
func Bytes(spb uint32) int {
	bits := int(spb)
	return (bits + 7) / 8
}

// BitSet reports whether sector sec (block-relative) is marked present in b.
func BitSet(b []byte, sec uint32) bool {
	byteIdx := sec / 8
	if int(byteIdx) >= len(b) {
		return false
	}
	bit := 7 - (sec % 8) // MSB-first per VHD on-disk bitmap convention
	return b[byteIdx]&(1<<bit) != 0
}

// SetBit sets sector sec present in b.
func SetBit(b []byte, sec uint32) {
	byteIdx := sec / 8
	if int(byteIdx) >= len(b) {
		return
	}
	bit := 7 - (sec % 8)
	b[byteIdx] |= 1 << bit
}

// InUse reports whether b has any pending read/write, a live transaction,
// or non-empty waiting/queue lists — the conditions that pin it against
// eviction (spec §4.C, §5 LOCKED semantics).
func (b *Bitmap) InUse() bool {
	return b.Status.Has(StatusLocked) ||
		b.Status.Has(StatusReadPending) ||
		b.Status.Has(StatusWritePending) ||
		len(b.Waiting) > 0 ||
		len(b.Queue) > 0
}

// CopyMapToShadow syncs shadow from map, restoring the invariant that
// map == shadow outside a live transaction (spec §3).
func (b *Bitmap) CopyMapToShadow() { copy(b.Shadow, b.Map) }

// CopyShadowToMap commits a successful transaction's bits into map.
func (b *Bitmap) CopyShadowToMap() { copy(b.Map, b.Shadow) }

// CopyMapToShadowRollback undoes a failed transaction's staged changes by
// restoring shadow from map (spec §4.C write-completion failure path).
func (b *Bitmap) CopyMapToShadowRollback() { copy(b.Shadow, b.Map) }
