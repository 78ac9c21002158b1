// Package reqpool implements Component A: the fixed-capacity request pool
// and pending-submission batching described by the spec's §4.A. Allocation
// is O(1) off a free-list stack; requests are arena elements referenced by
// slot index rather than pointer, per the spec's §9 note on replacing
// pointer-heavy intrusive lists with an arena+index.
package reqpool

// OpKind tags the six operations the driver issues, replacing the
// polymorphic dispatch by op code the spec's §9 calls out: the completion
// dispatcher in the volume package is a total switch over this type.
type OpKind int

const (
	OpDataRead OpKind = iota
	OpDataWrite
	OpBitmapRead
	OpBitmapWrite
	OpZeroBMWrite
	OpBATWrite
)

func (k OpKind) String() string {
	switch k {
	case OpDataRead:
		return "DATA_READ"
	case OpDataWrite:
		return "DATA_WRITE"
	case OpBitmapRead:
		return "BITMAP_READ"
	case OpBitmapWrite:
		return "BITMAP_WRITE"
	case OpZeroBMWrite:
		return "ZERO_BM_WRITE"
	case OpBATWrite:
		return "BAT_WRITE"
	default:
		return "UNKNOWN"
	}
}

// Flags carries the per-request bits named in §3: UPDATE_BAT, UPDATE_BITMAP,
// QUEUED, FINISHED.
type Flags uint8

const (
	FlagUpdateBAT Flags = 1 << iota
	FlagUpdateBitmap
	FlagQueued
	FlagFinished
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// TxnRef is the weak back-reference from a request to the transaction that
// owns it, modeled per §9 as an (index, epoch) pair rather than a pointer:
// BitmapSlot identifies the owning bitmap cache slot and Epoch is the value
// of that bitmap's transaction-reset counter at attach time. A finisher
// must compare Epoch against the bitmap's current epoch before touching the
// transaction; a mismatch means the transaction already reset and this
// reference is stale.
type TxnRef struct {
	BitmapSlot int
	Epoch      uint32
	Valid      bool
}

// Callback is the caller-supplied completion function. Its signature and
// the "return value is summed and propagated" rule come from spec §6.
type Callback func(err error, sector uint64, count uint32, id uint64, private interface{}) int

// Request is one element of the fixed-capacity pool (§3 "Request").
type Request struct {
	Slot  int
	Epoch uint32 // bumped every time this slot is freed, invalidates stale (slot, epoch) references to it

	Op     OpKind
	Sector uint64
	Count  uint32
	Buf    []byte

	Callback Callback
	ID       uint64
	Private  interface{}

	Flags Flags
	Txn   TxnRef
	Err   error

	// StartedAt is a UnixNano timestamp set by the router when it issues a
	// caller-facing data request, used to report latency to an Observer at
	// signal_completion. Zero for internal transaction members.
	StartedAt int64

	inUse bool
}

func (r *Request) reset() {
	r.Op = 0
	r.Sector = 0
	r.Count = 0
	r.Buf = nil
	r.Callback = nil
	r.ID = 0
	r.Private = nil
	r.Flags = 0
	r.Txn = TxnRef{}
	r.Err = nil
	r.StartedAt = 0
	r.inUse = false
}
