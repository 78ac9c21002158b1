// Package txn implements Component D: the per-bitmap transaction state
// machine that groups data writes with their bitmap (and optionally BAT)
// updates, enforcing the write-then-metadata durability ordering (spec
// §4.D).
package txn

import "time"

// State is the transaction lifecycle: IDLE -> OPEN -> CLOSED -> FINISHED
// -> IDLE (spec §4.D).
type State int

const (
	StateIdle State = iota
	StateOpen
	StateClosed
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	case StateFinished:
		return "FINISHED"
	default:
		return "UNKNOWN"
	}
}

// Status flags a transaction's extra obligations beyond its data-write
// members (spec §3's TX_LIVE / TX_UPDATE_BAT).
type Status uint8

const (
	StatusUpdateBAT Status = 1 << iota
)

// Member is a transaction participant, referenced by pool slot+epoch
// rather than pointer (spec §9).
type Member struct {
	Slot  int
	Epoch uint32
}

// Transaction is the per-bitmap state machine of spec §4.D.
type Transaction struct {
	State  State
	Status Status

	Started  int
	Finished int
	Err      error

	Members []Member

	// batLanded/bitmapLanded track the two metadata writes the UPDATE_BAT
	// sub-protocol and diff bitmap write contribute; Finish requires both
	// true (when applicable) in addition to Started == Finished.
	batLanded    bool
	bitmapLanded bool

	// parkedBATFinish records that the BAT-write finisher observed other
	// members still outstanding and deferred finishing to whichever data
	// completion closes the gap (spec §4.D block-allocation step 3).
	parkedBATFinish bool

	// bitmapScheduled records that a BITMAP_WRITE has already been
	// enqueued for this transaction, so ReadyForBitmapWrite won't fire a
	// second time regardless of which finisher (Close or the BAT write's
	// own completion) observes the ready condition first.
	bitmapScheduled bool

	// startedAt is a UnixNano timestamp taken at Open, used by Finish to
	// report this transaction's total lifetime to an Observer.
	startedAt int64
}

// New returns an IDLE transaction.
func New() *Transaction { return &Transaction{State: StateIdle} }

// Open transitions IDLE -> OPEN. Called on the first data write to a
// bitmap needing a transaction.
func (t *Transaction) Open() {
	*t = Transaction{State: StateOpen, startedAt: time.Now().UnixNano()}
}

// AddMember attaches a data write to this OPEN transaction (spec §4.D
// "Attachment rule"). Callers must check State == StateOpen first; a
// CLOSED/FINISHED transaction must route new writes to the bitmap's queue
// instead.
func (t *Transaction) AddMember(m Member) {
	t.Members = append(t.Members, m)
	t.Started++
}

// MarkUpdateBAT flags this transaction as carrying a BAT allocation, per
// the block-allocation sub-protocol (spec §4.D).
func (t *Transaction) MarkUpdateBAT() { t.Status |= StatusUpdateBAT }

// Close transitions OPEN -> CLOSED, set when the last data-write
// completion observes Started == Finished. isDiff controls whether a
// BITMAP_WRITE still needs to land before Finish (spec §4.D: "If this is a
// diff disk and no prior error, schedule a BITMAP_WRITE. Otherwise skip
// directly to FINISHED.").
func (t *Transaction) Close(isDiff bool) {
	t.State = StateClosed
	if !isDiff || t.Err != nil {
		t.bitmapLanded = true // nothing to wait for
	}
	if t.Status&StatusUpdateBAT == 0 {
		t.batLanded = true
	}
}

// ObserveMemberDone records one member's completion, capturing the first
// non-nil error as the transaction's error (spec §7: "a transaction's
// error is the first non-zero error among its members and its metadata
// writes").
func (t *Transaction) ObserveMemberDone(err error) {
	t.Finished++
	if t.Err == nil && err != nil {
		t.Err = err
	}
}

// ObserveBATWriteDone records the BAT write's outcome. If other members
// are still outstanding it parks rather than finishing immediately (spec
// §4.D step 3); the caller should check Parked() afterward and, if not
// parked, proceed to try finishing.
func (t *Transaction) ObserveBATWriteDone(err error) {
	if t.Err == nil && err != nil {
		t.Err = err
	}
	t.batLanded = true
	if t.Started != t.Finished {
		t.parkedBATFinish = true
	}
}

// Parked reports whether the BAT-write finisher deferred to a later data
// completion.
func (t *Transaction) Parked() bool { return t.parkedBATFinish }

// ObserveBitmapWriteDone records the diff bitmap write's outcome.
func (t *Transaction) ObserveBitmapWriteDone(err error) {
	if t.Err == nil && err != nil {
		t.Err = err
	}
	t.bitmapLanded = true
}

// ReadyForBitmapWrite reports whether a diff bitmap write should be
// scheduled now: the transaction has closed with no unresolved error, its
// BAT write (if this transaction carries one) has already landed — so the
// committed BAT entry is safe to read for an offset — and no bitmap write
// has been scheduled for it yet (spec §4.D step 3: the bitmap write only
// follows once both the BAT write and every data write have completed).
func (t *Transaction) ReadyForBitmapWrite() bool {
	return t.State == StateClosed && t.Err == nil && t.batLanded && !t.bitmapScheduled
}

// MarkBitmapScheduled records that the caller has enqueued this
// transaction's BITMAP_WRITE.
func (t *Transaction) MarkBitmapScheduled() { t.bitmapScheduled = true }

// ReadyToFinish reports whether every obligation has landed: all data
// members complete, the BAT write (if any) landed, and the bitmap write
// (if diff) landed. This is only meaningful once State == StateClosed.
func (t *Transaction) ReadyToFinish() bool {
	return t.State == StateClosed && t.Started == t.Finished && t.batLanded && t.bitmapLanded
}

// Finish transitions CLOSED -> FINISHED and returns the final member list
// and error for callback dispatch. The caller (volume) is responsible for
// invoking each member's callback with Err, then resetting the bitmap's
// transaction to a fresh IDLE one and promoting any queued writes (spec
// §4.D FINISHED step).
func (t *Transaction) Finish() ([]Member, error) {
	t.State = StateFinished
	return t.Members, t.Err
}

// LatencyNs returns the elapsed time since Open, for observability; zero if
// never opened.
func (t *Transaction) LatencyNs() uint64 {
	if t.startedAt == 0 {
		return 0
	}
	return uint64(time.Now().UnixNano() - t.startedAt)
}

// MemberCount returns how many members this transaction accumulated.
func (t *Transaction) MemberCount() int { return len(t.Members) }
