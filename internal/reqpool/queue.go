package reqpool

import (
	"github.com/ehrlich-b/go-vhd/internal/aio"
	"github.com/ehrlich-b/go-vhd/internal/interfaces"
)

// Event reports one completed request, ready for finisher dispatch.
type Event struct {
	Slot  int
	Epoch uint32
	Error error
}

// Queue pairs a Pool with an aio.Ring: it is the "pending-submission
// vector" of spec §4.A, accumulating prepared I/O control blocks until
// Submit hands the whole batch to the OS asynchronous interface in one
// call.
type Queue struct {
	Pool *Pool

	ring     aio.Ring
	fd       int
	logger   interfaces.Logger
	observer interfaces.Observer
	prepared int
}

// NewQueue wires a Pool to a Ring for a given open file descriptor.
func NewQueue(pool *Pool, ring aio.Ring, fd int, logger interfaces.Logger, observer interfaces.Observer) *Queue {
	return &Queue{Pool: pool, ring: ring, fd: fd, logger: logger, observer: observer}
}

func userData(slot int, epoch uint32) uint64 {
	return uint64(uint32(slot))<<32 | uint64(epoch)
}

func splitUserData(ud uint64) (slot int, epoch uint32) {
	return int(uint32(ud >> 32)), uint32(ud)
}

// EnqueueRead stages an async read for req.Buf at the given byte offset.
// On ErrRingFull the caller should Submit and retry, matching spec §4.A's
// "pending-submission vector accumulates ... submit() hands the whole
// batch" behavior.
func (q *Queue) EnqueueRead(req *Request, offset int64) error {
	if err := q.ring.PrepareRead(q.fd, req.Buf, offset, userData(req.Slot, req.Epoch)); err != nil {
		return err
	}
	q.prepared++
	return nil
}

// EnqueueWrite stages an async write for req.Buf at the given byte offset.
func (q *Queue) EnqueueWrite(req *Request, offset int64) error {
	if err := q.ring.PrepareWrite(q.fd, req.Buf, offset, userData(req.Slot, req.Epoch)); err != nil {
		return err
	}
	q.prepared++
	return nil
}

// Submit flushes every prepared SQE with a single syscall and returns the
// ring's submitted count. A partial submission (n < prepared) is not
// handled: neither this package nor the volume package compares the count
// against what was prepared, and no IO_ERROR completion is synthesized for
// an unsubmitted tail.
func (q *Queue) Submit() (int, error) {
	n, err := q.ring.Flush()
	q.prepared = 0
	return n, err
}

// Poll drains available completions and resolves each back to its
// (slot, epoch) pair plus an error classified from the result.
func (q *Queue) Poll() ([]Event, error) {
	completions, err := q.ring.Wait()
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(completions))
	for _, c := range completions {
		slot, epoch := splitUserData(c.UserData())
		events = append(events, Event{Slot: slot, Epoch: epoch, Error: classifyResult(c)})
	}
	return events, nil
}

func classifyResult(c aio.Completion) error {
	if c.Err() != nil {
		return c.Err()
	}
	if c.Result() < 0 {
		return errIOResult
	}
	return nil
}

var errIOResult = ioError{}

type ioError struct{}

func (ioError) Error() string { return "reqpool: asynchronous I/O reported a negative result" }

// Close releases the underlying ring.
func (q *Queue) Close() error { return q.ring.Close() }
