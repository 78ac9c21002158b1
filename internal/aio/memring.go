package aio

// Package-level memory ring: a Ring implementation over an in-memory
// ReaderAt/WriterAt, used by the deterministic test harness (internal
// backing.Memory) instead of a real fd. Unlike the iouring/stub variants,
// it ignores the fd argument entirely — the volume package only ever
// touches one backing store per Ring instance.

type memBacking interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
}

type memOp struct {
	isWrite  bool
	buf      []byte
	offset   int64
	userData uint64
}

type memRing struct {
	backing memBacking
	queued  []memOp
	done    []Completion
}

type memCompletion struct {
	userData uint64
	result   int32
	err      error
}

func (c *memCompletion) UserData() uint64 { return c.userData }
func (c *memCompletion) Result() int32    { return c.result }
func (c *memCompletion) Err() error       { return c.err }

// NewMemRing builds a Ring that performs synchronous ReadAt/WriteAt
// against an in-memory backing store on Flush.
func NewMemRing(backing memBacking) Ring {
	return &memRing{backing: backing}
}

func (r *memRing) PrepareRead(_ int, buf []byte, offset int64, userData uint64) error {
	r.queued = append(r.queued, memOp{isWrite: false, buf: buf, offset: offset, userData: userData})
	return nil
}

func (r *memRing) PrepareWrite(_ int, buf []byte, offset int64, userData uint64) error {
	r.queued = append(r.queued, memOp{isWrite: true, buf: buf, offset: offset, userData: userData})
	return nil
}

func (r *memRing) Flush() (int, error) {
	n := len(r.queued)
	for _, op := range r.queued {
		var nbytes int
		var err error
		if op.isWrite {
			nbytes, err = r.backing.WriteAt(op.buf, op.offset)
		} else {
			nbytes, err = r.backing.ReadAt(op.buf, op.offset)
		}
		c := &memCompletion{userData: op.userData, result: int32(nbytes), err: err}
		if err != nil {
			c.result = -1
		}
		r.done = append(r.done, c)
	}
	r.queued = r.queued[:0]
	return n, nil
}

func (r *memRing) Wait() ([]Completion, error) {
	out := r.done
	r.done = nil
	return out, nil
}

func (r *memRing) Close() error { return nil }
