//go:build !iouring

// Package aio, default variant: built without -tags iouring, this backs the
// Ring interface with synchronous pread/pwrite via golang.org/x/sys/unix.
// Prepare calls only queue the operation; Flush performs every queued
// pread/pwrite synchronously and records the outcome, and Wait hands back
// what already happened. This mirrors the
// teacher's "not enabled" stub (internal/uring/iouring_stub.go) in spirit,
// but unlike that stub this one is the real default path — go-vhd has no
// ublk kernel device to fall back on, so the synchronous ring is what
// testing.go and any non-iouring-tagged build actually run against.
package aio

import (
	"fmt"

	"golang.org/x/sys/unix"
)

type stubCompletion struct {
	userData uint64
	result   int32
	err      error
}

func (c *stubCompletion) UserData() uint64 { return c.userData }
func (c *stubCompletion) Result() int32    { return c.result }
func (c *stubCompletion) Err() error       { return c.err }

type stubOp struct {
	isWrite  bool
	fd       int
	buf      []byte
	offset   int64
	userData uint64
}

type stubRing struct {
	entries uint32
	queued  []stubOp
	done    []Completion
}

// New creates a Ring that performs pread/pwrite synchronously on Flush.
// No actual kernel ring is allocated; cfg.Entries only bounds the queue.
func New(cfg Config) (Ring, error) {
	if cfg.Entries == 0 {
		cfg.Entries = 128
	}
	return &stubRing{entries: cfg.Entries}, nil
}

func (r *stubRing) PrepareRead(fd int, buf []byte, offset int64, userData uint64) error {
	if uint32(len(r.queued)) >= r.entries {
		return ErrRingFull
	}
	r.queued = append(r.queued, stubOp{isWrite: false, fd: fd, buf: buf, offset: offset, userData: userData})
	return nil
}

func (r *stubRing) PrepareWrite(fd int, buf []byte, offset int64, userData uint64) error {
	if uint32(len(r.queued)) >= r.entries {
		return ErrRingFull
	}
	r.queued = append(r.queued, stubOp{isWrite: true, fd: fd, buf: buf, offset: offset, userData: userData})
	return nil
}

func (r *stubRing) Flush() (int, error) {
	n := len(r.queued)
	for _, op := range r.queued {
		var nbytes int
		var err error
		if op.isWrite {
			nbytes, err = unix.Pwrite(op.fd, op.buf, op.offset)
		} else {
			nbytes, err = unix.Pread(op.fd, op.buf, op.offset)
		}
		c := &stubCompletion{userData: op.userData, result: int32(nbytes)}
		if err != nil {
			c.result = -1
			c.err = fmt.Errorf("aio: %w", err)
		}
		r.done = append(r.done, c)
	}
	r.queued = r.queued[:0]
	return n, nil
}

func (r *stubRing) Wait() ([]Completion, error) {
	out := r.done
	r.done = nil
	return out, nil
}

func (r *stubRing) Close() error {
	return nil
}
