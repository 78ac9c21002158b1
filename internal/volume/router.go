package volume

import (
	"time"

	"github.com/ehrlich-b/go-vhd/internal/bitmap"
	"github.com/ehrlich-b/go-vhd/internal/constants"
	"github.com/ehrlich-b/go-vhd/internal/reqpool"
)

// ErrBusy is the cache/BAT-lock contention condition of spec §7.
var ErrBusy = busyErr{}

type busyErr struct{}

func (busyErr) Error() string { return "volume: busy, retry at next poll" }

// QueueRead is the router entry point for reads (spec §4.E).
func (v *Volume) QueueRead(sector uint64, n uint32, buf []byte, cb reqpool.Callback, id uint64, private interface{}) (int, error) {
	return v.queueIO(false, sector, n, buf, cb, id, private)
}

// QueueWrite is the router entry point for writes (spec §4.E).
func (v *Volume) QueueWrite(sector uint64, n uint32, buf []byte, cb reqpool.Callback, id uint64, private interface{}) (int, error) {
	return v.queueIO(true, sector, n, buf, cb, id, private)
}

// queueIO walks the requested range span-by-span, classifying each
// position per the table in spec §4.E. A span never crosses a block
// boundary; the router advances by the span length and repeats. The
// return value sums every synchronous sub-callback's return, per spec.
func (v *Volume) queueIO(isWrite bool, sector uint64, n uint32, buf []byte, cb reqpool.Callback, id uint64, private interface{}) (int, error) {
	if sector+uint64(n) > v.totalSectors() {
		return 0, ErrInvalidArgument
	}

	sum := 0
	remaining := n
	cur := sector
	bufOff := uint32(0)

	for remaining > 0 {
		if !v.isDynamic {
			span := remaining
			sub := buf[bufOff*SectorSize : (bufOff+span)*SectorSize]
			sum += v.issueFixedIO(isWrite, cur, span, sub, cb, id, private)
			remaining -= span
			cur += uint64(span)
			bufOff += span
			continue
		}

		blk := uint32(cur / uint64(v.spb))
		secInBlk := uint32(cur % uint64(v.spb))
		spanMax := v.spb - secInBlk
		span := remaining
		if span > spanMax {
			span = spanMax
		}
		sub := buf[bufOff*SectorSize : (bufOff+span)*SectorSize]

		batEntry := v.BAT.Entry(blk)
		if batEntry == constants.BATUnused {
			if v.BAT.Locked() && v.BAT.PendingBlock() != blk {
				// BAT_LOCKED: a different block is mid-allocation.
				if isWrite {
					sum += cb(ErrBusy, cur, remaining, id, private)
					return sum, nil
				}
				// "n/a for reads" per spec table: an unrelated lock never
				// blocks a hole read, it just falls through to BAT_CLEAR.
			}
			if isWrite {
				sum += v.beginAllocation(blk, secInBlk, span, cur, sub, cb, id, private)
			} else {
				sum += cb(ErrNotAllocated, cur, span, id, private)
			}
			remaining -= span
			cur += uint64(span)
			bufOff += span
			continue
		}

		bm := v.Cache.Lookup(blk)
		if bm == nil {
			if v.observer != nil {
				v.observer.ObserveBitmapMiss(blk)
			}
			var err error
			bm, err = v.Cache.Insert(blk)
			if err != nil {
				return sum, err
			}
			v.issueBitmapRead(bm, blk)
			v.parkOnWaiting(bm, isWrite, cur, span, sub, cb, id, private)
			remaining -= span
			cur += uint64(span)
			bufOff += span
			continue
		}
		if bm.Status.Has(bitmap.StatusReadPending) {
			v.parkOnWaiting(bm, isWrite, cur, span, sub, cb, id, private)
			remaining -= span
			cur += uint64(span)
			bufOff += span
			continue
		}

		set := bitmap.BitSet(bm.Shadow, secInBlk)
		run := contiguousRun(bm.Shadow, secInBlk, span, set)

		if set {
			subRun := sub[:run*SectorSize]
			sum += v.issueCachedIO(isWrite, bm, cur, run, subRun, cb, id, private, false)
		} else {
			subRun := sub[:run*SectorSize]
			if isWrite {
				sum += v.issueCachedIO(isWrite, bm, cur, run, subRun, cb, id, private, true)
			} else {
				sum += cb(ErrNotAllocated, cur, run, id, private)
			}
		}
		remaining -= run
		cur += uint64(run)
		bufOff += run
	}
	return sum, nil
}

// contiguousRun returns how many sectors starting at secInBlk (up to
// maxSpan) share the same bit value as the first sector in the span.
func contiguousRun(bits []byte, secInBlk uint32, maxSpan uint32, want bool) uint32 {
	var run uint32
	for run = 0; run < maxSpan; run++ {
		if bitmap.BitSet(bits, secInBlk+run) != want {
			break
		}
	}
	if run == 0 {
		run = 1
	}
	return run
}

// dataOffsetBytes implements the formula of spec §4.E: offset_bytes =
// (bat[blk] + BM + sec_in_block) * 512, substituting the pending
// allocation's reserved offset when this block is mid-allocation.
func (v *Volume) dataOffsetBytes(blk uint32, secInBlk uint32) int64 {
	var base uint32
	if v.BAT.Locked() && v.BAT.PendingBlock() == blk {
		base = v.BAT.PendingOffset()
	} else {
		base = v.BAT.Entry(blk)
	}
	return int64(base+v.bm+secInBlk) * SectorSize
}

// issueFixedIO handles the FIXED-disk row: no BAT, no bitmap, a flat
// sector*512 offset.
func (v *Volume) issueFixedIO(isWrite bool, sector uint64, n uint32, buf []byte, cb reqpool.Callback, id uint64, private interface{}) int {
	req, err := v.Pool.Alloc()
	if err != nil {
		return cb(err, sector, n, id, private)
	}
	req.Sector = sector
	req.Count = n
	req.Buf = buf
	req.Callback = cb
	req.ID = id
	req.Private = private
	req.StartedAt = time.Now().UnixNano()
	offset := int64(sector) * SectorSize
	if isWrite {
		req.Op = reqpool.OpDataWrite
		_ = v.Queue.EnqueueWrite(req, offset)
	} else {
		req.Op = reqpool.OpDataRead
		_ = v.Queue.EnqueueRead(req, offset)
	}
	return 0
}

// issueCachedIO handles BIT_SET and BIT_CLEAR rows: the block is
// allocated and its bitmap is cached and ready. updateBitmap marks the
// write as needing to flip bits on completion (diff-only persistence,
// spec §4.E BIT_CLEAR write row).
func (v *Volume) issueCachedIO(isWrite bool, bm *bitmap.Bitmap, sector uint64, n uint32, buf []byte, cb reqpool.Callback, id uint64, private interface{}, updateBitmap bool) int {
	req, err := v.Pool.Alloc()
	if err != nil {
		return cb(err, sector, n, id, private)
	}
	secInBlk := uint32(sector % uint64(v.spb))
	req.Sector = sector
	req.Count = n
	req.Buf = buf
	req.Callback = cb
	req.ID = id
	req.Private = private
	req.StartedAt = time.Now().UnixNano()
	offset := v.dataOffsetBytes(bm.Blk, secInBlk)

	if isWrite {
		req.Op = reqpool.OpDataWrite
		if updateBitmap {
			req.Flags |= reqpool.FlagUpdateBitmap
			v.attachDataWrite(bm, req)
		}
		_ = v.Queue.EnqueueWrite(req, offset)
	} else {
		req.Op = reqpool.OpDataRead
		_ = v.Queue.EnqueueRead(req, offset)
	}
	return 0
}

// parkOnWaiting enqueues a request's parameters onto the bitmap's waiting
// list (NOT_CACHED / READ_PENDING rows) by allocating a pool slot to hold
// them until the bitmap read completes and the router re-drives them.
func (v *Volume) parkOnWaiting(bm *bitmap.Bitmap, isWrite bool, sector uint64, n uint32, buf []byte, cb reqpool.Callback, id uint64, private interface{}) {
	req, err := v.Pool.Alloc()
	if err != nil {
		cb(err, sector, n, id, private)
		return
	}
	req.Sector = sector
	req.Count = n
	req.Buf = buf
	req.Callback = cb
	req.ID = id
	req.Private = private
	if isWrite {
		req.Op = reqpool.OpDataWrite
	} else {
		req.Op = reqpool.OpDataRead
	}
	req.Flags |= reqpool.FlagQueued
	bm.Waiting = append(bm.Waiting, bitmap.Waiter{Slot: req.Slot, Epoch: req.Epoch})
}
