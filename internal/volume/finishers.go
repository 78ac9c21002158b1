// Component F: one finisher per op kind, all invoked from Poll's dispatch
// (spec §4.F). Each advances the state machines described in §4.C/§4.D and
// ultimately routes through signalCompletion.
package volume

import (
	"time"

	"github.com/ehrlich-b/go-vhd/internal/bitmap"
	"github.com/ehrlich-b/go-vhd/internal/reqpool"
	"github.com/ehrlich-b/go-vhd/internal/txn"
)

// finishDataRead has no metadata side effects: just signal the caller.
func (v *Volume) finishDataRead(req *reqpool.Request) {
	v.signalCompletion(req)
}

// finishDataWrite is the busiest finisher: it may carry UPDATE_BITMAP
// and/or UPDATE_BAT flags, contributes to its bitmap's transaction
// bookkeeping, and only signals the caller once the whole transaction (if
// any) finishes.
func (v *Volume) finishDataWrite(req *reqpool.Request) {
	if !req.Txn.Valid {
		if req.Flags.Has(reqpool.FlagQueued) {
			// This write's data already landed, but it is still parked
			// on its bitmap's queue waiting for the next transaction to
			// open (spec §4.D). Record completion and stop: promoteQueue
			// finishes it once attached.
			req.Flags |= reqpool.FlagFinished
			return
		}
		// Plain BIT_SET write with no metadata obligation (fixed, or
		// dynamic with the bit already set and no bitmap change needed).
		v.signalCompletion(req)
		return
	}
	bm := v.Cache.SlotAt(req.Txn.BitmapSlot)
	if bm.TxnEpoch != req.Txn.Epoch {
		// Stale reference into a bitmap whose transaction has since
		// reset; spec §7 treats this as the kind of condition that
		// should never arise under correct sequencing.
		v.signalCompletion(req)
		return
	}
	if req.Flags.Has(reqpool.FlagUpdateBitmap) && req.Err == nil {
		secInBlk := uint32(req.Sector % uint64(v.spb))
		for s := uint32(0); s < req.Count; s++ {
			bitmap.SetBit(bm.Shadow, secInBlk+s)
		}
	}
	bm.Txn.ObserveMemberDone(req.Err)
	v.maybeCloseAndFinish(bm)
	v.finishTransactionMembersIfDone(bm)
}

// finishZeroBMWrite handles the allocation sub-protocol's first
// transaction member (spec §4.D step 1->2): on success it schedules the
// BAT write; on failure it aborts the allocation.
func (v *Volume) finishZeroBMWrite(req *reqpool.Request) {
	reqpool.PutBuffer(req.Buf)
	bm := v.Cache.SlotAt(req.Txn.BitmapSlot)
	bm.Txn.ObserveMemberDone(req.Err)

	if req.Err == nil {
		v.scheduleBATWrite(bm)
	} else {
		v.BAT.OnWriteComplete(req.Err) // leaves entry UNUSED, releases lock
		bm.Txn.ObserveBATWriteDone(req.Err)
	}
	v.maybeCloseAndFinish(bm)
	v.finishTransactionMembersIfDone(bm)
	v.Pool.Free(req)
}

// scheduleBATWrite builds and enqueues the 512-byte BAT write covering the
// pending block (spec §4.B schedule_write).
func (v *Volume) scheduleBATWrite(bm *bitmap.Bitmap) {
	sector, offset := v.BAT.BuildWriteSector()
	req, err := v.Pool.Alloc()
	if err != nil {
		// Out of requests entirely: leave the allocation pending: the
		// next poll cycle's retry path (host layer) will eventually
		// free slots and this condition clears on its own since no
		// other mutation happened yet.
		return
	}
	req.Op = reqpool.OpBATWrite
	buf := reqpool.GetBuffer(SectorSize)
	copy(buf, sector[:])
	req.Buf = buf
	req.Txn = reqpool.TxnRef{BitmapSlot: bm.Slot, Epoch: bm.TxnEpoch, Valid: true}
	_ = v.Queue.EnqueueWrite(req, int64(offset))
}

// finishBATWrite lands the BAT write (spec §4.B on_write_complete, §4.D
// step 3). At most one BAT write is ever in flight globally (spec §5).
func (v *Volume) finishBATWrite(req *reqpool.Request) {
	reqpool.PutBuffer(req.Buf)
	bm := v.Cache.SlotAt(req.Txn.BitmapSlot)
	v.BAT.OnWriteComplete(req.Err)
	bm.Txn.ObserveBATWriteDone(req.Err)

	if v.observer != nil && bm.AllocStartedAt != 0 {
		v.observer.ObserveAllocation(bm.Blk, uint64(time.Now().UnixNano()-bm.AllocStartedAt), req.Err == nil)
		bm.AllocStartedAt = 0
	}

	// The BAT write landing is what makes v.BAT.Entry(bm.Blk) valid; only
	// now is it safe to schedule a diff bitmap write still waiting on it
	// (the transaction may already have Closed while this BAT write was
	// still in flight).
	if v.isDiff && bm.Txn.ReadyForBitmapWrite() {
		bm.Txn.MarkBitmapScheduled()
		v.scheduleBitmapWrite(bm)
	}

	if !bm.Txn.Parked() {
		v.maybeCloseAndFinish(bm)
		v.finishTransactionMembersIfDone(bm)
	}
	// If parked, the eventual last data completion (finishDataWrite's
	// call to finishTransactionMembersIfDone) drives the finish.
	v.Pool.Free(req)
}

// finishBitmapRead completes the "first reference to an allocated block"
// path (spec §4.C): copy map->shadow, clear READ_PENDING, and re-drive
// every request parked on the bitmap's waiting list through the top-level
// router now that the cache is hot.
func (v *Volume) finishBitmapRead(req *reqpool.Request) {
	bm := v.Cache.SlotAt(req.Txn.BitmapSlot)
	if req.Err == nil {
		bm.CopyMapToShadow()
	}
	bm.Status &^= bitmap.StatusReadPending
	v.Pool.Free(req)
	v.drainWaiting(bm)
}

// finishBitmapWrite lands a diff bitmap persist (spec §4.C write
// completion): commit shadow->map on success; on failure restore shadow
// from map (undoing the failed transaction's staged presence bits).
func (v *Volume) finishBitmapWrite(req *reqpool.Request) {
	reqpool.PutBuffer(req.Buf)
	bm := v.Cache.SlotAt(req.Txn.BitmapSlot)
	if req.Err == nil {
		bm.CopyShadowToMap()
	} else {
		bm.CopyMapToShadowRollback()
	}
	bm.Txn.ObserveBitmapWriteDone(req.Err)
	v.Pool.Free(req)
	v.finishTransactionMembersIfDone(bm)
}

// maybeCloseAndFinish transitions OPEN -> CLOSED the moment a member
// completion observes started == finished (spec §4.D), scheduling the
// diff bitmap write only once its BAT write (if any) has also landed —
// for an UPDATE_BAT transaction that is not necessarily true yet here,
// since the BAT write is not itself a member; finishBATWrite schedules it
// instead once that condition clears.
func (v *Volume) maybeCloseAndFinish(bm *bitmap.Bitmap) {
	if bm.Txn.State != txn.StateOpen || bm.Txn.Started != bm.Txn.Finished {
		return
	}
	bm.Txn.Close(v.isDiff)
	if v.isDiff && bm.Txn.ReadyForBitmapWrite() {
		bm.Txn.MarkBitmapScheduled()
		v.scheduleBitmapWrite(bm)
	}
}

// scheduleBitmapWrite persists the bitmap's shadow to disk (spec §4.C
// BITMAP_WRITE), issued once per closed diff transaction.
func (v *Volume) scheduleBitmapWrite(bm *bitmap.Bitmap) {
	req, err := v.Pool.Alloc()
	if err != nil {
		return
	}
	req.Op = reqpool.OpBitmapWrite
	buf := reqpool.GetBuffer(uint32(len(bm.Shadow)))
	copy(buf, bm.Shadow)
	req.Buf = buf
	req.Txn = reqpool.TxnRef{BitmapSlot: bm.Slot, Epoch: bm.TxnEpoch, Valid: true}
	offset := int64(v.BAT.Entry(bm.Blk)) * SectorSize
	_ = v.Queue.EnqueueWrite(req, offset)
}

// finishTransactionMembersIfDone invokes every member's callback once
// ReadyToFinish is true, then resets the bitmap's transaction and promotes
// any writes that queued up while it was CLOSED (spec §4.D FINISHED step).
func (v *Volume) finishTransactionMembersIfDone(bm *bitmap.Bitmap) {
	if !bm.Txn.ReadyToFinish() {
		return
	}
	if v.observer != nil {
		v.observer.ObserveTransactionLatency(bm.Txn.LatencyNs(), bm.Txn.MemberCount())
	}
	members, txErr := bm.Txn.Finish()
	for _, m := range members {
		req := v.Pool.Get(m.Slot)
		if req.Epoch != m.Epoch {
			continue
		}
		if req.Op == reqpool.OpZeroBMWrite {
			// Internal member, never has a caller callback.
			continue
		}
		if txErr != nil {
			req.Err = txErr
		}
		v.signalCompletion(req)
	}

	bm.ResetTxn()
	// InUse also reports LOCKED itself, so the other pinning conditions
	// are tested directly here.
	if !bm.Status.Has(bitmap.StatusReadPending) && !bm.Status.Has(bitmap.StatusWritePending) &&
		len(bm.Waiting) == 0 && len(bm.Queue) == 0 {
		bm.Status &^= bitmap.StatusLocked
	}
	v.promoteQueue(bm)
}

// promoteQueue opens a fresh transaction from any writes parked on the
// bitmap's queue while the previous one was CLOSED/FINISHED. Already
// completed queued writes (FINISHED flag set) immediately advance the new
// transaction's finished counter and, for diff disks, have their sector
// bits set in shadow at promotion time (spec §4.D).
func (v *Volume) promoteQueue(bm *bitmap.Bitmap) {
	if len(bm.Queue) == 0 {
		return
	}
	queued := bm.Queue
	bm.Queue = nil
	bm.Txn.Open()
	for _, w := range queued {
		req := v.Pool.Get(w.Slot)
		if req.Epoch != w.Epoch {
			continue
		}
		req.Flags &^= reqpool.FlagQueued
		req.Txn = reqpool.TxnRef{BitmapSlot: bm.Slot, Epoch: bm.TxnEpoch, Valid: true}
		bm.Txn.AddMember(txn.Member{Slot: req.Slot, Epoch: req.Epoch})
		if req.Flags.Has(reqpool.FlagFinished) {
			bm.Txn.ObserveMemberDone(req.Err)
			if v.isDiff && req.Err == nil {
				secInBlk := uint32(req.Sector % uint64(v.spb))
				for s := uint32(0); s < req.Count; s++ {
					bitmap.SetBit(bm.Shadow, secInBlk+s)
				}
			}
		}
	}
	v.maybeCloseAndFinish(bm)
	v.finishTransactionMembersIfDone(bm)
}

// drainWaiting re-enters every request parked on the bitmap's waiting list
// through the top-level router now that the cache is hot (spec §4.C).
func (v *Volume) drainWaiting(bm *bitmap.Bitmap) {
	waiters := bm.Waiting
	bm.Waiting = nil
	for _, w := range waiters {
		req := v.Pool.Get(w.Slot)
		if req.Epoch != w.Epoch {
			continue
		}
		sector, count, buf, cb, id, private := req.Sector, req.Count, req.Buf, req.Callback, req.ID, req.Private
		isWrite := req.Op == reqpool.OpDataWrite
		v.Pool.Free(req)
		if isWrite {
			v.QueueWrite(sector, count, buf, cb, id, private)
		} else {
			v.QueueRead(sector, count, buf, cb, id, private)
		}
	}
}
