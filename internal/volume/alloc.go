package volume

import (
	"time"

	"github.com/ehrlich-b/go-vhd/internal/bitmap"
	"github.com/ehrlich-b/go-vhd/internal/reqpool"
	"github.com/ehrlich-b/go-vhd/internal/txn"
)

// beginAllocation runs the block-allocation (UPDATE_BAT) sub-protocol of
// spec §4.D step 1: reserve the block, install an empty bitmap, issue a
// ZERO_BM_WRITE as a transaction member, and attach the caller's own data
// write to the same transaction with UPDATE_BAT|UPDATE_BITMAP.
func (v *Volume) beginAllocation(blk, secInBlk, span uint32, sector uint64, buf []byte, cb reqpool.Callback, id uint64, private interface{}) int {
	allocStart := time.Now().UnixNano()
	pbwOffset, err := v.BAT.Reserve(blk)
	if err != nil {
		return cb(ErrBusy, sector, span, id, private)
	}

	bm, err := v.Cache.Insert(blk)
	if err != nil {
		v.BAT.Unreserve()
		return cb(err, sector, span, id, private)
	}
	// The new block's bitmap starts all-zero and already matches disk
	// once the ZERO_BM_WRITE lands; skip the usual read-then-copy path.
	bm.Status = 0
	bm.ResetTxn()
	bm.Txn.Open()
	bm.Txn.MarkUpdateBAT()
	bm.Status |= bitmap.StatusLocked
	bm.AllocStartedAt = allocStart

	zeroBuf := reqpool.GetBuffer(v.bm * SectorSize)
	for i := range zeroBuf {
		zeroBuf[i] = 0
	}
	zreq, err := v.Pool.Alloc()
	if err != nil {
		reqpool.PutBuffer(zeroBuf)
		v.BAT.Unreserve()
		v.Cache.Release(bm)
		return cb(err, sector, span, id, private)
	}
	zreq.Op = reqpool.OpZeroBMWrite
	zreq.Buf = zeroBuf
	zreq.Txn = reqpool.TxnRef{BitmapSlot: bm.Slot, Epoch: bm.TxnEpoch, Valid: true}
	bm.Txn.AddMember(txn.Member{Slot: zreq.Slot, Epoch: zreq.Epoch})
	_ = v.Queue.EnqueueWrite(zreq, int64(pbwOffset)*SectorSize)

	dreq, err := v.Pool.Alloc()
	if err != nil {
		return cb(err, sector, span, id, private)
	}
	dreq.Op = reqpool.OpDataWrite
	dreq.Sector = sector
	dreq.Count = span
	dreq.Buf = buf
	dreq.Callback = cb
	dreq.ID = id
	dreq.Private = private
	dreq.StartedAt = allocStart
	dreq.Flags |= reqpool.FlagUpdateBAT | reqpool.FlagUpdateBitmap
	dreq.Txn = reqpool.TxnRef{BitmapSlot: bm.Slot, Epoch: bm.TxnEpoch, Valid: true}
	bm.Txn.AddMember(txn.Member{Slot: dreq.Slot, Epoch: dreq.Epoch})
	offset := v.dataOffsetBytes(blk, secInBlk)
	_ = v.Queue.EnqueueWrite(dreq, offset)

	return 0
}

// attachDataWrite implements the §4.D attachment rule: if the bitmap's
// transaction is OPEN, join it directly; otherwise append to the bitmap's
// queue (REQ_QUEUED) for promotion once the current transaction finishes.
func (v *Volume) attachDataWrite(bm *bitmap.Bitmap, req *reqpool.Request) {
	bm.Status |= bitmap.StatusLocked
	if bm.Txn.State == txn.StateOpen {
		bm.Txn.AddMember(txn.Member{Slot: req.Slot, Epoch: req.Epoch})
		req.Txn = reqpool.TxnRef{BitmapSlot: bm.Slot, Epoch: bm.TxnEpoch, Valid: true}
		return
	}
	if bm.Txn.State == txn.StateIdle {
		bm.Txn.Open()
		bm.Txn.AddMember(txn.Member{Slot: req.Slot, Epoch: req.Epoch})
		req.Txn = reqpool.TxnRef{BitmapSlot: bm.Slot, Epoch: bm.TxnEpoch, Valid: true}
		return
	}
	req.Flags |= reqpool.FlagQueued
	bm.Queue = append(bm.Queue, bitmap.Waiter{Slot: req.Slot, Epoch: req.Epoch})
}
