package volume

import (
	"github.com/ehrlich-b/go-vhd/internal/bitmap"
	"github.com/ehrlich-b/go-vhd/internal/reqpool"
)

// issueBitmapRead schedules the BITMAP_READ for a freshly inserted cache
// slot: BM sectors at the allocated block's base offset (spec §4.C "first
// reference to an allocated block").
func (v *Volume) issueBitmapRead(bm *bitmap.Bitmap, blk uint32) {
	req, err := v.Pool.Alloc()
	if err != nil {
		// Nothing to synchronously report to; the triggering caller's
		// own Alloc (in parkOnWaiting) will surface OUT_OF_MEMORY next.
		v.Cache.Release(bm)
		return
	}
	req.Op = reqpool.OpBitmapRead
	req.Buf = bm.Map
	req.Txn = reqpool.TxnRef{BitmapSlot: bm.Slot, Epoch: bm.TxnEpoch, Valid: true}
	offset := int64(v.BAT.Entry(blk)) * SectorSize
	_ = v.Queue.EnqueueRead(req, offset)
}
