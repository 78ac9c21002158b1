package bitmap

import "errors"

// ErrBusy is returned when every slot is pinned and none is evictable
// (spec §4.C, §5 backpressure).
var ErrBusy = errors.New("bitmap: cache full and nothing evictable")

// ErrCorrupt signals the fatal, asserted condition of a duplicate block in
// the cache (spec §7).
var ErrCorrupt = errors.New("bitmap: duplicate block in cache")

// Cache is the fixed-capacity bitmap cache: an open-addressed slot array
// plus a free-list stack, looked up by linear scan per blk (spec §4.C —
// capacity is small by design, default 32, so linear scan is the right
// tool, not a map).
type Cache struct {
	slots []Bitmap
	free  []int
	seq   uint64

	spb uint32 // sectors per block, sizes Map/Shadow allocations

	// OnEvict, if set, is called with the evicted block number whenever
	// allocSlot reclaims a slot via LRU rather than the free list.
	OnEvict func(blk uint32)
}

// New builds a cache with the given slot capacity.
func New(capacity int, spb uint32) *Cache {
	c := &Cache{
		slots: make([]Bitmap, capacity),
		free:  make([]int, capacity),
		spb:   spb,
	}
	for i := 0; i < capacity; i++ {
		c.slots[i].Slot = i
		c.free[i] = capacity - 1 - i
	}
	return c
}

// Cap returns total slot capacity.
func (c *Cache) Cap() int { return len(c.slots) }

// SlotAt returns the bitmap at a known cache slot index, used to resolve a
// reqpool.TxnRef.BitmapSlot back to its owning Bitmap.
func (c *Cache) SlotAt(i int) *Bitmap { return &c.slots[i] }

// Lookup returns the cached bitmap for blk, or nil if not present.
func (c *Cache) Lookup(blk uint32) *Bitmap {
	for i := range c.slots {
		if c.slots[i].inUse && c.slots[i].Blk == blk {
			return &c.slots[i]
		}
	}
	return nil
}

// touch bumps the LRU sequence, halving every entry's sequence on
// overflow (spec §4.C "cheap epoch compression").
func (c *Cache) touch(b *Bitmap) {
	c.seq++
	if c.seq == 0 {
		for i := range c.slots {
			c.slots[i].Seq /= 2
		}
		c.seq = 1
	}
	b.Seq = c.seq
}

// Touch records a cache hit/use for blk's bitmap, if present.
func (c *Cache) Touch(b *Bitmap) { c.touch(b) }

// Insert installs a new empty slot for blk, marked READ_PENDING per the
// "first reference to an allocated block" path of §4.C. Returns ErrBusy if
// no slot can be freed, or ErrCorrupt if blk is already cached.
func (c *Cache) Insert(blk uint32) (*Bitmap, error) {
	if c.Lookup(blk) != nil {
		return nil, ErrCorrupt
	}
	slot, err := c.allocSlot()
	if err != nil {
		return nil, err
	}
	b := &c.slots[slot]
	size := Bytes(c.spb)
	b.Blk = blk
	b.Map = make([]byte, size)
	b.Shadow = make([]byte, size)
	b.Status = StatusReadPending
	b.Waiting = nil
	b.Queue = nil
	b.ResetTxn()
	b.inUse = true
	c.touch(b)
	return b, nil
}

func (c *Cache) allocSlot() (int, error) {
	if len(c.free) > 0 {
		slot := c.free[len(c.free)-1]
		c.free = c.free[:len(c.free)-1]
		return slot, nil
	}
	victim := c.selectEvictable()
	if victim < 0 {
		return 0, ErrBusy
	}
	evictedBlk := c.slots[victim].Blk
	c.evict(&c.slots[victim])
	if c.OnEvict != nil {
		c.OnEvict(evictedBlk)
	}
	return victim, nil
}

// selectEvictable returns the slot index of the lowest-sequence entry that
// is not pinned (InUse()), or -1 if every slot is pinned.
func (c *Cache) selectEvictable() int {
	best := -1
	for i := range c.slots {
		s := &c.slots[i]
		if !s.inUse || s.InUse() {
			continue
		}
		if best < 0 || s.Seq < c.slots[best].Seq {
			best = i
		}
	}
	return best
}

func (c *Cache) evict(b *Bitmap) {
	b.inUse = false
	b.Map = nil
	b.Shadow = nil
	b.Waiting = nil
	b.Queue = nil
	b.Status = 0
}

// Release retires a slot back to the free list once nothing references it
// any more (idle, no pending I/O, no transaction) — an optional early
// return of a slot, distinct from the allocator's own LRU eviction.
func (c *Cache) Release(b *Bitmap) {
	if !b.inUse || b.InUse() {
		return
	}
	slot := b.Slot
	c.evict(b)
	c.free = append(c.free, slot)
}
