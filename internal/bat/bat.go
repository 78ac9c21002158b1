// Package bat implements Component B: the in-memory Block Allocation Table
// image, its single-writer lock, and the one pending-block-allocation slot
// (spec §4.B).
package bat

import (
	"errors"

	"github.com/ehrlich-b/go-vhd/internal/constants"
	"github.com/ehrlich-b/go-vhd/internal/vhdformat"
)

// ErrLocked is returned by Reserve when another block allocation is
// already pending; per §5 this is the BUSY condition for the BAT lock.
var ErrLocked = errors.New("bat: locked by a pending allocation")

// Table is the dense block-index -> sector-offset map, held entirely in
// memory after the initial on-disk load (spec §3 "BAT").
type Table struct {
	entries []uint32 // UNUSED sentinel for holes

	spb uint32 // sectors per block
	bm  uint32 // bitmap size in sectors
	spp uint32 // sectors per host page

	locked    bool
	pbwBlk    uint32
	pbwOffset uint32

	tableOffsetBytes uint64
	nextDB           uint32 // next_db: sector offset for the next allocation
}

// Config carries the geometry a Table needs, sourced from the parsed
// footer/header (spec §3 "Volume state").
type Config struct {
	MaxEntries       uint32
	SectorsPerBlock  uint32
	BitmapSectors    uint32
	SectorsPerPage   uint32
	TableOffsetBytes uint64
	NextDB           uint32
}

// New builds an empty (all-UNUSED) table of the given capacity.
func New(cfg Config) *Table {
	entries := make([]uint32, cfg.MaxEntries)
	for i := range entries {
		entries[i] = constants.BATUnused
	}
	return &Table{
		entries:          entries,
		spb:              cfg.SectorsPerBlock,
		bm:               cfg.BitmapSectors,
		spp:              cfg.SectorsPerPage,
		tableOffsetBytes: cfg.TableOffsetBytes,
		nextDB:           cfg.NextDB,
	}
}

// Load populates the table from a decoded on-disk BAT image (one entry per
// block index, big-endian already resolved by the caller).
func Load(cfg Config, onDisk []uint32) *Table {
	t := New(cfg)
	copy(t.entries, onDisk)
	return t
}

// Entry returns bat[blk], or constants.BATUnused if blk is out of range.
func (t *Table) Entry(blk uint32) uint32 {
	if int(blk) >= len(t.entries) {
		return constants.BATUnused
	}
	return t.entries[blk]
}

// Len returns the max block count this table was built for.
func (t *Table) Len() int { return len(t.entries) }

// Locked reports whether a block allocation is currently pending.
func (t *Table) Locked() bool { return t.locked }

// PendingBlock returns the block currently reserved, valid only when Locked().
func (t *Table) PendingBlock() uint32 { return t.pbwBlk }

// PendingOffset returns the reserved next_db value for the pending
// allocation, valid only when Locked().
func (t *Table) PendingOffset() uint32 { return t.pbwOffset }

// NextDB returns the sector offset at which the next block allocation will
// land.
func (t *Table) NextDB() uint32 { return t.nextDB }

// Reserve takes the BAT lock for blk, recording next_db as its reserved
// offset. Fails with ErrLocked if another allocation is already pending
// (spec §4.B, §5 "at most one BAT write is in flight globally").
func (t *Table) Reserve(blk uint32) (uint32, error) {
	if t.locked {
		return 0, ErrLocked
	}
	t.locked = true
	t.pbwBlk = blk
	t.pbwOffset = t.nextDB
	return t.pbwOffset, nil
}

// Unreserve releases the BAT lock without committing an entry, used when a
// block allocation is abandoned before any write was issued (e.g. the
// bitmap cache had no evictable slot for the new block).
func (t *Table) Unreserve() {
	t.locked = false
	t.pbwBlk = 0
	t.pbwOffset = 0
}

// BuildWriteSector builds the 512-byte, big-endian, sector-aligned BAT
// write window around the pending block, per §4.B's schedule_write. It
// does not mark anything WRITE_STARTED; the caller (volume's router/txn
// engine) tracks that in the request's flags.
func (t *Table) BuildWriteSector() (sector [constants.SectorSize]byte, byteOffset uint64) {
	sector, windowStart := vhdformat.EncodeBATWindow(t.entries, t.pbwBlk)
	byteOffset = vhdformat.BATByteOffset(t.tableOffsetBytes, windowStart)
	return sector, byteOffset
}

// OnWriteComplete applies the result of a BAT write (§4.B on_write_complete).
// On success it commits entries[pbwBlk] = pbwOffset and advances next_db by
// SPB+BM, padded so the *next* block's data region (next_db + BM) starts
// page-aligned (spec §6) — not next_db itself, since the bitmap always
// precedes the data region within a block. On failure the entry is left
// UNUSED and next_db is unchanged (it only ever advances on success), so
// the next allocation reuses the same offset. The BAT lock is released
// unconditionally either way.
func (t *Table) OnWriteComplete(err error) {
	if err == nil {
		t.entries[t.pbwBlk] = t.pbwOffset
		t.nextDB = t.pbwOffset + t.spb + t.bm
		if t.spp > 0 {
			if rem := (t.nextDB + t.bm) % t.spp; rem != 0 {
				t.nextDB += t.spp - rem
			}
		}
	}
	t.locked = false
	t.pbwBlk = 0
	t.pbwOffset = 0
}
