package vhdformat

import (
	"encoding/binary"

	"github.com/ehrlich-b/go-vhd/internal/constants"
)

// DecodeBATSector decodes one 512-byte BAT sector into up to
// BATEntriesPerSector big-endian uint32 entries.
func DecodeBATSector(buf []byte) [constants.BATEntriesPerSector]uint32 {
	var out [constants.BATEntriesPerSector]uint32
	for i := 0; i < constants.BATEntriesPerSector; i++ {
		out[i] = binary.BigEndian.Uint32(buf[i*4 : i*4+4])
	}
	return out
}

// EncodeBATWindow encodes the 128-entry, sector-aligned window of a BAT
// array containing blk into a 512-byte big-endian sector, ready to be
// written at TableOffset + (blk - blk%128)*4. This is the exact unit the
// transaction engine's BAT write operates on (spec §4.B).
func EncodeBATWindow(entries []uint32, blk uint32) (sector [constants.SectorSize]byte, windowStart uint32) {
	windowStart = blk - blk%constants.BATEntriesPerSector
	for i := 0; i < constants.BATEntriesPerSector; i++ {
		idx := int(windowStart) + i
		var v uint32 = constants.BATUnused
		if idx < len(entries) {
			v = entries[idx]
		}
		binary.BigEndian.PutUint32(sector[i*4:i*4+4], v)
	}
	return sector, windowStart
}

// BATByteOffset returns the on-disk byte offset of the sector-aligned
// window containing blk, given the header's TableOffset (in bytes).
func BATByteOffset(tableOffsetBytes uint64, blk uint32) uint64 {
	windowStart := blk - blk%constants.BATEntriesPerSector
	return tableOffsetBytes + uint64(windowStart)*constants.BATEntrySize
}
