package vhdformat

import (
	"encoding/binary"
	"fmt"

	"github.com/ehrlich-b/go-vhd/internal/constants"
)

// ParentLocator is one of the eight locator slots in a dynamic disk header.
// Only MACX and W2KU codes are decoded by this driver (read-only, per the
// spec's Non-goal on parent-locator tooling).
type ParentLocator struct {
	PlatformCode      uint32
	PlatformDataSpace uint32
	PlatformDataLen   uint32
	PlatformDataOffset uint64
	Data              []byte // raw platform-encoded bytes, decoded lazily
}

// Header is the 1024-byte dynamic disk header, present for dynamic and
// differencing images at Footer.DataOffset.
type Header struct {
	Cookie            [8]byte
	DataOffset        uint64 // always 0xFFFFFFFFFFFFFFFF, reserved
	TableOffset       uint64
	HeaderVersion     uint32
	MaxTableEntries   uint32 // max BAT size, i.e. max block count
	BlockSize         uint32 // bytes per block, SPB = BlockSize/512
	Checksum          uint32
	ParentUniqueID    [16]byte
	ParentTimestamp   uint32
	Reserved1         uint32
	ParentUnicodeName [512]byte // UTF-16BE, informational only
	ParentLocators    [constants.ParentLocatorCount]ParentLocator
	Reserved2         [256]byte
}

// SectorsPerBlock returns SPB = BlockSize / 512.
func (h *Header) SectorsPerBlock() uint32 {
	return h.BlockSize / constants.SectorSize
}

// BitmapSectors returns BM = ceil(SPB/8/512), the bitmap size in sectors.
func (h *Header) BitmapSectors() uint32 {
	spb := h.SectorsPerBlock()
	bits := spb
	bytes := (bits + 7) / 8
	return (bytes + constants.SectorSize - 1) / constants.SectorSize
}

// BATSectors returns the BAT's on-disk footprint in sectors:
// ceil(max_bat_size * 4 / 512).
func (h *Header) BATSectors() uint32 {
	raw := h.MaxTableEntries * constants.BATEntrySize
	return (raw + constants.SectorSize - 1) / constants.SectorSize
}

// Marshal encodes the header to its 1024-byte big-endian wire form. Only
// the 24-byte parent locator entries are written; the platform data each
// locator points at (its Data) is not written by Marshal.
func (h *Header) Marshal() [constants.DynamicHeaderSize]byte {
	var buf [constants.DynamicHeaderSize]byte
	copy(buf[0:8], h.Cookie[:])
	binary.BigEndian.PutUint64(buf[8:16], h.DataOffset)
	binary.BigEndian.PutUint64(buf[16:24], h.TableOffset)
	binary.BigEndian.PutUint32(buf[24:28], h.HeaderVersion)
	binary.BigEndian.PutUint32(buf[28:32], h.MaxTableEntries)
	binary.BigEndian.PutUint32(buf[32:36], h.BlockSize)
	binary.BigEndian.PutUint32(buf[36:40], h.Checksum)
	copy(buf[40:56], h.ParentUniqueID[:])
	binary.BigEndian.PutUint32(buf[56:60], h.ParentTimestamp)
	binary.BigEndian.PutUint32(buf[60:64], h.Reserved1)
	copy(buf[64:576], h.ParentUnicodeName[:])

	off := 576
	for i, loc := range h.ParentLocators {
		const locSize = 24
		base := off + i*locSize
		binary.BigEndian.PutUint32(buf[base:base+4], loc.PlatformCode)
		binary.BigEndian.PutUint32(buf[base+4:base+8], loc.PlatformDataSpace)
		binary.BigEndian.PutUint32(buf[base+8:base+12], loc.PlatformDataLen)
		binary.BigEndian.PutUint32(buf[base+12:base+16], 0) // reserved
		binary.BigEndian.PutUint64(buf[base+16:base+24], loc.PlatformDataOffset)
	}
	return buf
}

// UnmarshalHeader decodes a 1024-byte dynamic disk header buffer.
func UnmarshalHeader(buf []byte) (*Header, error) {
	if len(buf) < constants.DynamicHeaderSize {
		return nil, fmt.Errorf("vhdformat: header buffer too short: %d bytes", len(buf))
	}
	h := &Header{}
	copy(h.Cookie[:], buf[0:8])
	if string(h.Cookie[:]) != constants.DynamicHeaderCookie {
		return nil, fmt.Errorf("vhdformat: bad dynamic header cookie %q", h.Cookie[:])
	}
	h.DataOffset = binary.BigEndian.Uint64(buf[8:16])
	h.TableOffset = binary.BigEndian.Uint64(buf[16:24])
	h.HeaderVersion = binary.BigEndian.Uint32(buf[24:28])
	h.MaxTableEntries = binary.BigEndian.Uint32(buf[28:32])
	h.BlockSize = binary.BigEndian.Uint32(buf[32:36])
	h.Checksum = binary.BigEndian.Uint32(buf[36:40])
	copy(h.ParentUniqueID[:], buf[40:56])
	h.ParentTimestamp = binary.BigEndian.Uint32(buf[56:60])
	h.Reserved1 = binary.BigEndian.Uint32(buf[60:64])
	copy(h.ParentUnicodeName[:], buf[64:576])

	off := 576
	for i := range h.ParentLocators {
		const locSize = 24
		base := off + i*locSize
		loc := &h.ParentLocators[i]
		loc.PlatformCode = binary.BigEndian.Uint32(buf[base : base+4])
		loc.PlatformDataSpace = binary.BigEndian.Uint32(buf[base+4 : base+8])
		loc.PlatformDataLen = binary.BigEndian.Uint32(buf[base+8 : base+12])
		loc.PlatformDataOffset = binary.BigEndian.Uint64(buf[base+16 : base+24])
	}
	return h, nil
}

// Checksum computes the header checksum the same way as the footer: sum of
// all bytes with the checksum field zeroed, ones'-complemented.
func (h *Header) Checksum() uint32 {
	clone := *h
	clone.Checksum = 0
	buf := clone.Marshal()
	var sum uint32
	for _, b := range buf {
		sum += uint32(b)
	}
	return ^sum
}
