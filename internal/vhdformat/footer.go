// Package vhdformat implements the VHD 1.0 on-disk structures: the 512-byte
// footer, the 1024-byte dynamic disk header, the BAT, and parent locator
// decoding. These are the "format I/O helpers" component (§4.G) — their
// contract, not their internals, is what the core write path depends on.
package vhdformat

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/ehrlich-b/go-vhd/internal/constants"
)

// Geometry is the CHS geometry carried in the footer, informational only.
type Geometry struct {
	Cylinders uint16
	Heads     uint8
	Sectors   uint8
}

// Footer is the 512-byte structure at the end of every VHD file (and, for
// dynamic/differencing disks, duplicated at offset 0).
type Footer struct {
	Cookie             [8]byte
	Features           uint32
	FileFormatVersion  uint32
	DataOffset         uint64 // 0xFFFFFFFFFFFFFFFF for fixed disks
	Timestamp          uint32 // seconds since 2000-01-01
	CreatorApplication [4]byte
	CreatorVersion     uint32
	CreatorHostOS      uint32
	OriginalSize       uint64
	CurrentSize        uint64
	DiskGeometry       Geometry
	DiskType           uint32
	Checksum           uint32
	UniqueID           [16]byte
	SavedState         uint8
	Reserved           [427]byte
}

// epoch is the VHD timestamp base (2000-01-01T00:00:00Z).
var epoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// TimestampFor converts a wall-clock time to a VHD footer timestamp.
func TimestampFor(t time.Time) uint32 {
	d := t.Sub(epoch)
	if d < 0 {
		return 0
	}
	return uint32(d.Seconds())
}

// Marshal encodes the footer to its 512-byte big-endian wire form.
func (f *Footer) Marshal() [constants.FooterSize]byte {
	var buf [constants.FooterSize]byte
	copy(buf[0:8], f.Cookie[:])
	binary.BigEndian.PutUint32(buf[8:12], f.Features)
	binary.BigEndian.PutUint32(buf[12:16], f.FileFormatVersion)
	binary.BigEndian.PutUint64(buf[16:24], f.DataOffset)
	binary.BigEndian.PutUint32(buf[24:28], f.Timestamp)
	copy(buf[28:32], f.CreatorApplication[:])
	binary.BigEndian.PutUint32(buf[32:36], f.CreatorVersion)
	binary.BigEndian.PutUint32(buf[36:40], f.CreatorHostOS)
	binary.BigEndian.PutUint64(buf[40:48], f.OriginalSize)
	binary.BigEndian.PutUint64(buf[48:56], f.CurrentSize)
	binary.BigEndian.PutUint16(buf[56:58], f.DiskGeometry.Cylinders)
	buf[58] = f.DiskGeometry.Heads
	buf[59] = f.DiskGeometry.Sectors
	binary.BigEndian.PutUint32(buf[60:64], f.DiskType)
	binary.BigEndian.PutUint32(buf[64:68], f.Checksum)
	copy(buf[68:84], f.UniqueID[:])
	buf[84] = f.SavedState
	return buf
}

// UnmarshalFooter decodes a 512-byte footer buffer.
func UnmarshalFooter(buf []byte) (*Footer, error) {
	if len(buf) < constants.FooterSize {
		return nil, fmt.Errorf("vhdformat: footer buffer too short: %d bytes", len(buf))
	}
	f := &Footer{}
	copy(f.Cookie[:], buf[0:8])
	if string(f.Cookie[:]) != constants.FooterCookie {
		return nil, fmt.Errorf("vhdformat: bad footer cookie %q", f.Cookie[:])
	}
	f.Features = binary.BigEndian.Uint32(buf[8:12])
	f.FileFormatVersion = binary.BigEndian.Uint32(buf[12:16])
	f.DataOffset = binary.BigEndian.Uint64(buf[16:24])
	f.Timestamp = binary.BigEndian.Uint32(buf[24:28])
	copy(f.CreatorApplication[:], buf[28:32])
	f.CreatorVersion = binary.BigEndian.Uint32(buf[32:36])
	f.CreatorHostOS = binary.BigEndian.Uint32(buf[36:40])
	f.OriginalSize = binary.BigEndian.Uint64(buf[40:48])
	f.CurrentSize = binary.BigEndian.Uint64(buf[48:56])
	f.DiskGeometry.Cylinders = binary.BigEndian.Uint16(buf[56:58])
	f.DiskGeometry.Heads = buf[58]
	f.DiskGeometry.Sectors = buf[59]
	f.DiskType = binary.BigEndian.Uint32(buf[60:64])
	f.Checksum = binary.BigEndian.Uint32(buf[64:68])
	copy(f.UniqueID[:], buf[68:84])
	f.SavedState = buf[84]
	return f, nil
}

// Checksum computes the VHD footer checksum: the ones'-complement of the
// sum of all bytes in the footer with the checksum field itself zeroed.
// Grounded on original_source's f_checksum: zero the checksum field, sum
// every byte, then complement.
func (f *Footer) Checksum() uint32 {
	clone := *f
	clone.Checksum = 0
	buf := clone.Marshal()
	var sum uint32
	for _, b := range buf {
		sum += uint32(b)
	}
	return ^sum
}

// IsFixed, IsDynamic, IsDifferencing classify the footer's DiskType.
func (f *Footer) IsFixed() bool        { return f.DiskType == constants.DiskTypeFixed }
func (f *Footer) IsDynamic() bool      { return f.DiskType == constants.DiskTypeDynamic }
func (f *Footer) IsDifferencing() bool { return f.DiskType == constants.DiskTypeDifferencing }

// SectorCount returns the current size of the disk in 512-byte sectors.
func (f *Footer) SectorCount() uint64 {
	return f.CurrentSize / constants.SectorSize
}
