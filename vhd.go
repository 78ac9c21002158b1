// Package vhd is the public API: open an existing VHD image for
// asynchronous I/O, or create a new fixed/dynamic/differencing one.
package vhd

import (
	"encoding/binary"
	"os"
	"time"

	"github.com/ehrlich-b/go-vhd/internal/constants"
	"github.com/ehrlich-b/go-vhd/internal/vhdformat"
	"github.com/ehrlich-b/go-vhd/internal/volume"
)

// Flags mirror the host driver's open flags.
type Flags = volume.Flags

const FlagRDOnly = volume.FlagRDOnly

// Sentinel errors surfaced to a caller's callback (spec §7): a hole read,
// cache/BAT-lock contention, and an out-of-range sector span. None of
// these are wrapped in *Error since callers are expected to compare them
// with errors.Is rather than branch on an ErrorCode.
var (
	ErrNotAllocated    = volume.ErrNotAllocated
	ErrBusy            = volume.ErrBusy
	ErrInvalidArgument = volume.ErrInvalidArgument
)

// Config tunes a Device's resource pools at open time.
type Config = volume.Config

// DefaultConfig returns the default pool sizing.
func DefaultConfig() Config { return volume.DefaultConfig() }

// Callback is the caller-supplied completion function, matching spec §6:
// the return value is summed across every synchronous sub-callback a
// single QueueRead/QueueWrite call may issue and propagated to the caller.
type Callback func(d *Device, err error, sector uint64, count uint32, id uint64, private interface{}) int

// Device wraps an open VHD image, the host driver contract of spec §6.
type Device struct {
	vol  *volume.Volume
	path string
}

// Open opens an existing VHD image (fixed, dynamic, or differencing) for
// asynchronous I/O.
func Open(path string, flags Flags, cfg Config) (*Device, error) {
	v, err := volume.Open(path, flags, cfg)
	if err != nil {
		return nil, WrapError("open", err)
	}
	return &Device{vol: v, path: path}, nil
}

// Close releases every resource allocated at Open. Safe only when no
// requests are outstanding (spec §5).
func (d *Device) Close() error {
	return d.vol.Close()
}

// QueueRead and QueueWrite classify the requested sector span per spec
// §4.E and may invoke cb synchronously zero or more times before
// returning; the return value is the sum of every sub-callback's result.
func (d *Device) QueueRead(sector uint64, n uint32, buf []byte, cb Callback, id uint64, private interface{}) (int, error) {
	return d.vol.QueueRead(sector, n, buf, d.wrap(cb), id, private)
}

func (d *Device) QueueWrite(sector uint64, n uint32, buf []byte, cb Callback, id uint64, private interface{}) (int, error) {
	return d.vol.QueueWrite(sector, n, buf, d.wrap(cb), id, private)
}

func (d *Device) wrap(cb Callback) func(error, uint64, uint32, uint64, interface{}) int {
	if cb == nil {
		return nil
	}
	return func(err error, sector uint64, count uint32, id uint64, private interface{}) int {
		return cb(d, err, sector, count, id, private)
	}
}

// Submit flushes every request staged since the last Submit in a single
// OS call (spec §4.A).
func (d *Device) Submit() (int, error) { return d.vol.Submit() }

// Poll drains completions and dispatches each to its finisher, returning
// the number processed.
func (d *Device) Poll() (int, error) { return d.vol.Poll() }

// IsDynamic and IsDiff report the image's on-disk type.
func (d *Device) IsDynamic() bool { return d.vol.IsDynamic() }
func (d *Device) IsDiff() bool    { return d.vol.IsDiff() }

// Path returns the path this device was opened from.
func (d *Device) Path() string { return d.path }

// Info is a read-only snapshot of an open image's on-disk geometry, used
// by vhdctl inspect.
type Info struct {
	Path          string
	DiskType      uint32
	Size          uint64
	IsDynamic     bool
	IsDiff        bool
	BlockSize     uint32
	MaxBATEntries uint32
	UniqueID      [16]byte
}

// Info reports the open image's geometry.
func (d *Device) Info() Info {
	info := Info{
		Path:      d.path,
		DiskType:  d.vol.Footer.DiskType,
		Size:      d.vol.Footer.CurrentSize,
		IsDynamic: d.vol.IsDynamic(),
		IsDiff:    d.vol.IsDiff(),
		UniqueID:  d.vol.Footer.UniqueID,
	}
	if d.vol.Header != nil {
		info.BlockSize = d.vol.Header.BlockSize
		info.MaxBATEntries = d.vol.Header.MaxTableEntries
	}
	return info
}

// GetParentID reports the parent UUID captured in a differencing image's
// header. Fixed and dynamic (non-differencing) images have no parent.
func (d *Device) GetParentID(out *[16]byte) error {
	if !d.vol.IsDiff() || d.vol.Header == nil {
		return NewError("get_parent_id", ErrCodeInvalidArgument, "image is not a differencing disk")
	}
	*out = d.vol.Header.ParentUniqueID
	return nil
}

// ValidateParent compares parent's footer UUID and timestamp against the
// identity captured in d's header at diff-creation time. It only compares;
// deciding what to do about a mismatch (error out, re-link, …) is a caller
// concern, per the spec's Non-goals on parent-locator tooling.
func (d *Device) ValidateParent(parent *Device) error {
	if !d.vol.IsDiff() || d.vol.Header == nil {
		return NewError("validate_parent", ErrCodeInvalidArgument, "image is not a differencing disk")
	}
	if !d.vol.Header.ParentValid(parent.vol.Footer.UniqueID, parent.vol.Footer.Timestamp) {
		return NewError("validate_parent", ErrCodeInvalidArgument, "parent identity mismatch")
	}
	return nil
}

// CreateFlags selects the on-disk geometry for Create.
type CreateFlags uint32

const (
	CreateFixed CreateFlags = 1 << iota
	CreateDynamic
)

// Create builds a new fixed or dynamic VHD image at path, sized in bytes.
// Dynamic images are created sparse: the header and an all-UNUSED BAT are
// written, but no data blocks are allocated until the first write.
func Create(path string, size int64, flags CreateFlags) error {
	switch {
	case flags&CreateFixed != 0:
		return createFixed(path, size)
	case flags&CreateDynamic != 0:
		return createDynamic(path, size, nil)
	default:
		return NewError("create", ErrCodeInvalidArgument, "flags must select exactly one disk type")
	}
}

// Snapshot creates a new differencing disk at child, backed by parent.
// Only the parent's current footer identity (UUID, timestamp) is captured;
// re-pointing an existing differencing disk at a new parent is a caller
// concern (Non-goals exclude parent-locator *tooling*, not the creation of
// a fresh child).
func Snapshot(parent, child string, flags uint32) error {
	parentInfo, err := os.Stat(parent)
	if err != nil {
		return WrapError("snapshot", err)
	}
	parentFooter, err := readFooter(parent)
	if err != nil {
		return WrapError("snapshot", err)
	}
	return createDynamic(child, parentInfo.Size(), &parentLink{
		path:      parent,
		uniqueID:  parentFooter.UniqueID,
		timestamp: parentFooter.Timestamp,
	})
}

type parentLink struct {
	path      string
	uniqueID  [16]byte
	timestamp uint32
}

func readFooter(path string) (*vhdformat.Footer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, constants.FooterSize)
	if _, err := f.ReadAt(buf, stat.Size()-constants.FooterSize); err != nil {
		return nil, err
	}
	return vhdformat.UnmarshalFooter(buf)
}

func newUniqueID() [16]byte {
	var id [16]byte
	// A real generator would draw from crypto/rand; VHD only requires
	// uniqueness, not cryptographic strength, so a time-seeded fill
	// suffices for a locally created image.
	now := uint64(time.Now().UnixNano())
	binary.BigEndian.PutUint64(id[0:8], now)
	binary.BigEndian.PutUint64(id[8:16], now^0x9E3779B97F4A7C15)
	return id
}

func createFixed(path string, size int64) error {
	f, err := os.Create(path)
	if err != nil {
		return WrapError("create", err)
	}
	defer f.Close()

	if err := f.Truncate(size); err != nil {
		return WrapError("create", err)
	}

	footer := buildFooter(size, constants.DiskTypeFixed, 0xFFFFFFFFFFFFFFFF)
	footerBuf := footer.Marshal()
	if _, err := f.WriteAt(footerBuf[:], size); err != nil {
		return WrapError("create", err)
	}
	return nil
}

func createDynamic(path string, size int64, parent *parentLink) error {
	f, err := os.Create(path)
	if err != nil {
		return WrapError("create", err)
	}
	defer f.Close()

	const headerOffset = constants.FooterSize
	const tableOffset = headerOffset + constants.DynamicHeaderSize

	blockSize := uint32(constants.DefaultBlockSectors * constants.SectorSize)
	maxEntries := uint32((size + int64(blockSize) - 1) / int64(blockSize))

	diskType := uint32(constants.DiskTypeDynamic)
	if parent != nil {
		diskType = constants.DiskTypeDifferencing
	}

	footer := buildFooter(size, diskType, headerOffset)
	footerBuf := footer.Marshal()
	if _, err := f.WriteAt(footerBuf[:], 0); err != nil {
		return WrapError("create", err)
	}

	header := &vhdformat.Header{
		DataOffset:      0xFFFFFFFFFFFFFFFF,
		TableOffset:     tableOffset,
		HeaderVersion:   0x00010000,
		MaxTableEntries: maxEntries,
		BlockSize:       blockSize,
	}
	if parent != nil {
		header.ParentUniqueID = parent.uniqueID
		header.ParentTimestamp = parent.timestamp
	}
	headerBuf := header.Marshal()
	if _, err := f.WriteAt(headerBuf[:], headerOffset); err != nil {
		return WrapError("create", err)
	}

	batSectors := header.BATSectors()
	batBuf := make([]byte, batSectors*constants.SectorSize)
	for i := range batBuf {
		batBuf[i] = 0xFF // BATUnused, every byte 0xFF
	}
	if _, err := f.WriteAt(batBuf, int64(tableOffset)); err != nil {
		return WrapError("create", err)
	}

	dataStart := int64(tableOffset) + int64(len(batBuf))
	if _, err := f.WriteAt(footerBuf[:], dataStart); err != nil {
		return WrapError("create", err)
	}
	if err := f.Truncate(dataStart + constants.FooterSize); err != nil {
		return WrapError("create", err)
	}
	return nil
}

func buildFooter(size int64, diskType uint32, dataOffset uint64) *vhdformat.Footer {
	f := &vhdformat.Footer{
		Cookie:             [8]byte{'c', 'o', 'n', 'e', 'c', 't', 'i', 'x'},
		FileFormatVersion:  0x00010000,
		DataOffset:         dataOffset,
		Timestamp:          vhdformat.TimestampFor(time.Now()),
		CreatorApplication: [4]byte{'g', 'v', 'h', 'd'},
		CreatorVersion:     0x00010000,
		OriginalSize:       uint64(size),
		CurrentSize:        uint64(size),
		DiskType:           diskType,
		UniqueID:           newUniqueID(),
	}
	f.Checksum = f.Checksum()
	return f
}
