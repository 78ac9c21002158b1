package vhd

import (
	"encoding/binary"
	"time"

	"github.com/ehrlich-b/go-vhd/internal/backing"
	"github.com/ehrlich-b/go-vhd/internal/constants"
	"github.com/ehrlich-b/go-vhd/internal/vhdformat"
	"github.com/ehrlich-b/go-vhd/internal/volume"
)

// NewMemFixedDevice builds a Device over an in-memory fixed-format image of
// size bytes, with no backing file descriptor. Useful for unit tests that
// exercise QueueRead/QueueWrite/Submit/Poll without touching a filesystem.
func NewMemFixedDevice(size int64, cfg Config) (*Device, error) {
	footer := testFooter(size, constants.DiskTypeFixed)
	mem := backing.NewMemory(size)
	v, err := volume.OpenMem(footer, nil, mem, cfg)
	if err != nil {
		return nil, WrapError("open_mem", err)
	}
	return &Device{vol: v, path: "(mem)"}, nil
}

// NewMemDynamicDevice builds a Device over an in-memory dynamic-format image:
// size is the virtual disk size, blockSectors the sectors-per-block (use a
// small value like 8 to exercise BAT/bitmap logic without allocating huge
// buffers in a test).
func NewMemDynamicDevice(size int64, blockSectors uint32, cfg Config) (*Device, error) {
	return newMemBATDevice(size, blockSectors, constants.DiskTypeDynamic, [16]byte{}, 0, cfg)
}

// NewMemDiffDevice is NewMemDynamicDevice with a differencing disk type and
// a caller-supplied parent identity, for testing parent-validation logic
// without a real parent file.
func NewMemDiffDevice(size int64, blockSectors uint32, parentID [16]byte, parentTimestamp uint32, cfg Config) (*Device, error) {
	return newMemBATDevice(size, blockSectors, constants.DiskTypeDifferencing, parentID, parentTimestamp, cfg)
}

func newMemBATDevice(size int64, blockSectors uint32, diskType uint32, parentID [16]byte, parentTimestamp uint32, cfg Config) (*Device, error) {
	footer := testFooter(size, diskType)
	blockSize := blockSectors * constants.SectorSize
	maxEntries := uint32((size + int64(blockSize) - 1) / int64(blockSize))
	header := &vhdformat.Header{
		TableOffset:     constants.FooterSize + constants.DynamicHeaderSize,
		HeaderVersion:   0x00010000,
		MaxTableEntries: maxEntries,
		BlockSize:       blockSize,
		ParentUniqueID:  parentID,
		ParentTimestamp: parentTimestamp,
	}
	mem := backing.NewMemory(0)
	v, err := volume.OpenMem(footer, header, mem, cfg)
	if err != nil {
		return nil, WrapError("open_mem", err)
	}
	return &Device{vol: v, path: "(mem)"}, nil
}

func testFooter(size int64, diskType uint32) *vhdformat.Footer {
	f := &vhdformat.Footer{
		Cookie:             [8]byte{'c', 'o', 'n', 'e', 'c', 't', 'i', 'x'},
		FileFormatVersion:  0x00010000,
		Timestamp:          vhdformat.TimestampFor(time.Now()),
		CreatorApplication: [4]byte{'g', 'v', 'h', 'd'},
		CreatorVersion:     0x00010000,
		OriginalSize:       uint64(size),
		CurrentSize:        uint64(size),
		DiskType:           diskType,
		UniqueID:           testUniqueID(size),
	}
	f.Checksum = f.Checksum()
	return f
}

func testUniqueID(seed int64) [16]byte {
	var id [16]byte
	binary.BigEndian.PutUint64(id[8:16], uint64(seed))
	return id
}
