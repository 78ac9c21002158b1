package vhdformat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-vhd/internal/constants"
)

func sampleFooter() *Footer {
	f := &Footer{
		Cookie:             [8]byte{'c', 'o', 'n', 'e', 'c', 't', 'i', 'x'},
		FileFormatVersion:  0x00010000,
		DataOffset:         0xFFFFFFFFFFFFFFFF,
		Timestamp:          TimestampFor(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)),
		CreatorApplication: [4]byte{'t', 'e', 's', 't'},
		CreatorVersion:     0x00010000,
		OriginalSize:       1 << 20,
		CurrentSize:        1 << 20,
		DiskType:           constants.DiskTypeFixed,
		UniqueID:           [16]byte{1, 2, 3, 4},
	}
	f.Checksum = f.Checksum()
	return f
}

func TestFooterMarshalUnmarshalRoundTrip(t *testing.T) {
	f := sampleFooter()
	buf := f.Marshal()

	got, err := UnmarshalFooter(buf[:])
	require.NoError(t, err)
	require.Equal(t, f.Cookie, got.Cookie)
	require.Equal(t, f.DataOffset, got.DataOffset)
	require.Equal(t, f.Timestamp, got.Timestamp)
	require.Equal(t, f.OriginalSize, got.OriginalSize)
	require.Equal(t, f.CurrentSize, got.CurrentSize)
	require.Equal(t, f.DiskType, got.DiskType)
	require.Equal(t, f.Checksum, got.Checksum)
	require.Equal(t, f.UniqueID, got.UniqueID)
}

func TestFooterChecksumDetectsCorruption(t *testing.T) {
	f := sampleFooter()
	buf := f.Marshal()

	got, err := UnmarshalFooter(buf[:])
	require.NoError(t, err)
	require.Equal(t, got.Checksum, got.Checksum())

	buf[40] ^= 0xFF // flip a byte inside OriginalSize
	corrupt, err := UnmarshalFooter(buf[:])
	require.NoError(t, err)
	require.NotEqual(t, corrupt.Checksum, corrupt.Checksum())
}

func TestUnmarshalFooterRejectsBadCookie(t *testing.T) {
	f := sampleFooter()
	buf := f.Marshal()
	buf[0] = 'x'
	_, err := UnmarshalFooter(buf[:])
	require.Error(t, err)
}

func TestUnmarshalFooterRejectsShortBuffer(t *testing.T) {
	_, err := UnmarshalFooter(make([]byte, 10))
	require.Error(t, err)
}

func TestTimestampForClampsBeforeEpoch(t *testing.T) {
	require.Equal(t, uint32(0), TimestampFor(time.Date(1999, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestFooterDiskTypeClassifiers(t *testing.T) {
	f := sampleFooter()
	require.True(t, f.IsFixed())
	require.False(t, f.IsDynamic())
	require.False(t, f.IsDifferencing())

	f.DiskType = constants.DiskTypeDynamic
	require.True(t, f.IsDynamic())

	f.DiskType = constants.DiskTypeDifferencing
	require.True(t, f.IsDifferencing())
}

func TestFooterSectorCount(t *testing.T) {
	f := sampleFooter()
	require.Equal(t, f.CurrentSize/constants.SectorSize, f.SectorCount())
}
