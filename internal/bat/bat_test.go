package bat

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/go-vhd/internal/constants"
)

var errInjected = errors.New("injected I/O error")

func testConfig() Config {
	return Config{
		MaxEntries:       4,
		SectorsPerBlock:  4096,
		BitmapSectors:    1,
		SectorsPerPage:   8, // small page for test arithmetic
		TableOffsetBytes: 2048,
		NextDB:           100,
	}
}

func TestNewTableAllUnused(t *testing.T) {
	tbl := New(testConfig())
	for blk := uint32(0); blk < 4; blk++ {
		require.Equal(t, uint32(constants.BATUnused), tbl.Entry(blk))
	}
}

func TestReserveLocksAndRejectsSecond(t *testing.T) {
	tbl := New(testConfig())
	off, err := tbl.Reserve(2)
	require.NoError(t, err)
	require.Equal(t, uint32(100), off)
	require.True(t, tbl.Locked())

	_, err = tbl.Reserve(1)
	require.ErrorIs(t, err, ErrLocked)
}

func TestOnWriteCompleteSuccessCommitsAndAdvances(t *testing.T) {
	tbl := New(testConfig())
	_, err := tbl.Reserve(2)
	require.NoError(t, err)

	tbl.OnWriteComplete(nil)
	require.False(t, tbl.Locked())
	require.Equal(t, uint32(100), tbl.Entry(2))
	// next_db = 100 + 4096 + 1 = 4197, padded so next_db + BM is a multiple
	// of 8: 4197 + 1 = 4198 -> 4200, so next_db = 4199
	require.Equal(t, uint32(4199), tbl.NextDB())
}

func TestOnWriteCompleteFailureLeavesEntryUnused(t *testing.T) {
	tbl := New(testConfig())
	_, err := tbl.Reserve(2)
	require.NoError(t, err)

	tbl.OnWriteComplete(errInjected)
	require.False(t, tbl.Locked())
	require.Equal(t, uint32(constants.BATUnused), tbl.Entry(2))
	// next_db only advances on success; a failed write leaves it unchanged.
	require.Equal(t, uint32(100), tbl.NextDB())
}
