package backing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadWriteRoundTrip(t *testing.T) {
	m := NewMemory(4096)
	p := []byte{1, 2, 3, 4}
	n, err := m.WriteAt(p, 100)
	require.NoError(t, err)
	require.Equal(t, 4, n)

	out := make([]byte, 4)
	_, err = m.ReadAt(out, 100)
	require.NoError(t, err)
	require.Equal(t, p, out)
}

func TestReadPastSizeZeroExtends(t *testing.T) {
	m := NewMemory(512)
	out := make([]byte, 8)
	for i := range out {
		out[i] = 0xFF
	}
	n, err := m.ReadAt(out, 1000)
	require.NoError(t, err)
	require.Equal(t, 8, n)
	require.Equal(t, make([]byte, 8), out)
}

func TestWriteGrowsBackingStore(t *testing.T) {
	m := NewMemory(0)
	_, err := m.WriteAt([]byte{9, 9}, 4096)
	require.NoError(t, err)
	require.Equal(t, int64(4098), m.Size())
}

func TestFailWriteAtInjectsError(t *testing.T) {
	m := NewMemory(4096)
	m.FailWriteAt = func(off int64) bool { return off == 512 }

	_, err := m.WriteAt([]byte{1}, 0)
	require.NoError(t, err)

	_, err = m.WriteAt([]byte{1}, 512)
	require.Error(t, err)
}
