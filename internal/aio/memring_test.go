package aio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeBacking struct {
	data []byte
}

func (b *fakeBacking) ReadAt(p []byte, off int64) (int, error) {
	n := copy(p, b.data[off:])
	return n, nil
}

func (b *fakeBacking) WriteAt(p []byte, off int64) (int, error) {
	n := copy(b.data[off:], p)
	return n, nil
}

func TestMemRingFlushPerformsWritesImmediately(t *testing.T) {
	backing := &fakeBacking{data: make([]byte, 16)}
	r := NewMemRing(backing)

	require.NoError(t, r.PrepareWrite(0, []byte{1, 2, 3, 4}, 4, 0x1))
	n, err := r.Flush()
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Equal(t, []byte{1, 2, 3, 4}, backing.data[4:8])
}

func TestMemRingWaitDrainsCompletionsOnce(t *testing.T) {
	backing := &fakeBacking{data: make([]byte, 16)}
	r := NewMemRing(backing)

	require.NoError(t, r.PrepareWrite(0, []byte{9}, 0, 0x10))
	require.NoError(t, r.PrepareRead(0, make([]byte, 1), 0, 0x20))
	_, err := r.Flush()
	require.NoError(t, err)

	completions, err := r.Wait()
	require.NoError(t, err)
	require.Len(t, completions, 2)
	require.Equal(t, uint64(0x10), completions[0].UserData())
	require.Equal(t, uint64(0x20), completions[1].UserData())

	again, err := r.Wait()
	require.NoError(t, err)
	require.Empty(t, again)
}

func TestMemRingReadCopiesBackingBytesAtOffset(t *testing.T) {
	backing := &fakeBacking{data: []byte{0xAA, 0xAA}}
	r := NewMemRing(backing)

	buf := make([]byte, 1)
	require.NoError(t, r.PrepareRead(0, buf, 1, 0x5))
	_, err := r.Flush()
	require.NoError(t, err)
	completions, err := r.Wait()
	require.NoError(t, err)
	require.Len(t, completions, 1)
	require.NoError(t, completions[0].Err())
	require.Equal(t, byte(0xAA), buf[0])
}
