package vhd

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStructuredError(t *testing.T) {
	err := NewError("queue_write", ErrCodeInvalidArgument, "sector range out of bounds")

	require.Equal(t, "queue_write", err.Op)
	require.Equal(t, ErrCodeInvalidArgument, err.Code)
	require.Equal(t, "vhd: queue_write: sector range out of bounds", err.Error())
}

func TestErrorWithErrno(t *testing.T) {
	err := NewErrorWithErrno("submit", ErrCodeIOError, syscall.EIO)

	require.Equal(t, syscall.EIO, err.Errno)
	require.Equal(t, ErrCodeIOError, err.Code)
}

func TestWrapErrorMapsErrno(t *testing.T) {
	err := WrapError("poll", syscall.Errno(syscall.EBUSY))

	require.Equal(t, ErrCodeBusy, err.Code)
	require.Equal(t, syscall.EBUSY, err.Errno)
}

func TestWrapErrorPreservesExistingCode(t *testing.T) {
	inner := NewError("alloc", ErrCodeOutOfMemory, "request pool exhausted")
	err := WrapError("begin_allocation", inner)

	require.Equal(t, ErrCodeOutOfMemory, err.Code)
	require.Equal(t, "begin_allocation", err.Op)
}

func TestWrapErrorNil(t *testing.T) {
	require.Nil(t, WrapError("op", nil))
}

func TestIsCode(t *testing.T) {
	err := NewError("queue_read", ErrCodeNotAllocated, "hole read")

	require.True(t, IsCode(err, ErrCodeNotAllocated))
	require.False(t, IsCode(err, ErrCodeIOError))
	require.False(t, IsCode(nil, ErrCodeNotAllocated))
}

func TestIsErrno(t *testing.T) {
	err := NewErrorWithErrno("submit", ErrCodeIOError, syscall.EIO)

	require.True(t, IsErrno(err, syscall.EIO))
	require.False(t, IsErrno(err, syscall.EPERM))
	require.False(t, IsErrno(nil, syscall.EIO))
}

func TestErrnoMapping(t *testing.T) {
	cases := []struct {
		errno    syscall.Errno
		expected ErrorCode
	}{
		{syscall.EBUSY, ErrCodeBusy},
		{syscall.EINVAL, ErrCodeInvalidArgument},
		{syscall.E2BIG, ErrCodeInvalidArgument},
		{syscall.ENOMEM, ErrCodeOutOfMemory},
		{syscall.ENOSPC, ErrCodeOutOfMemory},
		{syscall.EIO, ErrCodeIOError},
	}
	for _, tc := range cases {
		require.Equal(t, tc.expected, mapErrnoToCode(tc.errno))
	}
}

func TestErrorIsMatchesByCode(t *testing.T) {
	a := &Error{Code: ErrCodeBusy}
	b := NewError("reserve", ErrCodeBusy, "block locked")

	require.ErrorIs(t, b, a)
}
