package memory

import (
	"bytes"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyHostSynchronous(t *testing.T) {
	src := []byte("between pipeline stages")
	dst := make([]byte, len(src))
	require.NoError(t, Copy(dst, SpaceHost, src, SpaceHost, len(src)))
	assert.Equal(t, src, dst)
}

func TestCopyDeviceEnqueued(t *testing.T) {
	dev, err := Alloc(1024, SpaceDevice)
	require.NoError(t, err)
	defer Free(dev, SpaceAuto)

	src := bytes.Repeat([]byte{0x5a}, 1024)
	require.NoError(t, Copy(dev, SpaceDevice, src, SpaceHost, 1024))
	Synchronize()

	dst := make([]byte, 1024)
	require.NoError(t, Copy(dst, SpaceHost, dev, SpaceDevice, 1024))
	Synchronize()
	assert.Equal(t, src, dst)
}

// The cross-space staging path: host pattern -> pinned -> device -> host.
func TestCopyDeviceViaPinnedStaging(t *testing.T) {
	const n = 1024

	dev, err := Alloc(n, SpaceDevice)
	require.NoError(t, err)
	defer Free(dev, SpaceAuto)

	pinned, err := Alloc(n, SpacePinnedHost)
	if err != nil {
		// Mlock can fail under restrictive rlimits; the staging path is
		// the same with plain host memory.
		pinned, err = Alloc(n, SpaceHost)
		require.NoError(t, err)
	}
	defer Free(pinned, SpaceAuto)

	pattern := make([]byte, n)
	for i := range pattern {
		pattern[i] = byte(i * 7)
	}
	copy(pinned, pattern)

	require.NoError(t, Copy(dev, SpaceDevice, pinned, SpaceAuto, n))
	Synchronize()

	out := make([]byte, n)
	require.NoError(t, Copy(out, SpaceHost, dev, SpaceDevice, n))
	Synchronize()
	assert.Equal(t, pattern, out)
}

func TestMemsetDevice(t *testing.T) {
	dev, err := Alloc(256, SpaceDevice)
	require.NoError(t, err)
	defer Free(dev, SpaceAuto)

	require.NoError(t, Memset(dev, SpaceDevice, 0xab, 256))
	Synchronize()

	out := make([]byte, 256)
	require.NoError(t, Copy(out, SpaceHost, dev, SpaceDevice, 256))
	Synchronize()
	assert.Equal(t, bytes.Repeat([]byte{0xab}, 256), out)
}

func TestCopySpaceMismatch(t *testing.T) {
	dev, err := Alloc(64, SpaceDevice)
	require.NoError(t, err)
	defer Free(dev, SpaceAuto)

	err = Copy(make([]byte, 64), SpaceHost, dev, SpaceHost, 64)
	require.ErrorIs(t, err, ErrInvalidSpace)
}

func TestCopyBounds(t *testing.T) {
	err := Copy(make([]byte, 8), SpaceHost, make([]byte, 64), SpaceHost, 64)
	require.ErrorIs(t, err, ErrInvalidArgument)

	err = Memset(make([]byte, 8), SpaceHost, 0, -1)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestStreamOrdering(t *testing.T) {
	s := CurrentStream()
	defer ReleaseStream()

	var last atomic.Int64
	ordered := true
	for i := int64(1); i <= 100; i++ {
		s.Enqueue(func() {
			if last.Load() != i-1 {
				ordered = false
			}
			last.Store(i)
		})
	}
	s.Synchronize()
	assert.True(t, ordered)
	assert.Equal(t, int64(100), last.Load())
}

func TestStreamPerGoroutine(t *testing.T) {
	main := CurrentStream()
	defer ReleaseStream()

	done := make(chan *Stream)
	go func() {
		defer ReleaseStream()
		done <- CurrentStream()
	}()
	other := <-done
	assert.NotSame(t, main, other)
	assert.Same(t, main, CurrentStream())
}
