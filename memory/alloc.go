package memory

import (
	"fmt"
	"sync"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// alignment is the guaranteed alignment of every allocation. Mappings are
// page granular, so this holds for any page size of 4KiB or larger.
const alignment = 4096

// Alignment returns the allocator's guaranteed alignment in bytes.
func Alignment() int {
	return alignment
}

type allocation struct {
	buf    []byte
	space  Space
	locked bool
}

type allocator struct {
	mu     sync.Mutex
	allocs map[uintptr]*allocation
	log    *zap.Logger
}

var global = &allocator{
	allocs: make(map[uintptr]*allocation),
	log:    zap.NewNop(),
}

// SetLogger installs a logger for allocation tracing. Intended for
// debugging; the default logger discards everything.
func SetLogger(log *zap.Logger) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.log = log
}

// Alloc returns a buffer of nbytes bytes in the given space, aligned to at
// least Alignment bytes. Device and unified allocations are served from
// anonymous mappings tagged with their space; pinned host allocations are
// additionally locked into physical memory.
func Alloc(nbytes int, space Space) ([]byte, error) {
	if nbytes < 0 {
		return nil, fmt.Errorf("%w: negative allocation size %d", ErrInvalidArgument, nbytes)
	}
	if space == SpaceAuto {
		return nil, fmt.Errorf("%w: cannot allocate in space %q", ErrInvalidSpace, space)
	}
	if nbytes == 0 {
		return []byte{}, nil
	}

	buf, err := unix.Mmap(-1, 0, nbytes, unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap of %d bytes failed: %v", ErrOutOfMemory, nbytes, err)
	}

	a := &allocation{buf: buf, space: space}
	if space == SpacePinnedHost {
		if err := unix.Mlock(buf); err != nil {
			unix.Munmap(buf)
			if err == unix.ENOMEM || err == unix.EPERM {
				return nil, fmt.Errorf("%w: cannot pin %d bytes: %v", ErrSpaceUnavailable, nbytes, err)
			}
			return nil, fmt.Errorf("%w: mlock failed: %v", ErrOutOfMemory, err)
		}
		a.locked = true
	}

	global.mu.Lock()
	global.allocs[bufKey(buf)] = a
	global.log.Debug("allocated buffer",
		zap.Int("nbytes", nbytes),
		zap.Stringer("space", space))
	global.mu.Unlock()
	return buf[:nbytes:nbytes], nil
}

// Free releases a buffer previously returned by Alloc. SpaceAuto infers
// the space from the registry; any other space must match the registry's
// record for the buffer.
func Free(buf []byte, space Space) error {
	if len(buf) == 0 {
		return nil
	}
	global.mu.Lock()
	key := bufKey(buf)
	a, ok := global.allocs[key]
	if !ok {
		global.mu.Unlock()
		return fmt.Errorf("%w: buffer %#x was not allocated here", ErrUnknownPointer, key)
	}
	if space != SpaceAuto && space != a.space {
		global.mu.Unlock()
		return fmt.Errorf("%w: buffer is in space %q, not %q", ErrInvalidSpace, a.space, space)
	}
	delete(global.allocs, key)
	global.mu.Unlock()

	if a.locked {
		unix.Munlock(a.buf)
	}
	return unix.Munmap(a.buf)
}

// SpaceOf reports the space a buffer was allocated in.
func SpaceOf(buf []byte) (Space, error) {
	if len(buf) == 0 {
		return SpaceAuto, fmt.Errorf("%w: empty buffer", ErrUnknownPointer)
	}
	global.mu.Lock()
	defer global.mu.Unlock()
	if a, ok := global.allocs[bufKey(buf)]; ok {
		return a.space, nil
	}
	return SpaceAuto, fmt.Errorf("%w: buffer %#x was not allocated here", ErrUnknownPointer, bufKey(buf))
}

func bufKey(buf []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
}
