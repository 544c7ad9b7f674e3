package memory

import "fmt"

// Copy moves nbytes bytes from src to dst, which may live in different
// memory spaces. Host-to-host copies complete before Copy returns. A copy
// with a device or unified operand is enqueued on the calling goroutine's
// stream and completes only at Synchronize; the destination must not be
// published to other stages before then.
func Copy(dst []byte, dstSpace Space, src []byte, srcSpace Space, nbytes int) error {
	dstSpace, err := resolveOperand(dst, dstSpace, nbytes)
	if err != nil {
		return err
	}
	srcSpace, err = resolveOperand(src, srcSpace, nbytes)
	if err != nil {
		return err
	}
	d, s := dst[:nbytes], src[:nbytes]
	if hostReachable(dstSpace) && hostReachable(srcSpace) {
		copy(d, s)
		return nil
	}
	CurrentStream().Enqueue(func() { copy(d, s) })
	return nil
}

// Memset fills dst[:nbytes] with value, with the same stream semantics as
// Copy.
func Memset(dst []byte, space Space, value byte, nbytes int) error {
	space, err := resolveOperand(dst, space, nbytes)
	if err != nil {
		return err
	}
	d := dst[:nbytes]
	if hostReachable(space) {
		fill(d, value)
		return nil
	}
	CurrentStream().Enqueue(func() { fill(d, value) })
	return nil
}

func fill(b []byte, value byte) {
	for i := range b {
		b[i] = value
	}
}

// resolveOperand validates the buffer length and reconciles the claimed
// space with the registry. Untracked buffers (stack scratch, test slices)
// are taken at the caller's word; registered buffers must match.
func resolveOperand(buf []byte, space Space, nbytes int) (Space, error) {
	if nbytes < 0 {
		return space, fmt.Errorf("%w: negative length %d", ErrInvalidArgument, nbytes)
	}
	if nbytes > len(buf) {
		return space, fmt.Errorf("%w: operation of %d bytes over a %d byte buffer",
			ErrInvalidArgument, nbytes, len(buf))
	}
	actual, err := SpaceOf(buf)
	if space == SpaceAuto {
		if err != nil {
			return space, err
		}
		return actual, nil
	}
	if err == nil && actual != space {
		return space, fmt.Errorf("%w: buffer is in space %q, not %q", ErrInvalidSpace, actual, space)
	}
	return space, nil
}
