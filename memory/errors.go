package memory

import "errors"

var (
	// ErrOutOfMemory is returned when the underlying allocator cannot
	// satisfy a request.
	ErrOutOfMemory = errors.New("out of memory")
	// ErrSpaceUnavailable is returned when the requested memory space
	// cannot be served on this system.
	ErrSpaceUnavailable = errors.New("memory space unavailable")
	// ErrUnknownPointer is returned when a buffer is not tracked by the
	// allocation registry.
	ErrUnknownPointer = errors.New("unknown pointer")
	// ErrInvalidSpace is returned when a space tag does not match the
	// registry's record for a buffer, or names no space at all.
	ErrInvalidSpace = errors.New("invalid memory space")
	// ErrInvalidArgument is returned for malformed sizes or ranges.
	ErrInvalidArgument = errors.New("invalid argument")
)
