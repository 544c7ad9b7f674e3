package ring

import "errors"

var (
	// ErrEndOfData is the normal terminal condition for readers: the
	// sequence (or ring) has closed and the requested window lies past
	// its extent.
	ErrEndOfData = errors.New("end of data")
	// ErrWouldBlock is returned by nonblocking reservations that cannot
	// proceed immediately.
	ErrWouldBlock = errors.New("operation would block")
	// ErrNoSuchSequence is returned when a requested sequence never
	// existed in the ring.
	ErrNoSuchSequence = errors.New("no such sequence")
	// ErrSequenceExpired is returned when a requested sequence has
	// scrolled past the tail and its data is gone.
	ErrSequenceExpired = errors.New("sequence expired")
	// ErrClosed is returned when writing to a sequence or ring that has
	// already ended.
	ErrClosed = errors.New("writing has ended")
	// ErrTooLarge is returned when a span request exceeds the ring's
	// contiguous span.
	ErrTooLarge = errors.New("span exceeds contiguous span")
	// ErrInvalidArgument is returned for malformed or conflicting
	// configuration.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrRingBusy is returned when a reconfiguration is attempted while
	// spans are open.
	ErrRingBusy = errors.New("ring busy")
	// ErrInternal signals an invariant violation inside the ring.
	ErrInternal = errors.New("internal error")
)
