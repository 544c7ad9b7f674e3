package ring

import (
	"fmt"

	"go.uber.org/zap"
)

// WriteSpan is a reserved byte range in the sequence currently being
// written. The producer fills its rows, then commits the number of bytes
// that are real; closing an uncommitted span commits zero bytes so an
// exceptional exit publishes nothing.
type WriteSpan struct {
	ring   *Ring
	seq    *sequence
	start  int64 // ring coordinate of the first reserved byte
	size   int64 // reserved bytes per ringlet
	closed bool
}

// Reserve atomically reserves nbytes contiguous bytes per ringlet in the
// sequence. It blocks while another write span is open or while the
// reservation would lap the slowest guaranteed reader; with nonblocking
// set it returns ErrWouldBlock instead.
func (ws *WriteSequence) Reserve(nbytes int64, nonblocking bool) (*WriteSpan, error) {
	r := ws.ring
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkLive()
	if nbytes <= 0 {
		return nil, fmt.Errorf("%w: reservation of %d bytes", ErrInvalidArgument, nbytes)
	}
	if nbytes > r.contiguous {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooLarge, nbytes, r.contiguous)
	}
	for {
		if ws.seq.closed || r.writingEnded {
			return nil, fmt.Errorf("%w: sequence %q", ErrClosed, ws.seq.name)
		}
		if r.wspan == nil && r.reserveHead+nbytes-r.minGuarantee() <= r.total {
			break
		}
		if nonblocking {
			return nil, ErrWouldBlock
		}
		r.writable.Wait()
		r.checkLive()
	}

	sp := &WriteSpan{
		ring:  r,
		seq:   ws.seq,
		start: r.reserveHead,
		size:  nbytes,
	}
	r.reserveHead += nbytes
	r.stompTo(r.reserveHead - r.total)
	r.wspan = sp
	return sp, nil
}

// Size returns the reserved byte count per ringlet.
func (sp *WriteSpan) Size() int64 { return sp.size }

// Offset returns the span's byte offset from the start of its sequence.
func (sp *WriteSpan) Offset() int64 { return sp.start - sp.seq.begin }

// NRinglet returns the number of ringlet rows in the span.
func (sp *WriteSpan) NRinglet() int { return sp.ring.nringlet }

// Stride returns the byte distance between consecutive ringlet rows of
// Raw.
func (sp *WriteSpan) Stride() int64 { return sp.ring.stride }

// Row returns ringlet row i of the reserved window.
func (sp *WriteSpan) Row(i int) []byte {
	if sp.closed {
		panic("ring: access to a committed write span")
	}
	if i < 0 || i >= sp.ring.nringlet {
		panic(fmt.Sprintf("ring: ringlet %d out of range [0, %d)", i, sp.ring.nringlet))
	}
	return sp.ring.row(i, sp.start, sp.size)
}

// Bytes returns ringlet row 0, the whole span for single-ringlet rings.
func (sp *WriteSpan) Bytes() []byte { return sp.Row(0) }

// Raw returns the underlying buffer from the first byte of row 0 through
// the last byte of the final row. Rows are Stride bytes apart.
func (sp *WriteSpan) Raw() []byte {
	if sp.closed {
		panic("ring: access to a committed write span")
	}
	r := sp.ring
	p := sp.start % r.total
	lo := p
	hi := int64(r.nringlet-1)*r.stride + p + sp.size
	return r.buf[lo:hi:hi]
}

// Commit publishes the first nbytes bytes of the reservation and returns
// the residual to the free pool. The producer must have synchronized its
// device stream first if the bytes were produced by device work.
func (sp *WriteSpan) Commit(nbytes int64) error {
	r := sp.ring
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkLive()
	if sp.closed {
		panic("ring: double commit of a write span")
	}
	if nbytes < 0 || nbytes > sp.size {
		return fmt.Errorf("%w: commit of %d bytes on a %d byte reservation",
			ErrInvalidArgument, nbytes, sp.size)
	}
	sp.closed = true
	if nbytes > 0 {
		r.mirror(sp.start%r.total, nbytes)
	}
	r.head = sp.start + nbytes
	r.reserveHead = r.head
	r.wspan = nil
	r.prune()
	r.readable.Broadcast()
	r.writable.Broadcast()
	r.log.Debug("committed span",
		zap.String("ring", r.name),
		zap.Int64("offset", sp.start),
		zap.Int64("nbytes", nbytes))
	return nil
}

// Close commits zero bytes if Commit was never called. It never fails on
// an already-committed span, making it safe to defer.
func (sp *WriteSpan) Close() error {
	if sp.closed {
		return nil
	}
	return sp.Commit(0)
}

// ReadSpan is an acquired byte window inside a sequence. For best-effort
// readers the window may start later than requested (NBytesSkipped) and
// may be stomped while held (NBytesOverwritten).
type ReadSpan struct {
	ring       *Ring
	rs         *ReadSequence
	seq        *sequence
	guaranteed bool
	absStart   int64 // ring coordinate of the first byte
	size       int64 // actual size after trimming at the sequence end
	requested  int64
	skipped    int64
	released   bool

	overwritten int64 // guarded by ring.mu
}

// Acquire blocks until the writer has produced the window [offset,
// offset+nbytes) of the sequence, then pins it for reading. At a closed
// sequence end the window is trimmed; a window at or past the end is
// ErrEndOfData. For best-effort readers a window that has already
// scrolled past the tail is snapped forward to the next whole span and
// the skip reported.
func (rs *ReadSequence) Acquire(offset, nbytes int64) (*ReadSpan, error) {
	r := rs.ring
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkLive()
	if rs.closed {
		panic("ring: Acquire on closed read sequence")
	}
	if nbytes <= 0 || offset < 0 {
		return nil, fmt.Errorf("%w: acquire of %d bytes at offset %d", ErrInvalidArgument, nbytes, offset)
	}
	if nbytes > r.contiguous {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooLarge, nbytes, r.contiguous)
	}
	s := rs.seq
	eff, size := offset, nbytes
	for {
		if rs.guarantee {
			// A guaranteed reader's cursor holds the writer back from
			// the moment it attaches; a window below the tail can only
			// predate the attach and its data is gone for good.
			if s.begin+eff < r.stompTail {
				return nil, fmt.Errorf("%w: offset %d has scrolled past the tail", ErrSequenceExpired, offset)
			}
			// Bytes before the requested window are no longer needed, so
			// the guarantee advances before the wait, not after: a reader
			// skipping ahead must not starve the writer it is waiting on.
			if c := s.begin + eff; c > rs.cursor {
				rs.cursor = c
				r.writable.Broadcast()
			}
		} else if tailOff := r.stompTail - s.begin; tailOff > eff {
			// Best-effort windows that scrolled out are snapped forward
			// to the next whole span past the tail.
			skip := tailOff - eff
			eff += (skip + nbytes - 1) / nbytes * nbytes
			continue
		}
		if s.closed {
			if s.begin+eff >= s.end {
				return nil, ErrEndOfData
			}
			size = min(nbytes, s.end-(s.begin+eff))
			break
		}
		if s.begin+eff+size <= r.head {
			break
		}
		r.readable.Wait()
		r.checkLive()
	}

	sp := &ReadSpan{
		ring:       r,
		rs:         rs,
		seq:        s,
		guaranteed: rs.guarantee,
		absStart:   s.begin + eff,
		size:       size,
		requested:  nbytes,
		skipped:    eff - offset,
	}
	r.openReads[sp] = struct{}{}
	return sp, nil
}

// Size returns the actual window size, which may be smaller than the
// requested size at the end of a closed sequence.
func (sp *ReadSpan) Size() int64 { return sp.size }

// Offset returns the effective byte offset of the window within its
// sequence.
func (sp *ReadSpan) Offset() int64 { return sp.absStart - sp.seq.begin }

// NBytesSkipped returns how far the window was snapped forward past the
// requested offset because the data was already overwritten.
func (sp *ReadSpan) NBytesSkipped() int64 { return sp.skipped }

// NBytesOverwritten returns how many bytes of the held window the writer
// has stomped since Acquire. Zero for guaranteed readers, always.
func (sp *ReadSpan) NBytesOverwritten() int64 {
	sp.ring.mu.Lock()
	defer sp.ring.mu.Unlock()
	return sp.overwritten
}

// NRinglet returns the number of ringlet rows in the span.
func (sp *ReadSpan) NRinglet() int { return sp.seq.nringlet }

// Stride returns the byte distance between consecutive ringlet rows of
// Raw.
func (sp *ReadSpan) Stride() int64 { return sp.ring.stride }

// Row returns ringlet row i of the acquired window. The contents must be
// treated as read-only.
func (sp *ReadSpan) Row(i int) []byte {
	if sp.released {
		panic("ring: access to a released read span")
	}
	if i < 0 || i >= sp.seq.nringlet {
		panic(fmt.Sprintf("ring: ringlet %d out of range [0, %d)", i, sp.seq.nringlet))
	}
	return sp.ring.row(i, sp.absStart, sp.size)
}

// Bytes returns ringlet row 0, the whole span for single-ringlet rings.
func (sp *ReadSpan) Bytes() []byte { return sp.Row(0) }

// Raw returns the underlying buffer from the first byte of row 0 through
// the last byte of the final row. Rows are Stride bytes apart.
func (sp *ReadSpan) Raw() []byte {
	if sp.released {
		panic("ring: access to a released read span")
	}
	r := sp.ring
	p := sp.absStart % r.total
	hi := int64(sp.seq.nringlet-1)*r.stride + p + sp.size
	return r.buf[p:hi:hi]
}

// Release unpins the window. A guaranteed reader's cursor advances past
// it, letting the writer reuse the space. Idempotent.
func (sp *ReadSpan) Release() error {
	r := sp.ring
	r.mu.Lock()
	defer r.mu.Unlock()
	if sp.released {
		return nil
	}
	sp.released = true
	delete(r.openReads, sp)
	if sp.guaranteed && !sp.rs.closed {
		sp.rs.cursor = max(sp.rs.cursor, sp.absStart+sp.size)
		r.writable.Broadcast()
	}
	r.prune()
	return nil
}
