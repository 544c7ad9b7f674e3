package ring

import (
	"container/list"
	"fmt"
	"iter"
	"slices"

	"go.uber.org/zap"
)

// sequence is the ring-internal record of one logical stream interval.
// Headers are immutable once the sequence exists; begin and end are ring
// byte coordinates, with end meaningful only once closed.
type sequence struct {
	name     string
	timeTag  int64
	header   []byte
	nringlet int
	begin    int64
	end      int64
	closed   bool
	readers  int
	elem     *list.Element
}

// Writer is the handle returned by Ring.BeginWriting. It begins sequences
// and, on Close, ends the ring's write phase.
type Writer struct {
	ring *Ring
}

// Close ends writing on the ring. Idempotent.
func (w *Writer) Close() error {
	return w.ring.EndWriting()
}

// BeginSequence starts a new sequence at the ring's head. At most one
// sequence may be open for writing at a time; headers are copied and
// capped at MaxHeaderSize. Time tags must be nondecreasing across
// sequences for time-tag lookup to be meaningful.
func (w *Writer) BeginSequence(name string, timeTag int64, header []byte) (*WriteSequence, error) {
	r := w.ring
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkLive()
	if r.buf == nil {
		return nil, fmt.Errorf("%w: ring %q has no buffer; call Resize first", ErrInvalidArgument, r.name)
	}
	if r.writingEnded {
		return nil, fmt.Errorf("%w: ring %q", ErrClosed, r.name)
	}
	if r.writing != nil {
		return nil, fmt.Errorf("%w: sequence %q is still open for writing",
			ErrInvalidArgument, r.writing.name)
	}
	if len(header) > MaxHeaderSize {
		return nil, fmt.Errorf("%w: header of %d bytes exceeds cap of %d",
			ErrInvalidArgument, len(header), MaxHeaderSize)
	}
	name = Slugify(name)
	if name == "" {
		name = randomName()
	}
	s := &sequence{
		name:     name,
		timeTag:  timeTag,
		header:   slices.Clone(header),
		nringlet: r.nringlet,
		begin:    r.head,
		end:      -1,
	}
	s.elem = r.seqs.PushBack(s)
	r.writing = s
	r.readable.Broadcast()
	r.log.Debug("began sequence",
		zap.String("ring", r.name),
		zap.String("sequence", name),
		zap.Int64("time_tag", timeTag))
	return &WriteSequence{ring: r, seq: s}, nil
}

// WriteSequence is the producer's handle on the sequence currently being
// written.
type WriteSequence struct {
	ring *Ring
	seq  *sequence
}

// Name returns the sequence name.
func (ws *WriteSequence) Name() string { return ws.seq.name }

// TimeTag returns the sequence time tag.
func (ws *WriteSequence) TimeTag() int64 { return ws.seq.timeTag }

// NRinglet returns the sequence's ringlet count.
func (ws *WriteSequence) NRinglet() int { return ws.seq.nringlet }

// Header returns a copy of the sequence header.
func (ws *WriteSequence) Header() []byte { return slices.Clone(ws.seq.header) }

// End closes the sequence at the current head. Readers blocked past the
// end wake up and observe the final extent. Idempotent.
func (ws *WriteSequence) End() error {
	r := ws.ring
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkLive()
	if ws.seq.closed {
		return nil
	}
	if r.wspan != nil {
		return fmt.Errorf("%w: a write span is still reserved", ErrRingBusy)
	}
	r.endSequenceLocked(ws.seq)
	return nil
}

func (r *Ring) endSequenceLocked(s *sequence) {
	s.end = r.head
	s.closed = true
	if r.writing == s {
		r.writing = nil
	}
	r.readable.Broadcast()
	r.log.Debug("ended sequence",
		zap.String("ring", r.name),
		zap.String("sequence", s.name),
		zap.Int64("nbytes", s.end-s.begin))
}

// ReadSequence is a consumer's handle on one sequence. The guarantee flag
// decides whether the reader's cursor participates in the writer's
// backpressure.
type ReadSequence struct {
	ring       *Ring
	seq        *sequence
	guarantee  bool
	cursor     int64
	transforms []HeaderTransform
	closed     bool
}

type selector struct {
	kind    int // selByName, selAt, selLatest, selEarliest
	name    string
	timeTag int64
}

const (
	selByName = iota
	selAt
	selLatest
	selEarliest
)

// OpenSequence opens the live sequence with the given name, blocking
// until it appears or writing ends.
func (r *Ring) OpenSequence(name string, guarantee bool) (*ReadSequence, error) {
	return r.open(selector{kind: selByName, name: Slugify(name)}, guarantee, nil)
}

// OpenSequenceAt opens the latest sequence whose time tag does not exceed
// timeTag. Blocks while the ring has no sequences and writing has not
// ended.
func (r *Ring) OpenSequenceAt(timeTag int64, guarantee bool) (*ReadSequence, error) {
	return r.open(selector{kind: selAt, timeTag: timeTag}, guarantee, nil)
}

// OpenLatestSequence opens the most recently begun live sequence.
func (r *Ring) OpenLatestSequence(guarantee bool) (*ReadSequence, error) {
	return r.open(selector{kind: selLatest}, guarantee, nil)
}

// OpenEarliestSequence opens the oldest live sequence.
func (r *Ring) OpenEarliestSequence(guarantee bool) (*ReadSequence, error) {
	return r.open(selector{kind: selEarliest}, guarantee, nil)
}

func (r *Ring) open(sel selector, guarantee bool, transforms []HeaderTransform) (*ReadSequence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkLive()
	for {
		s, err := r.selectLocked(sel)
		if err != nil {
			return nil, err
		}
		if s != nil {
			if s.closed && s.end <= r.stompTail {
				return nil, fmt.Errorf("%w: %q scrolled past the tail", ErrSequenceExpired, s.name)
			}
			rs := &ReadSequence{
				ring:       r,
				seq:        s,
				guarantee:  guarantee,
				transforms: transforms,
			}
			r.attachLocked(rs)
			return rs, nil
		}
		if r.writingEnded {
			return nil, fmt.Errorf("%w: ring %q has ended", ErrNoSuchSequence, r.name)
		}
		r.readable.Wait()
		r.checkLive()
	}
}

// selectLocked resolves a selector against the live sequence list. A nil
// sequence with nil error means "not here yet, wait".
func (r *Ring) selectLocked(sel selector) (*sequence, error) {
	switch sel.kind {
	case selByName:
		for e := r.seqs.Front(); e != nil; e = e.Next() {
			if s := e.Value.(*sequence); s.name == sel.name {
				return s, nil
			}
		}
		return nil, nil
	case selAt:
		if r.seqs.Len() == 0 {
			return nil, nil
		}
		// Latest sequence whose tag does not exceed the request; tags
		// are nondecreasing, so walk from the back.
		for e := r.seqs.Back(); e != nil; e = e.Prev() {
			if s := e.Value.(*sequence); s.timeTag <= sel.timeTag {
				return s, nil
			}
		}
		return nil, fmt.Errorf("%w: no sequence at time tag %d", ErrNoSuchSequence, sel.timeTag)
	case selLatest:
		if e := r.seqs.Back(); e != nil {
			return e.Value.(*sequence), nil
		}
		return nil, nil
	case selEarliest:
		if e := r.seqs.Front(); e != nil {
			return e.Value.(*sequence), nil
		}
		return nil, nil
	}
	return nil, fmt.Errorf("%w: unknown selector %d", ErrInternal, sel.kind)
}

func (r *Ring) attachLocked(rs *ReadSequence) {
	rs.seq.readers++
	rs.cursor = max(rs.seq.begin, r.stompTail)
	if rs.guarantee {
		r.guarded[rs] = struct{}{}
	}
}

func (r *Ring) detachLocked(rs *ReadSequence) {
	rs.seq.readers--
	if rs.guarantee {
		delete(r.guarded, rs)
		r.writable.Broadcast()
	}
	r.prune()
}

// Name returns the sequence name.
func (rs *ReadSequence) Name() string { return rs.seq.name }

// TimeTag returns the sequence time tag.
func (rs *ReadSequence) TimeTag() int64 { return rs.seq.timeTag }

// NRinglet returns the sequence's ringlet count.
func (rs *ReadSequence) NRinglet() int { return rs.seq.nringlet }

// Header returns the sequence header after applying any view transforms,
// composed left to right. A transform returning nil is an error.
func (rs *ReadSequence) Header() ([]byte, error) {
	hdr := slices.Clone(rs.seq.header)
	for _, t := range rs.transforms {
		out, err := t(hdr)
		if err != nil {
			return nil, fmt.Errorf("header transform failed: %w", err)
		}
		if out == nil {
			return nil, fmt.Errorf("%w: header transform returned nil", ErrInvalidArgument)
		}
		hdr = out
	}
	return hdr, nil
}

// Size returns the sequence's byte length per ringlet, or -1 while it is
// still being written.
func (rs *ReadSequence) Size() int64 {
	r := rs.ring
	r.mu.Lock()
	defer r.mu.Unlock()
	if !rs.seq.closed {
		return -1
	}
	return rs.seq.end - rs.seq.begin
}

// Close detaches the reader from the sequence, releasing its guarantee.
func (rs *ReadSequence) Close() error {
	r := rs.ring
	r.mu.Lock()
	defer r.mu.Unlock()
	if rs.closed {
		return nil
	}
	rs.closed = true
	r.detachLocked(rs)
	return nil
}

// Next advances to the chronologically next sequence in the ring,
// blocking until it begins. Returns ErrEndOfData when writing has ended
// and no further sequence exists.
func (rs *ReadSequence) Next() error {
	r := rs.ring
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkLive()
	if rs.closed {
		panic("ring: Next on closed read sequence")
	}
	for {
		if e := rs.seq.elem.Next(); e != nil {
			// Attach to the successor before letting go of the current
			// sequence so neither can be pruned out from under us.
			old := rs.seq
			rs.seq = e.Value.(*sequence)
			r.attachLocked(rs)
			old.readers--
			if rs.guarantee {
				r.writable.Broadcast()
			}
			r.prune()
			return nil
		}
		if r.writingEnded {
			return ErrEndOfData
		}
		r.readable.Wait()
		r.checkLive()
	}
}

// Read iterates over the sequence in spans of spanSize bytes, advancing
// by stride (spanSize when zero) from begin. Spans are released as the
// loop advances; the iteration ends at end of data.
func (rs *ReadSequence) Read(spanSize, stride, begin int64) iter.Seq[*ReadSpan] {
	if stride == 0 {
		stride = spanSize
	}
	return func(yield func(*ReadSpan) bool) {
		for offset := begin; ; offset += stride {
			sp, err := rs.Acquire(offset, spanSize)
			if err != nil {
				return
			}
			ok := yield(sp)
			sp.Release()
			if !ok {
				return
			}
		}
	}
}

// ReadSequences iterates over the ring's sequences from the earliest,
// advancing as the writer produces new ones, until writing ends. The
// yielded ReadSequence is reused across iterations and closed when the
// loop ends.
func (r *Ring) ReadSequences(guarantee bool) iter.Seq[*ReadSequence] {
	return func(yield func(*ReadSequence) bool) {
		rs, err := r.OpenEarliestSequence(guarantee)
		if err != nil {
			return
		}
		defer rs.Close()
		for yield(rs) {
			if err := rs.Next(); err != nil {
				return
			}
		}
	}
}
