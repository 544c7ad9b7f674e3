// Package ring implements the shared-memory ring buffer that routes data
// between pipeline stages.
//
// A Ring owns one contiguous backing buffer in a single memory space and
// carries a stream of sequences, each a logical interval of frames with an
// opaque header. One writer appends by reserving and committing write
// spans; any number of readers follow along by acquiring and releasing
// read spans. Guaranteed readers hold the writer back so their data is
// never overwritten; best-effort readers never block the writer and
// instead learn how many of their bytes were stomped.
//
// The buffer carries a ghost region of one contiguous span past the end of
// each ringlet row, kept in sync with the row head by the writer, so that
// every span is contiguous in memory even when it crosses the wrap point.
package ring

import (
	"container/list"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/c2h5oh/datasize"
	"go.uber.org/zap"

	"github.com/lwa-project/bifrost/internal/affinity"
	"github.com/lwa-project/bifrost/memory"
)

// MaxHeaderSize caps the size of a sequence header.
const MaxHeaderSize = 1 << 20

// Ring is a named, bounded, append-only FIFO of sequences. All fields
// behind mu; the two condition variables partition the waiters: readers
// wait on readable (data committed, sequences begun or closed, writing
// ended), the writer waits on writable (guaranteed cursors advanced, the
// open span committed).
type Ring struct {
	mu       sync.Mutex
	readable *sync.Cond
	writable *sync.Cond

	log   *zap.Logger
	name  string
	space memory.Space
	core  int

	buf        []byte
	contiguous int64
	total      int64
	stride     int64 // total + contiguous: each ringlet row includes the ghost
	nringlet   int

	head        int64 // bytes committed by the writer since ring creation
	reserveHead int64 // end of the open reservation; == head when none
	stompTail   int64 // oldest byte the writer has not yet begun to overwrite

	seqs    list.List // of *sequence, ordered by begin offset
	writing *sequence

	writingBegun bool
	writingEnded bool

	wspan     *WriteSpan
	openReads map[*ReadSpan]struct{}
	guarded   map[*ReadSequence]struct{}

	destroyed bool
}

// Option configures a Ring at creation time.
type Option func(*Ring)

// WithCore sets the CPU core the producer thread is pinned to when it
// opens the ring for writing.
func WithCore(core int) Option {
	return func(r *Ring) { r.core = core }
}

// WithLogger sets the logger used for ring lifecycle tracing.
func WithLogger(log *zap.Logger) Option {
	return func(r *Ring) { r.log = log }
}

// New creates a ring in the given memory space and registers it under the
// slug-sanitized name. An empty name gets a random one. No buffer is
// allocated until Resize.
func New(name string, space memory.Space, opts ...Option) (*Ring, error) {
	if space == memory.SpaceAuto {
		return nil, fmt.Errorf("%w: a ring needs a concrete memory space", ErrInvalidArgument)
	}
	name = Slugify(name)
	if name == "" {
		name = randomName()
	}
	r := &Ring{
		log:       zap.NewNop(),
		name:      name,
		space:     space,
		core:      affinity.None,
		openReads: make(map[*ReadSpan]struct{}),
		guarded:   make(map[*ReadSequence]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.readable = sync.NewCond(&r.mu)
	r.writable = sync.NewCond(&r.mu)
	if err := register(r); err != nil {
		return nil, err
	}
	r.log.Debug("created ring",
		zap.String("ring", name),
		zap.Stringer("space", space))
	return r, nil
}

// Slugify strips a ring or sequence name down to the characters that are
// safe to expose in diagnostics and registry lookups.
func Slugify(name string) string {
	return strings.Map(func(c rune) rune {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			return c
		case strings.ContainsRune("-_.() ", c):
			return c
		}
		return -1
	}, name)
}

func randomName() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic("ring: cannot generate a ring name: " + err.Error())
	}
	return "ring-" + hex.EncodeToString(b[:])
}

// Name returns the ring's registered name.
func (r *Ring) Name() string { return r.name }

// Space returns the memory space the backing buffer lives in.
func (r *Ring) Space() memory.Space { return r.space }

// Core returns the producer core hint, or affinity.None.
func (r *Ring) Core() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.core
}

// SetCore updates the producer core hint. It takes effect the next time
// the ring is opened for writing.
func (r *Ring) SetCore(core int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.core = core
}

// ContiguousSpan returns the configured gulp size in bytes.
func (r *Ring) ContiguousSpan() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.contiguous
}

// TotalSpan returns the configured window size in bytes.
func (r *Ring) TotalSpan() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// NRinglet returns the number of parallel sub-streams.
func (r *Ring) NRinglet() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nringlet
}

// Head returns the writer's committed byte position.
func (r *Ring) Head() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.head
}

// Tail returns the oldest committed byte still inside the backing window.
func (r *Ring) Tail() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return max(r.head-r.total, 0)
}

// Resize (re)configures the backing buffer. A zero totalSpan defaults to
// four gulps. Resizing is forbidden while any span is open, and the
// ringlet count cannot change while sequences are live. Data already in
// the window survives a grow.
func (r *Ring) Resize(contiguousSpan, totalSpan int64, nringlet int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkLive()
	if contiguousSpan <= 0 || nringlet < 1 {
		return fmt.Errorf("%w: contiguous_span=%d nringlet=%d", ErrInvalidArgument, contiguousSpan, nringlet)
	}
	if totalSpan == 0 {
		totalSpan = contiguousSpan * 4
	}
	if contiguousSpan > totalSpan {
		return fmt.Errorf("%w: contiguous_span %d exceeds total_span %d",
			ErrInvalidArgument, contiguousSpan, totalSpan)
	}
	if r.wspan != nil || len(r.openReads) > 0 {
		return fmt.Errorf("%w: cannot resize with open spans", ErrRingBusy)
	}
	if nringlet != r.nringlet && r.buf != nil && r.seqs.Len() > 0 {
		return fmt.Errorf("%w: cannot change nringlet from %d to %d with live sequences",
			ErrInvalidArgument, r.nringlet, nringlet)
	}
	if g := r.minGuarantee(); r.head-g > totalSpan {
		return fmt.Errorf("%w: window of %d bytes cannot hold guaranteed data", ErrRingBusy, totalSpan)
	}

	stride := totalSpan + contiguousSpan
	buf, err := memory.Alloc(int(stride)*nringlet, r.space)
	if err != nil {
		return err
	}
	if r.buf != nil {
		r.migrate(buf, contiguousSpan, totalSpan, stride, nringlet)
		memory.Free(r.buf, r.space)
	}
	r.buf = buf
	r.contiguous = contiguousSpan
	r.total = totalSpan
	r.stride = stride
	r.nringlet = nringlet
	r.stompTail = max(r.stompTail, r.head-totalSpan)

	r.log.Debug("resized ring",
		zap.String("ring", r.name),
		zap.Stringer("contiguous_span", datasize.ByteSize(contiguousSpan)),
		zap.Stringer("total_span", datasize.ByteSize(totalSpan)),
		zap.Int("nringlet", nringlet))
	return nil
}

// migrate copies the live window into a freshly laid-out buffer. Called
// with both layouts known and no spans open.
func (r *Ring) migrate(buf []byte, contiguous, total, stride int64, nringlet int) {
	n := min(r.head, r.total, total)
	rows := min(nringlet, r.nringlet)
	for o := r.head - n; o < r.head; {
		// Largest chunk contiguous in both layouts.
		chunk := min(r.total-o%r.total, total-o%total, r.head-o)
		for row := int64(0); row < int64(rows); row++ {
			src := r.buf[row*r.stride+o%r.total:]
			dst := buf[row*stride+o%total:]
			copy(dst[:chunk], src[:chunk])
		}
		o += chunk
	}
	// Rebuild the ghost mirror for the new layout.
	for row := int64(0); row < int64(rows); row++ {
		base := buf[row*stride:]
		copy(base[total:total+contiguous], base[:contiguous])
	}
}

// BeginWriting opens the ring for writing. A ring may be opened for
// writing at most once per lifetime. If a core hint is set, the calling
// goroutine is pinned to it.
func (r *Ring) BeginWriting() (*Writer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkLive()
	if r.writingBegun {
		return nil, fmt.Errorf("%w: ring %q was already opened for writing", ErrInvalidArgument, r.name)
	}
	r.writingBegun = true
	if r.core != affinity.None {
		if err := affinity.Bind(r.core); err != nil {
			r.log.Warn("failed to pin producer",
				zap.String("ring", r.name),
				zap.Int("core", r.core),
				zap.Error(err))
		}
	}
	return &Writer{ring: r}, nil
}

// EndWriting marks the end of the ring's write phase: the open sequence,
// if any, is closed, blocked readers wake, and no further sequences may
// begin. Calling it again is a no-op.
func (r *Ring) EndWriting() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkLive()
	if r.writingEnded {
		return nil
	}
	if r.wspan != nil {
		return fmt.Errorf("%w: a write span is still reserved", ErrRingBusy)
	}
	if r.writing != nil {
		r.endSequenceLocked(r.writing)
	}
	r.writingEnded = true
	r.readable.Broadcast()
	r.writable.Broadcast()
	r.log.Debug("writing ended", zap.String("ring", r.name))
	return nil
}

// WritingEnded reports whether EndWriting has been called.
func (r *Ring) WritingEnded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writingEnded
}

// Destroy unregisters the ring and frees its backing buffer. The ring
// must have no open spans or readers.
func (r *Ring) Destroy() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return nil
	}
	if r.wspan != nil || len(r.openReads) > 0 || len(r.guarded) > 0 {
		return fmt.Errorf("%w: cannot destroy with open spans or readers", ErrRingBusy)
	}
	unregister(r.name)
	if r.buf != nil {
		if err := memory.Free(r.buf, r.space); err != nil {
			return err
		}
		r.buf = nil
	}
	r.destroyed = true
	r.readable.Broadcast()
	r.writable.Broadcast()
	return nil
}

func (r *Ring) checkLive() {
	if r.destroyed {
		panic("ring: use of destroyed ring " + r.name)
	}
}

// minGuarantee returns the oldest byte position still protected by an
// open guaranteed reader, or reserveHead when there is none.
func (r *Ring) minGuarantee() int64 {
	g := r.reserveHead
	for rs := range r.guarded {
		if rs.cursor < g {
			g = rs.cursor
		}
	}
	return g
}

// stompTo accounts for the writer claiming bytes up to limit: best-effort
// spans overlapping the newly stomped range learn how much of their data
// is gone.
func (r *Ring) stompTo(limit int64) {
	if limit <= r.stompTail {
		return
	}
	for sp := range r.openReads {
		if sp.guaranteed {
			continue
		}
		lo := max(sp.absStart, r.stompTail)
		hi := min(sp.absStart+sp.size, limit)
		if hi > lo {
			sp.overwritten += hi - lo
		}
	}
	r.stompTail = limit
}

// prune retires closed sequences that have scrolled out of the window and
// have no attached readers.
func (r *Ring) prune() {
	for e := r.seqs.Front(); e != nil; {
		s := e.Value.(*sequence)
		if !s.closed || s.readers > 0 || s.end > r.stompTail {
			return
		}
		next := e.Next()
		r.seqs.Remove(e)
		s.elem = nil
		e = next
	}
}

// row returns ringlet row i of the physical window starting at byte
// position pos, sized n. Caller holds no lock; the slice itself is
// stable once the span is reserved or acquired.
func (r *Ring) row(i int, pos, n int64) []byte {
	p := pos % r.total
	base := int64(i) * r.stride
	return r.buf[base+p : base+p+n : base+p+n]
}

// mirror keeps the ghost region consistent with the row head after the
// writer produced phys bytes [p, p+n) in every ringlet row.
func (r *Ring) mirror(p, n int64) {
	for i := 0; i < r.nringlet; i++ {
		base := r.buf[int64(i)*r.stride:]
		// Spill past the window end lands in the ghost; copy it back
		// to the canonical location at the row head.
		if spill := p + n - r.total; spill > 0 {
			copy(base[:spill], base[r.total:r.total+spill])
		}
		// Writes near the row head must also appear in the ghost so a
		// later read that wraps sees them there.
		if p < r.contiguous {
			hi := min(p+n, r.contiguous)
			copy(base[r.total+p:r.total+hi], base[p:hi])
		}
	}
}
