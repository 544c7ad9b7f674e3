package memory

import (
	"sync"

	"github.com/lwa-project/bifrost/internal/gid"
)

// A Stream orders device-side work issued by a single pipeline stage.
// Operations enqueued on a stream run in FIFO order on a dedicated worker;
// Synchronize blocks until everything enqueued so far has completed.
//
// Each goroutine gets its own stream, created on first use. Work enqueued
// from different goroutines is unordered with respect to each other; the
// ring layer's commit contract requires a Synchronize before results are
// published to other stages.
type Stream struct {
	ops  chan func()
	done chan struct{}
}

const streamQueueDepth = 64

func newStream() *Stream {
	s := &Stream{
		ops:  make(chan func(), streamQueueDepth),
		done: make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Stream) run() {
	defer close(s.done)
	for op := range s.ops {
		op()
	}
}

// Enqueue schedules op to run on the stream worker, after everything
// already enqueued. It does not wait for op to run.
func (s *Stream) Enqueue(op func()) {
	s.ops <- op
}

// Synchronize blocks until all previously enqueued operations have
// completed.
func (s *Stream) Synchronize() {
	fence := make(chan struct{})
	s.ops <- func() { close(fence) }
	<-fence
}

func (s *Stream) destroy() {
	close(s.ops)
	<-s.done
}

var streams sync.Map // goroutine id -> *Stream

// CurrentStream returns the calling goroutine's stream, creating it on
// first use. The stream stays alive until ReleaseStream is called from the
// same goroutine; pipeline stages do that when they wind down.
func CurrentStream() *Stream {
	id := gid.ID()
	if s, ok := streams.Load(id); ok {
		return s.(*Stream)
	}
	s := newStream()
	actual, loaded := streams.LoadOrStore(id, s)
	if loaded {
		s.destroy()
		return actual.(*Stream)
	}
	return s
}

// Synchronize drains the calling goroutine's stream. It is a no-op if the
// goroutine never issued device work.
func Synchronize() {
	if s, ok := streams.Load(gid.ID()); ok {
		s.(*Stream).Synchronize()
	}
}

// ReleaseStream drains and destroys the calling goroutine's stream.
func ReleaseStream() {
	id := gid.ID()
	if s, ok := streams.LoadAndDelete(id); ok {
		s.(*Stream).destroy()
	}
}
