package ring

import (
	"bytes"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwa-project/bifrost/memory"
)

func TestOpenSequenceByNameBlocksUntilBegun(t *testing.T) {
	r := newTestRing(t, 64, 256, 1)

	type result struct {
		rs  *ReadSequence
		err error
	}
	opened := make(chan result, 1)
	go func() {
		rs, err := r.OpenSequence("late", true)
		opened <- result{rs, err}
	}()

	select {
	case <-opened:
		t.Fatal("open returned before the sequence existed")
	case <-time.After(100 * time.Millisecond):
	}

	w, err := r.BeginWriting()
	require.NoError(t, err)
	seq, err := w.BeginSequence("late", 42, nil)
	require.NoError(t, err)

	select {
	case got := <-opened:
		require.NoError(t, got.err)
		assert.Equal(t, "late", got.rs.Name())
		assert.Equal(t, int64(42), got.rs.TimeTag())
		require.NoError(t, got.rs.Close())
	case <-time.After(5 * time.Second):
		t.Fatal("open did not observe the new sequence")
	}

	require.NoError(t, seq.End())
	require.NoError(t, w.Close())
}

func TestOpenSequenceByNameEndsWithWriting(t *testing.T) {
	r := newTestRing(t, 64, 256, 1)

	errs := make(chan error, 1)
	go func() {
		_, err := r.OpenSequence("never", true)
		errs <- err
	}()

	time.Sleep(50 * time.Millisecond)
	_, err := r.BeginWriting()
	require.NoError(t, err)
	require.NoError(t, r.EndWriting())

	select {
	case err := <-errs:
		require.ErrorIs(t, err, ErrNoSuchSequence)
	case <-time.After(5 * time.Second):
		t.Fatal("open did not observe end of writing")
	}
}

func TestSequenceNext(t *testing.T) {
	r := newTestRing(t, 64, 1024, 1)

	w, err := r.BeginWriting()
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		seq, err := w.BeginSequence(fmt.Sprintf("part-%d", i), int64(i), nil)
		require.NoError(t, err)
		writeSpan(t, seq, 64, byte(i))
		require.NoError(t, seq.End())
	}
	require.NoError(t, w.Close())

	rs, err := r.OpenEarliestSequence(true)
	require.NoError(t, err)
	defer rs.Close()

	for i := 0; i < 3; i++ {
		assert.Equal(t, fmt.Sprintf("part-%d", i), rs.Name())
		assert.Equal(t, int64(64), rs.Size())
		if i < 2 {
			require.NoError(t, rs.Next())
		}
	}
	require.ErrorIs(t, rs.Next(), ErrEndOfData)
}

func TestSequenceOrderingInvariant(t *testing.T) {
	r := newTestRing(t, 64, 1024, 1)

	w, err := r.BeginWriting()
	require.NoError(t, err)

	var prevEnd int64
	for i := 0; i < 4; i++ {
		seq, err := w.BeginSequence(fmt.Sprintf("seq-%d", i), int64(i), nil)
		require.NoError(t, err)
		assert.Equal(t, prevEnd, seq.seq.begin, "sequence %d does not abut its predecessor", i)
		writeSpan(t, seq, 64, byte(i))
		require.NoError(t, seq.End())
		prevEnd = seq.seq.end
	}
	require.NoError(t, w.Close())
}

func TestAtMostOneWritingSequence(t *testing.T) {
	r := newTestRing(t, 64, 256, 1)

	w, err := r.BeginWriting()
	require.NoError(t, err)
	seq, err := w.BeginSequence("first", 0, nil)
	require.NoError(t, err)

	_, err = w.BeginSequence("second", 1, nil)
	require.ErrorIs(t, err, ErrInvalidArgument)

	require.NoError(t, seq.End())
	_, err = w.BeginSequence("second", 1, nil)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestOpenLatestSequence(t *testing.T) {
	r := newTestRing(t, 64, 1024, 1)

	w, err := r.BeginWriting()
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		seq, err := w.BeginSequence(fmt.Sprintf("s-%d", i), int64(i), nil)
		require.NoError(t, err)
		writeSpan(t, seq, 64, byte(i))
		require.NoError(t, seq.End())
	}

	rs, err := r.OpenLatestSequence(true)
	require.NoError(t, err)
	defer rs.Close()
	assert.Equal(t, "s-2", rs.Name())

	require.NoError(t, w.Close())
}

func TestSequenceExpired(t *testing.T) {
	r := newTestRing(t, 256, 256, 1)

	w, err := r.BeginWriting()
	require.NoError(t, err)
	seq, err := w.BeginSequence("old", 0, nil)
	require.NoError(t, err)
	writeSpan(t, seq, 256, 1)
	require.NoError(t, seq.End())

	// A best-effort reader keeps the old sequence attached while the
	// writer scrolls its bytes out of the window.
	holder, err := r.OpenSequence("old", false)
	require.NoError(t, err)
	defer holder.Close()

	next, err := w.BeginSequence("new", 1, nil)
	require.NoError(t, err)
	writeSpan(t, next, 256, 2)
	writeSpan(t, next, 256, 3)

	_, err = r.OpenSequence("old", false)
	require.ErrorIs(t, err, ErrSequenceExpired)

	require.NoError(t, next.End())
	require.NoError(t, w.Close())
}

func TestWriterValidation(t *testing.T) {
	name := fmt.Sprintf("test-writer-val-%d", testRingSeq.Add(1))
	r, err := New(name, memory.SpaceHost)
	require.NoError(t, err)
	defer r.Destroy()

	w, err := r.BeginWriting()
	require.NoError(t, err)

	// No buffer yet.
	_, err = w.BeginSequence("s", 0, nil)
	require.ErrorIs(t, err, ErrInvalidArgument)

	require.NoError(t, r.Resize(64, 256, 1))

	_, err = w.BeginSequence("s", 0, bytes.Repeat([]byte{0}, MaxHeaderSize+1))
	require.ErrorIs(t, err, ErrInvalidArgument)

	require.NoError(t, r.EndWriting())
	_, err = w.BeginSequence("s", 0, nil)
	require.ErrorIs(t, err, ErrClosed)
}

func TestReadSequencesIterator(t *testing.T) {
	r := newTestRing(t, 64, 1024, 1)

	go func() {
		w, err := r.BeginWriting()
		if err != nil {
			return
		}
		defer w.Close()
		for i := 0; i < 3; i++ {
			seq, err := w.BeginSequence(fmt.Sprintf("it-%d", i), int64(i), nil)
			if err != nil {
				return
			}
			sp, err := seq.Reserve(64, false)
			if err != nil {
				return
			}
			sp.Commit(64)
			seq.End()
		}
	}()

	var names []string
	for rs := range r.ReadSequences(true) {
		names = append(names, rs.Name())
	}
	assert.Equal(t, []string{"it-0", "it-1", "it-2"}, names)
}

func TestHeaderImmutable(t *testing.T) {
	r := newTestRing(t, 64, 256, 1)

	w, err := r.BeginWriting()
	require.NoError(t, err)
	hdr := []byte(`{"nchan": 64}`)
	seq, err := w.BeginSequence("hdr", 0, hdr)
	require.NoError(t, err)

	// Mutating the caller's buffer must not affect the stored header.
	hdr[2] = 'X'

	rs, err := r.OpenEarliestSequence(true)
	require.NoError(t, err)
	defer rs.Close()
	got, err := rs.Header()
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"nchan": 64}`), got)

	// Nor can a reader scribble on it through the returned copy.
	got[0] = '!'
	again, err := rs.Header()
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"nchan": 64}`), again)

	require.NoError(t, seq.End())
	require.NoError(t, w.Close())
}

func TestSlugify(t *testing.T) {
	assert.Equal(t, "obs-2024.01 (a)", Slugify("obs-2024.01 (a)"))
	assert.Equal(t, "cleanname", Slugify("clean/name!@#"))
	assert.Equal(t, "", Slugify("///"))
}
