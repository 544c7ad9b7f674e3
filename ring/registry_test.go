package ring

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lwa-project/bifrost/memory"
)

func TestRegistryLookup(t *testing.T) {
	name := fmt.Sprintf("test-reg-%d", testRingSeq.Add(1))
	r, err := New(name, memory.SpaceHost)
	require.NoError(t, err)

	got, ok := Lookup(name)
	require.True(t, ok)
	assert.Same(t, r, got)

	require.NoError(t, r.Destroy())
	_, ok = Lookup(name)
	assert.False(t, ok)
}

func TestRegistryDuplicateName(t *testing.T) {
	name := fmt.Sprintf("test-dup-%d", testRingSeq.Add(1))
	r, err := New(name, memory.SpaceHost)
	require.NoError(t, err)
	defer r.Destroy()

	_, err = New(name, memory.SpaceHost)
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestRegistryMatch(t *testing.T) {
	id := testRingSeq.Add(1)
	var rings []*Ring
	for _, suffix := range []string{"adc", "fft", "out"} {
		r, err := New(fmt.Sprintf("pipe%d-%s", id, suffix), memory.SpaceHost)
		require.NoError(t, err)
		defer r.Destroy()
		rings = append(rings, r)
	}

	got, err := Match(fmt.Sprintf("pipe%d-*", id))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, rings[0], got[0], "matches are sorted by name")

	got, err = Match(fmt.Sprintf("pipe%d-f*", id))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "fft", got[0].Name()[len(fmt.Sprintf("pipe%d-", id)):])

	_, err = Match("[")
	require.ErrorIs(t, err, ErrInvalidArgument)
}

func TestNewValidation(t *testing.T) {
	_, err := New("bad", memory.SpaceAuto)
	require.ErrorIs(t, err, ErrInvalidArgument)

	r, err := New("", memory.SpaceHost)
	require.NoError(t, err)
	defer r.Destroy()
	assert.NotEmpty(t, r.Name(), "empty names are generated")

	slug, err := New(fmt.Sprintf("with/slash-%d", testRingSeq.Add(1)), memory.SpaceHost)
	require.NoError(t, err)
	defer slug.Destroy()
	assert.NotContains(t, slug.Name(), "/")
}

func TestDestroyBusy(t *testing.T) {
	r := newTestRing(t, 64, 256, 1)

	w, err := r.BeginWriting()
	require.NoError(t, err)
	seq, err := w.BeginSequence("busy", 0, nil)
	require.NoError(t, err)
	writeSpan(t, seq, 64, 1)

	rs, err := r.OpenEarliestSequence(true)
	require.NoError(t, err)
	require.ErrorIs(t, r.Destroy(), ErrRingBusy)

	require.NoError(t, rs.Close())
	require.NoError(t, seq.End())
	require.NoError(t, w.Close())
	require.NoError(t, r.Destroy())
}
