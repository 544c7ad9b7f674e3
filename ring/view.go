package ring

import "slices"

// HeaderTransform rewrites sequence header bytes before a reader sees
// them. Transforms must be pure; returning nil is an error surfaced at
// Header().
type HeaderTransform func([]byte) ([]byte, error)

// View decorates a ring with a chain of header transforms. The ring
// itself stays oblivious to header contents; only sequences opened
// through the view observe the transformed headers. Views nest: a view of
// a view composes the chains left to right.
type View struct {
	ring       *Ring
	transforms []HeaderTransform
}

// View wraps the ring so that readers opened through it see transform
// applied to every sequence header.
func (r *Ring) View(transform HeaderTransform) *View {
	return &View{ring: r, transforms: []HeaderTransform{transform}}
}

// View returns a new view with transform appended to the chain.
func (v *View) View(transform HeaderTransform) *View {
	chain := slices.Clone(v.transforms)
	return &View{ring: v.ring, transforms: append(chain, transform)}
}

// Ring returns the underlying ring.
func (v *View) Ring() *Ring { return v.ring }

// OpenSequence is Ring.OpenSequence with the view's header transforms.
func (v *View) OpenSequence(name string, guarantee bool) (*ReadSequence, error) {
	return v.ring.open(selector{kind: selByName, name: Slugify(name)}, guarantee, v.transforms)
}

// OpenSequenceAt is Ring.OpenSequenceAt with the view's header transforms.
func (v *View) OpenSequenceAt(timeTag int64, guarantee bool) (*ReadSequence, error) {
	return v.ring.open(selector{kind: selAt, timeTag: timeTag}, guarantee, v.transforms)
}

// OpenLatestSequence is Ring.OpenLatestSequence with the view's header
// transforms.
func (v *View) OpenLatestSequence(guarantee bool) (*ReadSequence, error) {
	return v.ring.open(selector{kind: selLatest}, guarantee, v.transforms)
}

// OpenEarliestSequence is Ring.OpenEarliestSequence with the view's
// header transforms.
func (v *View) OpenEarliestSequence(guarantee bool) (*ReadSequence, error) {
	return v.ring.open(selector{kind: selEarliest}, guarantee, v.transforms)
}
