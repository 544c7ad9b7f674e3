package ring

import (
	"fmt"

	"github.com/lwa-project/bifrost/array"
)

// Descriptor builds an nringlet × n typed view over the span's window.
// The dtype size must divide the span size. Rows are strided by the
// ring's row stride; within a row elements are contiguous.
func (sp *WriteSpan) Descriptor(dtype array.DType) (array.Descriptor, error) {
	return spanDescriptor(sp.Raw(), sp.ring, sp.size, dtype)
}

// Descriptor builds an nringlet × n typed read-only view over the span's
// window.
func (sp *ReadSpan) Descriptor(dtype array.DType) (array.Descriptor, error) {
	return spanDescriptor(sp.Raw(), sp.ring, sp.size, dtype)
}

func spanDescriptor(raw []byte, r *Ring, size int64, dtype array.DType) (array.Descriptor, error) {
	itemsize := int64(dtype.Itemsize())
	if size%itemsize != 0 {
		return array.Descriptor{}, fmt.Errorf("%w: dtype %s does not divide a %d byte span",
			ErrInvalidArgument, dtype, size)
	}
	d := array.Descriptor{
		Space:   r.space,
		DType:   dtype,
		Shape:   []int{r.nringlet, int(size / itemsize)},
		Strides: []int{int(r.stride), int(itemsize)},
		Data:    raw,
	}
	if err := d.Validate(); err != nil {
		return array.Descriptor{}, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	return d, nil
}
