package array

import (
	"fmt"
	"unsafe"

	"github.com/lwa-project/bifrost/memory"
)

// Descriptor is the runtime-tagged description of a strided array: where
// the bytes live, what one element is, and how indices map to byte
// offsets. Strides are in bytes.
type Descriptor struct {
	Space      memory.Space
	DType      DType
	Shape      []int
	Strides    []int
	Data       []byte
	Conjugated bool
	BigEndian  bool
}

// Contiguous returns row-major byte strides for the shape and dtype.
func Contiguous(shape []int, dtype DType) []int {
	strides := make([]int, len(shape))
	step := dtype.Itemsize()
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = step
		step *= shape[i]
	}
	return strides
}

// NewDescriptor builds a contiguous row-major descriptor over data.
func NewDescriptor(data []byte, space memory.Space, dtype DType, shape ...int) (Descriptor, error) {
	d := Descriptor{
		Space:   space,
		DType:   dtype,
		Shape:   shape,
		Strides: Contiguous(shape, dtype),
		Data:    data,
	}
	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// NElements returns the number of elements addressed by the descriptor.
func (d Descriptor) NElements() int {
	n := 1
	for _, dim := range d.Shape {
		n *= dim
	}
	return n
}

// NBytes returns the number of data bytes the elements occupy.
func (d Descriptor) NBytes() int {
	return d.NElements() * d.DType.Itemsize()
}

// Validate checks that every index maps inside the data buffer.
func (d Descriptor) Validate() error {
	if len(d.Shape) != len(d.Strides) {
		return fmt.Errorf("shape/stride rank mismatch: %d vs %d", len(d.Shape), len(d.Strides))
	}
	if d.DType.Itemsize() == 0 {
		return fmt.Errorf("descriptor has no dtype")
	}
	last := d.DType.Itemsize()
	for i, dim := range d.Shape {
		if dim <= 0 {
			return fmt.Errorf("dimension %d has extent %d", i, dim)
		}
		if d.Strides[i] < 0 {
			return fmt.Errorf("negative stride %d on dimension %d", d.Strides[i], i)
		}
		last += (dim - 1) * d.Strides[i]
	}
	if last > len(d.Data) {
		return fmt.Errorf("descriptor addresses %d bytes over a %d byte buffer", last, len(d.Data))
	}
	return nil
}

// byteOffset maps an index tuple to its byte offset.
func (d Descriptor) byteOffset(idx []int) int {
	if len(idx) != len(d.Shape) {
		panic(fmt.Sprintf("array: rank %d index on rank %d descriptor", len(idx), len(d.Shape)))
	}
	off := 0
	for i, x := range idx {
		if x < 0 || x >= d.Shape[i] {
			panic(fmt.Sprintf("array: index %d out of range [0, %d)", x, d.Shape[i]))
		}
		off += x * d.Strides[i]
	}
	return off
}

// View pins element type T onto a descriptor whose dtype has the same
// size, giving direct typed indexing into the raw bytes.
type View[T any] struct {
	desc Descriptor
}

// NewView checks that T matches the descriptor's dtype size.
func NewView[T any](d Descriptor) (View[T], error) {
	var zero T
	if size := int(unsafe.Sizeof(zero)); size != d.DType.Itemsize() {
		return View[T]{}, fmt.Errorf("element type of %d bytes does not match dtype %s", size, d.DType)
	}
	if err := d.Validate(); err != nil {
		return View[T]{}, err
	}
	return View[T]{desc: d}, nil
}

// Descriptor returns the underlying descriptor.
func (v View[T]) Descriptor() Descriptor { return v.desc }

// At returns the element at the index tuple.
func (v View[T]) At(idx ...int) T {
	return *(*T)(unsafe.Pointer(&v.desc.Data[v.desc.byteOffset(idx)]))
}

// Set stores the element at the index tuple.
func (v View[T]) Set(value T, idx ...int) {
	*(*T)(unsafe.Pointer(&v.desc.Data[v.desc.byteOffset(idx)])) = value
}

// Row returns the contiguous innermost row at the given outer indices.
// The innermost stride must equal the element size.
func (v View[T]) Row(idx ...int) []T {
	d := v.desc
	if len(idx) != len(d.Shape)-1 {
		panic(fmt.Sprintf("array: Row wants %d indices, got %d", len(d.Shape)-1, len(idx)))
	}
	inner := len(d.Shape) - 1
	if d.Strides[inner] != d.DType.Itemsize() {
		panic("array: innermost dimension is not contiguous")
	}
	off := 0
	for i, x := range idx {
		if x < 0 || x >= d.Shape[i] {
			panic(fmt.Sprintf("array: index %d out of range [0, %d)", x, d.Shape[i]))
		}
		off += x * d.Strides[i]
	}
	ptr := (*T)(unsafe.Pointer(&d.Data[off]))
	return unsafe.Slice(ptr, d.Shape[inner])
}
