package array

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDTypeItemsize(t *testing.T) {
	tests := []struct {
		dtype    DType
		itemsize int
	}{
		{I8, 1},
		{U8, 1},
		{I16, 2},
		{U32, 4},
		{I64, 8},
		{F32, 4},
		{F64, 8},
		{CF32, 8},
		{CF64, 16},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.itemsize, tt.dtype.Itemsize(), "itemsize of %s", tt.dtype)
	}
}

func TestDTypeParseRoundTrip(t *testing.T) {
	for _, dtype := range []DType{I8, I16, I32, I64, U8, U16, U32, U64, F32, F64, CF32, CF64} {
		parsed, err := ParseDType(dtype.String())
		require.NoError(t, err)
		assert.Equal(t, dtype, parsed)
	}
}

func TestDTypeParseInvalid(t *testing.T) {
	for _, code := range []string{"", "x8", "i12", "f", "u", "cf", "i128"} {
		_, err := ParseDType(code)
		assert.Error(t, err, "code %q", code)
	}
}

func TestDTypeKind(t *testing.T) {
	assert.Equal(t, KindInt, I32.Kind())
	assert.Equal(t, KindUint, U8.Kind())
	assert.Equal(t, KindFloat, F64.Kind())
	assert.Equal(t, KindComplex, CF32.Kind())
	assert.Equal(t, 32, CF32.Bits())
}
