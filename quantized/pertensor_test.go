package quantized

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/quantized/shapeinference"
	"github.com/gomlx/quantized/tensors"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestQuantizePerTensor(t *testing.T) {
	// round(-2)+10=8, round(0)+10=10, round(5)+10=15.
	input := tensors.FromFlatDataAndDimensions([]float32{-1.0, 0.0, 2.5}, 3)
	got := QuantizePerTensor(input, 0.5, 10, 0, 255, dtypes.Uint8)
	assert.True(t, got.Equal(tensors.FromFlatDataAndDimensions([]uint8{8, 10, 15}, 3)))

	// Values on the grid survive the round trip exactly.
	back := DequantizePerTensor(got, 0.5, 10, 0, 255, dtypes.Uint8, dtypes.InvalidDType)
	assert.True(t, back.Equal(input))
}

func TestQuantizePerTensorRoundsHalfToEven(t *testing.T) {
	input := tensors.FromFlatDataAndDimensions([]float32{0.5, 1.5, 2.5, -0.5, -1.5}, 5)
	got := QuantizePerTensor(input, 1, 0, -128, 127, dtypes.Int8)
	assert.True(t, got.Equal(tensors.FromFlatDataAndDimensions([]int8{0, 2, 2, 0, -2}, 5)))
}

func TestQuantizePerTensorClamps(t *testing.T) {
	input := tensors.FromFlatDataAndDimensions([]float32{-1000, 1000}, 2)
	got := QuantizePerTensor(input, 1, 0, -100, 100, dtypes.Int8)
	assert.True(t, got.Equal(tensors.FromFlatDataAndDimensions([]int8{-100, 100}, 2)))
}

func TestQuantizePerTensorWidensHalfPrecision(t *testing.T) {
	values := []float32{-1.0, 0.0, 2.5}
	want := QuantizePerTensor(tensors.FromFlatDataAndDimensions(values, 3), 0.5, 10, 0, 15, dtypes.Uint8)

	halves := make([]float16.Float16, len(values))
	for ii, v := range values {
		halves[ii] = float16.Fromfloat32(v)
	}
	got := QuantizePerTensor(tensors.FromFlatDataAndDimensions(halves, 3), 0.5, 10, 0, 15, dtypes.Uint8)
	assert.True(t, got.Equal(want))
}

func TestQuantizePerTensorTensors(t *testing.T) {
	input := tensors.FromFlatDataAndDimensions([]float32{-1.0, 0.0, 2.5}, 3)
	scale := tensors.FromFlatDataAndDimensions([]float64{0.5}, 1)
	zeroPoint := tensors.FromFlatDataAndDimensions([]int64{10}, 1)
	want := QuantizePerTensor(input, 0.5, 10, 0, 15, dtypes.Uint8)
	got := QuantizePerTensorTensors(input, scale, zeroPoint, 0, 15, dtypes.Uint8)
	assert.True(t, got.Equal(want))

	// Float-typed zero-points holding integral values are accepted, for interop with
	// the per-token choosers.
	floatZp := tensors.FromFlatDataAndDimensions([]float32{10}, 1)
	got = QuantizePerTensorTensors(input, scale, floatZp, 0, 15, dtypes.Uint8)
	assert.True(t, got.Equal(want))

	back := DequantizePerTensorTensors(got, scale, zeroPoint, 0, 15, dtypes.Uint8, dtypes.InvalidDType)
	assert.True(t, back.Equal(input))
}

func TestDequantizePerTensorOutputDTypes(t *testing.T) {
	input := tensors.FromFlatDataAndDimensions([]int8{-2, 0, 5}, 3)
	got := DequantizePerTensor(input, 0.5, 0, -128, 127, dtypes.Int8, dtypes.InvalidDType)
	assert.Equal(t, dtypes.Float32, got.DType(), "InvalidDType selects Float32")
	assert.True(t, got.Equal(tensors.FromFlatDataAndDimensions([]float32{-1, 0, 2.5}, 3)))

	got64 := DequantizePerTensor(input, 0.5, 0, -128, 127, dtypes.Int8, dtypes.Float64)
	assert.True(t, got64.Equal(tensors.FromFlatDataAndDimensions([]float64{-1, 0, 2.5}, 3)))
}

func TestPerTensorValidationPanics(t *testing.T) {
	input := tensors.FromFlatDataAndDimensions([]float32{1, 2}, 2)

	err := exceptions.TryCatch[error](func() {
		QuantizePerTensor(input, 1, 0, -129, 127, dtypes.Int8)
	})
	require.True(t, errors.Is(err, shapeinference.ErrOutOfRange), "got %v", err)

	err = exceptions.TryCatch[error](func() {
		QuantizePerTensor(input, 1, 0, 0, 255, dtypes.Float32)
	})
	require.True(t, errors.Is(err, shapeinference.ErrUnsupportedDType), "got %v", err)

	intInput := tensors.FromFlatDataAndDimensions([]int32{1, 2}, 2)
	err = exceptions.TryCatch[error](func() {
		QuantizePerTensor(intInput, 1, 0, -128, 127, dtypes.Int8)
	})
	require.True(t, errors.Is(err, shapeinference.ErrDTypeMismatch), "got %v", err)

	quantized := tensors.FromFlatDataAndDimensions([]int8{1, 2}, 2)
	err = exceptions.TryCatch[error](func() {
		DequantizePerTensor(quantized, 1, 0, -128, 127, dtypes.Uint8, dtypes.InvalidDType)
	})
	require.True(t, errors.Is(err, shapeinference.ErrDTypeMismatch), "got %v", err)
}

func TestPerTensorMatchesInferredShape(t *testing.T) {
	input := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	inferred, err := shapeinference.QuantizePerTensor(input.Shape(), -128, 127, dtypes.Int8)
	require.NoError(t, err)
	got := QuantizePerTensor(input, 0.1, 0, -128, 127, dtypes.Int8)
	assert.True(t, got.Shape().Equal(inferred))
}
