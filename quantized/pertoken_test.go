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
)

func TestQuantizePerToken(t *testing.T) {
	input := tensors.FromFlatDataAndDimensions([]float32{
		1, 2, 3,
		10, 20, 30,
	}, 2, 3)
	scales := tensors.FromFlatDataAndDimensions([]float32{0.1, 1}, 2, 1)
	zeroPoints := tensors.FromFlatDataAndDimensions([]float32{1, -1}, 2, 1)

	got := QuantizePerToken(input, scales, zeroPoints, -128, 127, dtypes.Int8)
	assert.True(t, got.Equal(tensors.FromFlatDataAndDimensions([]int8{
		11, 21, 31,
		9, 19, 29,
	}, 2, 3)))

	back := DequantizePerToken(got, scales, zeroPoints, -128, 127, dtypes.Int8, dtypes.Float32)
	assert.True(t, back.InDelta(input, 1e-6))
}

func TestQuantizePerTokenAddsZeroPointBeforeRounding(t *testing.T) {
	// x/scale=0.5 with zeroPoint=1: rounding first gives 0+1=1, but the per-token
	// formula rounds the sum, 1.5, which rounds to even 2.
	input := tensors.FromFlatDataAndDimensions([]float32{0.5}, 1, 1)
	scales := tensors.FromFlatDataAndDimensions([]float32{1}, 1, 1)
	zeroPoints := tensors.FromFlatDataAndDimensions([]float32{1}, 1, 1)

	perToken := QuantizePerToken(input, scales, zeroPoints, -128, 127, dtypes.Int8)
	assert.True(t, perToken.Equal(tensors.FromFlatDataAndDimensions([]int8{2}, 1, 1)))

	perTensor := QuantizePerTensor(input, 1, 1, -128, 127, dtypes.Int8)
	assert.True(t, perTensor.Equal(tensors.FromFlatDataAndDimensions([]int8{1}, 1, 1)))
}

func TestPerTokenLeadingAxesFold(t *testing.T) {
	// (2, 2, 2) has 4 tokens; the same data as a (4, 2) tensor quantizes identically.
	values := []float32{1, 2, 3, 4, 5, 6, 7, 8}
	scales := tensors.FromFlatDataAndDimensions([]float32{1, 0.5, 2, 0.25}, 4, 1)
	zeroPoints := tensors.FromFlatDataAndDimensions([]float32{0, 0, 0, 0}, 4, 1)

	got3D := QuantizePerToken(tensors.FromFlatDataAndDimensions(values, 2, 2, 2),
		scales, zeroPoints, -128, 127, dtypes.Int8)
	got2D := QuantizePerToken(tensors.FromFlatDataAndDimensions(values, 4, 2),
		scales, zeroPoints, -128, 127, dtypes.Int8)
	assert.Equal(t, tensors.CopyFlatData[int8](got2D), tensors.CopyFlatData[int8](got3D))
}

func TestPerTokenValidationPanics(t *testing.T) {
	input := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	scales := tensors.FromFlatDataAndDimensions([]float32{1, 1, 1}, 3, 1)
	zeroPoints := tensors.FromFlatDataAndDimensions([]float32{0, 0, 0}, 3, 1)

	// 3 parameters for 2 tokens.
	err := exceptions.TryCatch[error](func() {
		QuantizePerToken(input, scales, zeroPoints, -128, 127, dtypes.Int8)
	})
	require.True(t, errors.Is(err, shapeinference.ErrShapeMismatch), "got %v", err)

	quantizedInput := tensors.FromFlatDataAndDimensions([]int8{1, 2, 3, 4, 5, 6}, 2, 3)
	twoScales := tensors.FromFlatDataAndDimensions([]float32{1, 1}, 2, 1)
	twoZps := tensors.FromFlatDataAndDimensions([]float32{0, 0}, 2, 1)
	err = exceptions.TryCatch[error](func() {
		DequantizePerToken(quantizedInput, twoScales, twoZps, -128, 127, dtypes.Int8, dtypes.InvalidDType)
	})
	require.True(t, errors.Is(err, shapeinference.ErrInvalidArgument), "outDType is mandatory, got %v", err)
}
