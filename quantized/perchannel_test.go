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

func TestQuantizePerChannel(t *testing.T) {
	input := tensors.FromFlatDataAndDimensions([]float32{
		1, 2, 3,
		-1, -2, -3,
	}, 2, 3)
	scales := tensors.FromFlatDataAndDimensions([]float32{0.5, 1, 2}, 3)
	zeroPoints := tensors.FromFlatDataAndDimensions([]int32{0, 1, -1}, 3)

	got := QuantizePerChannel(input, scales, zeroPoints, 1, -128, 127, dtypes.Int8)
	// Column 2: round(3/2)=round(1.5) rounds to even 2, then zeroPoint -1.
	assert.True(t, got.Equal(tensors.FromFlatDataAndDimensions([]int8{
		2, 3, 1,
		-2, -1, -3,
	}, 2, 3)))

	back := DequantizePerChannel(got, scales, zeroPoints, 1, -128, 127, dtypes.Int8, dtypes.InvalidDType)
	assert.True(t, back.Equal(tensors.FromFlatDataAndDimensions([]float32{
		1, 2, 4,
		-1, -2, -4,
	}, 2, 3)))
}

func TestQuantizePerChannelAxis0(t *testing.T) {
	input := tensors.FromFlatDataAndDimensions([]float32{
		1, 2, 3,
		-1, -2, -3,
	}, 2, 3)
	scales := tensors.FromFlatDataAndDimensions([]float32{1, 0.5}, 2)
	zeroPoints := tensors.FromFlatDataAndDimensions([]int32{0, 0}, 2)

	got := QuantizePerChannel(input, scales, zeroPoints, 0, -128, 127, dtypes.Int8)
	assert.True(t, got.Equal(tensors.FromFlatDataAndDimensions([]int8{
		1, 2, 3,
		-2, -4, -6,
	}, 2, 3)))

	back := DequantizePerChannel(got, scales, zeroPoints, 0, -128, 127, dtypes.Int8, dtypes.InvalidDType)
	assert.True(t, back.Equal(input), "values on the per-channel grid round trip exactly")
}

func TestDequantizePerChannelNilZeroPoints(t *testing.T) {
	input := tensors.FromFlatDataAndDimensions([]int8{
		2, 4, 6,
		-2, -4, -6,
	}, 2, 3)
	scales := tensors.FromFlatDataAndDimensions([]float32{0.5, 0.25}, 2)
	got := DequantizePerChannel(input, scales, nil, 0, -128, 127, dtypes.Int8, dtypes.InvalidDType)
	assert.True(t, got.Equal(tensors.FromFlatDataAndDimensions([]float32{
		1, 2, 3,
		-0.5, -1, -1.5,
	}, 2, 3)))
}

func TestQuantizePerChannelRank3(t *testing.T) {
	// Middle axis: parameters indexed by the channel coordinate, whatever the
	// position of the remaining axes.
	input := tensors.FromFlatDataAndDimensions([]float32{
		1, 2, 10, 20,
		3, 4, 30, 40,
	}, 2, 2, 2)
	scales := tensors.FromFlatDataAndDimensions([]float32{1, 10}, 2)
	zeroPoints := tensors.FromFlatDataAndDimensions([]int32{0, 0}, 2)

	got := QuantizePerChannel(input, scales, zeroPoints, 1, -128, 127, dtypes.Int8)
	assert.True(t, got.Equal(tensors.FromFlatDataAndDimensions([]int8{
		1, 2, 1, 2,
		3, 4, 3, 4,
	}, 2, 2, 2)))
}

func TestPerChannelValidationPanics(t *testing.T) {
	input := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	scales := tensors.FromFlatDataAndDimensions([]float32{1, 1, 1}, 3)
	zeroPoints := tensors.FromFlatDataAndDimensions([]int32{0, 0, 0}, 3)

	err := exceptions.TryCatch[error](func() {
		QuantizePerChannel(input, scales, zeroPoints, 0, -128, 127, dtypes.Int8)
	})
	require.True(t, errors.Is(err, shapeinference.ErrShapeMismatch), "got %v", err)

	err = exceptions.TryCatch[error](func() {
		QuantizePerChannel(input, scales, zeroPoints, 2, -128, 127, dtypes.Int8)
	})
	require.True(t, errors.Is(err, shapeinference.ErrInvalidArgument), "got %v", err)

	err = exceptions.TryCatch[error](func() {
		QuantizePerChannel(input, scales, nil, 1, -128, 127, dtypes.Int8)
	})
	require.True(t, errors.Is(err, shapeinference.ErrInvalidArgument), "got %v", err)
}
