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

func TestFakeQuantPerChannel(t *testing.T) {
	input := tensors.FromFlatDataAndDimensions([]float32{
		1.5, 0.6,
		5, -3,
	}, 2, 2)
	scales := tensors.FromFlatDataAndDimensions([]float32{1, 0.5}, 2)
	zeroPoints := tensors.FromFlatDataAndDimensions([]int32{0, 0}, 2)

	output, mask := FakeQuantPerChannel(input, scales, zeroPoints, 1, -2, 2)
	// 1.5 rounds to even 2, still in range; 5 and -6 saturate.
	assert.True(t, output.Equal(tensors.FromFlatDataAndDimensions([]float32{
		2, 0.5,
		2, -1,
	}, 2, 2)))
	assert.True(t, mask.Equal(tensors.FromFlatDataAndDimensions([]bool{
		true, true,
		false, false,
	}, 2, 2)))
}

func TestFakeQuantPerChannelTruncatesFloatZeroPoints(t *testing.T) {
	// A float zero-point of 2.7 acts as 2, not as the nearest integer 3. With the
	// narrow [0, 3] range, x=1 lands on q=3 under truncation but would saturate at
	// q=4 under rounding.
	input := tensors.FromFlatDataAndDimensions([]float32{0, 1}, 1, 2)
	scales := tensors.FromFlatDataAndDimensions([]float32{1}, 1)
	zeroPoints := tensors.FromFlatDataAndDimensions([]float32{2.7}, 1)

	output, mask := FakeQuantPerChannel(input, scales, zeroPoints, 0, 0, 3)
	assert.True(t, output.Equal(tensors.FromFlatDataAndDimensions([]float32{0, 1}, 1, 2)))
	assert.True(t, mask.Equal(tensors.FromFlatDataAndDimensions([]bool{true, true}, 1, 2)))
}

func TestFakeQuantPerChannelMatchesRoundTrip(t *testing.T) {
	// Away from saturation, fake-quantizing is exactly quantize followed by
	// dequantize.
	input := tensors.FromFlatDataAndDimensions([]float32{
		0.3, -1.2, 2.7,
		-0.4, 1.9, -2.6,
	}, 2, 3)
	scales := tensors.FromFlatDataAndDimensions([]float32{0.1, 0.2, 0.3}, 3)
	zeroPoints := tensors.FromFlatDataAndDimensions([]int32{1, -1, 0}, 3)

	output, mask := FakeQuantPerChannel(input, scales, zeroPoints, 1, -128, 127)
	q := QuantizePerChannel(input, scales, zeroPoints, 1, -128, 127, dtypes.Int8)
	back := DequantizePerChannel(q, scales, zeroPoints, 1, -128, 127, dtypes.Int8, dtypes.InvalidDType)
	assert.True(t, output.InDelta(back, 1e-6))
	assert.True(t, mask.Equal(tensors.FromFlatDataAndDimensions([]bool{
		true, true, true,
		true, true, true,
	}, 2, 3)))
}

func TestFakeQuantPerChannelBackward(t *testing.T) {
	gradOutput := tensors.FromFlatDataAndDimensions([]float32{
		1, 2,
		3, 4,
	}, 2, 2)
	mask := tensors.FromFlatDataAndDimensions([]bool{
		true, true,
		false, false,
	}, 2, 2)

	gradInput := FakeQuantPerChannelBackward(gradOutput, mask)
	assert.True(t, gradInput.Equal(tensors.FromFlatDataAndDimensions([]float32{
		1, 2,
		0, 0,
	}, 2, 2)))
}

func TestFakeQuantGradientFlowsThroughForward(t *testing.T) {
	// End to end: saturated elements block the gradient, the rest pass it through.
	input := tensors.FromFlatDataAndDimensions([]float32{0.5, 100, -0.5, -100}, 4, 1)
	scales := tensors.FromFlatDataAndDimensions([]float32{1}, 1)
	zeroPoints := tensors.FromFlatDataAndDimensions([]int32{0}, 1)

	_, mask := FakeQuantPerChannel(input, scales, zeroPoints, 1, -8, 7)
	ones := tensors.FromFlatDataAndDimensions([]float32{1, 1, 1, 1}, 4, 1)
	gradInput := FakeQuantPerChannelBackward(ones, mask)
	assert.True(t, gradInput.Equal(tensors.FromFlatDataAndDimensions([]float32{1, 0, 1, 0}, 4, 1)))
}

func TestFakeQuantValidationPanics(t *testing.T) {
	scales := tensors.FromFlatDataAndDimensions([]float32{1, 1}, 2)
	zeroPoints := tensors.FromFlatDataAndDimensions([]int32{0, 0}, 2)

	// Half precision is not accepted here: the operator is strictly Float32.
	doubleInput := tensors.FromFlatDataAndDimensions([]float64{1, 2, 3, 4}, 2, 2)
	err := exceptions.TryCatch[error](func() {
		FakeQuantPerChannel(doubleInput, scales, zeroPoints, 1, -128, 127)
	})
	require.True(t, errors.Is(err, shapeinference.ErrDTypeMismatch), "got %v", err)

	gradOutput := tensors.FromFlatDataAndDimensions([]float32{1, 2, 3, 4}, 2, 2)
	badMask := tensors.FromFlatDataAndDimensions([]bool{true, true}, 2)
	err = exceptions.TryCatch[error](func() {
		FakeQuantPerChannelBackward(gradOutput, badMask)
	})
	require.True(t, errors.Is(err, shapeinference.ErrShapeMismatch), "got %v", err)
}
