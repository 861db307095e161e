package quantized

import (
	"math"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/quantized/shapeinference"
	"github.com/gomlx/quantized/shapes"
	"github.com/gomlx/quantized/tensors"
	"github.com/pkg/errors"
)

func shapeOrInvalid(t *tensors.Tensor) shapes.Shape {
	if t == nil {
		return shapes.Invalid()
	}
	return t.Shape()
}

// qparamsForChannels extracts per-channel scales and zero-points as float64. A nil
// zeroPoints tensor yields an all-zero vector sized to the channel count. Float-typed
// zero-points are rounded half-to-even.
func qparamsForChannels(scales, zeroPoints *tensors.Tensor, numChannels int) (scaleValues, zpValues []float64) {
	scaleValues = qparamFloats(scales)
	if zeroPoints == nil {
		return scaleValues, make([]float64, numChannels)
	}
	zpValues = qparamFloats(zeroPoints)
	for ii, zp := range zpValues {
		zpValues[ii] = math.RoundToEven(zp)
	}
	return scaleValues, zpValues
}

// QuantizePerChannel converts a floating point tensor to the quantized dtype using
// one (scale, zeroPoint) pair per slice of the input along axis:
//
//	q[..., c, ...] = clamp(roundHalfEven(x[..., c, ...]/scales[c]) + zeroPoints[c], quantMin, quantMax)
//
// scales and zeroPoints must have exactly input.Shape().Dim(axis) elements. The axis
// must already be normalized to [0, rank). The result has the input's dimensions
// with the quantized dtype.
func QuantizePerChannel(input, scales, zeroPoints *tensors.Tensor, axis int, quantMin, quantMax int64, dtype dtypes.DType) *tensors.Tensor {
	if zeroPoints == nil {
		panic(errors.Wrapf(shapeinference.ErrInvalidArgument, "QuantizePerChannel: zeroPoints are required"))
	}
	_, err := shapeinference.QuantizePerChannel(
		input.Shape(), scales.Shape(), zeroPoints.Shape(), axis, quantMin, quantMax, dtype)
	panicOnError(err)

	numChannels := input.Shape().Dim(axis)
	scaleValues, zpValues := qparamsForChannels(scales, zeroPoints, numChannels)
	channelFirst, restore := tensors.PermuteAxisToFront(input, axis)

	values := float32Values(channelFirst)
	output := tensors.FromShape(channelFirst.Shape().WithDType(dtype))
	channelSize := input.Size() / numChannels
	for c := 0; c < numChannels; c++ {
		start := c * channelSize
		quantizeSlice(output, start, values[start:start+channelSize],
			scaleValues[c], zpValues[c], true, quantMin, quantMax)
	}
	return tensors.Transpose(output, restore...)
}

// DequantizePerChannel reconstructs the floating point approximation of a
// per-channel quantized tensor:
//
//	x[..., c, ...] = (q[..., c, ...] - zeroPoints[c]) * scales[c]
//
// zeroPoints may be nil, in which case an all-zero vector sized to the channel count
// is used. dtype declares the input's quantized kind and must match the input.
// outDType selects the output's floating point kind; dtypes.InvalidDType selects
// Float32.
func DequantizePerChannel(input, scales, zeroPoints *tensors.Tensor, axis int, quantMin, quantMax int64, dtype, outDType dtypes.DType) *tensors.Tensor {
	outputShape, err := shapeinference.DequantizePerChannel(
		input.Shape(), scales.Shape(), shapeOrInvalid(zeroPoints), axis, quantMin, quantMax, dtype, outDType)
	panicOnError(err)

	numChannels := input.Shape().Dim(axis)
	scaleValues, zpValues := qparamsForChannels(scales, zeroPoints, numChannels)
	channelFirst, restore := tensors.PermuteAxisToFront(input, axis)

	values := quantizedValues(channelFirst)
	output := tensors.FromShape(channelFirst.Shape().WithDType(outputShape.DType))
	channelSize := input.Size() / numChannels
	for c := 0; c < numChannels; c++ {
		start := c * channelSize
		dequantizeSlice(output, start, values[start:start+channelSize], scaleValues[c], zpValues[c])
	}
	return tensors.Transpose(output, restore...)
}
