package quantized

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/quantized/shapeinference"
	"github.com/gomlx/quantized/tensors"
	"github.com/pkg/errors"
)

// QuantizePerToken converts a floating point tensor to the quantized dtype using one
// (scale, zeroPoint) pair per token, where a token is one vector along the trailing
// dimension (so numel(input)/lastDim tokens, enumerated in row-major order):
//
//	q[t, :] = clamp(roundHalfEven(x[t, :]/scales[t] + zeroPoints[t]), quantMin, quantMax)
//
// Note the zero-point is added before rounding here, unlike the per-tensor and
// per-channel variants. scales and zeroPoints must have exactly one element per
// token; they are usually the (numTokens, 1) tensors produced by the per-token
// choosers, whose float-typed zero-points are accepted and rounded half-to-even.
func QuantizePerToken(input, scales, zeroPoints *tensors.Tensor, quantMin, quantMax int64, dtype dtypes.DType) *tensors.Tensor {
	if zeroPoints == nil {
		panic(errors.Wrapf(shapeinference.ErrInvalidArgument, "QuantizePerToken: zeroPoints are required"))
	}
	outputShape, err := shapeinference.QuantizePerToken(
		input.Shape(), scales.Shape(), zeroPoints.Shape(), quantMin, quantMax, dtype)
	panicOnError(err)

	tokenSize := input.Shape().Dim(-1)
	numTokens := input.Size() / tokenSize
	scaleValues, zpValues := qparamsForChannels(scales, zeroPoints, numTokens)
	values := float32Values(input)
	output := tensors.FromShape(outputShape)
	for t := 0; t < numTokens; t++ {
		start := t * tokenSize
		quantizeSlice(output, start, values[start:start+tokenSize],
			scaleValues[t], zpValues[t], false, quantMin, quantMax)
	}
	return output
}

// DequantizePerToken reconstructs the floating point approximation of a per-token
// quantized tensor:
//
//	x[t, :] = (q[t, :] - zeroPoints[t]) * scales[t]
//
// dtype declares the input's quantized kind and must match the input. outDType is
// mandatory and selects the output's floating point kind.
func DequantizePerToken(input, scales, zeroPoints *tensors.Tensor, quantMin, quantMax int64, dtype, outDType dtypes.DType) *tensors.Tensor {
	if zeroPoints == nil {
		panic(errors.Wrapf(shapeinference.ErrInvalidArgument, "DequantizePerToken: zeroPoints are required"))
	}
	outputShape, err := shapeinference.DequantizePerToken(
		input.Shape(), scales.Shape(), zeroPoints.Shape(), quantMin, quantMax, dtype, outDType)
	panicOnError(err)

	tokenSize := input.Shape().Dim(-1)
	numTokens := input.Size() / tokenSize
	scaleValues, zpValues := qparamsForChannels(scales, zeroPoints, numTokens)
	values := quantizedValues(input)
	output := tensors.FromShape(outputShape)
	for t := 0; t < numTokens; t++ {
		start := t * tokenSize
		dequantizeSlice(output, start, values[start:start+tokenSize], scaleValues[t], zpValues[t])
	}
	return output
}
