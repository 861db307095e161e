package quantized

import (
	"math"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/quantized/shapeinference"
	"github.com/gomlx/quantized/tensors"
	"github.com/pkg/errors"
)

// groupLayout applies the single-group fallback: when groupSize exceeds the trailing
// dimension and exactly one scale is supplied, each row is one group and the single
// (scale, zeroPoint) pair is broadcast over all of them.
func groupLayout(input *tensors.Tensor, scales *tensors.Tensor, groupSize int) (effective int, broadcast bool) {
	lastDim := input.Shape().Dim(-1)
	if groupSize > lastDim && scales.Size() == 1 {
		return lastDim, true
	}
	return groupSize, false
}

// QuantizePerChannelGroup converts a rank-2 floating point tensor to the quantized
// dtype using one (scale, zeroPoint) pair per contiguous run of groupSize elements
// within each row:
//
//	q[r, g*groupSize+j] = clamp(roundHalfEven(x[r, g*groupSize+j]/scales[r, g] + zeroPoints[r, g]), quantMin, quantMax)
//
// groupSize must be > 1 and divide the trailing dimension, except for the
// single-group fallback: when groupSize exceeds the trailing dimension and exactly
// one scale is supplied, each row is one group and the single pair is broadcast over
// all rows. Outside the fallback, groups are enumerated in row-major order, matching
// flat scales/zeroPoints of numel(input)/groupSize elements.
//
// NaN input values are rejected with an error wrapping ErrInvalidInput: a NaN would
// otherwise quantize to an arbitrary in-range value and silently corrupt the result.
func QuantizePerChannelGroup(input, scales, zeroPoints *tensors.Tensor, quantMin, quantMax int64, dtype dtypes.DType, groupSize int) *tensors.Tensor {
	if zeroPoints == nil {
		panic(errors.Wrapf(shapeinference.ErrInvalidArgument, "QuantizePerChannelGroup: zeroPoints are required"))
	}
	outputShape, err := shapeinference.QuantizePerChannelGroup(
		input.Shape(), scales.Shape(), zeroPoints.Shape(), quantMin, quantMax, dtype, groupSize)
	panicOnError(err)

	values := float32Values(input)
	for _, x := range values {
		if math.IsNaN(float64(x)) {
			panic(errors.Wrapf(shapeinference.ErrInvalidInput, "QuantizePerChannelGroup: input contains NaN"))
		}
	}

	groupSize, broadcast := groupLayout(input, scales, groupSize)
	numGroups := input.Size() / groupSize
	scaleValues, zpValues := qparamsForChannels(scales, zeroPoints, scales.Size())
	output := tensors.FromShape(outputShape)
	for g := 0; g < numGroups; g++ {
		p := g
		if broadcast {
			p = 0
		}
		start := g * groupSize
		quantizeSlice(output, start, values[start:start+groupSize],
			scaleValues[p], zpValues[p], false, quantMin, quantMax)
	}
	return output
}

// DequantizePerChannelGroup reconstructs the floating point approximation of a
// per-channel-group quantized rank-2 tensor:
//
//	x[r, g*groupSize+j] = (q[r, g*groupSize+j] - zeroPoints[r, g]) * scales[r, g]
//
// zeroPoints may be nil, in which case a scalar zero is broadcast over all groups
// (unlike DequantizePerChannel, which materializes a zero vector -- see the package
// documentation). The single-group fallback of QuantizePerChannelGroup applies here
// too. dtype declares the input's quantized kind and must match the input. outDType
// is mandatory and selects the output's floating point kind.
func DequantizePerChannelGroup(input, scales, zeroPoints *tensors.Tensor, quantMin, quantMax int64, dtype dtypes.DType, groupSize int, outDType dtypes.DType) *tensors.Tensor {
	outputShape, err := shapeinference.DequantizePerChannelGroup(
		input.Shape(), scales.Shape(), shapeOrInvalid(zeroPoints), quantMin, quantMax, dtype, groupSize, outDType)
	panicOnError(err)

	groupSize, broadcast := groupLayout(input, scales, groupSize)
	numGroups := input.Size() / groupSize
	scaleValues := qparamFloats(scales)
	var zpValues []float64
	if zeroPoints != nil {
		zpValues = qparamFloats(zeroPoints)
		for ii, zp := range zpValues {
			zpValues[ii] = math.RoundToEven(zp)
		}
	}
	values := quantizedValues(input)
	output := tensors.FromShape(outputShape)
	for g := 0; g < numGroups; g++ {
		p := g
		if broadcast {
			p = 0
		}
		var zp float64
		if zpValues != nil {
			zp = zpValues[p]
		}
		start := g * groupSize
		dequantizeSlice(output, start, values[start:start+groupSize], scaleValues[p], zp)
	}
	return output
}
