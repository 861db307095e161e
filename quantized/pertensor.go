package quantized

import (
	"math"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/quantized/shapeinference"
	"github.com/gomlx/quantized/tensors"
)

// QuantizePerTensor converts a floating point tensor to the quantized dtype using a
// single scale and zero-point for all elements:
//
//	q = clamp(roundHalfEven(x/scale) + zeroPoint, quantMin, quantMax)
//
// Rounding happens before the zero-point shift. The input must be Float32 (Float16
// and BFloat16 are widened to Float32 first), dtype one of the kinds accepted by
// shapeinference.BoundsForDType, and [quantMin, quantMax] within that dtype's bounds.
// The result has the input's dimensions with the quantized dtype.
func QuantizePerTensor(input *tensors.Tensor, scale float64, zeroPoint, quantMin, quantMax int64, dtype dtypes.DType) *tensors.Tensor {
	outputShape, err := shapeinference.QuantizePerTensor(input.Shape(), quantMin, quantMax, dtype)
	panicOnError(err)
	output := tensors.FromShape(outputShape)
	quantizeSlice(output, 0, float32Values(input), scale, float64(zeroPoint), true, quantMin, quantMax)
	return output
}

// QuantizePerTensorTensors is QuantizePerTensor with the scale and zero-point given
// as single-element tensors, as produced by ChooseQparams. The zero-point tensor may
// be integer or float typed (rounded half-to-even when float).
func QuantizePerTensorTensors(input, scale, zeroPoint *tensors.Tensor, quantMin, quantMax int64, dtype dtypes.DType) *tensors.Tensor {
	outputShape, err := shapeinference.QuantizePerTensorTensors(
		input.Shape(), scale.Shape(), zeroPoint.Shape(), quantMin, quantMax, dtype)
	panicOnError(err)
	output := tensors.FromShape(outputShape)
	zp := math.RoundToEven(qparamFloats(zeroPoint)[0])
	quantizeSlice(output, 0, float32Values(input), qparamFloats(scale)[0], zp, true, quantMin, quantMax)
	return output
}

// DequantizePerTensor reconstructs the floating point approximation of a quantized
// tensor:
//
//	x = (q - zeroPoint) * scale
//
// dtype declares the input's quantized kind and must match the input. quantMin and
// quantMax are carried as metadata for symmetry with QuantizePerTensor but are not
// enforced against the data. outDType selects the output's floating point kind;
// dtypes.InvalidDType selects Float32.
func DequantizePerTensor(input *tensors.Tensor, scale float64, zeroPoint, quantMin, quantMax int64, dtype, outDType dtypes.DType) *tensors.Tensor {
	outputShape, err := shapeinference.DequantizePerTensor(input.Shape(), quantMin, quantMax, dtype, outDType)
	panicOnError(err)
	output := tensors.FromShape(outputShape)
	dequantizeSlice(output, 0, quantizedValues(input), scale, float64(zeroPoint))
	return output
}

// DequantizePerTensorTensors is DequantizePerTensor with the scale and zero-point
// given as single-element tensors.
func DequantizePerTensorTensors(input, scale, zeroPoint *tensors.Tensor, quantMin, quantMax int64, dtype, outDType dtypes.DType) *tensors.Tensor {
	outputShape, err := shapeinference.DequantizePerTensorTensors(
		input.Shape(), scale.Shape(), zeroPoint.Shape(), quantMin, quantMax, dtype, outDType)
	panicOnError(err)
	output := tensors.FromShape(outputShape)
	zp := math.RoundToEven(qparamFloats(zeroPoint)[0])
	dequantizeSlice(output, 0, quantizedValues(input), qparamFloats(scale)[0], zp)
	return output
}
