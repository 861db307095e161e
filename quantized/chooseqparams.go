package quantized

import (
	"math"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/quantized/shapeinference"
	"github.com/gomlx/quantized/tensors"
	"k8s.io/klog/v2"
)

// float32Eps is the machine epsilon of float32, the hard-coded scale floor of
// ChooseQparamsPerTokenAsymmetric.
const float32Eps = float32(0x1p-23)

// perTokenScaleFloor is the absolute-maximum floor of ChooseQparamsPerToken,
// protecting against all-zero tokens.
const perTokenScaleFloor = float32(1e-5)

// minMax returns the smallest and largest of the values. The values slice is never
// empty: tensors have no zero-sized dimensions.
func minMax(values []float32) (minVal, maxVal float32) {
	minVal, maxVal = values[0], values[0]
	for _, x := range values[1:] {
		minVal = min(minVal, x)
		maxVal = max(maxVal, x)
	}
	return
}

// ChooseQparams derives asymmetric per-tensor quantization parameters from the data
// range of the input:
//
//	scale = max((max(maxVal,0) - min(minVal,0)) / (qmax - qmin), eps)
//	zeroPoint = clamp(qmin - roundHalfEven(min(minVal,0)/scale), qmin, qmax)
//
// The observed range is first extended to include zero, so that zero is always
// exactly representable. The results are returned as single-element tensors -- a [1]
// Float64 scale and a [1] Int64 zero-point -- ready to feed to
// QuantizePerTensorTensors.
//
// qmin must be strictly below qmax, and both must fit the bounds of dtype.
func ChooseQparams(input *tensors.Tensor, qmin, qmax int64, eps float64, dtype dtypes.DType) (scale, zeroPoint *tensors.Tensor) {
	_, _, err := shapeinference.ChooseQparams(input.Shape(), qmin, qmax, eps, dtype)
	panicOnError(err)

	minVal, maxVal := minMax(float32Values(input))
	minNeg := math.Min(float64(minVal), 0)
	maxPos := math.Max(float64(maxVal), 0)

	scaleValue := (maxPos - minNeg) / float64(qmax-qmin)
	if scaleValue < eps {
		klog.V(2).Infof("ChooseQparams: degenerate data range [%g, %g], clamping scale to eps=%g", minVal, maxVal, eps)
		scaleValue = eps
	}
	zpValue := qmin - int64(math.RoundToEven(minNeg/scaleValue))
	zpValue = min(max(zpValue, qmin), qmax)
	return tensors.FromFlatDataAndDimensions([]float64{scaleValue}, 1),
		tensors.FromFlatDataAndDimensions([]int64{zpValue}, 1)
}

// ChooseQparamsSymmetric derives symmetric per-tensor quantization parameters: the
// scale covers the largest absolute value of the input symmetrically around zero,
//
//	scale = max(max(-min(minVal,0), max(maxVal,0)) / ((qmax - qmin) / 2), eps)
//
// and the zero-point is always 0, for unsigned target kinds too: the symmetric grid
// is centered on zero. Same preconditions and result shapes as ChooseQparams.
func ChooseQparamsSymmetric(input *tensors.Tensor, qmin, qmax int64, eps float64, dtype dtypes.DType) (scale, zeroPoint *tensors.Tensor) {
	_, _, err := shapeinference.ChooseQparamsSymmetric(input.Shape(), qmin, qmax, eps, dtype)
	panicOnError(err)

	minVal, maxVal := minMax(float32Values(input))
	minNeg := math.Min(float64(minVal), 0)
	maxPos := math.Max(float64(maxVal), 0)

	scaleValue := math.Max(-minNeg, maxPos) / (float64(qmax-qmin) / 2)
	if scaleValue < eps {
		klog.V(2).Infof("ChooseQparamsSymmetric: degenerate data range [%g, %g], clamping scale to eps=%g", minVal, maxVal, eps)
		scaleValue = eps
	}
	return tensors.FromFlatDataAndDimensions([]float64{scaleValue}, 1),
		tensors.FromFlatDataAndDimensions([]int64{0}, 1)
}

// ChooseQparamsPerToken derives symmetric per-token quantization parameters for the
// signed 8-bit target: for each token (trailing-dimension vector),
//
//	scale[t] = max(absmax(x[t, :]), 1e-5) / 127
//	zeroPoint[t] = 0
//
// Both results are (numTokens, 1) Float32 tensors, shaped to broadcast against the
// input. Only dtype Int8 is supported: the quantized maximum is hard-coded to 127.
func ChooseQparamsPerToken(input *tensors.Tensor, dtype dtypes.DType) (scales, zeroPoints *tensors.Tensor) {
	scaleShape, _, err := shapeinference.ChooseQparamsPerToken(input.Shape(), dtype)
	panicOnError(err)

	tokenSize := input.Shape().Dim(-1)
	numTokens := input.Size() / tokenSize
	values := float32Values(input)
	scaleValues := make([]float32, numTokens)
	for t := 0; t < numTokens; t++ {
		var absMax float32
		for _, x := range values[t*tokenSize : (t+1)*tokenSize] {
			absMax = max(absMax, float32(math.Abs(float64(x))))
		}
		scaleValues[t] = max(absMax, perTokenScaleFloor) / 127
	}
	scales = tensors.FromFlatDataAndDimensions(scaleValues, scaleShape.Dimensions...)
	zeroPoints = tensors.FromShape(scaleShape.Clone())
	return scales, zeroPoints
}

// ChooseQparamsPerTokenAsymmetric derives asymmetric per-token quantization
// parameters for the signed 8-bit range [-128, 127]. For each token the scale covers
// the zero-extended data range, floored at the float32 machine epsilon; the
// zero-point is picked to balance the rounding error contributed by the two range
// endpoints:
//
//	zp[t] = qmin - descaledMin    if (qmin + descaledMin) + (qmax + descaledMax) > 0
//	        qmax - descaledMax    otherwise
//
// clamped to [qmin, qmax] and then rounded half-to-even. Both results are
// (numTokens, 1) Float32 tensors; the zero-point is float-typed even though it holds
// integral values (a compatibility quirk, preserved -- see the package
// documentation). The arithmetic runs in float32 so the error-balancing tie-break
// resolves identically to implementations operating on float32 data.
func ChooseQparamsPerTokenAsymmetric(input *tensors.Tensor, dtype dtypes.DType) (scales, zeroPoints *tensors.Tensor) {
	scaleShape, _, err := shapeinference.ChooseQparamsPerTokenAsymmetric(input.Shape(), dtype)
	panicOnError(err)

	const qmin, qmax = -128, 127
	tokenSize := input.Shape().Dim(-1)
	numTokens := input.Size() / tokenSize
	values := float32Values(input)
	scaleValues := make([]float32, numTokens)
	zpValues := make([]float32, numTokens)
	for t := 0; t < numTokens; t++ {
		minVal, maxVal := minMax(values[t*tokenSize : (t+1)*tokenSize])
		minNeg := min(minVal, 0)
		maxPos := max(maxVal, 0)

		scale := (maxPos - minNeg) / float32(qmax-qmin)
		scale = max(scale, float32Eps)
		descaledMin := minNeg / scale
		descaledMax := maxPos / scale
		var zp float32
		if (qmin+descaledMin)+(qmax+descaledMax) > 0 {
			zp = qmin - descaledMin
		} else {
			zp = qmax - descaledMax
		}
		zp = min(max(zp, qmin), qmax)
		scaleValues[t] = scale
		zpValues[t] = float32(math.RoundToEven(float64(zp)))
	}
	scales = tensors.FromFlatDataAndDimensions(scaleValues, scaleShape.Dimensions...)
	zeroPoints = tensors.FromFlatDataAndDimensions(zpValues, scaleShape.Dimensions...)
	return scales, zeroPoints
}
