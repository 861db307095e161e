// Package quantized implements affine (scale/zero-point) quantization and
// dequantization of floating-point tensors into narrow integer representations, the
// algorithms that derive quantization parameters from data, and a differentiable
// fake-quantization operator with a saturation-masked (straight-through) gradient.
//
// The operators come in four granularities:
//
//   - Per-tensor: one scalar (scale, zeroPoint) pair for the whole tensor.
//   - Per-channel: one pair per slice of the tensor along a chosen axis.
//   - Per-token: one pair per trailing-dimension vector, across all combinations of
//     leading dimensions.
//   - Per-channel-group: one pair per contiguous run of groupSize elements within
//     each row of a rank-2 tensor.
//
// Quantization parameters are never stored on the tensor: every operator takes them
// as explicit sibling arguments, and a quantized tensor is only meaningful together
// with the parameters used to produce it. No operator mutates any of its inputs.
//
// Every operator has a twin in the shapeinference package with the same argument
// order, which performs the same validation and returns only the output shape and
// dtype -- for host graph-tracing systems that must propagate types without
// materializing data. The kernels here call those twins for their own validation, so
// the precondition logic lives in one place.
//
// On precondition failure the kernels panic with an error wrapping one of the kinds
// declared in shapeinference (ErrUnsupportedDType, ErrOutOfRange, ...). Use
// exceptions.TryCatch (github.com/gomlx/exceptions) to capture them as error values.
//
// Rounding is round-half-to-even everywhere (math.RoundToEven), and dequantization
// is computed in float64 -- where integer-to-float conversions are exact for every
// supported quantized kind -- then rounded once to the output dtype. The one
// exception is FakeQuantPerChannel, which truncates float-typed zero-points toward
// zero, the conversion an integer cast performs.
//
// One deliberate asymmetry, kept for compatibility: DequantizePerChannel treats
// absent (nil) zero-points as an explicit all-zero vector sized to the channel
// count, while DequantizePerChannelGroup treats them as a broadcastable scalar
// zero. Likewise ChooseQparamsPerTokenAsymmetric returns its zero-point as a
// Float32 tensor holding integral values while the whole-tensor choosers return
// Int64. Do not "fix" either when porting.
package quantized

import (
	"math"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/quantized/tensors"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// podQuantized are the Go types backing the supported quantized dtypes.
type podQuantized interface {
	int8 | int16 | int32 | uint8
}

// panicOnError converts a validation error into a panic, the reporting convention of
// the compute kernels.
func panicOnError(err error) {
	if err != nil {
		panic(err)
	}
}

// float32Values returns the input values as a flat []float32, widening Float16 and
// BFloat16 inputs. For Float32 inputs it returns the tensor's own storage: callers
// must treat the result as read-only.
func float32Values(t *tensors.Tensor) []float32 {
	var values []float32
	switch t.DType() {
	case dtypes.Float32:
		tensors.ConstFlatData(t, func(flat []float32) { values = flat })
	case dtypes.Float16:
		tensors.ConstFlatData(t, func(flat []float16.Float16) {
			values = make([]float32, len(flat))
			for ii, v := range flat {
				values[ii] = v.Float32()
			}
		})
	case dtypes.BFloat16:
		tensors.ConstFlatData(t, func(flat []bfloat16.BFloat16) {
			values = make([]float32, len(flat))
			for ii, v := range flat {
				values[ii] = v.Float32()
			}
		})
	default:
		exceptions.Panicf("quantized: cannot take float32 values of dtype %s", t.DType())
	}
	return values
}

// qparamFloats returns the values of a quantization-parameter tensor (scales or
// zero-points) as float64. Accepts floating point kinds and signed integer kinds.
func qparamFloats(t *tensors.Tensor) []float64 {
	values := make([]float64, t.Size())
	switch t.DType() {
	case dtypes.Float32:
		tensors.ConstFlatData(t, func(flat []float32) { gatherFloats(values, flat) })
	case dtypes.Float64:
		tensors.ConstFlatData(t, func(flat []float64) { copy(values, flat) })
	case dtypes.Float16:
		tensors.ConstFlatData(t, func(flat []float16.Float16) {
			for ii, v := range flat {
				values[ii] = float64(v.Float32())
			}
		})
	case dtypes.BFloat16:
		tensors.ConstFlatData(t, func(flat []bfloat16.BFloat16) {
			for ii, v := range flat {
				values[ii] = float64(v.Float32())
			}
		})
	case dtypes.Int8:
		tensors.ConstFlatData(t, func(flat []int8) { gatherFloats(values, flat) })
	case dtypes.Int16:
		tensors.ConstFlatData(t, func(flat []int16) { gatherFloats(values, flat) })
	case dtypes.Int32:
		tensors.ConstFlatData(t, func(flat []int32) { gatherFloats(values, flat) })
	case dtypes.Int64:
		tensors.ConstFlatData(t, func(flat []int64) { gatherFloats(values, flat) })
	default:
		exceptions.Panicf("quantized: unsupported dtype %s for quantization parameters", t.DType())
	}
	return values
}

func gatherFloats[T constraints.Integer | constraints.Float](out []float64, in []T) {
	for ii, v := range in {
		out[ii] = float64(v)
	}
}

// quantizedValues returns the values of a quantized (narrow integer) tensor as a
// flat []int64 -- exact for all supported quantized kinds.
func quantizedValues(t *tensors.Tensor) []int64 {
	values := make([]int64, t.Size())
	switch t.DType() {
	case dtypes.Int8:
		tensors.ConstFlatData(t, func(flat []int8) { gatherInts(values, flat) })
	case dtypes.Int16:
		tensors.ConstFlatData(t, func(flat []int16) { gatherInts(values, flat) })
	case dtypes.Int32:
		tensors.ConstFlatData(t, func(flat []int32) { gatherInts(values, flat) })
	case dtypes.Uint8:
		tensors.ConstFlatData(t, func(flat []uint8) { gatherInts(values, flat) })
	default:
		exceptions.Panicf("quantized: %s is not a supported quantized dtype", t.DType())
	}
	return values
}

func gatherInts[T constraints.Integer](out []int64, in []T) {
	for ii, v := range in {
		out[ii] = int64(v)
	}
}

// quantizeSlice quantizes the given values into out's flat data starting at
// outStart: clamp(roundHalfEven(pre), quantMin, quantMax) cast to out's dtype, where
// pre is x*(1/scale) with the zero-point added after rounding (zeroPointAfterRound
// true: the per-tensor/per-channel formula), or x/scale+zeroPoint rounded as a whole
// (false: the per-token/per-channel-group formula).
func quantizeSlice(out *tensors.Tensor, outStart int, values []float32, scale, zeroPoint float64, zeroPointAfterRound bool, quantMin, quantMax int64) {
	switch out.DType() {
	case dtypes.Int8:
		tensors.MutableFlatData(out, func(flat []int8) {
			quantizeFlat(flat[outStart:outStart+len(values)], values, scale, zeroPoint, zeroPointAfterRound, quantMin, quantMax)
		})
	case dtypes.Int16:
		tensors.MutableFlatData(out, func(flat []int16) {
			quantizeFlat(flat[outStart:outStart+len(values)], values, scale, zeroPoint, zeroPointAfterRound, quantMin, quantMax)
		})
	case dtypes.Int32:
		tensors.MutableFlatData(out, func(flat []int32) {
			quantizeFlat(flat[outStart:outStart+len(values)], values, scale, zeroPoint, zeroPointAfterRound, quantMin, quantMax)
		})
	case dtypes.Uint8:
		tensors.MutableFlatData(out, func(flat []uint8) {
			quantizeFlat(flat[outStart:outStart+len(values)], values, scale, zeroPoint, zeroPointAfterRound, quantMin, quantMax)
		})
	default:
		exceptions.Panicf("quantized: %s is not a supported quantized dtype", out.DType())
	}
}

func quantizeFlat[Q podQuantized](out []Q, values []float32, scale, zeroPoint float64, zeroPointAfterRound bool, quantMin, quantMax int64) {
	lo, hi := float64(quantMin), float64(quantMax)
	if zeroPointAfterRound {
		invScale := 1.0 / scale
		for ii, x := range values {
			pre := math.RoundToEven(float64(x)*invScale) + zeroPoint
			out[ii] = Q(clampFloat(pre, lo, hi))
		}
		return
	}
	for ii, x := range values {
		pre := math.RoundToEven(float64(x)/scale + zeroPoint)
		out[ii] = Q(clampFloat(pre, lo, hi))
	}
}

// dequantizeSlice dequantizes the given quantized values into out's flat data
// starting at outStart: (q - zeroPoint) * scale computed in float64, then cast once
// to out's (floating point) dtype.
func dequantizeSlice(out *tensors.Tensor, outStart int, values []int64, scale, zeroPoint float64) {
	switch out.DType() {
	case dtypes.Float32:
		tensors.MutableFlatData(out, func(flat []float32) {
			for ii, q := range values {
				flat[outStart+ii] = float32((float64(q) - zeroPoint) * scale)
			}
		})
	case dtypes.Float64:
		tensors.MutableFlatData(out, func(flat []float64) {
			for ii, q := range values {
				flat[outStart+ii] = (float64(q) - zeroPoint) * scale
			}
		})
	case dtypes.Float16:
		tensors.MutableFlatData(out, func(flat []float16.Float16) {
			for ii, q := range values {
				flat[outStart+ii] = float16.Fromfloat32(float32((float64(q) - zeroPoint) * scale))
			}
		})
	case dtypes.BFloat16:
		tensors.MutableFlatData(out, func(flat []bfloat16.BFloat16) {
			for ii, q := range values {
				flat[outStart+ii] = bfloat16.FromFloat32(float32((float64(q) - zeroPoint) * scale))
			}
		})
	default:
		exceptions.Panicf("quantized: %s is not a supported dequantization output dtype", out.DType())
	}
}

func clampFloat(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
