package quantized

import (
	"math"

	"github.com/gomlx/quantized/shapeinference"
	"github.com/gomlx/quantized/tensors"
)

// FakeQuantPerChannel simulates per-channel quantization in floating point: each
// element goes through the quantize/dequantize round trip
//
//	q = roundHalfEven(x/scales[c]) + zeroPoints[c]
//	out = (clamp(q, quantMin, quantMax) - zeroPoints[c]) * scales[c]
//
// without ever leaving Float32, so the result can flow through a training graph.
// The returned mask is true where q landed inside [quantMin, quantMax] before
// clamping, i.e. where the round trip was not saturated. It is the piece of forward
// state the backward pass needs: the straight-through gradient estimator passes
// gradients through unsaturated elements and zeroes the rest (see
// FakeQuantPerChannelBackward).
//
// The input must be Float32, the axis normalized to [0, rank), and scales and
// zeroPoints must have one element per slice of the input along axis. A nil
// zeroPoints means all-zero. Float-typed zero-points are truncated toward zero, the
// conversion an integer cast performs, unlike the quantize/dequantize kernels which
// round them half-to-even.
func FakeQuantPerChannel(input, scales, zeroPoints *tensors.Tensor, axis int, quantMin, quantMax int64) (output, mask *tensors.Tensor) {
	outputShape, maskShape, err := shapeinference.FakeQuantPerChannel(
		input.Shape(), scales.Shape(), shapeOrInvalid(zeroPoints), axis, quantMin, quantMax)
	panicOnError(err)

	numChannels := input.Shape().Dim(axis)
	scaleValues := qparamFloats(scales)
	zpValues := make([]float64, numChannels)
	if zeroPoints != nil {
		for ii, zp := range qparamFloats(zeroPoints) {
			zpValues[ii] = math.Trunc(zp)
		}
	}
	// innerSize elements share a channel index before it advances.
	innerSize := 1
	for a := axis + 1; a < input.Rank(); a++ {
		innerSize *= input.Shape().Dim(a)
	}

	lo, hi := float64(quantMin), float64(quantMax)
	output = tensors.FromShape(outputShape)
	mask = tensors.FromShape(maskShape)
	tensors.ConstFlatData(input, func(values []float32) {
		tensors.MutableFlatData(output, func(outFlat []float32) {
			tensors.MutableFlatData(mask, func(maskFlat []bool) {
				for ii, x := range values {
					c := (ii / innerSize) % numChannels
					scale, zp := scaleValues[c], zpValues[c]
					q := math.RoundToEven(float64(x)/scale) + zp
					maskFlat[ii] = q >= lo && q <= hi
					outFlat[ii] = float32((clampFloat(q, lo, hi) - zp) * scale)
				}
			})
		})
	})
	return output, mask
}

// FakeQuantPerChannelBackward computes the gradient of FakeQuantPerChannel with
// respect to its input, given the gradient flowing into its output and the
// saturation mask the forward pass returned: the gradient passes through where the
// mask is true and is zero elsewhere (the straight-through estimator, treating the
// unsaturated round trip as the identity).
func FakeQuantPerChannelBackward(gradOutput, mask *tensors.Tensor) *tensors.Tensor {
	gradShape, err := shapeinference.FakeQuantPerChannelBackward(gradOutput.Shape(), mask.Shape())
	panicOnError(err)

	gradInput := tensors.FromShape(gradShape)
	tensors.ConstFlatData(gradOutput, func(grads []float32) {
		tensors.MutableFlatData(gradInput, func(outFlat []float32) {
			tensors.ConstFlatData(mask, func(maskFlat []bool) {
				for ii, g := range grads {
					if maskFlat[ii] {
						outFlat[ii] = g
					}
				}
			})
		})
	})
	return gradInput
}
