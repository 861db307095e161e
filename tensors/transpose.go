package tensors

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/gopjrt/dtypes/bfloat16"
	"github.com/gomlx/quantized/shapes"
	"github.com/x448/float16"
)

// Transpose returns a new tensor with the axes re-ordered according to the given
// permutation: output axis ii takes the contents of input axis permutation[ii].
// The data is materialized in the new layout (it is not a view).
//
// A single transposition permutation, as built by shapes.PermutationToFront, is its
// own inverse: transposing twice with the same permutation restores the original
// tensor.
//
// It panics if permutation is not a valid permutation of the tensor's axes or if the
// dtype is not supported.
func Transpose(t *Tensor, permutation ...int) *Tensor {
	t.AssertValid()
	newShape := t.shape.Permute(permutation) // Validates the permutation.
	output := FromShape(newShape)
	if t.Rank() <= 1 {
		// Nothing to re-order.
		reflectCopy(output, t)
		return output
	}
	switch t.shape.DType {
	case dtypes.Bool:
		transposeFlat[bool](t, output, permutation)
	case dtypes.Int8:
		transposeFlat[int8](t, output, permutation)
	case dtypes.Int16:
		transposeFlat[int16](t, output, permutation)
	case dtypes.Int32:
		transposeFlat[int32](t, output, permutation)
	case dtypes.Int64:
		transposeFlat[int64](t, output, permutation)
	case dtypes.Uint8:
		transposeFlat[uint8](t, output, permutation)
	case dtypes.Float32:
		transposeFlat[float32](t, output, permutation)
	case dtypes.Float64:
		transposeFlat[float64](t, output, permutation)
	case dtypes.Float16:
		transposeFlat[float16.Float16](t, output, permutation)
	case dtypes.BFloat16:
		transposeFlat[bfloat16.BFloat16](t, output, permutation)
	default:
		exceptions.Panicf("tensors.Transpose: unsupported dtype %s", t.shape.DType)
	}
	return output
}

// PermuteAxisToFront returns a copy of the tensor with the given axis moved to
// position 0 (every other axis keeping its relative order unchanged), together with
// the permutation that restores the original layout when given to Transpose.
//
// Per-channel operations use this so their inner loops always iterate over axis 0,
// whatever axis the caller picked.
//
// It panics if axis is out of range for the tensor's rank.
func PermuteAxisToFront(t *Tensor, axis int) (permuted *Tensor, restore []int) {
	restore = shapes.PermutationToFront(t.Rank(), axis)
	return Transpose(t, restore...), restore
}

func reflectCopy(dst, src *Tensor) {
	src.ConstFlatData(func(srcFlat any) {
		dst.MutableFlatData(func(dstFlat any) {
			switch srcTyped := srcFlat.(type) {
			case []bool:
				copy(dstFlat.([]bool), srcTyped)
			case []int8:
				copy(dstFlat.([]int8), srcTyped)
			case []int16:
				copy(dstFlat.([]int16), srcTyped)
			case []int32:
				copy(dstFlat.([]int32), srcTyped)
			case []int64:
				copy(dstFlat.([]int64), srcTyped)
			case []uint8:
				copy(dstFlat.([]uint8), srcTyped)
			case []float32:
				copy(dstFlat.([]float32), srcTyped)
			case []float64:
				copy(dstFlat.([]float64), srcTyped)
			case []float16.Float16:
				copy(dstFlat.([]float16.Float16), srcTyped)
			case []bfloat16.BFloat16:
				copy(dstFlat.([]bfloat16.BFloat16), srcTyped)
			default:
				exceptions.Panicf("tensors: unsupported flat data type %T", srcFlat)
			}
		})
	})
}

// transposeFlat moves the elements of src into dst following the permutation.
// It walks the destination in order, keeping an odometer of destination coordinates,
// and maps each one back to the source flat index through the source strides.
func transposeFlat[T dtypes.Supported](src, dst *Tensor, permutation []int) {
	rank := src.Rank()
	srcStrides := src.LayoutStrides()
	dstDims := dst.shape.Dimensions
	// Stride in the source for each destination axis.
	srcStrideForDstAxis := make([]int, rank)
	for dstAxis, srcAxis := range permutation {
		srcStrideForDstAxis[dstAxis] = srcStrides[srcAxis]
	}
	ConstFlatData(src, func(srcFlat []T) {
		MutableFlatData(dst, func(dstFlat []T) {
			coords := make([]int, rank)
			srcIdx := 0
			for dstIdx := range dstFlat {
				dstFlat[dstIdx] = srcFlat[srcIdx]
				// Increment the destination coordinates odometer, updating srcIdx.
				for axis := rank - 1; axis >= 0; axis-- {
					coords[axis]++
					srcIdx += srcStrideForDstAxis[axis]
					if coords[axis] < dstDims[axis] {
						break
					}
					srcIdx -= coords[axis] * srcStrideForDstAxis[axis]
					coords[axis] = 0
				}
			}
		})
	})
}
