// Package shapeinference validates the inputs of the quantization operators and
// calculates the shapes (and dtypes) resulting from them, without touching any data.
//
// For every operator in the quantized package there is one function here with the
// same tensor arguments given as shapes.Shape (plus the same scalar arguments),
// performing exactly the validation of the real kernel -- minus data-dependent checks
// (like the NaN check of QuantizePerChannelGroup) -- and returning the output shape.
//
// This is useful for a host graph-tracing or ahead-of-time compilation system that
// needs to propagate type/shape information through the operators without
// materializing data. The real kernels themselves call into this package, so the
// precondition logic exists in only one place.
//
// All failures are reported as errors wrapping one of the exported error kinds
// (ErrUnsupportedDType, ErrOutOfRange, ...), so callers can match them with
// errors.Is.
package shapeinference

import (
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/quantized/shapes"
	"github.com/pkg/errors"
)

// Error kinds returned (wrapped) by the validation functions in this package, and
// panicked with by the compute kernels in the quantized package.
var (
	// ErrUnsupportedDType: the target (or declared source) narrow kind is not one of
	// the supported quantized dtypes (see BoundsForDType).
	ErrUnsupportedDType = errors.New("unsupported dtype")

	// ErrOutOfRange: quantMin/quantMax exceed the bounds representable by the target
	// dtype, or quantMin >= quantMax where a strict ordering is required.
	ErrOutOfRange = errors.New("quantization range out of bounds")

	// ErrShapeMismatch: a parameter array's element count disagrees with the number
	// of channels/tokens/groups implied by the input shape.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrDTypeMismatch: the input's element kind does not match the kind required or
	// declared by the caller.
	ErrDTypeMismatch = errors.New("dtype mismatch")

	// ErrInvalidArgument: structurally invalid call, e.g. a multi-element tensor
	// where a single scalar parameter is required, groupSize <= 1 or an axis out of
	// range.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrInvalidInput: data-dependent violation (NaN present in the values being
	// quantized). Only ever raised by the real kernels, never by this package.
	ErrInvalidInput = errors.New("invalid input data")
)

// qvalueBounds is the source of truth for the representable inclusive ranges of the
// supported quantized dtypes. Populated once, read-only thereafter, so it is safe
// for unsynchronized concurrent reads.
var qvalueBounds = map[dtypes.DType][2]int64{
	dtypes.Uint8: {0, 255},
	dtypes.Int8:  {-128, 127},
	dtypes.Int16: {-(1 << 15), 1<<15 - 1},
	dtypes.Int32: {-(1 << 31), 1<<31 - 1},
}

// BoundsForDType returns the inclusive range of quantized values representable by the
// given dtype.
//
// It returns an error wrapping ErrUnsupportedDType if dtype is not one of Uint8,
// Int8, Int16 or Int32.
func BoundsForDType(dtype dtypes.DType) (min, max int64, err error) {
	bounds, found := qvalueBounds[dtype]
	if !found {
		return 0, 0, errors.Wrapf(ErrUnsupportedDType, "%s is not a supported quantized dtype", dtype)
	}
	return bounds[0], bounds[1], nil
}

// CheckQuantMinMax validates that the quantMin/quantMax selected by the caller fit
// within the bounds representable by the given quantized dtype.
func CheckQuantMinMax(quantMin, quantMax int64, dtype dtypes.DType) error {
	lower, upper, err := BoundsForDType(dtype)
	if err != nil {
		return err
	}
	if quantMin < lower {
		return errors.Wrapf(ErrOutOfRange, "quantMin=%d below the lower bound %d of dtype %s", quantMin, lower, dtype)
	}
	if quantMax > upper {
		return errors.Wrapf(ErrOutOfRange, "quantMax=%d above the upper bound %d of dtype %s", quantMax, upper, dtype)
	}
	return nil
}

// checkQuantizeInput validates the floating-point input of the quantize (and
// choose-qparams) operators: Float32, or Float16/BFloat16 which the kernels widen to
// Float32 before computing.
func checkQuantizeInput(input shapes.Shape, opName string) error {
	switch input.DType {
	case dtypes.Float32, dtypes.Float16, dtypes.BFloat16:
		return nil
	}
	return errors.Wrapf(ErrDTypeMismatch,
		"%s: input must be Float32 (or Float16/BFloat16, widened to Float32), got %s", opName, input)
}

// checkScalesAndZeroPoints validates the dtype and element count of vector-valued
// quantization parameters. zeroPoints may be invalid (absent) when allowed by the
// operator. Scales must be floating point; zero-points either a signed integer kind
// or -- to interoperate with the per-token choosers, which produce float-typed
// zero-points -- a floating point kind holding integral values.
func checkScalesAndZeroPoints(scales, zeroPoints shapes.Shape, count int, opName string) error {
	if !scales.DType.IsFloat() {
		return errors.Wrapf(ErrInvalidArgument, "%s: scales must be floating point, got %s", opName, scales)
	}
	if scales.Size() != count {
		return errors.Wrapf(ErrShapeMismatch, "%s: %d scales given for %d channels/tokens/groups",
			opName, scales.Size(), count)
	}
	if !zeroPoints.Ok() {
		return nil
	}
	if !zeroPoints.DType.IsFloat() && !(zeroPoints.DType.IsInt() && !zeroPoints.DType.IsUnsigned()) {
		return errors.Wrapf(ErrInvalidArgument, "%s: zeroPoints must be a signed integer or floating point kind, got %s",
			opName, zeroPoints)
	}
	if zeroPoints.Size() != count {
		return errors.Wrapf(ErrShapeMismatch, "%s: %d zeroPoints given for %d channels/tokens/groups",
			opName, zeroPoints.Size(), count)
	}
	return nil
}

// outputDTypeOrDefault resolves the optional output dtype of the dequantize
// operators: InvalidDType selects Float32.
func outputDTypeOrDefault(outDType dtypes.DType, opName string) (dtypes.DType, error) {
	if outDType == dtypes.InvalidDType {
		return dtypes.Float32, nil
	}
	if !outDType.IsFloat() {
		return dtypes.InvalidDType, errors.Wrapf(ErrInvalidArgument,
			"%s: output dtype must be floating point, got %s", opName, outDType)
	}
	return outDType, nil
}

// QuantizePerTensor validates the arguments of quantized.QuantizePerTensor and
// returns the output shape: the input dimensions with the target dtype.
func QuantizePerTensor(input shapes.Shape, quantMin, quantMax int64, dtype dtypes.DType) (shapes.Shape, error) {
	if err := checkQuantizeInput(input, "QuantizePerTensor"); err != nil {
		return shapes.Invalid(), err
	}
	if err := CheckQuantMinMax(quantMin, quantMax, dtype); err != nil {
		return shapes.Invalid(), err
	}
	return input.WithDType(dtype), nil
}

// QuantizePerTensorTensors validates the tensor-valued-parameter overload: scale and
// zeroPoint must be single-element tensors.
func QuantizePerTensorTensors(input, scale, zeroPoint shapes.Shape, quantMin, quantMax int64, dtype dtypes.DType) (shapes.Shape, error) {
	if scale.Size() != 1 {
		return shapes.Invalid(), errors.Wrapf(ErrInvalidArgument,
			"QuantizePerTensorTensors: scale must have exactly one element, got %s", scale)
	}
	if zeroPoint.Size() != 1 {
		return shapes.Invalid(), errors.Wrapf(ErrInvalidArgument,
			"QuantizePerTensorTensors: zeroPoint must have exactly one element, got %s", zeroPoint)
	}
	return QuantizePerTensor(input, quantMin, quantMax, dtype)
}

// DequantizePerTensor validates the arguments of quantized.DequantizePerTensor and
// returns the output shape: the input dimensions with outDType (Float32 if outDType
// is InvalidDType).
//
// quantMin/quantMax are metadata only (kept for host graph pattern-matching); they
// are not range-checked here, matching the real kernel.
func DequantizePerTensor(input shapes.Shape, quantMin, quantMax int64, dtype, outDType dtypes.DType) (shapes.Shape, error) {
	_, _ = quantMin, quantMax
	if _, _, err := BoundsForDType(dtype); err != nil {
		return shapes.Invalid(), err
	}
	if input.DType != dtype {
		return shapes.Invalid(), errors.Wrapf(ErrDTypeMismatch,
			"DequantizePerTensor: input is %s but the declared quantized dtype is %s", input, dtype)
	}
	resolved, err := outputDTypeOrDefault(outDType, "DequantizePerTensor")
	if err != nil {
		return shapes.Invalid(), err
	}
	return input.WithDType(resolved), nil
}

// DequantizePerTensorTensors validates the tensor-valued-parameter overload of
// DequantizePerTensor.
func DequantizePerTensorTensors(input, scale, zeroPoint shapes.Shape, quantMin, quantMax int64, dtype, outDType dtypes.DType) (shapes.Shape, error) {
	if scale.Size() != 1 {
		return shapes.Invalid(), errors.Wrapf(ErrInvalidArgument,
			"DequantizePerTensorTensors: scale must have exactly one element, got %s", scale)
	}
	if zeroPoint.Size() != 1 {
		return shapes.Invalid(), errors.Wrapf(ErrInvalidArgument,
			"DequantizePerTensorTensors: zeroPoint must have exactly one element, got %s", zeroPoint)
	}
	return DequantizePerTensor(input, quantMin, quantMax, dtype, outDType)
}

// QuantizePerChannel validates the arguments of quantized.QuantizePerChannel and
// returns the output shape: the input dimensions with the target dtype.
// scales/zeroPoints must have one element per slice of the input along axis.
func QuantizePerChannel(input, scales, zeroPoints shapes.Shape, axis int, quantMin, quantMax int64, dtype dtypes.DType) (shapes.Shape, error) {
	if err := checkQuantizeInput(input, "QuantizePerChannel"); err != nil {
		return shapes.Invalid(), err
	}
	if axis < 0 || axis >= input.Rank() {
		return shapes.Invalid(), errors.Wrapf(ErrInvalidArgument,
			"QuantizePerChannel: axis=%d out of range for input %s", axis, input)
	}
	if err := CheckQuantMinMax(quantMin, quantMax, dtype); err != nil {
		return shapes.Invalid(), err
	}
	if err := checkScalesAndZeroPoints(scales, zeroPoints, input.Dim(axis), "QuantizePerChannel"); err != nil {
		return shapes.Invalid(), err
	}
	return input.WithDType(dtype), nil
}

// DequantizePerChannel validates the arguments of quantized.DequantizePerChannel and
// returns the output shape. zeroPoints may be shapes.Invalid() to mean "absent": the
// kernel then uses an all-zero vector sized to the channel count.
func DequantizePerChannel(input, scales, zeroPoints shapes.Shape, axis int, quantMin, quantMax int64, dtype, outDType dtypes.DType) (shapes.Shape, error) {
	if input.DType != dtype {
		return shapes.Invalid(), errors.Wrapf(ErrDTypeMismatch,
			"DequantizePerChannel: input is %s but the declared quantized dtype is %s", input, dtype)
	}
	if axis < 0 || axis >= input.Rank() {
		return shapes.Invalid(), errors.Wrapf(ErrInvalidArgument,
			"DequantizePerChannel: axis=%d out of range for input %s", axis, input)
	}
	if err := CheckQuantMinMax(quantMin, quantMax, dtype); err != nil {
		return shapes.Invalid(), err
	}
	if err := checkScalesAndZeroPoints(scales, zeroPoints, input.Dim(axis), "DequantizePerChannel"); err != nil {
		return shapes.Invalid(), err
	}
	resolved, err := outputDTypeOrDefault(outDType, "DequantizePerChannel")
	if err != nil {
		return shapes.Invalid(), err
	}
	return input.WithDType(resolved), nil
}

// numTokens returns the number of trailing-dimension vectors ("tokens") of the input:
// the product of all leading dimensions.
func numTokens(input shapes.Shape, opName string) (int, error) {
	if input.Rank() < 1 {
		return 0, errors.Wrapf(ErrInvalidArgument, "%s: input must have rank >= 1, got %s", opName, input)
	}
	return input.Size() / input.Dim(-1), nil
}

// QuantizePerToken validates the arguments of quantized.QuantizePerToken and returns
// the output shape. scales/zeroPoints must have one element per token, where a token
// is one trailing-dimension vector (so numel(input)/lastDim tokens).
func QuantizePerToken(input, scales, zeroPoints shapes.Shape, quantMin, quantMax int64, dtype dtypes.DType) (shapes.Shape, error) {
	if err := checkQuantizeInput(input, "QuantizePerToken"); err != nil {
		return shapes.Invalid(), err
	}
	if err := CheckQuantMinMax(quantMin, quantMax, dtype); err != nil {
		return shapes.Invalid(), err
	}
	tokens, err := numTokens(input, "QuantizePerToken")
	if err != nil {
		return shapes.Invalid(), err
	}
	if err := checkScalesAndZeroPoints(scales, zeroPoints, tokens, "QuantizePerToken"); err != nil {
		return shapes.Invalid(), err
	}
	return input.WithDType(dtype), nil
}

// DequantizePerToken validates the arguments of quantized.DequantizePerToken and
// returns the output shape. Unlike the per-tensor/per-channel variants, outDType is
// mandatory here.
func DequantizePerToken(input, scales, zeroPoints shapes.Shape, quantMin, quantMax int64, dtype, outDType dtypes.DType) (shapes.Shape, error) {
	if input.DType != dtype {
		return shapes.Invalid(), errors.Wrapf(ErrDTypeMismatch,
			"DequantizePerToken: input is %s but the declared quantized dtype is %s", input, dtype)
	}
	if err := CheckQuantMinMax(quantMin, quantMax, dtype); err != nil {
		return shapes.Invalid(), err
	}
	tokens, err := numTokens(input, "DequantizePerToken")
	if err != nil {
		return shapes.Invalid(), err
	}
	if err := checkScalesAndZeroPoints(scales, zeroPoints, tokens, "DequantizePerToken"); err != nil {
		return shapes.Invalid(), err
	}
	if outDType == dtypes.InvalidDType {
		return shapes.Invalid(), errors.Wrapf(ErrInvalidArgument, "DequantizePerToken: outDType is mandatory")
	}
	if !outDType.IsFloat() {
		return shapes.Invalid(), errors.Wrapf(ErrInvalidArgument,
			"DequantizePerToken: output dtype must be floating point, got %s", outDType)
	}
	return input.WithDType(outDType), nil
}

// channelGroupLayout resolves the group layout of the per-channel-group operators for
// a rank-2 input: the effective group size (after the single-group fallback), the
// number of groups, and numPairs, the (scale, zeroPoint) pair count the caller must
// supply. scalesSize is the element count of the scales parameter.
//
// The single-group fallback: when groupSize exceeds the trailing dimension and
// exactly one scale is supplied, each row is one group and the single pair is
// broadcast over all rows, so numPairs is 1 even when numGroups is not.
func channelGroupLayout(input shapes.Shape, scalesSize, groupSize int, opName string) (effectiveGroupSize, numGroups, numPairs int, err error) {
	if groupSize <= 1 {
		return 0, 0, 0, errors.Wrapf(ErrInvalidArgument, "%s: groupSize must be > 1, got %d", opName, groupSize)
	}
	if input.Rank() != 2 {
		return 0, 0, 0, errors.Wrapf(ErrInvalidArgument, "%s: input must have rank 2, got %s", opName, input)
	}
	lastDim := input.Dim(-1)
	broadcast := groupSize > lastDim && scalesSize == 1
	if broadcast {
		groupSize = lastDim
	}
	if lastDim%groupSize != 0 {
		return 0, 0, 0, errors.Wrapf(ErrShapeMismatch,
			"%s: trailing dimension %d is not divisible by groupSize %d", opName, lastDim, groupSize)
	}
	numGroups = input.Size() / groupSize
	numPairs = numGroups
	if broadcast {
		numPairs = 1
	}
	return groupSize, numGroups, numPairs, nil
}

// QuantizePerChannelGroup validates the arguments of quantized.QuantizePerChannelGroup
// and returns the output shape. The real kernel additionally rejects NaN input values
// (ErrInvalidInput), a data-dependent check this function cannot perform.
func QuantizePerChannelGroup(input, scales, zeroPoints shapes.Shape, quantMin, quantMax int64, dtype dtypes.DType, groupSize int) (shapes.Shape, error) {
	if err := checkQuantizeInput(input, "QuantizePerChannelGroup"); err != nil {
		return shapes.Invalid(), err
	}
	_, _, numPairs, err := channelGroupLayout(input, scales.Size(), groupSize, "QuantizePerChannelGroup")
	if err != nil {
		return shapes.Invalid(), err
	}
	if err := CheckQuantMinMax(quantMin, quantMax, dtype); err != nil {
		return shapes.Invalid(), err
	}
	if err := checkScalesAndZeroPoints(scales, zeroPoints, numPairs, "QuantizePerChannelGroup"); err != nil {
		return shapes.Invalid(), err
	}
	return input.WithDType(dtype), nil
}

// DequantizePerChannelGroup validates the arguments of
// quantized.DequantizePerChannelGroup and returns the output shape. zeroPoints may be
// shapes.Invalid() to mean "absent": the kernel then uses a scalar zero broadcast
// over all groups (note the asymmetry with DequantizePerChannel, which materializes a
// zero vector -- preserved deliberately, see the package documentation of quantized).
// outDType is mandatory.
func DequantizePerChannelGroup(input, scales, zeroPoints shapes.Shape, quantMin, quantMax int64, dtype dtypes.DType, groupSize int, outDType dtypes.DType) (shapes.Shape, error) {
	if input.DType != dtype {
		return shapes.Invalid(), errors.Wrapf(ErrDTypeMismatch,
			"DequantizePerChannelGroup: input is %s but the declared quantized dtype is %s", input, dtype)
	}
	_, _, numPairs, err := channelGroupLayout(input, scales.Size(), groupSize, "DequantizePerChannelGroup")
	if err != nil {
		return shapes.Invalid(), err
	}
	if err := CheckQuantMinMax(quantMin, quantMax, dtype); err != nil {
		return shapes.Invalid(), err
	}
	if err := checkScalesAndZeroPoints(scales, zeroPoints, numPairs, "DequantizePerChannelGroup"); err != nil {
		return shapes.Invalid(), err
	}
	if outDType == dtypes.InvalidDType {
		return shapes.Invalid(), errors.Wrapf(ErrInvalidArgument, "DequantizePerChannelGroup: outDType is mandatory")
	}
	if !outDType.IsFloat() {
		return shapes.Invalid(), errors.Wrapf(ErrInvalidArgument,
			"DequantizePerChannelGroup: output dtype must be floating point, got %s", outDType)
	}
	return input.WithDType(outDType), nil
}

// ChooseQparams validates the arguments of quantized.ChooseQparams (and its symmetric
// variant, which shares the same preconditions) and returns the shapes of the derived
// parameters: a [1] Float64 scale and a [1] Int64 zero-point -- single-element
// tensors rather than bare numbers, so a host graph system can trace them.
func ChooseQparams(input shapes.Shape, qmin, qmax int64, eps float64, dtype dtypes.DType) (scale, zeroPoint shapes.Shape, err error) {
	_ = eps
	if err = checkQuantizeInput(input, "ChooseQparams"); err != nil {
		return shapes.Invalid(), shapes.Invalid(), err
	}
	if _, _, err = BoundsForDType(dtype); err != nil {
		return shapes.Invalid(), shapes.Invalid(), err
	}
	if qmin >= qmax {
		err = errors.Wrapf(ErrOutOfRange, "ChooseQparams: qmin=%d must be < qmax=%d", qmin, qmax)
		return shapes.Invalid(), shapes.Invalid(), err
	}
	return shapes.Make(dtypes.Float64, 1), shapes.Make(dtypes.Int64, 1), nil
}

// ChooseQparamsSymmetric validates the arguments of quantized.ChooseQparamsSymmetric.
// Same contract as ChooseQparams.
func ChooseQparamsSymmetric(input shapes.Shape, qmin, qmax int64, eps float64, dtype dtypes.DType) (scale, zeroPoint shapes.Shape, err error) {
	return ChooseQparams(input, qmin, qmax, eps, dtype)
}

// ChooseQparamsPerToken validates the arguments of quantized.ChooseQparamsPerToken
// and returns the shapes of the derived parameters: (numTokens, 1) Float32 scales and
// zero-points.
//
// Only the 8-bit signed target is supported: the algorithm hard-codes quantMax=127.
func ChooseQparamsPerToken(input shapes.Shape, dtype dtypes.DType) (scale, zeroPoint shapes.Shape, err error) {
	if err = checkQuantizeInput(input, "ChooseQparamsPerToken"); err != nil {
		return shapes.Invalid(), shapes.Invalid(), err
	}
	if dtype != dtypes.Int8 {
		err = errors.Wrapf(ErrUnsupportedDType, "ChooseQparamsPerToken: only Int8 is supported, got %s", dtype)
		return shapes.Invalid(), shapes.Invalid(), err
	}
	tokens, err := numTokens(input, "ChooseQparamsPerToken")
	if err != nil {
		return shapes.Invalid(), shapes.Invalid(), err
	}
	qparamShape := shapes.Make(dtypes.Float32, tokens, 1)
	return qparamShape, qparamShape, nil
}

// ChooseQparamsPerTokenAsymmetric validates the arguments of
// quantized.ChooseQparamsPerTokenAsymmetric and returns the shapes of the derived
// parameters: (numTokens, 1) Float32 scales and zero-points. The zero-point is
// float-typed even though it holds integral values (compatibility quirk, preserved).
func ChooseQparamsPerTokenAsymmetric(input shapes.Shape, dtype dtypes.DType) (scale, zeroPoint shapes.Shape, err error) {
	_ = dtype // The quantized range is hard-coded to [-128, 127].
	if err = checkQuantizeInput(input, "ChooseQparamsPerTokenAsymmetric"); err != nil {
		return shapes.Invalid(), shapes.Invalid(), err
	}
	tokens, err := numTokens(input, "ChooseQparamsPerTokenAsymmetric")
	if err != nil {
		return shapes.Invalid(), shapes.Invalid(), err
	}
	qparamShape := shapes.Make(dtypes.Float32, tokens, 1)
	return qparamShape, qparamShape, nil
}

// FakeQuantPerChannel validates the arguments of quantized.FakeQuantPerChannel and
// returns the shapes of the forward results: the output (same shape and dtype as the
// input) and the boolean saturation mask (same dimensions, Bool).
func FakeQuantPerChannel(input, scales, zeroPoints shapes.Shape, axis int, quantMin, quantMax int64) (output, mask shapes.Shape, err error) {
	_, _ = quantMin, quantMax
	if input.DType != dtypes.Float32 {
		err = errors.Wrapf(ErrDTypeMismatch, "FakeQuantPerChannel: input must be Float32, got %s", input)
		return shapes.Invalid(), shapes.Invalid(), err
	}
	if axis < 0 || axis >= input.Rank() {
		err = errors.Wrapf(ErrInvalidArgument, "FakeQuantPerChannel: axis=%d out of range for input %s", axis, input)
		return shapes.Invalid(), shapes.Invalid(), err
	}
	if err = checkScalesAndZeroPoints(scales, zeroPoints, input.Dim(axis), "FakeQuantPerChannel"); err != nil {
		return shapes.Invalid(), shapes.Invalid(), err
	}
	return input.Clone(), input.WithDType(dtypes.Bool), nil
}

// FakeQuantPerChannelBackward validates the arguments of
// quantized.FakeQuantPerChannelBackward: the incoming gradient must be Float32, the
// saturation mask Bool, with equal dimensions. Returns the shape of the gradient with
// respect to the forward input.
func FakeQuantPerChannelBackward(gradOutput, mask shapes.Shape) (shapes.Shape, error) {
	if gradOutput.DType != dtypes.Float32 {
		return shapes.Invalid(), errors.Wrapf(ErrDTypeMismatch,
			"FakeQuantPerChannelBackward: gradOutput must be Float32, got %s", gradOutput)
	}
	if mask.DType != dtypes.Bool {
		return shapes.Invalid(), errors.Wrapf(ErrDTypeMismatch,
			"FakeQuantPerChannelBackward: mask must be Bool, got %s", mask)
	}
	if !gradOutput.EqualDimensions(mask) {
		return shapes.Invalid(), errors.Wrapf(ErrShapeMismatch,
			"FakeQuantPerChannelBackward: gradOutput %s and mask %s must have the same dimensions", gradOutput, mask)
	}
	return gradOutput.Clone(), nil
}
