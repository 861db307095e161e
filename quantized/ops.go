package quantized

// OpDef describes one operator of the package for host graph-tracing systems: its
// qualified name, the argument names in call order, and how many tensors it returns.
// None of the operators mutate their arguments.
type OpDef struct {
	// Name is the qualified operator name, e.g.
	// "quantized_decomposed::quantize_per_tensor".
	Name string

	// ArgNames lists the arguments in the order the Go kernel takes them, tensor and
	// scalar alike.
	ArgNames []string

	// NumOutputs is the number of tensors returned: 1 for the quantize/dequantize
	// kernels, 2 for the choosers and the fake-quant forward.
	NumOutputs int
}

// MutatedArgs returns the names of the arguments the operator modifies in place.
// Every operator in the package is pure, so it always returns an empty list.
func (def OpDef) MutatedArgs() []string { return nil }

// opDefs is in registration order; the quantize/dequantize pairs first, then the
// parameter choosers, then fake-quant.
var opDefs = []OpDef{
	{"quantized_decomposed::quantize_per_tensor",
		[]string{"input", "scale", "zero_point", "quant_min", "quant_max", "dtype"}, 1},
	{"quantized_decomposed::quantize_per_tensor.tensor",
		[]string{"input", "scale", "zero_point", "quant_min", "quant_max", "dtype"}, 1},
	{"quantized_decomposed::dequantize_per_tensor",
		[]string{"input", "scale", "zero_point", "quant_min", "quant_max", "dtype", "out_dtype"}, 1},
	{"quantized_decomposed::dequantize_per_tensor.tensor",
		[]string{"input", "scale", "zero_point", "quant_min", "quant_max", "dtype", "out_dtype"}, 1},
	{"quantized_decomposed::quantize_per_channel",
		[]string{"input", "scales", "zero_points", "axis", "quant_min", "quant_max", "dtype"}, 1},
	{"quantized_decomposed::dequantize_per_channel",
		[]string{"input", "scales", "zero_points", "axis", "quant_min", "quant_max", "dtype", "out_dtype"}, 1},
	{"quantized_decomposed::quantize_per_token",
		[]string{"input", "scales", "zero_points", "quant_min", "quant_max", "dtype"}, 1},
	{"quantized_decomposed::dequantize_per_token",
		[]string{"input", "scales", "zero_points", "quant_min", "quant_max", "dtype", "out_dtype"}, 1},
	{"quantized_decomposed::quantize_per_channel_group",
		[]string{"input", "scales", "zero_points", "quant_min", "quant_max", "dtype", "group_size"}, 1},
	{"quantized_decomposed::dequantize_per_channel_group",
		[]string{"input", "scales", "zero_points", "quant_min", "quant_max", "dtype", "group_size", "out_dtype"}, 1},
	{"quantized_decomposed::choose_qparams.tensor",
		[]string{"input", "quant_min", "quant_max", "eps", "dtype"}, 2},
	{"quantized_decomposed::choose_qparams_symmetric.tensor",
		[]string{"input", "quant_min", "quant_max", "eps", "dtype"}, 2},
	{"quantized_decomposed::choose_qparams_per_token",
		[]string{"input", "dtype"}, 2},
	{"quantized_decomposed::choose_qparams_per_token_asymmetric",
		[]string{"input", "dtype"}, 2},
	{"quantized_decomposed::fake_quant_per_channel",
		[]string{"input", "scales", "zero_points", "axis", "quant_min", "quant_max"}, 2},
	{"quantized_decomposed::fake_quant_per_channel_backward",
		[]string{"grad_output", "mask"}, 1},
}

var opDefsByName = func() map[string]*OpDef {
	byName := make(map[string]*OpDef, len(opDefs))
	for ii := range opDefs {
		byName[opDefs[ii].Name] = &opDefs[ii]
	}
	return byName
}()

// Operators returns the definitions of all operators of the package, in
// registration order. The returned slice is a copy, free to modify.
func Operators() []OpDef {
	return append([]OpDef(nil), opDefs...)
}

// OperatorByName returns the definition of the operator with the given qualified
// name, or nil if there is no such operator.
func OperatorByName(name string) *OpDef {
	def, found := opDefsByName[name]
	if !found {
		return nil
	}
	return def
}
