package quantized

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOperators(t *testing.T) {
	defs := Operators()
	require.Len(t, defs, 16)

	// The returned slice is a copy.
	defs[0].Name = "clobbered"
	assert.Equal(t, "quantized_decomposed::quantize_per_tensor", Operators()[0].Name)
}

func TestOperatorByName(t *testing.T) {
	def := OperatorByName("quantized_decomposed::choose_qparams_per_token_asymmetric")
	require.NotNil(t, def)
	assert.Equal(t, 2, def.NumOutputs)
	assert.Equal(t, []string{"input", "dtype"}, def.ArgNames)

	assert.Nil(t, OperatorByName("quantized_decomposed::no_such_op"))
	assert.Nil(t, OperatorByName(""))
}

func TestOperatorNamesAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for _, def := range Operators() {
		assert.False(t, seen[def.Name], "duplicate operator name %q", def.Name)
		seen[def.Name] = true
		assert.NotEmpty(t, def.ArgNames)
		assert.Greater(t, def.NumOutputs, 0)
		assert.Empty(t, def.MutatedArgs())
	}
}
