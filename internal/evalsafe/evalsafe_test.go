package evalsafe

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEvalBoolThresholdLine(t *testing.T) {
	ok, err := EvalBool("load_1 < 4.0 and memory_free_mb > 2048", map[string]float64{
		"load_1":         1.2,
		"memory_free_mb": 4096,
	})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = EvalBool("load_1 < 4.0 and memory_free_mb > 2048", map[string]float64{
		"load_1":         9.0,
		"memory_free_mb": 4096,
	})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEvalRejectsFunctionCalls(t *testing.T) {
	_, err := Eval(`exec("rm -rf /")`, map[string]any{})
	require.Error(t, err)
	var kinder interface{ Kind() string }
	require.ErrorAs(t, err, &kinder)
	require.Equal(t, "UnsafeExpression", kinder.Kind())
}

func TestEvalRejectsBuiltinPipes(t *testing.T) {
	_, err := Eval(`all(items, {# > 0})`, map[string]any{"items": []int{1, 2, 3}})
	require.Error(t, err)
}

func TestEvalAllowsAttributeAndSubscriptAccess(t *testing.T) {
	result, err := Eval(`a.available > 0`, map[string]any{"a": map[string]any{"available": 10}})
	require.NoError(t, err)
	require.Equal(t, true, result)

	result, err = Eval(`a["available"] > 0`, map[string]any{"a": map[string]any{"available": 10}})
	require.NoError(t, err)
	require.Equal(t, true, result)
}

func TestEvalRejectsSlicing(t *testing.T) {
	_, err := Eval(`items[1:2]`, map[string]any{"items": []int{1, 2, 3}})
	require.Error(t, err)
}

func TestEvalUndefinedVariableFails(t *testing.T) {
	_, err := Eval("unknown_var > 1", map[string]any{"known": 1})
	require.Error(t, err)
}
