package expression

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := map[string]string{
		"":                         "@",
		"$":                        "@",
		"$.x":                      "x",
		"$.order.items[0]":         "order.items[0]",
		"$jobsMapByNodeKey.n1.foo": `"$jobsMapByNodeKey".n1.foo`,
		"$.$context.user":          `"$context".user`,
		"plain.path":               "plain.path",
	}

	for input, expected := range tests {
		assert.Equal(t, expected, Normalize(input), input)
	}
}

func TestResolve(t *testing.T) {
	scope := map[string]any{
		"x": 5,
		"order": map[string]any{
			"id":    "o-1",
			"items": []any{map[string]any{"sku": "a"}},
		},
		"$jobsMapByNodeKey": map[string]any{
			"n1": map[string]any{"status": "ok"},
		},
	}

	value, err := Resolve(scope, "$.x")
	require.NoError(t, err)
	assert.Equal(t, 5, value)

	value, err = Resolve(scope, "$.order.items[0].sku")
	require.NoError(t, err)
	assert.Equal(t, "a", value)

	value, err = Resolve(scope, "$jobsMapByNodeKey.n1.status")
	require.NoError(t, err)
	assert.Equal(t, "ok", value)

	value, err = Resolve(scope, "$.missing.path")
	require.NoError(t, err)
	assert.Nil(t, value)

	value, err = Resolve(scope, "$")
	require.NoError(t, err)
	assert.Equal(t, scope, value)

	_, err = Resolve(scope, "$.[[[")
	require.Error(t, err)
}

func TestEvaluate_NumericComparison(t *testing.T) {
	scope := map[string]any{"amount": 120}

	value, err := Evaluate(scope, "amount > `100`")
	require.NoError(t, err)
	assert.Equal(t, true, value)

	value, err = Evaluate(scope, "amount < `100`")
	require.NoError(t, err)
	assert.Equal(t, false, value)
}

func TestRender(t *testing.T) {
	scope := map[string]any{
		"user":  map[string]any{"name": "ana"},
		"count": 3,
		"tags":  []any{"a"},
	}

	assert.Equal(t, "hello ana, you have 3 items", Render("hello {{ $.user.name }}, you have {{count}} items", scope))
	assert.Equal(t, `tags ["a"]`, Render("tags {{ tags }}", scope))
	assert.Equal(t, "missing: ", Render("missing: {{ $.nope }}", scope))
	assert.Equal(t, "no placeholders", Render("no placeholders", scope))
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(false))
	assert.False(t, Truthy(""))
	assert.False(t, Truthy([]any{}))
	assert.False(t, Truthy(map[string]any{}))
	assert.True(t, Truthy(true))
	assert.True(t, Truthy("x"))
	assert.True(t, Truthy(0.0))
	assert.True(t, Truthy([]any{1}))
}
