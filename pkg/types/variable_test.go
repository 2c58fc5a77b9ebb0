package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestVariableRoundTrip tests that primitives survive serialization unchanged
func TestVariableRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		v    Variable
	}{
		{"null", Null()},
		{"string", Str("hello")},
		{"empty string", Str("")},
		{"int", Int(42)},
		{"negative int", Int(-7)},
		{"float", Float(3.25)},
		{"bool true", Bool(true)},
		{"bool false", Bool(false)},
		{"list", List(Int(1), Str("two"), Bool(false))},
		{"map", Map(map[string]Variable{"a": Int(1), "b": Null()})},
		{"nested", Map(map[string]Variable{"inner": List(Map(map[string]Variable{"x": Float(1.5)}))})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.v)
			require.NoError(t, err)

			var got Variable
			require.NoError(t, json.Unmarshal(data, &got))
			assert.True(t, tt.v.Equal(got), "round-trip changed value: %s -> %s", data, got.Str)
		})
	}
}

// TestOpaquePlaceholder tests the non-serializable marker semantics
func TestOpaquePlaceholder(t *testing.T) {
	v := Opaque("playwright.Page")
	assert.True(t, v.IsOpaque())
	assert.Contains(t, v.Str, NonSerializablePrefix)
	assert.Contains(t, v.Str, "playwright.Page")

	// A marker string decodes back as opaque, not as a plain string
	data, err := json.Marshal(v)
	require.NoError(t, err)

	var got Variable
	require.NoError(t, json.Unmarshal(data, &got))
	assert.True(t, got.IsOpaque())
}

func TestFromGo(t *testing.T) {
	assert.Equal(t, KindNull, FromGo(nil).Kind)
	assert.Equal(t, int64(5), FromGo(5).Int)
	assert.Equal(t, "x", FromGo("x").Str)
	assert.Equal(t, 2.5, FromGo(2.5).Float)
	assert.True(t, FromGo(true).Bool)

	// Serializable composite takes the JSON path
	v := FromGo(map[string]any{"k": []any{1, "s"}})
	assert.Equal(t, KindMap, v.Kind)
	assert.Equal(t, KindList, v.Map["k"].Kind)

	// Unserializable values collapse to the placeholder
	ch := make(chan int)
	got := FromGo(ch)
	assert.True(t, got.IsOpaque())
}

func TestIntFloatDistinction(t *testing.T) {
	var got Variable
	require.NoError(t, json.Unmarshal([]byte(`42`), &got))
	assert.Equal(t, KindInt, got.Kind)

	require.NoError(t, json.Unmarshal([]byte(`42.0`), &got))
	assert.Equal(t, KindFloat, got.Kind)
}
