package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"string", "hello", `"hello"`},
		{"empty string", "", `""`},
		{"int", 42, "42"},
		{"negative int64", int64(-100), "-100"},
		{"json number", json.Number("7"), "7"},
		{"bool", true, "true"},
		{"empty array", []any{}, "[]"},
		{"empty object", map[string]any{}, "{}"},
		{"nested", map[string]any{"a": []any{1, "x"}}, `{"a":[1,"x"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	result, err := MarshalCanonical(map[string]any{"time": "09:00", "date": "2025-09-01", "doctor_id": "d1"})
	require.NoError(t, err)
	assert.Equal(t, `{"date":"2025-09-01","doctor_id":"d1","time":"09:00"}`, string(result))
}

func TestMarshalCanonicalUTF16KeyOrder(t *testing.T) {
	// U+1F600 encodes as the surrogate 0xD83D, which sorts before 0xFF61 in
	// UTF-16. In UTF-8 the order is reversed. RFC 8785 requires UTF-16 order.
	obj := map[string]any{"\U0001F600": 1, "\uFF61": 2}
	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":1,\"\uFF61\":2}", string(result))
}

func TestMarshalCanonicalNoHTMLEscape(t *testing.T) {
	result, err := MarshalCanonical("<a&b>")
	require.NoError(t, err)
	assert.Equal(t, `"<a&b>"`, string(result))
}

func TestMarshalCanonicalNFC(t *testing.T) {
	decomposed := "e\u0301"
	composed := "\u00e9"

	a, err := MarshalCanonical(decomposed)
	require.NoError(t, err)
	b, err := MarshalCanonical(composed)
	require.NoError(t, err)
	assert.Equal(t, string(b), string(a))
}

func TestMarshalCanonicalLineSeparators(t *testing.T) {
	result, err := MarshalCanonical("a\u2028b")
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\"", string(result))

	// An escaped backslash followed by the text u2028 stays escaped.
	result, err = MarshalCanonical(`a\u2028b`)
	require.NoError(t, err)
	assert.Equal(t, `"a\\u2028b"`, string(result))
}

func TestMarshalCanonicalRejects(t *testing.T) {
	for name, v := range map[string]any{
		"null":         nil,
		"float":        1.5,
		"float number": json.Number("1.5"),
		"struct":       struct{}{},
		"nested null":  map[string]any{"a": nil},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := MarshalCanonical(v)
			assert.Error(t, err)
		})
	}
}
