package export

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"sorted keys", `{"b":1,"a":2}`, `{"a":2,"b":1}`},
		{"nested objects sorted", `{"z":{"y":1,"x":[{"d":1,"c":2}]}}`, `{"z":{"x":[{"c":2,"d":1}],"y":1}}`},
		{"whitespace removed", "{\n  \"a\" : [ 1, 2 ]\n}", `{"a":[1,2]}`},
		{"html not escaped", `{"s":"a<b>&c"}`, `{"s":"a<b>&c"}`},
		{"escaped html restored", `{"s":"\u003cb\u003e"}`, `{"s":"<b>"}`},
		{"number literal preserved", `{"n":12345678901234567890,"f":1.50}`, `{"f":1.50,"n":12345678901234567890}`},
		{"null and bools", `{"t":true,"n":null,"f":false}`, `{"f":false,"n":null,"t":true}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CanonicalizeJSON([]byte(tt.in))
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestCanonicalizeJSON_Invalid(t *testing.T) {
	for _, in := range []string{``, `{`, `{"a":1} {"b":2}`, `not json`} {
		_, err := CanonicalizeJSON([]byte(in))
		assert.Error(t, err, in)
	}
}

func TestCanonicalize_StructAndMapAgree(t *testing.T) {
	type pair struct {
		B string `json:"b"`
		A int    `json:"a"`
	}
	fromStruct, err := Canonicalize(pair{B: "x", A: 1})
	require.NoError(t, err)
	fromMap, err := Canonicalize(map[string]interface{}{"a": 1, "b": "x"})
	require.NoError(t, err)
	assert.Equal(t, string(fromMap), string(fromStruct))
}

func TestHashJSON_IgnoresFormatting(t *testing.T) {
	h1, err := HashJSON([]byte(`{"a":1,"b":[1,2]}`))
	require.NoError(t, err)
	h2, err := HashJSON([]byte("{ \"b\": [1, 2],\n \"a\": 1 }"))
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)

	h3, err := HashJSON([]byte(`{"a":2,"b":[1,2]}`))
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}
