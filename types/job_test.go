package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalArgs(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "Key order", input: `{"b":1,"a":{"d":2,"c":3}}`, expected: `{"a":{"c":3,"d":2},"b":1}`},
		{name: "Whitespace", input: " [ 1, 2 ,\n3 ] ", expected: `[1,2,3]`},
		{name: "Large number kept literal", input: `{"v":12345678901234567890}`, expected: `{"v":12345678901234567890}`},
		{name: "Empty", input: ``, expected: `null`},
		{name: "Scalar", input: `"realm"`, expected: `"realm"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := CanonicalArgs(json.RawMessage(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(out))
		})
	}
}

func TestCanonicalArgs_Invalid(t *testing.T) {
	_, err := CanonicalArgs(json.RawMessage(`{"a":`))
	assert.Error(t, err)
}

func TestSameWork(t *testing.T) {
	a := Job{Category: "incremental-index", Args: json.RawMessage(`{"realmURL":"http://r/","version":2}`)}
	b := Job{Category: "incremental-index", Args: json.RawMessage(`{ "version": 2, "realmURL": "http://r/" }`)}
	c := Job{Category: "incremental-index", Args: json.RawMessage(`{"realmURL":"http://r/","version":3}`)}
	d := Job{Category: "from-scratch-index", Args: a.Args}

	assert.True(t, SameWork(a, b))
	assert.False(t, SameWork(a, c))
	assert.False(t, SameWork(a, d))
}
