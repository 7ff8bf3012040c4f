package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONRoundTrip(t *testing.T) {
	c := JSON{}

	data, err := c.Marshal(map[string]any{"step": 3, "name": "loss"})
	require.NoError(t, err)

	v, err := c.Unmarshal(data)
	require.NoError(t, err)

	m, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "loss", m["name"])
	assert.Equal(t, float64(3), m["step"])
}

func TestMarshalFailureIncludesDiagnostics(t *testing.T) {
	type payload struct {
		Name string
		Done chan struct{}
	}

	c := JSON{}
	_, err := c.Marshal(payload{Name: "x", Done: make(chan struct{})})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "could not serialize")
	assert.Contains(t, err.Error(), "value.Done is a chan")
}

func TestInspect(t *testing.T) {
	type inner struct {
		Fn func()
	}
	type outer struct {
		Label  string
		Nested inner
	}

	tests := []struct {
		name string
		v    any
		want string
	}{
		{"clean value", map[string]int{"a": 1}, "all fields appear serializable"},
		{"nil value", nil, "value is nil"},
		{"nested func", outer{Label: "ok"}, "value.Nested.Fn is a func"},
		{"slice of chans", []chan int{make(chan int)}, "value[0] is a chan"},
		{"complex number", complex(1, 2), "value is a complex128"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, Inspect(tt.v), tt.want)
		})
	}
}
