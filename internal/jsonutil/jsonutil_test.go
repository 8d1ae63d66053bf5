package jsonutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`},
		{"bare array", `[1, 2]`, `[1, 2]`},
		{"fenced json", "```json\n{\"a\": 1}\n```", `{"a": 1}`},
		{"fenced without language", "```\n[1]\n```", `[1]`},
		{"object in prose", `The answer is {"a": 1} as requested.`, `{"a": 1}`},
		{"array in prose", `Results: [{"a": 1}] done`, `[{"a": 1}]`},
		{"array wins when it comes first", `[{"a": 1}] and {"b": 2}`, `[{"a": 1}] and {"b": 2}`},
		{"no json passes through", "nothing here", "nothing here"},
		{"whitespace trimmed", "  {\"a\": 1}  ", `{"a": 1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Extract(tt.in))
		})
	}
}

func TestDecode(t *testing.T) {
	var obj struct {
		Name string `json:"name"`
	}
	require.NoError(t, Decode("Sure! ```json\n{\"name\": \"x\"}\n``` hope that helps", &obj))
	assert.Equal(t, "x", obj.Name)

	err := Decode("not json", &obj)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse JSON")
}
