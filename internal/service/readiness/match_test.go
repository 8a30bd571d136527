package readiness

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchModel(t *testing.T) {
	available := []string{"gemma3:4b", "llama3:latest", "qwen2.5:7b-instruct"}

	cases := []struct {
		requested string
		want      bool
	}{
		{"gemma3:4b", true},
		{"llama3", true},
		{"llama3:latest", true},
		{"qwen2.5:7b-instruct", true},
		{"gemma3", false},
		{"llama", false},
		{"qwen2.5", false},
		{"", false},
	}

	for _, tc := range cases {
		t.Run(tc.requested, func(t *testing.T) {
			assert.Equal(t, tc.want, MatchModel(tc.requested, available))
		})
	}
}

func TestMatchModelEmptyCatalog(t *testing.T) {
	assert.False(t, MatchModel("llama3", nil))
}
