package reporting

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeError(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "strips key fields",
			input:    "failed to fetch user~id=7: request failed with status 500",
			expected: "failed to fetch user~<fields> request failed with status 500",
		},
		{
			name:     "keeps bare type keys",
			input:    "failed to fetch session",
			expected: "failed to fetch session",
		},
		{
			name:     "strips multi-field keys",
			input:    "failed to fetch search~limit=10_q=foo",
			expected: "failed to fetch search~<fields>",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, sanitizeError(tc.input))
		})
	}
}
