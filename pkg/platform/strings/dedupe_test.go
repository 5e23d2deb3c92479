package strings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDedupeAndTrim(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{name: "nil slice", input: nil, expected: nil},
		{name: "empty slice", input: []string{}, expected: []string{}},
		{
			name:     "trims and drops empties",
			input:    []string{"  details ", "", "  ", "actor_display_name"},
			expected: []string{"details", "actor_display_name"},
		},
		{
			name:     "dedupes preserving order",
			input:    []string{"details", "workflow", "details"},
			expected: []string{"details", "workflow"},
		},
		{
			name:     "case preserved",
			input:    []string{"Details", "details"},
			expected: []string{"Details", "details"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeAndTrim(tt.input))
		})
	}
}

func TestDedupeAndTrimLower(t *testing.T) {
	tests := []struct {
		name     string
		input    []string
		expected []string
	}{
		{name: "nil slice", input: nil, expected: nil},
		{
			name:     "case folds before deduping",
			input:    []string{"Details", "details", "DETAILS"},
			expected: []string{"details"},
		},
		{
			name:     "trims and folds together",
			input:    []string{"  DETAILS ", "workflow", "Details"},
			expected: []string{"details", "workflow"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DedupeAndTrimLower(tt.input))
		})
	}
}
