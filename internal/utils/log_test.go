package utils

import (
	"strings"
	"testing"
)

func TestSanitizeForLog(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"tensor name", "model.layers.0.mlp.up_proj.weight", "model.layers.0.mlp.up_proj.weight"},
		{"line breaks", "a\nb\rc\td", `a\nb\rc\td`},
		{"backslash", `model\norm`, `model\\norm`},
		{"control", "a\x00b\x1bc", "a?b?c"},
		{"unicode", "▁hello", "▁hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeForLog(tt.input); got != tt.want {
				t.Errorf("SanitizeForLog(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSanitizeForLog_Truncates(t *testing.T) {
	got := SanitizeForLog(strings.Repeat("x", 1000))
	if want := strings.Repeat("x", maxLogLength) + "...[truncated]"; got != want {
		t.Errorf("SanitizeForLog() length = %d, want %d", len(got), len(want))
	}
}
