package util

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name  string
		input string
		width int
		want  string
	}{
		{"fits", "hello", 10, "hello"},
		{"exact", "hello", 5, "hello"},
		{"cut", "hello world", 5, "hell…"},
		{"zero width", "hello", 0, ""},
		{"negative width", "hello", -3, ""},
		{"empty", "", 4, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Truncate(tt.input, tt.width); got != tt.want {
				t.Errorf("Truncate(%q, %d) = %q, want %q", tt.input, tt.width, got, tt.want)
			}
		})
	}
}

func TestTruncate_KeepsEscapes(t *testing.T) {
	styled := "\x1b[31mhello world\x1b[0m"
	got := Truncate(styled, 5)
	if !strings.HasPrefix(got, "\x1b[31m") {
		t.Errorf("Truncate() dropped the leading escape: %q", got)
	}
	if !strings.Contains(got, "hell…") {
		t.Errorf("Truncate() = %q, want it to contain %q", got, "hell…")
	}
	if w := lipgloss.Width(got); w != 5 {
		t.Errorf("visible width = %d, want 5", w)
	}
}

func TestTruncateMiddle(t *testing.T) {
	tests := []struct {
		name  string
		input string
		width int
		want  string
	}{
		{"fits", "build/core", 20, "build/core"},
		{"exact", "build/core", 10, "build/core"},
		{"cut", "build/project/core", 12, "build…t/core"},
		{"odd split", "abcdefghij", 4, "a…ij"},
		{"one rune", "abcdef", 1, "…"},
		{"zero width", "abcdef", 0, ""},
		{"unicode", "日本語テスト", 5, "日本…スト"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateMiddle(tt.input, tt.width); got != tt.want {
				t.Errorf("TruncateMiddle(%q, %d) = %q, want %q", tt.input, tt.width, got, tt.want)
			}
		})
	}
}
