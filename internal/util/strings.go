// Package util provides text helpers for terminal output.
package util

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// Ellipsis marks truncated text.
const Ellipsis = "…"

// Truncate cuts s to width visible columns, ending with an ellipsis when
// anything was dropped. Escape sequences are preserved.
func Truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if lipgloss.Width(s) <= width {
		return s
	}
	return ansi.Truncate(s, width, Ellipsis)
}

// TruncateMiddle shortens a plain string to width runes by dropping its
// middle, so both the prefix and the leaf of a job path stay visible.
func TruncateMiddle(s string, width int) string {
	if width <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= width {
		return s
	}
	if width == 1 {
		return Ellipsis
	}
	head := (width - 1) / 2
	tail := width - 1 - head
	return string(r[:head]) + Ellipsis + string(r[len(r)-tail:])
}
