// Package ui holds terminal styling and prompt helpers for the CLI.
package ui

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#005F87", Dark: "#5FAFFF"}).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#007A33", Dark: "#5FD787"})
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#AF5F00", Dark: "#FFAF5F"})
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#AF0000", Dark: "#FF5F5F"}).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#6C6C6C", Dark: "#8A8A8A"})
	keyStyle    = lipgloss.NewStyle().Bold(true)
)

func init() {
	if termenv.EnvNoColor() || !IsTerminal(os.Stdout) {
		DisableColor()
	}
}

// DisableColor renders every style as plain text.
func DisableColor() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

// RenderAccent highlights headings and values.
func RenderAccent(s string) string { return accentStyle.Render(s) }

// RenderPass renders a success message.
func RenderPass(s string) string { return passStyle.Render(s) }

// RenderWarn renders a warning.
func RenderWarn(s string) string { return warnStyle.Render(s) }

// RenderFail renders an error.
func RenderFail(s string) string { return failStyle.Render(s) }

// RenderMuted renders secondary text.
func RenderMuted(s string) string { return mutedStyle.Render(s) }

// KeyValues renders aligned "key: value" lines in the given order.
func KeyValues(pairs ...[2]string) string {
	width := 0
	for _, p := range pairs {
		if len(p[0]) > width {
			width = len(p[0])
		}
	}
	var b strings.Builder
	for _, p := range pairs {
		fmt.Fprintf(&b, "  %s %s\n", keyStyle.Render(fmt.Sprintf("%-*s", width+1, p[0]+":")), p[1])
	}
	return b.String()
}
