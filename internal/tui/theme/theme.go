// Package theme provides the visual theme for terminal output.
package theme

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme holds all the styles used by the CLI.
type Theme struct {
	// Text styles
	Base  lipgloss.Style
	Muted lipgloss.Style
	Faint lipgloss.Style
	Title lipgloss.Style

	// Accent colors
	Primary lipgloss.Style
	Success lipgloss.Style
	Warn    lipgloss.Style
	Danger  lipgloss.Style

	// Tables
	Header lipgloss.Style
	Cell   lipgloss.Style
	Border lipgloss.Style
}

var (
	primaryColor = lipgloss.AdaptiveColor{Light: "#EA580C", Dark: "#FB923C"} // Orange
	borderColor  = lipgloss.AdaptiveColor{Light: "#D0D7DE", Dark: "#3B4261"}
)

// New creates the default theme (orange accent).
func New() Theme {
	success := lipgloss.AdaptiveColor{Light: "#0F7B0F", Dark: "#9ECE6A"}
	warn := lipgloss.AdaptiveColor{Light: "#B45309", Dark: "#FBBF24"}
	danger := lipgloss.AdaptiveColor{Light: "#B00020", Dark: "#F7768E"}
	muted := lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#A9B1D6"}
	faint := lipgloss.AdaptiveColor{Light: "#9CA3AF", Dark: "#565F89"}

	return Theme{
		Base:  lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#111827", Dark: "#C0CAF5"}),
		Muted: lipgloss.NewStyle().Foreground(muted),
		Faint: lipgloss.NewStyle().Foreground(faint),
		Title: lipgloss.NewStyle().Bold(true),

		Primary: lipgloss.NewStyle().Foreground(primaryColor),
		Success: lipgloss.NewStyle().Foreground(success),
		Warn:    lipgloss.NewStyle().Foreground(warn),
		Danger:  lipgloss.NewStyle().Foreground(danger),

		Header: lipgloss.NewStyle().Bold(true).Foreground(primaryColor).Padding(0, 1),
		Cell:   lipgloss.NewStyle().Padding(0, 1),
		Border: lipgloss.NewStyle().Foreground(borderColor),
	}
}

// TokenStatus colors a credential status string ("valid (3d left)",
// "expired", "no expiry").
func (t Theme) TokenStatus(status string) string {
	switch {
	case strings.HasPrefix(status, "valid"):
		return t.Success.Render("● " + status)
	case status == "expired":
		return t.Danger.Render("✖ " + status)
	default:
		return t.Warn.Render("○ " + status)
	}
}

// RenderPane renders content in a pane with btop-style header (title embedded in border).
// Example output:
//
//	╭─┤ Authorize ├────────────────────────────╮
//	│ content here                             │
//	╰──────────────────────────────────────────╯
func (t Theme) RenderPane(title, content string, width int) string {
	// Guard against very small widths that would cause panics
	if width < 10 {
		width = 10
	}

	borderStyle := lipgloss.NewStyle().Foreground(borderColor)
	titleStyle := lipgloss.NewStyle().Bold(true).Foreground(primaryColor)

	// 2 for borders, 2 for padding
	contentWidth := width - 4

	// Header structure: "╭─┤ " + title + " ├" + "─" * rest + "╮"
	titleText := titleStyle.Render(title)
	restWidth := max(width-lipgloss.Width(titleText)-7, 0)
	header := borderStyle.Render("╭─┤ ") + titleText + borderStyle.Render(" ├"+strings.Repeat("─", restWidth)+"╮")

	var body strings.Builder
	for _, line := range strings.Split(content, "\n") {
		padding := max(contentWidth-lipgloss.Width(line), 0)
		body.WriteString(borderStyle.Render("│ "))
		body.WriteString(line)
		body.WriteString(strings.Repeat(" ", padding))
		body.WriteString(borderStyle.Render(" │"))
		body.WriteString("\n")
	}

	footer := borderStyle.Render("╰" + strings.Repeat("─", width-2) + "╯")

	return header + "\n" + body.String() + footer
}
