package tui

import "github.com/charmbracelet/lipgloss"

// Theme defines the visual style of the job watcher.
type Theme struct {
	Title         lipgloss.Style
	Subtitle      lipgloss.Style
	Normal        lipgloss.Style
	Muted         lipgloss.Style
	StatusInfo    lipgloss.Style
	StatusError   lipgloss.Style
	StatusWarning lipgloss.Style
	StatusSuccess lipgloss.Style
	Box           lipgloss.Style
	Primary       lipgloss.Color
	Secondary     lipgloss.Color
}

// Default is the default theme.
var Default = Theme{
	Primary:   lipgloss.Color("#7c3aed"),
	Secondary: lipgloss.Color("#a78bfa"),

	Title: lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#fafafa")).
		MarginBottom(1),
	Subtitle: lipgloss.NewStyle().
		Foreground(lipgloss.Color("#a3a3a3")),
	Normal: lipgloss.NewStyle().
		Foreground(lipgloss.Color("#fafafa")),
	Muted: lipgloss.NewStyle().
		Foreground(lipgloss.Color("#737373")),

	StatusInfo:    lipgloss.NewStyle().Foreground(lipgloss.Color("#3b82f6")),
	StatusError:   lipgloss.NewStyle().Foreground(lipgloss.Color("#ef4444")).Bold(true),
	StatusWarning: lipgloss.NewStyle().Foreground(lipgloss.Color("#f59e0b")),
	StatusSuccess: lipgloss.NewStyle().Foreground(lipgloss.Color("#10b981")).Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#404040")).
		Padding(1, 2),
}
