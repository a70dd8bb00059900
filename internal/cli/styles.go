// Package cli renders job progress and reports for the terminal.
package cli

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Veraticus/the-spice-must-match/internal/model"
	"github.com/charmbracelet/lipgloss"
)

var (
	// PrimaryColor is the main theme color (spicy red).
	PrimaryColor = lipgloss.Color("#FF6B6B")
	// SuccessColor marks completed work.
	SuccessColor = lipgloss.Color("#4ECDC4")
	// WarningColor marks partial failures.
	WarningColor = lipgloss.Color("#FFE66D")
	// InfoColor marks running work.
	InfoColor = lipgloss.Color("#95E1D3")
	// SubtleColor is for secondary text.
	SubtleColor = lipgloss.Color("#666666")

	// TitleStyle is used for section titles.
	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(PrimaryColor)
	// SuccessStyle formats success messages.
	SuccessStyle = lipgloss.NewStyle().Foreground(SuccessColor)
	// WarningStyle formats warning messages.
	WarningStyle = lipgloss.NewStyle().Foreground(WarningColor)
	// ErrorStyle formats error messages.
	ErrorStyle = lipgloss.NewStyle().Foreground(PrimaryColor)
	// InfoStyle formats informational messages.
	InfoStyle = lipgloss.NewStyle().Foreground(InfoColor)
	// SubtleStyle formats less prominent text.
	SubtleStyle = lipgloss.NewStyle().Foreground(SubtleColor)

	// BoxStyle is used for bordered summaries.
	BoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#333")).
			Padding(1, 2)

	// TableHeaderStyle is used for table headers.
	TableHeaderStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)

// Icons.
const (
	SuccessIcon = "✓"
	ErrorIcon   = "✗"
	WarningIcon = "⚠️"
	InfoIcon    = "ℹ️"
	SpiceIcon   = "🌶️"
)

// FormatSuccess formats a success message with icon.
func FormatSuccess(message string) string {
	return SuccessStyle.Render(SuccessIcon + " " + message)
}

// FormatError formats an error message with icon.
func FormatError(message string) string {
	return ErrorStyle.Render(ErrorIcon + " " + message)
}

// FormatWarning formats a warning message with icon.
func FormatWarning(message string) string {
	return WarningStyle.Render(WarningIcon + " " + message)
}

// FormatInfo formats an info message with icon.
func FormatInfo(message string) string {
	return InfoStyle.Render(InfoIcon + " " + message)
}

// FormatTitle formats a title with the spice icon.
func FormatTitle(title string) string {
	return TitleStyle.Render(SpiceIcon + " " + title)
}

// RenderBox renders content in a styled box under a title.
func RenderBox(title, content string) string {
	return BoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, TitleStyle.Render(title), content))
}

// StatusStyle picks the color for a job status.
func StatusStyle(status model.JobStatus) lipgloss.Style {
	switch status {
	case model.JobCompleted:
		return SuccessStyle
	case model.JobFailed:
		return ErrorStyle
	case model.JobRunning:
		return InfoStyle
	case model.JobPending, model.JobQueued:
		return SubtleStyle
	}
	return SubtleStyle
}

// FormatJobSummary renders the final report of a job.
func FormatJobSummary(view model.JobView) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Job:        %s\n", view.JobID)
	fmt.Fprintf(&b, "Status:     %s\n", StatusStyle(view.Status).Render(string(view.Status)))
	fmt.Fprintf(&b, "Processed:  %d/%d\n", view.Processed, view.Total)
	fmt.Fprintf(&b, "Successful: %d\n", view.Successful)
	fmt.Fprintf(&b, "Failed:     %d", view.Failed)
	if view.TotalTokens > 0 {
		fmt.Fprintf(&b, "\nTokens:     %d", view.TotalTokens)
		fmt.Fprintf(&b, "\nCost:       $%s", view.TotalCost.StringFixed(4))
	}
	if view.StartedAt != nil && view.CompletedAt != nil {
		fmt.Fprintf(&b, "\nDuration:   %s", view.CompletedAt.Sub(*view.StartedAt).Round(time.Millisecond))
	}
	if view.Error != "" {
		fmt.Fprintf(&b, "\n%s", FormatError(view.Error))
	}
	return RenderBox(fmt.Sprintf("%s %s job", SpiceIcon, view.Kind), b.String())
}

// FormatJobsTable renders a job list.
func FormatJobsTable(views []model.JobView) string {
	if len(views) == 0 {
		return SubtleStyle.Render("No jobs yet.")
	}
	var b strings.Builder
	b.WriteString(TableHeaderStyle.Render(fmt.Sprintf("%-36s  %-6s  %-24s  %-9s  %9s", "ID", "KIND", "RESOURCE", "STATUS", "PROGRESS")))
	for _, v := range views {
		b.WriteString("\n")
		status := StatusStyle(v.Status).Render(fmt.Sprintf("%-9s", v.Status))
		fmt.Fprintf(&b, "%-36s  %-6s  %-24s  %s  %8.1f%%", v.JobID, v.Kind, truncate(v.Resource, 24), status, v.ProgressPercentage)
	}
	return b.String()
}

// FormatSourcesTable renders the enrichment sources of one transaction.
func FormatSourcesTable(sources []model.EnrichmentSource) string {
	if len(sources) == 0 {
		return SubtleStyle.Render("No sources linked.")
	}
	var b strings.Builder
	b.WriteString(TableHeaderStyle.Render(fmt.Sprintf("%-6s  %-22s  %-20s  %-22s  %4s  %s", "ID", "KIND", "EXTERNAL ID", "METHOD", "CONF", "FLAGS")))
	for _, s := range sources {
		var flags []string
		if s.IsPrimary {
			flags = append(flags, "primary")
		}
		if s.UserVerified {
			flags = append(flags, "verified")
		}
		if s.PrimaryPinned {
			flags = append(flags, "pinned")
		}
		b.WriteString("\n")
		fmt.Fprintf(&b, "%-6d  %-22s  %-20s  %-22s  %4d  %s",
			s.ID, s.Kind, truncate(s.ExternalID, 20), s.Method, s.Confidence, strings.Join(flags, ","))
	}
	return b.String()
}

// FormatCacheStats renders enrichment cache statistics.
func FormatCacheStats(stats model.CacheStats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Cached descriptions: %d\n", stats.TotalCached)
	fmt.Fprintf(&b, "Pending retries:     %d\n", stats.PendingRetries)
	fmt.Fprintf(&b, "Approximate size:    %s", formatBytes(stats.SizeBytes))

	providers := make([]string, 0, len(stats.Providers))
	for name := range stats.Providers {
		providers = append(providers, name)
	}
	sort.Strings(providers)
	for _, name := range providers {
		fmt.Fprintf(&b, "\n  %-18s %d", name, stats.Providers[name])
	}
	return RenderBox("Enrichment cache", b.String())
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
