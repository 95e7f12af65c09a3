package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/citeloom/citeloom/internal/ingest"
)

// maxPanelEntries caps how many warnings or errors the panels list before
// collapsing the rest into an overflow count.
const maxPanelEntries = 10

// RenderSummary renders the end-of-run summary table plus warning and error
// panels when there is anything to report.
func RenderSummary(summary *ingest.Summary, styles Styles) string {
	rows := []struct {
		label string
		value string
	}{
		{"Documents Processed", fmt.Sprintf("%d", summary.DocumentsProcessed)},
		{"Documents Skipped", fmt.Sprintf("%d", summary.DocumentsSkipped)},
		{"Documents Failed", fmt.Sprintf("%d", summary.DocumentsFailed)},
		{"Chunks Created", fmt.Sprintf("%d", summary.ChunksWritten)},
		{"Duration", formatDuration(summary.Duration)},
		{"Warnings", fmt.Sprintf("%d", len(summary.Warnings))},
		{"Errors", fmt.Sprintf("%d", len(summary.Errors))},
	}

	var table strings.Builder
	table.WriteString(styles.Header.Render("Ingestion Summary"))
	table.WriteString("\n")
	for _, row := range rows {
		table.WriteString(fmt.Sprintf("%s  %s\n",
			styles.Label.Render(fmt.Sprintf("%-20s", row.label)),
			styles.Value.Render(row.value)))
	}

	sections := []string{styles.Panel.Render(strings.TrimRight(table.String(), "\n"))}
	if len(summary.Warnings) > 0 {
		sections = append(sections, renderPanel("Warnings", summary.Warnings, styles.Warning, styles.Panel))
	}
	if len(summary.Errors) > 0 {
		sections = append(sections, renderPanel("Errors", summary.Errors, styles.Error, styles.Panel))
	}
	return strings.Join(sections, "\n")
}

// renderPanel lists up to maxPanelEntries entries with an overflow count.
func renderPanel(title string, entries []string, accent, panel lipgloss.Style) string {
	var b strings.Builder
	b.WriteString(accent.Render(fmt.Sprintf("%s (%d)", title, len(entries))))
	b.WriteString("\n")

	shown := entries
	if len(shown) > maxPanelEntries {
		shown = shown[:maxPanelEntries]
	}
	for _, entry := range shown {
		b.WriteString("  • " + entry + "\n")
	}
	if overflow := len(entries) - len(shown); overflow > 0 {
		b.WriteString(accent.Render(fmt.Sprintf("  … and %d more", overflow)))
		b.WriteString("\n")
	}
	return panel.Render(strings.TrimRight(b.String(), "\n"))
}

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(time.Second).String()
}
