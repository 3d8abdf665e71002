package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// Colors follow what happened to a caller: recorded now, already in the
// store from an earlier run, or dropped.
var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	spinnerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39"))

	recordedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("78"))

	skippedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("109")).
			Italic(true)

	failedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("203"))

	unitStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244"))
)

// summaryLines renders the end-of-run counts, one state per line.
func summaryLines(st recordCounts) []string {
	lines := []string{
		recordedStyle.Render(fmt.Sprintf("  + %d functions, %d calls new", st.functions, st.edges)),
	}
	if st.skipped > 0 {
		lines = append(lines, skippedStyle.Render(fmt.Sprintf("  = %d callers already recorded", st.skipped)))
	}
	if st.unitsFailed > 0 {
		lines = append(lines, failedStyle.Render(fmt.Sprintf("  x %d files failed to analyze", st.unitsFailed)))
	}
	if st.persistFailed > 0 {
		lines = append(lines, failedStyle.Render(fmt.Sprintf("  x %d callers could not be stored, see the log", st.persistFailed)))
	}
	return lines
}

type recordCounts struct {
	functions, edges, skipped  int
	unitsFailed, persistFailed int
}
