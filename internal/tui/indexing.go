package tui

import (
	"fmt"

	"github.com/CamFlow/callgraphs/internal/index"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

type indexingModel struct {
	spinner spinner.Model
	title   string
	phase   string
	unit    string
	done    int
	total   int

	finished bool
	stats    *index.Stats
	err      error
}

func newIndexingModel(title string) indexingModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle
	return indexingModel{
		spinner: sp,
		title:   title,
		phase:   "Walking source tree...",
	}
}

// indexDoneMsg is sent when indexing completes.
type indexDoneMsg struct {
	stats *index.Stats
	err   error
}

// indexProgressMsg is sent after every unit.
type indexProgressMsg index.Progress

func (m indexingModel) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m indexingModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			m.err = errInterrupted
			return m, tea.Quit
		}
	case indexDoneMsg:
		m.finished = true
		m.stats = msg.stats
		m.err = msg.err
		return m, tea.Quit
	case indexProgressMsg:
		m.phase = msg.Phase
		m.unit = msg.Unit
		m.done = msg.Done
		m.total = msg.Total
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m indexingModel) View() string {
	s := "\n" + headerStyle.Render("  "+m.title) + "\n\n"

	if m.finished {
		if m.err != nil {
			return s + failedStyle.Render(fmt.Sprintf("  Error: %v", m.err)) + "\n\n"
		}
		s += recordedStyle.Render("  ✓ Call graph recorded") + "\n\n"
		if st := m.stats; st != nil {
			s += fmt.Sprintf("  Files: %d total, %d analyzed\n", st.FilesTotal, st.FilesAnalyzed)
			counts := recordCounts{
				functions:     st.Functions,
				edges:         st.Edges,
				skipped:       st.Skipped,
				unitsFailed:   st.FilesFailed,
				persistFailed: st.PersistFailures,
			}
			for _, line := range summaryLines(counts) {
				s += line + "\n"
			}
		}
		return s + "\n"
	}

	s += fmt.Sprintf("  %s %s\n", m.spinner.View(), m.phase)
	if m.total > 0 {
		s += fmt.Sprintf("  %d / %d files processed\n", m.done, m.total)
	}
	if m.unit != "" {
		s += unitStyle.Render("  "+m.unit) + "\n"
	}
	return s + "\n"
}
