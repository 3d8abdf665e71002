package tui

import (
	"errors"
	"testing"

	"github.com/CamFlow/callgraphs/internal/index"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndexingModel_Progress(t *testing.T) {
	var m tea.Model = newIndexingModel("Recording")
	require.NotNil(t, m.Init())

	m, cmd := m.Update(indexProgressMsg(index.Progress{Phase: "Recording call graph", Unit: "lib/b.c", Done: 1, Total: 3}))
	assert.Nil(t, cmd)
	view := m.View()
	assert.Contains(t, view, "Recording call graph")
	assert.Contains(t, view, "1 / 3 files processed")
	assert.Contains(t, view, "lib/b.c")
}

func TestIndexingModel_Done(t *testing.T) {
	var m tea.Model = newIndexingModel("Recording")
	stats := &index.Stats{FilesTotal: 3, FilesAnalyzed: 2, FilesFailed: 1, Functions: 7, Edges: 9, Skipped: 2, PersistFailures: 1}

	m, cmd := m.Update(indexDoneMsg{stats: stats})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())

	view := m.View()
	assert.Contains(t, view, "Files: 3 total, 2 analyzed")
	assert.Contains(t, view, "+ 7 functions, 9 calls new")
	assert.Contains(t, view, "= 2 callers already recorded")
	assert.Contains(t, view, "x 1 files failed to analyze")
	assert.Contains(t, view, "x 1 callers could not be stored")
}

func TestSummaryLines(t *testing.T) {
	t.Run("first run", func(t *testing.T) {
		lines := summaryLines(recordCounts{functions: 4, edges: 3})
		require.Len(t, lines, 1)
		assert.Contains(t, lines[0], "+ 4 functions, 3 calls new")
	})

	t.Run("rerun only skips", func(t *testing.T) {
		lines := summaryLines(recordCounts{skipped: 5})
		require.Len(t, lines, 2)
		assert.Contains(t, lines[0], "+ 0 functions, 0 calls new")
		assert.Contains(t, lines[1], "= 5 callers already recorded")
	})

	t.Run("skipped callers are styled apart", func(t *testing.T) {
		assert.NotEqual(t, skippedStyle.GetForeground(), recordedStyle.GetForeground())
		assert.NotEqual(t, skippedStyle.GetForeground(), failedStyle.GetForeground())
		assert.True(t, skippedStyle.GetItalic())
	})
}

func TestIndexingModel_Error(t *testing.T) {
	var m tea.Model = newIndexingModel("Recording")
	m, _ = m.Update(indexDoneMsg{err: errors.New("walk failed")})
	assert.Contains(t, m.View(), "Error: walk failed")
}

func TestIndexingModel_Interrupt(t *testing.T) {
	var m tea.Model = newIndexingModel("Recording")
	m, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.ErrorIs(t, m.(indexingModel).err, errInterrupted)
}
