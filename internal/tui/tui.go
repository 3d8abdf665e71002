// Package tui shows indexing progress in the terminal.
package tui

import (
	"context"
	"errors"

	"github.com/CamFlow/callgraphs/internal/index"

	tea "github.com/charmbracelet/bubbletea"
)

var errInterrupted = errors.New("interrupted")

// IndexFunc runs an index, reporting progress through onProgress.
type IndexFunc func(ctx context.Context, onProgress index.ProgressFunc) (*index.Stats, error)

// Run shows a spinner while run executes and returns its result. Pressing
// ctrl+c cancels the context passed to run.
func Run(ctx context.Context, title string, run IndexFunc, opts ...tea.ProgramOption) (*index.Stats, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newIndexingModel(title), opts...)

	done := make(chan indexDoneMsg, 1)
	go func() {
		stats, err := run(ctx, func(pr index.Progress) {
			p.Send(indexProgressMsg(pr))
		})
		msg := indexDoneMsg{stats: stats, err: err}
		done <- msg
		p.Send(msg)
	}()

	final, err := p.Run()
	if err != nil {
		cancel()
		<-done
		return nil, err
	}
	if m, ok := final.(indexingModel); ok && errors.Is(m.err, errInterrupted) {
		cancel()
		res := <-done
		return res.stats, errors.Join(errInterrupted, res.err)
	}
	res := <-done
	return res.stats, res.err
}
