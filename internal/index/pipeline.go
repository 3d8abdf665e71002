package index

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/CamFlow/callgraphs/internal/analyzer"
	"github.com/CamFlow/callgraphs/internal/telemetry"
	"github.com/CamFlow/callgraphs/internal/walker"
	"golang.org/x/sync/errgroup"
)

// Stats reports indexing results.
type Stats struct {
	FilesTotal    int
	FilesAnalyzed int
	FilesFailed   int
	// Callers is the number of function definitions observed.
	Callers int
	// Functions and Edges count rows created in the store.
	Functions       int
	Edges           int
	Skipped         int
	PersistFailures int
}

func (s *Stats) add(r UnitResult) {
	s.FilesAnalyzed++
	s.Callers += r.Callers
	s.PersistFailures += r.PersistFailures
	for _, o := range r.Outcomes {
		s.Functions += o.NodesCreated
		s.Edges += o.EdgesCreated
		if o.Skipped {
			s.Skipped++
		}
	}
}

// Index records every supported unit under root. Each worker opens its own
// store session per unit, the way parallel compile jobs share one store.
// Unit failures are counted, not returned; the error is for walk failures
// and cancellation.
func (idx *Indexer) Index(ctx context.Context, root string) (*Stats, error) {
	workers := idx.cfg.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	g, gctx := errgroup.WithContext(ctx)
	files, walkErrs := walker.Walk(gctx, root, walker.Options{
		Extensions: idx.registry.Extensions(),
		Ignore:     idx.cfg.Ignore,
	})

	var (
		mu    sync.Mutex
		stats Stats
	)
	for range workers {
		g.Go(func() error {
			for f := range files {
				mu.Lock()
				stats.FilesTotal++
				mu.Unlock()

				res, err := idx.recordFile(gctx, f)
				if gctx.Err() != nil {
					return gctx.Err()
				}

				mu.Lock()
				if err != nil {
					stats.FilesFailed++
				} else {
					stats.add(res)
				}
				p := Progress{Phase: "Recording call graph", Unit: f.RelPath, Done: stats.FilesAnalyzed + stats.FilesFailed, Total: stats.FilesTotal}
				idx.progress(p)
				mu.Unlock()
			}
			return nil
		})
	}

	err := g.Wait()
	// Drain so the walker goroutine can exit after a cancellation.
	for range files {
	}
	if werr := <-walkErrs; werr != nil && err == nil {
		err = fmt.Errorf("walk %s: %w", root, werr)
	}
	return &stats, err
}

func (idx *Indexer) recordFile(ctx context.Context, f walker.File) (UnitResult, error) {
	src, err := os.ReadFile(f.Path)
	if err != nil {
		telemetry.UnitsFailed.Inc()
		idx.sink.UnitFailed(f.RelPath, err)
		return UnitResult{Unit: f.RelPath}, err
	}
	return idx.RecordUnit(ctx, analyzer.Unit{Path: f.RelPath, Abs: f.Path, Src: src})
}
