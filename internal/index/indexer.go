// Package index drives the recorder over translation units: analyze each unit,
// optionally dump its observations, and persist them through one store
// session per unit.
package index

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/CamFlow/callgraphs/internal/analyzer"
	"github.com/CamFlow/callgraphs/internal/analyzer/languages"
	"github.com/CamFlow/callgraphs/internal/diag"
	"github.com/CamFlow/callgraphs/internal/graph"
	"github.com/CamFlow/callgraphs/internal/store"
	"github.com/CamFlow/callgraphs/internal/telemetry"
)

// Config holds the indexer configuration.
type Config struct {
	// DBPath is the store file. Empty disables persistence.
	DBPath       string
	StoreOptions []store.Option
	Workers      int
	// Ignore is added to the walker's ignore patterns.
	Ignore []string
	Strict bool
	// Dump receives every observation in the dump format when non-nil.
	Dump       io.Writer
	OnProgress ProgressFunc
	Sink       *diag.Sink
}

// Progress is reported after every unit.
type Progress struct {
	Phase string
	Unit  string
	Done  int
	Total int
}

// ProgressFunc receives progress updates. It is called from worker goroutines
// one update at a time.
type ProgressFunc func(Progress)

// UnitResult is what recording one unit produced.
type UnitResult struct {
	Unit    string
	Callers int
	// Outcomes has one entry per caller that was persisted.
	Outcomes []store.Outcome
	// PersistFailures counts callers whose edges were dropped.
	PersistFailures int
}

// Indexer is the public API for recording call graphs.
type Indexer struct {
	cfg      Config
	registry *analyzer.Registry
	analyzer *analyzer.Analyzer
	sink     *diag.Sink

	dumpMu sync.Mutex
}

// New creates an Indexer with the C and Go frontends registered.
func New(cfg Config) *Indexer {
	reg := analyzer.NewRegistry()
	languages.RegisterC(reg)
	languages.RegisterGo(reg)

	sink := cfg.Sink
	if sink == nil {
		sink = diag.NewSink(nil)
	}
	return &Indexer{
		cfg:      cfg,
		registry: reg,
		analyzer: analyzer.New(reg, cfg.Strict),
		sink:     sink,
	}
}

// Supports reports whether path has a registered frontend.
func (idx *Indexer) Supports(path string) bool {
	return idx.analyzer.Supports(path)
}

// RecordUnit analyzes one unit and persists its observations in a fresh store
// session. Persist failures are reported to the sink and counted in the
// result; only analysis and store open failures are returned.
func (idx *Indexer) RecordUnit(ctx context.Context, unit analyzer.Unit) (res UnitResult, err error) {
	ctx, span := telemetry.StartUnitSpan(ctx, unit.Path)
	defer func() { telemetry.EndSpan(span, err) }()
	res = UnitResult{Unit: unit.Path}

	obs, err := idx.analyzer.Analyze(ctx, unit)
	if err != nil {
		telemetry.UnitsFailed.Inc()
		idx.sink.UnitFailed(unit.Path, err)
		return res, err
	}
	telemetry.UnitsAnalyzed.Inc()
	res.Callers = len(obs)

	if idx.cfg.Dump != nil {
		if err := idx.dump(obs); err != nil {
			return res, fmt.Errorf("dump %s: %w", unit.Path, err)
		}
	}

	if idx.cfg.DBPath == "" || len(obs) == 0 {
		return res, nil
	}

	s, err := store.Open(idx.cfg.DBPath, idx.cfg.StoreOptions...)
	if err != nil {
		telemetry.UnitsFailed.Inc()
		idx.sink.UnitFailed(unit.Path, err)
		return res, err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			idx.sink.Logger.Warn("close store", "unit", unit.Path, "error", cerr)
		}
	}()

	for _, o := range obs {
		out, err := s.Persist(ctx, o.Caller, o.Callees)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return res, err
			}
			res.PersistFailures++
			idx.sink.PersistFailed(unit.Path, o.Caller, err)
			continue
		}
		res.Outcomes = append(res.Outcomes, out)
	}
	return res, nil
}

// dump keeps the observations of one unit together in the output.
func (idx *Indexer) dump(obs []graph.Observation) error {
	idx.dumpMu.Lock()
	defer idx.dumpMu.Unlock()
	for _, o := range obs {
		if err := diag.Dump(idx.cfg.Dump, o); err != nil {
			return err
		}
	}
	return nil
}

func (idx *Indexer) progress(p Progress) {
	if idx.cfg.OnProgress != nil {
		idx.cfg.OnProgress(p)
	}
}
