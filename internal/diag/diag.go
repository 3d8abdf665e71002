// Package diag is the diagnostics sink of the call-graph recorder.
//
// Persistence failures are reported here as one warning line each and then
// dropped; nothing in this package returns an error to its caller, so a single
// unanalyzable or lock-contended unit never aborts a build.
package diag

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/CamFlow/callgraphs/internal/graph"
)

// New returns a text logger writing to w at the given level.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", s)
	}
	return l, nil
}

// Sink reports failures that the host decided not to treat as fatal.
type Sink struct {
	Logger *slog.Logger
}

// NewSink wraps logger, falling back to slog.Default when nil.
func NewSink(logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sink{Logger: logger}
}

// PersistFailed reports that the edges of caller in unit were not stored.
func (s *Sink) PersistFailed(unit string, caller graph.Identity, err error) {
	s.Logger.Warn("couldn't store functions in database",
		"unit", unit,
		"function", caller.Name,
		"error", err,
	)
}

// UnitFailed reports a unit that could not be analyzed or whose store could not be opened.
func (s *Sink) UnitFailed(unit string, err error) {
	s.Logger.Warn("skipping translation unit", "unit", unit, "error", err)
}

// Dump writes the human-readable call list of obs in the ";;" comment format
// used by compiler dump files.
func Dump(w io.Writer, obs graph.Observation) error {
	callees := obs.DistinctCallees()
	if len(callees) == 0 {
		_, err := fmt.Fprintf(w, ";; %s calls no function (other than builtins)\n", obs.Caller)
		return err
	}
	if _, err := fmt.Fprintf(w, ";; %s calls the following functions:\n", obs.Caller); err != nil {
		return err
	}
	for _, c := range callees {
		if _, err := fmt.Fprintf(w, ";; \t%s\n", c); err != nil {
			return err
		}
	}
	return nil
}
