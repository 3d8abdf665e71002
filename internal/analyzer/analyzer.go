// Package analyzer extracts caller/callee observations from source files.
//
// Each translation unit is parsed with tree-sitter and handed to the frontend
// registered for its extension. Only direct calls whose target is a named
// function are reported; calls through pointers, method values and compiler
// builtins are left out before anything reaches the store.
package analyzer

import (
	"context"
	"errors"
	"fmt"

	"github.com/CamFlow/callgraphs/internal/graph"
	sitter "github.com/smacker/go-tree-sitter"
)

// ErrSyntax is returned in strict mode for units whose tree contains errors.
var ErrSyntax = errors.New("syntax errors in unit")

// Unit is one translation unit.
type Unit struct {
	// Path is recorded as the File of every identity defined in the unit.
	Path string
	// Abs locates the unit on disk; frontends use it to find module files.
	Abs string
	Src []byte
}

// Frontend turns the syntax tree of one unit into observations.
type Frontend interface {
	Observe(unit Unit, root *sitter.Node) ([]graph.Observation, error)
}

// Analyzer parses units with the grammar registered for their extension.
type Analyzer struct {
	registry *Registry
	strict   bool
}

// New creates an analyzer backed by the given registry. In strict mode, units
// with syntax errors are rejected instead of analyzed as far as they parse.
func New(r *Registry, strict bool) *Analyzer {
	return &Analyzer{registry: r, strict: strict}
}

// Supports reports whether a frontend is registered for path.
func (a *Analyzer) Supports(path string) bool {
	return a.registry.Lookup(path) != nil
}

// Analyze returns one observation per function defined in unit. Units with
// no registered grammar yield nil.
func (a *Analyzer) Analyze(ctx context.Context, unit Unit) ([]graph.Observation, error) {
	spec := a.registry.Lookup(unit.Path)
	if spec == nil {
		return nil, nil
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(spec.Language)
	tree, err := parser.ParseCtx(ctx, nil, unit.Src)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", unit.Path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if a.strict && root.HasError() {
		return nil, fmt.Errorf("%s: %w", unit.Path, ErrSyntax)
	}
	obs, err := spec.Frontend.Observe(unit, root)
	if err != nil {
		return nil, fmt.Errorf("analyze %s (%s): %w", unit.Path, spec.Name, err)
	}
	return obs, nil
}
