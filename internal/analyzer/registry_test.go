package analyzer

import (
	"testing"

	"github.com/CamFlow/callgraphs/internal/graph"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/stretchr/testify/assert"
)

type nopFrontend struct{}

func (nopFrontend) Observe(Unit, *sitter.Node) ([]graph.Observation, error) { return nil, nil }

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	first := &LanguageSpec{Name: "first", Frontend: nopFrontend{}, Extensions: []string{"c", "h"}}
	second := &LanguageSpec{Name: "second", Frontend: nopFrontend{}, Extensions: []string{"h"}}
	r.Register(first)
	r.Register(second)

	assert.Same(t, first, r.Lookup("src/main.c"))
	assert.Same(t, second, r.Lookup("include/api.h"))
	assert.Nil(t, r.Lookup("Makefile"))
	assert.Equal(t, map[string]bool{"c": true, "h": true}, r.Extensions())

	a := New(r, false)
	assert.True(t, a.Supports("x.h"))
	assert.False(t, a.Supports("x.go"))
}
