// Package graph defines the identity model shared by the analyzer and the store.
package graph

import (
	"errors"
	"fmt"
)

// ErrEmptyName is returned by Validate for an identity without a name.
var ErrEmptyName = errors.New("function identity has an empty name")

// Scope is the visibility of a function symbol.
type Scope int

const (
	// Global symbols are visible across the whole program and are unique by name.
	Global Scope = iota
	// Local symbols are visible only in their defining file and are unique by (name, file).
	Local
)

func (s Scope) String() string {
	switch s {
	case Global:
		return "global"
	case Local:
		return "local"
	}
	return fmt.Sprintf("scope(%d)", int(s))
}

// Identity is one observation of a function declaration.
type Identity struct {
	Name  string
	File  string
	Line  int
	Scope Scope
}

// Key is the lookup key of a stored function. File is empty for globals.
type Key struct {
	Scope Scope
	Name  string
	File  string
}

// Key returns the lookup key for id. An empty File is a valid bucket for locals.
func (id Identity) Key() Key {
	if id.Scope == Local {
		return Key{Scope: Local, Name: id.Name, File: id.File}
	}
	return Key{Scope: Global, Name: id.Name}
}

// IsGlobal reports whether id is unique by name alone.
func (id Identity) IsGlobal() bool { return id.Scope != Local }

// Validate rejects identities the store cannot key.
func (id Identity) Validate() error {
	if id.Name == "" {
		return ErrEmptyName
	}
	return nil
}

func (id Identity) String() string {
	s := fmt.Sprintf("%s (defined in %s, l.%d)", id.Name, id.File, id.Line)
	if id.Scope == Local {
		s += " (static)"
	}
	return s
}

func (k Key) String() string {
	if k.Scope == Local {
		return k.Name + "@" + k.File
	}
	return k.Name
}

// Observation is one analyzed function body: the caller and every direct,
// statically resolvable callee found in it.
type Observation struct {
	Caller  Identity
	Callees []Identity
}

// DistinctCallees returns the callees with duplicate keys removed. The first
// occurrence of each key wins and order is preserved.
func (o Observation) DistinctCallees() []Identity {
	if len(o.Callees) == 0 {
		return nil
	}
	seen := make(map[Key]bool, len(o.Callees))
	out := make([]Identity, 0, len(o.Callees))
	for _, c := range o.Callees {
		k := c.Key()
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, c)
	}
	return out
}

// Node is a stored function row.
type Node struct {
	ID int64
	Identity
}

// Edge is a stored "caller calls callee" row.
type Edge struct {
	Caller int64
	Callee int64
}
