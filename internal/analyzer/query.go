package analyzer

import (
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
)

// Match maps capture names to the nodes captured by one query match.
type Match map[string]*sitter.Node

// Query is a compiled tree-sitter query. Close it when done.
type Query struct {
	q *sitter.Query
}

// NewQuery compiles an S-expression query for lang.
func NewQuery(lang *sitter.Language, src string) (*Query, error) {
	q, err := sitter.NewQuery([]byte(src), lang)
	if err != nil {
		return nil, fmt.Errorf("compile query: %w", err)
	}
	return &Query{q: q}, nil
}

// Close releases the compiled query.
func (q *Query) Close() {
	q.q.Close()
}

// Matches runs the query over node and returns every match in document order.
func (q *Query) Matches(node *sitter.Node) []Match {
	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(q.q, node)

	var out []Match
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		match := make(Match, len(m.Captures))
		for _, c := range m.Captures {
			match[q.q.CaptureNameForId(c.Index)] = c.Node
		}
		out = append(out, match)
	}
	return out
}

// Line returns the 1-based line where n starts.
func Line(n *sitter.Node) int {
	return int(n.StartPoint().Row) + 1
}

// Enclosing walks up from n and returns the first ancestor of the given type.
func Enclosing(n *sitter.Node, typ string) *sitter.Node {
	for p := n.Parent(); p != nil; p = p.Parent() {
		if p.Type() == typ {
			return p
		}
	}
	return nil
}

// FirstOfType returns the first node of the given type in a pre-order walk of n.
func FirstOfType(n *sitter.Node, typ string) *sitter.Node {
	if n == nil {
		return nil
	}
	if n.Type() == typ {
		return n
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		if found := FirstOfType(n.NamedChild(i), typ); found != nil {
			return found
		}
	}
	return nil
}
