package store

import "fmt"

// EdgePolicy decides when the outgoing edges of a caller are written.
type EdgePolicy int

const (
	// EdgePolicyCaller records a caller's edges once. A caller that already has
	// at least one outgoing edge is skipped entirely, location included.
	EdgePolicyCaller EdgePolicy = iota
	// EdgePolicyEdge never skips: the caller location is refreshed and every
	// edge is inserted unless that exact pair exists.
	EdgePolicyEdge
)

func (p EdgePolicy) String() string {
	switch p {
	case EdgePolicyCaller:
		return "caller"
	case EdgePolicyEdge:
		return "edge"
	}
	return fmt.Sprintf("EdgePolicy(%d)", int(p))
}

// ParseEdgePolicy maps "caller" and "edge" to policies. Empty means caller.
func ParseEdgePolicy(s string) (EdgePolicy, error) {
	switch s {
	case "", "caller":
		return EdgePolicyCaller, nil
	case "edge":
		return EdgePolicyEdge, nil
	}
	return EdgePolicyCaller, fmt.Errorf("unknown edge policy %q (want caller or edge)", s)
}

// Outcome summarizes what one Persist call wrote.
type Outcome struct {
	CallerID      int64
	CallerCreated bool
	CallerUpdated bool

	// Skipped is set when the caller already had edges and nothing was written.
	Skipped      bool
	NodesCreated int
	EdgesCreated int
}

// storedNode is the part of a functions row the engine compares against.
type storedNode struct {
	id   int64
	file string
	line int
}
