package diff

import "fmt"

// TreeShapeError is raised when dispatch encounters a variant that cannot
// legally appear at the current position, e.g. a RecursiveSelfRef outside
// any enclosing RecursiveCte.
type TreeShapeError struct {
	NodeKind string
	Detail   string
}

func (e *TreeShapeError) Error() string {
	return fmt.Sprintf("tree shape error at %s: %s", e.NodeKind, e.Detail)
}

// UnsupportedOperatorError marks a node whose semantics cannot be expressed
// differentially under this spec. The caller is expected to fall back to
// full recomputation rather than treat this as a bug.
type UnsupportedOperatorError struct {
	NodeKind string
	Reason   string
}

func (e *UnsupportedOperatorError) Error() string {
	return fmt.Sprintf("unsupported operator %s for differential mode: %s", e.NodeKind, e.Reason)
}

// QueryShapeError marks a malformed construct in the defining query itself:
// a zero-child UnionAll, a malformed aggregate, or a column reference that
// resolves to no CTE column.
type QueryShapeError struct {
	NodeKind string
	Detail   string
}

func (e *QueryShapeError) Error() string {
	return fmt.Sprintf("query shape error in %s: %s", e.NodeKind, e.Detail)
}

// InternalInvariantError marks a structural precondition the differentiation
// path expected but did not find, e.g. attempting the aggregate bypass path
// on a non-Scan child. Always a bug in the caller or in this package.
type InternalInvariantError struct {
	NodeKind string
	Detail   string
}

func (e *InternalInvariantError) Error() string {
	return fmt.Sprintf("internal invariant violation in %s: %s", e.NodeKind, e.Detail)
}
