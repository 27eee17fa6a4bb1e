package optree

import "github.com/flowdelta/pgdiff/diff"

// Differentiate walks root, registers every CTE the walk produces in ctx,
// and renders the final WITH-envelope SQL text (§4.8). It is the single
// entry point callers outside this package use; everything else here is an
// implementation detail of one node kind or another.
func Differentiate(ctx *diff.Context, root Node) (string, error) {
	if isMergeSafeScanChain(root) {
		restore := ctx.PushMergeSafeDedup(true)
		defer restore()
	}
	result, err := root.Diff(ctx)
	if err != nil {
		return "", err
	}
	return ctx.Render(result.CTEName), nil
}

// isMergeSafeScanChain reports whether root is a Scan, optionally wrapped in
// any chain of Filter/Project/Subquery, with no join, set-op, or aggregate
// ancestor anywhere above the Scan. Those three wrappers pass their child's
// delta through one row in, one row out, so a Scan directly underneath them
// can still safely emit at most one row per PK (§4.1's merge-safe dedup
// mode) — a join or set-op ancestor, by contrast, depends on seeing every
// buffered change to compute its own algebra correctly.
func isMergeSafeScanChain(n Node) bool {
	switch t := n.(type) {
	case *Scan:
		return true
	case *Filter:
		return isMergeSafeScanChain(t.Child)
	case *Project:
		return isMergeSafeScanChain(t.Child)
	case *Subquery:
		return isMergeSafeScanChain(t.Child)
	default:
		return false
	}
}
