package optree

import (
	"fmt"

	"github.com/flowdelta/pgdiff/diff"
	"github.com/flowdelta/pgdiff/internal/quoting"
)

// RecursiveSelfRef is a leaf standing for "this recursive CTE's own
// accumulated rows so far", appearing somewhere inside a RecursiveCte's
// RecursiveTerm subtree (§4.7). It has no independent delta of its own: its
// Diff always fails with TreeShapeError, since a self-reference can only be
// resolved by the enclosing RecursiveCte while it assembles the recursive
// arm textually via Snapshot, never by ordinary recursive differentiation.
type RecursiveSelfRef struct {
	CTEID     int
	Columns   []string
	AliasName string
}

func (r *RecursiveSelfRef) OutputColumns() []string { return r.Columns }
func (r *RecursiveSelfRef) SourceOIDs() []uint32    { return nil }
func (r *RecursiveSelfRef) Alias() string           { return r.AliasName }
func (r *RecursiveSelfRef) Kind() string            { return "RecursiveSelfRef" }

func (r *RecursiveSelfRef) Diff(ctx *diff.Context) (*diff.Result, error) {
	return nil, &diff.TreeShapeError{
		NodeKind: r.Kind(),
		Detail:   "RecursiveSelfRef cannot be differentiated directly; it must appear inside an enclosing RecursiveCte's recursive term",
	}
}

// Snapshot returns a reference to the enclosing RecursiveCte's own CTE name,
// as registered by RecursiveCte.Diff via ctx.RegisterCTEBody before it
// snapshots the recursive term. Returns TreeShapeError if no enclosing
// RecursiveCte has registered CTEID yet — the structural symptom of a
// RecursiveSelfRef used outside any RecursiveCte.
func (r *RecursiveSelfRef) Snapshot(ctx *diff.Context) (string, error) {
	name, _, ok := ctx.LookupCTEBody(r.CTEID)
	if !ok {
		return "", &diff.TreeShapeError{
			NodeKind: r.Kind(),
			Detail:   "RecursiveSelfRef references a CTE id with no enclosing RecursiveCte",
		}
	}
	return fmt.Sprintf("SELECT * FROM %s", quoting.DoubleQuote(name)), nil
}
