package optree

import (
	"fmt"

	"github.com/flowdelta/pgdiff/diff"
	"github.com/flowdelta/pgdiff/internal/quoting"
	"github.com/flowdelta/pgdiff/rowid"
)

// RecursiveCte differentiates a `WITH RECURSIVE <Name> AS (BaseCase UNION
// [ALL] RecursiveTerm)` definition (§4.7). CTEID is the parser-assigned
// identity CteScan and any nested RecursiveSelfRef use to find this node's
// memoized Result / registered CTE name.
type RecursiveCte struct {
	CTEID         int
	Name          string // the CTE's name as written in the defining query
	Columns       []string
	BaseCase      Node
	RecursiveTerm Node // somewhere contains a *RecursiveSelfRef with this CTEID
	AliasName     string
}

func (r *RecursiveCte) OutputColumns() []string { return r.Columns }
func (r *RecursiveCte) SourceOIDs() []uint32 {
	return dedupSourceOIDs(r.BaseCase.SourceOIDs(), r.RecursiveTerm.SourceOIDs())
}
func (r *RecursiveCte) Alias() string { return r.AliasName }
func (r *RecursiveCte) Kind() string  { return "RecursiveCte" }

// Diff realizes a single algorithm covering both named incremental paths of
// §4.7 (semi-naive and DRed): rather than branching on a compile-time-
// undecidable "did any DELETE occur" question, it always restricts the
// recursive fixpoint to the neighborhood reachable from changed base rows
// (the semi-naive seed) and diffs that neighborhood's new result against
// the same neighborhood's old rows in the Stream-Table via EXCEPT ALL (the
// DRed rederive step's correctness property). When no DELETE occurred, the
// neighborhood's "old" side is empty and every row in it is a genuine
// insert — semi-naive's behavior, reached as a degenerate case rather than
// a separate code path. See DESIGN.md for why a true two-path runtime
// branch cannot be expressed in generated SQL without data the planner
// does not have.
func (r *RecursiveCte) Diff(ctx *diff.Context) (*diff.Result, error) {
	if cached, ok := ctx.Memo(r.CTEID); ok {
		cachedCopy := cached
		return &cachedCopy, nil
	}

	baseDelta, err := r.BaseCase.Diff(ctx)
	if err != nil {
		return nil, err
	}

	termSnap, ok := r.RecursiveTerm.(Snapshotter)
	if !ok {
		return r.diffViaFullRecomputation(ctx)
	}

	q := quoting.DoubleQuote
	rcName := ctx.NextName("rc_" + sanitizeIdent(r.Name))
	ctx.RegisterCTEBody(r.CTEID, rcName, true)

	seedBody := fmt.Sprintf("SELECT DISTINCT %s\nFROM %s", quotedColumnList(baseDelta.Columns), q(baseDelta.CTEName))
	seedCTE := ctx.AddCTE("rc_seed", seedBody, false, false)

	termSQL, err := termSnap.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	rcBody := fmt.Sprintf("SELECT * FROM %s\nUNION ALL\n%s", q(seedCTE), termSQL)
	ctx.AddNamedCTE(rcName, rcBody, true, false)

	st := ctx.STQualifiedName
	var oldAffectedBody string
	if st != "" {
		oldAffectedBody = fmt.Sprintf(
			"SELECT st.*\nFROM %s AS st\nWHERE EXISTS (SELECT 1 FROM %s AS n WHERE %s)\n   OR EXISTS (SELECT 1 FROM %s AS sd WHERE %s)",
			st, q(rcName), joinOnAllColumns("st", "n", r.Columns), q(seedCTE), joinOnAllColumns("st", "sd", r.Columns),
		)
	} else {
		oldAffectedBody = emptyRelationSelect(r.Columns)
	}
	oldAffectedCTE := ctx.AddCTE("rc_old_affected", oldAffectedBody, false, false)

	result, err := diffTwoFullRelations(ctx, "rc_final", r.Columns, oldAffectedCTE, rcName)
	if err != nil {
		return nil, err
	}
	if err := ctx.SetMemo(r.CTEID, *result); err != nil {
		return nil, err
	}
	return result, nil
}

// diffViaFullRecomputation is the last-resort path (§4.7's "Recomputation
// fallback"): re-execute the defining query text in full and diff it
// against the Stream-Table wholesale. Used when the recursive term contains
// an operator (e.g. a group-rescan Aggregate) this package cannot render as
// a bare snapshot SELECT.
func (r *RecursiveCte) diffViaFullRecomputation(ctx *diff.Context) (*diff.Result, error) {
	if ctx.DefiningQuery == "" {
		return nil, &diff.UnsupportedOperatorError{NodeKind: r.Kind(), Reason: "recursive term cannot be snapshotted and no defining query text is available for full recomputation"}
	}
	fullCTE := ctx.AddCTE("rc_full_recompute", ctx.DefiningQuery, false, false)
	st := ctx.STQualifiedName
	oldSide := emptyRelationSelect(r.Columns)
	if st != "" {
		oldSide = fmt.Sprintf("SELECT * FROM %s", st)
	}
	oldCTE := ctx.AddCTE("rc_old_full", oldSide, false, false)
	result, err := diffTwoFullRelations(ctx, "rc_final", r.Columns, oldCTE, fullCTE)
	if err != nil {
		return nil, err
	}
	if err := ctx.SetMemo(r.CTEID, *result); err != nil {
		return nil, err
	}
	return result, nil
}

// diffTwoFullRelations emits "old EXCEPT ALL new UNION ALL new EXCEPT ALL
// old" as D/I events, the row-content-equality diff formula used by both
// the neighborhood-restricted path and the full-recomputation fallback.
func diffTwoFullRelations(ctx *diff.Context, prefix string, cols []string, oldCTE, newCTE string) (*diff.Result, error) {
	q := quoting.DoubleQuote
	rowID := rowid.Multi(quotedColumnsOf(cols)...)
	colList := quotedColumnList(cols)
	body := fmt.Sprintf(
		"SELECT %s AS __row_id, 'D' AS __action, %s\nFROM ((SELECT %s FROM %s) EXCEPT ALL (SELECT %s FROM %s)) AS d\n"+
			"UNION ALL\n"+
			"SELECT %s AS __row_id, 'I' AS __action, %s\nFROM ((SELECT %s FROM %s) EXCEPT ALL (SELECT %s FROM %s)) AS i",
		rowID, colList, colList, q(oldCTE), colList, q(newCTE),
		rowID, colList, colList, q(newCTE), colList, q(oldCTE),
	)
	finalCTE := ctx.AddCTE(prefix, body, false, false)
	return &diff.Result{CTEName: finalCTE, Columns: cols, Deduplicated: true}, nil
}

func emptyRelationSelect(cols []string) string {
	q := quoting.DoubleQuote
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = "NULL AS " + q(c)
	}
	return "SELECT " + joinComma(parts) + " WHERE FALSE"
}

// sanitizeIdent strips characters that would make NextName's generated
// prefix produce a surprising identifier; CTE names in the defining query
// are themselves valid SQL identifiers, so this is a defensive no-op today,
// kept small so a future parser supplying quoted/mixed-case names doesn't
// need a second look here.
func sanitizeIdent(s string) string {
	if s == "" {
		return "anon"
	}
	return s
}
