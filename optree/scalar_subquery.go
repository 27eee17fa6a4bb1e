package optree

import (
	"fmt"

	"github.com/flowdelta/pgdiff/diff"
	"github.com/flowdelta/pgdiff/internal/quoting"
	"github.com/flowdelta/pgdiff/rowid"
)

// ScalarSubquery models a correlated scalar subquery broadcast to every
// outer row, e.g. `(SELECT MAX(t.created_at) FROM t WHERE t.org_id =
// o.id) AS latest` (§4.6).
type ScalarSubquery struct {
	Outer         Node
	SubquerySQL   string // raw correlated scalar subquery, referencing OuterAliasRef
	OuterAliasRef string
	ScalarAlias   string
	AliasName     string
}

func (s *ScalarSubquery) OutputColumns() []string {
	return append(append([]string{}, s.Outer.OutputColumns()...), s.ScalarAlias)
}
func (s *ScalarSubquery) SourceOIDs() []uint32 { return s.Outer.SourceOIDs() }
func (s *ScalarSubquery) Alias() string        { return s.AliasName }
func (s *ScalarSubquery) Kind() string         { return "ScalarSubquery" }

// Diff (§4.6): Part 1 re-evaluates the scalar for every outer-delta row
// against the new frontier. Part 2 handles the broadcast case: the scalar's
// prior value for an unchanged outer row is whatever the Stream-Table
// persisted for it (the same ST-as-source-of-truth-for-the-old-value
// pattern Aggregate's algebraic/semi-algebraic paths use), and the new
// value comes from re-evaluating the correlated subquery against the
// current snapshot; the two are compared and only genuinely changed rows
// are emitted as D(old)+I(new).
func (s *ScalarSubquery) Diff(ctx *diff.Context) (*diff.Result, error) {
	outerDelta, err := s.Outer.Diff(ctx)
	if err != nil {
		return nil, err
	}
	outerSnap, ok := s.Outer.(Snapshotter)
	if !ok {
		return nil, &diff.UnsupportedOperatorError{NodeKind: s.Kind(), Reason: "outer child does not support snapshot reconstruction, cannot broadcast to unchanged rows"}
	}
	outerSQL, err := outerSnap.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	q := quoting.DoubleQuote
	outerCols := s.Outer.OutputColumns()
	scalarForDelta := renameOuterAlias(s.SubquerySQL, s.OuterAliasRef, "d")
	scalarForSnapshot := renameOuterAlias(s.SubquerySQL, s.OuterAliasRef, "t")

	part1Body := fmt.Sprintf(
		"SELECT %s AS __row_id, d.__action AS __action, %s, (%s) AS %s\nFROM %s AS d",
		rowid.Multi(prefixedQuotedColumns("d", outerCols)...),
		prefixedColumnList("d", outerCols), scalarForDelta, q(s.ScalarAlias), q(outerDelta.CTEName),
	)
	part1CTE := ctx.AddCTE("scalarsubquery_delta_eval", part1Body, false, false)

	st := ctx.STQualifiedName
	joinOn := joinOnAllColumns("t", "st", outerCols)
	mergeBody := fmt.Sprintf(
		"SELECT %s, (%s) AS __scalar_new, st.%s AS __scalar_old, st.%s IS NOT NULL AS __existed\nFROM (%s) AS t\nLEFT JOIN %s AS st ON %s",
		prefixedColumnList("t", outerCols), scalarForSnapshot, q(s.ScalarAlias), q(s.ScalarAlias), outerSQL, scalarSubqueryStOrEmpty(st, outerCols, s.ScalarAlias), joinOn,
	)
	mergeCTE := ctx.AddCTE("scalarsubquery_broadcast_merge", mergeBody, false, false)

	rowID := rowid.Multi(quotedColumnsOf(outerCols)...)
	body := fmt.Sprintf(
		"SELECT * FROM %s\n"+
			"UNION ALL\n"+
			"SELECT %s AS __row_id, 'D' AS __action, %s, __scalar_old AS %s\nFROM %s\nWHERE __existed AND __scalar_old IS DISTINCT FROM __scalar_new\n"+
			"UNION ALL\n"+
			"SELECT %s AS __row_id, 'I' AS __action, %s, __scalar_new AS %s\nFROM %s\nWHERE __existed AND __scalar_old IS DISTINCT FROM __scalar_new",
		q(part1CTE),
		rowID, quotedColumnList(outerCols), q(s.ScalarAlias), q(mergeCTE),
		rowID, quotedColumnList(outerCols), q(s.ScalarAlias), q(mergeCTE),
	)
	finalCTE := ctx.AddCTE("scalarsubquery_final", body, false, false)
	return &diff.Result{CTEName: finalCTE, Columns: s.OutputColumns(), Deduplicated: false}, nil
}

func prefixedQuotedColumns(alias string, cols []string) []string {
	q := quoting.DoubleQuote
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = alias + "." + q(c)
	}
	return out
}

func scalarSubqueryStOrEmpty(st string, outerCols []string, alias string) string {
	if st != "" {
		return st
	}
	q := quoting.DoubleQuote
	parts := make([]string, 0, len(outerCols)+1)
	for _, c := range outerCols {
		parts = append(parts, "NULL AS "+q(c))
	}
	parts = append(parts, "NULL AS "+q(alias))
	return "(SELECT " + joinComma(parts) + " WHERE FALSE) AS __empty_st"
}
