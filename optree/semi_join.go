package optree

import (
	"fmt"

	"github.com/flowdelta/pgdiff/diff"
	"github.com/flowdelta/pgdiff/expr"
	"github.com/flowdelta/pgdiff/internal/quoting"
)

// SemiJoin implements "WHERE EXISTS (subquery correlated to Right)" as a
// 2-part UNION ALL (§4.3): left rows that transition into/out of having at
// least one Right match. Differentiating Right requires a materialized
// R_old snapshot (taken before Right's delta is applied) because existence
// is the only thing that matters, not multiplicity, and the
// InsideSemiJoin ambient flag is pushed around Right's differentiation so
// any join nested inside Right knows EXCEPT ALL-based L0 reconstruction is
// unsafe there (§4.3, §9).
type SemiJoin struct {
	Left, Right Node
	On          expr.Expr
	EquiKeys    []EquiKey
	AliasName   string
}

func (s *SemiJoin) OutputColumns() []string { return s.Left.OutputColumns() }
func (s *SemiJoin) SourceOIDs() []uint32 {
	return dedupSourceOIDs(s.Left.SourceOIDs(), s.Right.SourceOIDs())
}
func (s *SemiJoin) Alias() string { return s.AliasName }
func (s *SemiJoin) Kind() string  { return "SemiJoin" }

func (s *SemiJoin) Diff(ctx *diff.Context) (*diff.Result, error) {
	leftDelta, err := s.Left.Diff(ctx)
	if err != nil {
		return nil, err
	}

	restore := ctx.PushSemiJoin()
	rightDelta, err := s.Right.Diff(ctx)
	restore()
	if err != nil {
		return nil, err
	}

	cond, err := resolveJoinCondition(s.On, s.Left, s.Right)
	if err != nil {
		return nil, fmt.Errorf("SemiJoin: %w", err)
	}

	lsnap, ok := s.Left.(Snapshotter)
	if !ok {
		return nil, &diff.UnsupportedOperatorError{NodeKind: s.Kind(), Reason: "left child does not support snapshot reconstruction"}
	}
	rsnap, ok := s.Right.(Snapshotter)
	if !ok {
		return nil, &diff.UnsupportedOperatorError{NodeKind: s.Kind(), Reason: "right child does not support snapshot reconstruction"}
	}

	leftSnap1SQL, err := lsnap.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	leftSnap1 := aliasSnapshotCombined(leftSnap1SQL, s.Left, s.Left.Alias())

	rightSnap1SQL, err := rsnap.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	rightSnap1 := aliasSnapshotCombined(rightSnap1SQL, s.Right, s.Right.Alias())

	rightSnap0SQL, err := reconstructL0(ctx, s.Right, rightDelta)
	if err != nil {
		return nil, err
	}
	q := quoting.DoubleQuote
	rOldName := ctx.AddCTE("r_old", aliasSnapshotCombined(rightSnap0SQL, s.Right, s.Right.Alias()), false, true)
	rOld := fmt.Sprintf("SELECT * FROM %s", q(rOldName))

	part1 := s.leftDeltaPart(leftDelta, rightSnap1, cond)
	part2 := s.existenceFlipPart(leftSnap1, rOld, rightSnap1, cond)

	body := part1 + "\nUNION ALL\n" + part2
	name := ctx.AddCTE("semi_join", body, false, false)
	return &diff.Result{CTEName: name, Columns: s.OutputColumns(), Deduplicated: false}, nil
}

// leftDeltaPart (Part 1): a left row itself inserted/deleted, kept only
// when it currently has at least one Right match.
func (s *SemiJoin) leftDeltaPart(leftDelta *diff.Result, rightSnap1 string, cond expr.Expr) string {
	leftAliased := deltaAliasedCombined(leftDelta, s.Left, s.Left.Alias())
	outSel := dropRightPrefixSelect(s.Left, "dl")
	return fmt.Sprintf(
		"SELECT dl.__row_id AS __row_id, dl.__action AS __action, %s\nFROM (%s) AS dl\nWHERE EXISTS (SELECT 1 FROM (%s) AS r WHERE %s)",
		outSel, leftAliased, rightSnap1, cond.ToSQL(),
	)
}

// existenceFlipPart (Part 2): a left row unchanged itself, but whose
// EXISTS verdict flips because Right's membership changed underneath it —
// gained its first match (emit), or lost its last one (retract).
func (s *SemiJoin) existenceFlipPart(leftSnap1, rOld, rightSnap1 string, cond expr.Expr) string {
	outSel := dropRightPrefixSelect(s.Left, "l")
	rowID := leftRowIDExpr(s.Left)

	gained := fmt.Sprintf(
		"SELECT %s AS __row_id, 'I' AS __action, %s\nFROM (%s) AS l\nWHERE NOT EXISTS (SELECT 1 FROM (%s) AS r0 WHERE %s)\n  AND EXISTS (SELECT 1 FROM (%s) AS r1 WHERE %s)",
		rowID, outSel, leftSnap1, rOld, cond.ToSQL(), rightSnap1, cond.ToSQL(),
	)
	lost := fmt.Sprintf(
		"SELECT %s AS __row_id, 'D' AS __action, %s\nFROM (%s) AS l\nWHERE EXISTS (SELECT 1 FROM (%s) AS r0 WHERE %s)\n  AND NOT EXISTS (SELECT 1 FROM (%s) AS r1 WHERE %s)",
		rowID, outSel, leftSnap1, rOld, cond.ToSQL(), rightSnap1, cond.ToSQL(),
	)
	return gained + "\nUNION ALL\n" + lost
}

// leftRowIDExpr recomputes __row_id from a left side's own PK, since
// SemiJoin's output is exactly the left row with no right-side columns.
func leftRowIDExpr(n Node) string {
	pk := sidePKExprsCombined(n, n.Alias())
	if len(pk) == 1 {
		return "hash(" + pk[0] + "::text)"
	}
	return "hash_multi(ARRAY[" + quotedColumnList(pk) + "])"
}

// dropRightPrefixSelect renders "alias.leftAlias__c1 AS c1, alias.leftAlias__c2 AS c2, ..."
// i.e. the left side's own combined columns only, renamed back to their
// plain output names since SemiJoin/AntiJoin expose only the left side.
func dropRightPrefixSelect(left Node, tableAlias string) string {
	q := quoting.DoubleQuote
	out := ""
	for i, c := range left.OutputColumns() {
		if i > 0 {
			out += ", "
		}
		name := left.Alias() + "__" + c
		out += tableAlias + "." + q(name) + " AS " + q(c)
	}
	return out
}
