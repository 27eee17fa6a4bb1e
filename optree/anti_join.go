package optree

import (
	"fmt"

	"github.com/flowdelta/pgdiff/diff"
	"github.com/flowdelta/pgdiff/expr"
	"github.com/flowdelta/pgdiff/internal/quoting"
)

// AntiJoin implements "WHERE NOT EXISTS (subquery correlated to Right)" —
// the same 2-part shape as SemiJoin with the EXISTS/NOT EXISTS pair and
// the emitted action on each transition swapped (§4.3).
type AntiJoin struct {
	Left, Right Node
	On          expr.Expr
	EquiKeys    []EquiKey
	AliasName   string
}

func (a *AntiJoin) OutputColumns() []string { return a.Left.OutputColumns() }
func (a *AntiJoin) SourceOIDs() []uint32 {
	return dedupSourceOIDs(a.Left.SourceOIDs(), a.Right.SourceOIDs())
}
func (a *AntiJoin) Alias() string { return a.AliasName }
func (a *AntiJoin) Kind() string  { return "AntiJoin" }

func (a *AntiJoin) Diff(ctx *diff.Context) (*diff.Result, error) {
	leftDelta, err := a.Left.Diff(ctx)
	if err != nil {
		return nil, err
	}

	restore := ctx.PushSemiJoin()
	rightDelta, err := a.Right.Diff(ctx)
	restore()
	if err != nil {
		return nil, err
	}

	cond, err := resolveJoinCondition(a.On, a.Left, a.Right)
	if err != nil {
		return nil, fmt.Errorf("AntiJoin: %w", err)
	}

	lsnap, ok := a.Left.(Snapshotter)
	if !ok {
		return nil, &diff.UnsupportedOperatorError{NodeKind: a.Kind(), Reason: "left child does not support snapshot reconstruction"}
	}
	rsnap, ok := a.Right.(Snapshotter)
	if !ok {
		return nil, &diff.UnsupportedOperatorError{NodeKind: a.Kind(), Reason: "right child does not support snapshot reconstruction"}
	}

	leftSnap1SQL, err := lsnap.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	leftSnap1 := aliasSnapshotCombined(leftSnap1SQL, a.Left, a.Left.Alias())

	rightSnap1SQL, err := rsnap.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	rightSnap1 := aliasSnapshotCombined(rightSnap1SQL, a.Right, a.Right.Alias())

	rightSnap0SQL, err := reconstructL0(ctx, a.Right, rightDelta)
	if err != nil {
		return nil, err
	}
	rOldName := ctx.AddCTE("r_old", aliasSnapshotCombined(rightSnap0SQL, a.Right, a.Right.Alias()), false, true)
	rOld := fmt.Sprintf("SELECT * FROM %s", quoting.DoubleQuote(rOldName))

	part1 := a.leftDeltaPart(leftDelta, rightSnap1, cond)
	part2 := a.existenceFlipPart(leftSnap1, rOld, rightSnap1, cond)

	body := part1 + "\nUNION ALL\n" + part2
	name := ctx.AddCTE("anti_join", body, false, false)
	return &diff.Result{CTEName: name, Columns: a.OutputColumns(), Deduplicated: false}, nil
}

// leftDeltaPart: a left row itself inserted/deleted, kept only when it
// currently has NO Right match.
func (a *AntiJoin) leftDeltaPart(leftDelta *diff.Result, rightSnap1 string, cond expr.Expr) string {
	leftAliased := deltaAliasedCombined(leftDelta, a.Left, a.Left.Alias())
	outSel := dropRightPrefixSelect(a.Left, "dl")
	return fmt.Sprintf(
		"SELECT dl.__row_id AS __row_id, dl.__action AS __action, %s\nFROM (%s) AS dl\nWHERE NOT EXISTS (SELECT 1 FROM (%s) AS r WHERE %s)",
		outSel, leftAliased, rightSnap1, cond.ToSQL(),
	)
}

// existenceFlipPart: a left row unchanged itself, whose NOT-EXISTS verdict
// flips because Right's membership changed — it used to have a match and
// now has none (emit, since anti-join now keeps it), or the reverse
// (retract).
func (a *AntiJoin) existenceFlipPart(leftSnap1, rOld, rightSnap1 string, cond expr.Expr) string {
	outSel := dropRightPrefixSelect(a.Left, "l")
	rowID := leftRowIDExpr(a.Left)

	gained := fmt.Sprintf(
		"SELECT %s AS __row_id, 'I' AS __action, %s\nFROM (%s) AS l\nWHERE EXISTS (SELECT 1 FROM (%s) AS r0 WHERE %s)\n  AND NOT EXISTS (SELECT 1 FROM (%s) AS r1 WHERE %s)",
		rowID, outSel, leftSnap1, rOld, cond.ToSQL(), rightSnap1, cond.ToSQL(),
	)
	lost := fmt.Sprintf(
		"SELECT %s AS __row_id, 'D' AS __action, %s\nFROM (%s) AS l\nWHERE NOT EXISTS (SELECT 1 FROM (%s) AS r0 WHERE %s)\n  AND EXISTS (SELECT 1 FROM (%s) AS r1 WHERE %s)",
		rowID, outSel, leftSnap1, rOld, cond.ToSQL(), rightSnap1, cond.ToSQL(),
	)
	return gained + "\nUNION ALL\n" + lost
}
