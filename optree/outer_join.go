package optree

import (
	"fmt"

	"github.com/flowdelta/pgdiff/diff"
	"github.com/flowdelta/pgdiff/expr"
	"github.com/flowdelta/pgdiff/internal/quoting"
	"github.com/flowdelta/pgdiff/rowid"
)

// LeftJoin implements the 5-part UNION ALL of §4.3: the inner-join parts
// (matched rows changing) plus the three unmatched-row transitions a LEFT
// JOIN's NULL padding requires when a left row gains, loses, or starts/ends
// life with zero right matches.
type LeftJoin struct {
	Left, Right Node
	On          expr.Expr
	EquiKeys    []EquiKey
	AliasName   string
}

func (j *LeftJoin) OutputColumns() []string { return disambiguatedColumns(j.Left, j.Right) }
func (j *LeftJoin) SourceOIDs() []uint32 {
	return dedupSourceOIDs(j.Left.SourceOIDs(), j.Right.SourceOIDs())
}
func (j *LeftJoin) Alias() string { return j.AliasName }
func (j *LeftJoin) Kind() string  { return "LeftJoin" }

func (j *LeftJoin) asInner() *InnerJoin {
	return &InnerJoin{Left: j.Left, Right: j.Right, On: j.On, EquiKeys: j.EquiKeys, AliasName: j.AliasName}
}

func (j *LeftJoin) Diff(ctx *diff.Context) (*diff.Result, error) {
	inner := j.asInner()
	leftDelta, rightDelta, cond, err := inner.diffChildren(ctx)
	if err != nil {
		return nil, err
	}

	part1, err := inner.part1(ctx, leftDelta, cond)
	if err != nil {
		return nil, err
	}
	part2, err := inner.part2(ctx, rightDelta, cond)
	if err != nil {
		return nil, err
	}

	lsnap, ok := j.Left.(Snapshotter)
	if !ok {
		return nil, &diff.UnsupportedOperatorError{NodeKind: j.Kind(), Reason: "left child does not support snapshot reconstruction"}
	}
	leftSnap1SQL, err := lsnap.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	leftSnap1 := aliasSnapshotCombined(leftSnap1SQL, j.Left, j.Left.Alias())

	rsnap, ok := j.Right.(Snapshotter)
	if !ok {
		return nil, &diff.UnsupportedOperatorError{NodeKind: j.Kind(), Reason: "right child does not support snapshot reconstruction"}
	}
	rightSnap1SQL, err := rsnap.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	rightSnap1 := aliasSnapshotCombined(rightSnap1SQL, j.Right, j.Right.Alias())

	rightSnap0SQL, err := reconstructL0(ctx, j.Right, rightDelta)
	if err != nil {
		return nil, err
	}
	rightSnap0 := aliasSnapshotCombined(rightSnap0SQL, j.Right, j.Right.Alias())

	part3 := j.matchLostPart(leftSnap1, rightSnap0, rightSnap1, cond)
	part4 := j.matchGainedPart(leftSnap1, rightSnap0, rightSnap1, cond)
	part5I, part5D := j.ownRowUnmatchedParts(leftDelta, rightSnap0, rightSnap1, cond)

	parts := []string{part1, part2, part3, part4, part5I, part5D}
	if chooseL0Strategy(ctx, j.Left) == l0Correction {
		part6, err := inner.correctionTerm(ctx, leftDelta, rightDelta, cond)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part6)
	}

	body := parts[0]
	for _, p := range parts[1:] {
		body += "\nUNION ALL\n" + p
	}
	name := ctx.AddCTE("left_join", body, false, false)
	return &diff.Result{CTEName: name, Columns: j.OutputColumns(), Deduplicated: false}, nil
}

// matchLostPart (Part 3): left rows that had a match in R0 but have none in
// R1 — their NULL-padded row must now be inserted.
func (j *LeftJoin) matchLostPart(leftSnap1, rightSnap0, rightSnap1 string, cond expr.Expr) string {
	rowID := rowid.Multi(append(sidePKExprsCombined(j.Left, j.Left.Alias()), rowid.Zero)...)
	rightNulls := quotedCombinedNulls(j.Right)
	return fmt.Sprintf(
		"SELECT %s AS __row_id, 'I' AS __action, l.*, %s\nFROM (%s) AS l\nWHERE EXISTS (SELECT 1 FROM (%s) AS r0 WHERE %s)\n  AND NOT EXISTS (SELECT 1 FROM (%s) AS r1 WHERE %s)",
		rowID, rightNulls, leftSnap1, rightSnap0, cond.ToSQL(), rightSnap1, cond.ToSQL(),
	)
}

// matchGainedPart (Part 4): left rows that had no match in R0 but do in R1
// — their previously-emitted NULL-padded row must now be retracted (Part 2
// supplies the real matched row).
func (j *LeftJoin) matchGainedPart(leftSnap1, rightSnap0, rightSnap1 string, cond expr.Expr) string {
	rowID := rowid.Multi(append(sidePKExprsCombined(j.Left, j.Left.Alias()), rowid.Zero)...)
	rightNulls := quotedCombinedNulls(j.Right)
	return fmt.Sprintf(
		"SELECT %s AS __row_id, 'D' AS __action, l.*, %s\nFROM (%s) AS l\nWHERE NOT EXISTS (SELECT 1 FROM (%s) AS r0 WHERE %s)\n  AND EXISTS (SELECT 1 FROM (%s) AS r1 WHERE %s)",
		rowID, rightNulls, leftSnap1, rightSnap0, cond.ToSQL(), rightSnap1, cond.ToSQL(),
	)
}

// ownRowUnmatchedParts (Part 5): a left row itself inserted or deleted that
// never had a right match at all, so its NULL-padded row is emitted or
// retracted directly following its own action.
func (j *LeftJoin) ownRowUnmatchedParts(leftDelta *diff.Result, rightSnap0, rightSnap1 string, cond expr.Expr) (insPart, delPart string) {
	rightNulls := quotedCombinedNulls(j.Right)
	rowID := rowid.Multi("dl.__row_id", rowid.Zero)

	insSQL := deltaFilteredBy(leftDelta.CTEName, leftDelta.Columns, j.Left.Alias(), "I")
	insPart = fmt.Sprintf(
		"SELECT %s AS __row_id, 'I' AS __action, %s, %s\nFROM (%s) AS dl\nWHERE NOT EXISTS (SELECT 1 FROM (%s) AS r WHERE %s)",
		rowID, sideColumnSelect(j.Left, "dl"), rightNulls, insSQL, rightSnap1, cond.ToSQL(),
	)

	delSQL := deltaFilteredBy(leftDelta.CTEName, leftDelta.Columns, j.Left.Alias(), "D")
	delPart = fmt.Sprintf(
		"SELECT %s AS __row_id, 'D' AS __action, %s, %s\nFROM (%s) AS dl\nWHERE NOT EXISTS (SELECT 1 FROM (%s) AS r WHERE %s)",
		rowID, sideColumnSelect(j.Left, "dl"), rightNulls, delSQL, rightSnap0, cond.ToSQL(),
	)
	return insPart, delPart
}

// quotedCombinedNulls renders "NULL AS rightAlias__c1, NULL AS rightAlias__c2, ..."
// for every output column of node, for NULL-padding the unmatched side.
func quotedCombinedNulls(node Node) string {
	q := quoting.DoubleQuote
	out := ""
	for i, c := range node.OutputColumns() {
		if i > 0 {
			out += ", "
		}
		out += "NULL AS " + q(node.Alias()+"__"+c)
	}
	return out
}

// FullJoin completes LeftJoin's 5 parts with the symmetric 3 parts covering
// right-side-only rows gaining/losing their match (§4.3's 8-part form),
// obtained by differentiating the mirrored RIGHT JOIN as a LeftJoin(Right,
// Left) and keeping only its NULL-padded-on-the-left rows.
type FullJoin struct {
	Left, Right Node
	On          expr.Expr
	EquiKeys    []EquiKey
	AliasName   string
}

func (j *FullJoin) OutputColumns() []string { return disambiguatedColumns(j.Left, j.Right) }
func (j *FullJoin) SourceOIDs() []uint32 {
	return dedupSourceOIDs(j.Left.SourceOIDs(), j.Right.SourceOIDs())
}
func (j *FullJoin) Alias() string { return j.AliasName }
func (j *FullJoin) Kind() string  { return "FullJoin" }

func (j *FullJoin) asLeft() *LeftJoin {
	return &LeftJoin{Left: j.Left, Right: j.Right, On: j.On, EquiKeys: j.EquiKeys, AliasName: j.AliasName}
}

func (j *FullJoin) asMirror() *LeftJoin {
	swapped := make([]EquiKey, len(j.EquiKeys))
	for i, k := range j.EquiKeys {
		swapped[i] = EquiKey{Left: k.Right, Right: k.Left}
	}
	return &LeftJoin{Left: j.Right, Right: j.Left, On: j.On, EquiKeys: swapped, AliasName: j.AliasName}
}

func (j *FullJoin) Diff(ctx *diff.Context) (*diff.Result, error) {
	left := j.asLeft()
	leftResult, err := left.Diff(ctx)
	if err != nil {
		return nil, err
	}

	mirror := j.asMirror()
	mirrorResult, err := mirror.Diff(ctx)
	if err != nil {
		return nil, err
	}

	q := quoting.DoubleQuote
	canonical := j.OutputColumns()
	selList := ""
	for i, c := range canonical {
		if i > 0 {
			selList += ", "
		}
		selList += q(c)
	}
	rightOnlyUnmatched := fmt.Sprintf(
		"SELECT __row_id, __action, %s\nFROM %s\nWHERE %s",
		selList, q(mirrorResult.CTEName), rightOnlyWhereClause(j.Left),
	)

	body := fmt.Sprintf(
		"SELECT * FROM %s\nUNION ALL\n(%s)",
		q(leftResult.CTEName), rightOnlyUnmatched,
	)
	name := ctx.AddCTE("full_join", body, false, false)
	return &diff.Result{CTEName: name, Columns: canonical, Deduplicated: false}, nil
}

// rightOnlyWhereClause restricts the mirrored LeftJoin(Right, Left) pass's
// output to rows where the original left side is entirely NULL-padded,
// i.e. genuinely right-only unmatched transitions, discarding the
// matched-row duplicates the mirror pass also produces.
func rightOnlyWhereClause(left Node) string {
	q := quoting.DoubleQuote
	cols := left.OutputColumns()
	if len(cols) == 0 {
		return "TRUE"
	}
	return q(left.Alias()+"__"+cols[0]) + " IS NULL"
}
