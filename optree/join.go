package optree

import (
	"fmt"

	"github.com/flowdelta/pgdiff/diff"
	"github.com/flowdelta/pgdiff/expr"
	"github.com/flowdelta/pgdiff/internal/quoting"
	"github.com/flowdelta/pgdiff/rowid"
)

// InnerJoin implements ΔJ = (ΔL ⋈ R₁) + (L₀ ⋈ ΔR) (§4.3), the algebraic
// heart of the join family.
type InnerJoin struct {
	Left, Right Node
	// On is the join condition, written against the combined disambiguated
	// namespace (leftAlias__col, rightAlias__col).
	On        expr.Expr
	EquiKeys  []EquiKey
	AliasName string
}

func (j *InnerJoin) OutputColumns() []string { return disambiguatedColumns(j.Left, j.Right) }
func (j *InnerJoin) SourceOIDs() []uint32 {
	return dedupSourceOIDs(j.Left.SourceOIDs(), j.Right.SourceOIDs())
}
func (j *InnerJoin) Alias() string { return j.AliasName }
func (j *InnerJoin) Kind() string  { return "InnerJoin" }

func (j *InnerJoin) Diff(ctx *diff.Context) (*diff.Result, error) {
	leftDelta, rightDelta, cond, err := j.diffChildren(ctx)
	if err != nil {
		return nil, err
	}

	part1, err := j.part1(ctx, leftDelta, cond)
	if err != nil {
		return nil, err
	}
	part2, err := j.part2(ctx, rightDelta, cond)
	if err != nil {
		return nil, err
	}

	parts := []string{part1, part2}
	strategy := chooseL0Strategy(ctx, j.Left)
	if strategy == l0Correction {
		part3, err := j.correctionTerm(ctx, leftDelta, rightDelta, cond)
		if err != nil {
			return nil, err
		}
		parts = append(parts, part3)
	}

	body := parts[0]
	for _, p := range parts[1:] {
		body += "\nUNION ALL\n" + p
	}
	name := ctx.AddCTE("inner_join", body, false, false)
	return &diff.Result{CTEName: name, Columns: j.OutputColumns(), Deduplicated: false}, nil
}

// diffChildren differentiates both sides and resolves the join condition.
// Shared by InnerJoin/LeftJoin/FullJoin.
func (j *InnerJoin) diffChildren(ctx *diff.Context) (left, right *diff.Result, cond expr.Expr, err error) {
	left, err = j.Left.Diff(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	right, err = j.Right.Diff(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	cond, err = resolveJoinCondition(j.On, j.Left, j.Right)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("InnerJoin: %w", err)
	}
	return left, right, cond, nil
}

// part1 is ΔL ⋈ R₁.
func (j *InnerJoin) part1(ctx *diff.Context, leftDelta *diff.Result, cond expr.Expr) (string, error) {
	rsnap, ok := j.Right.(Snapshotter)
	if !ok {
		return "", &diff.UnsupportedOperatorError{NodeKind: j.Kind(), Reason: "right child does not support snapshot reconstruction"}
	}
	rightSQL, err := rsnap.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	rightSQL = aliasSnapshotCombined(rightSQL, j.Right, j.Right.Alias())
	rightSQL = semiJoinPrefilter(rightSQL, equiRightCols(j.EquiKeys), leftDelta.CTEName, equiLeftCols(j.EquiKeys))

	leftAliased := deltaAliasedCombined(leftDelta, j.Left, j.Left.Alias())
	rowID := rowid.Multi(append([]string{"dl.__row_id"}, sidePKExprsPrefixed("r", j.Right)...)...)
	return fmt.Sprintf(
		"SELECT %s AS __row_id, dl.__action AS __action, %s, %s\nFROM (%s) AS dl\nJOIN (%s) AS r ON %s",
		rowID, sideColumnSelect(j.Left, "dl"), sideColumnSelect(j.Right, "r"), leftAliased, rightSQL, cond.ToSQL(),
	), nil
}

// part2 is L₀ ⋈ ΔR when chooseL0Strategy picks l0ExceptAll, and L₁ ⋈ ΔR
// (the left child's current snapshot) for l0Correction and l0Plain.
func (j *InnerJoin) part2(ctx *diff.Context, rightDelta *diff.Result, cond expr.Expr) (string, error) {
	var l0SQL string
	var err error
	if chooseL0Strategy(ctx, j.Left) == l0ExceptAll {
		l0SQL, err = reconstructL0(ctx, j.Left, mustLeftDelta(ctx, j))
	} else if lsnap, ok := j.Left.(Snapshotter); ok {
		l0SQL, err = lsnap.Snapshot(ctx)
	} else {
		err = &diff.UnsupportedOperatorError{NodeKind: j.Kind(), Reason: "left child does not support snapshot reconstruction"}
	}
	if err != nil {
		return "", err
	}
	l0SQL = aliasSnapshotCombined(l0SQL, j.Left, j.Left.Alias())
	l0SQL = semiJoinPrefilter(l0SQL, equiLeftCols(j.EquiKeys), rightDelta.CTEName, equiRightCols(j.EquiKeys))

	rightAliased := deltaAliasedCombined(rightDelta, j.Right, j.Right.Alias())
	rowID := rowid.Multi(append(sidePKExprsPrefixed("l", j.Left), "dr.__row_id")...)
	return fmt.Sprintf(
		"SELECT %s AS __row_id, dr.__action AS __action, %s, %s\nFROM (%s) AS l\nJOIN (%s) AS dr ON %s",
		rowID, sideColumnSelect(j.Left, "l"), sideColumnSelect(j.Right, "dr"), l0SQL, rightAliased, cond.ToSQL(),
	), nil
}

// correctionTerm is Part 3, used when the left child is a shallow join and
// L0 via EXCEPT ALL is forbidden (rule 2): Error = (ΔL_I − ΔL_D) ⋈ ΔR.
func (j *InnerJoin) correctionTerm(ctx *diff.Context, leftDelta, rightDelta *diff.Result, cond expr.Expr) (string, error) {
	insSQL := deltaFilteredBy(leftDelta.CTEName, leftDelta.Columns, j.Left.Alias(), "I")
	delSQL := deltaFilteredBy(leftDelta.CTEName, leftDelta.Columns, j.Left.Alias(), "D")
	rightAliased := deltaAliasedCombined(rightDelta, j.Right, j.Right.Alias())

	flip := "CASE dl.__action WHEN 'I' THEN 'D' ELSE dl.__action END"
	rowID := rowid.Multi("dl.__row_id", "dr.__row_id")
	return fmt.Sprintf(
		"SELECT %s AS __row_id, %s AS __action, %s, %s\nFROM ((%s) UNION ALL (%s)) AS dl\nJOIN (%s) AS dr ON %s",
		rowID, flip, sideColumnSelect(j.Left, "dl"), sideColumnSelect(j.Right, "dr"), insSQL, delSQL, rightAliased, cond.ToSQL(),
	), nil
}

func equiLeftCols(keys []EquiKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.Left
	}
	return out
}

func equiRightCols(keys []EquiKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.Right
	}
	return out
}

// deltaAliasedCombined renames a child delta CTE's columns to the combined
// disambiguated namespace, keeping __row_id/__action as-is.
func deltaAliasedCombined(delta *diff.Result, node Node, sideAlias string) string {
	q := quoting.DoubleQuote
	sel := "__row_id AS __row_id, __action AS __action"
	for _, c := range delta.Columns {
		sel += fmt.Sprintf(", %s AS %s", q(c), q(sideAlias+"__"+c))
	}
	return fmt.Sprintf("SELECT %s FROM %s", sel, q(delta.CTEName))
}

func sidePKExprsPrefixed(tableAlias string, n Node) []string {
	pk := sidePKColumns(n)
	sideAlias := n.Alias()
	q := quoting.DoubleQuote
	out := make([]string, len(pk))
	for i, c := range pk {
		out[i] = tableAlias + "." + q(sideAlias+"__"+c)
	}
	return out
}

// mustLeftDelta re-differentiates the left child to obtain its delta for L0
// reconstruction. Memoized subtrees (CteScan, RecursiveCte) return their
// cached Result; any other left child registers a second copy of its CTEs
// under fresh names, of which reconstructL0 reads only the delta CTE's
// Columns and CTEName.
func mustLeftDelta(ctx *diff.Context, j *InnerJoin) *diff.Result {
	r, err := j.Left.Diff(ctx)
	if err != nil {
		// Left was already differentiated successfully once in diffChildren
		// against the same context, so a second call does not newly fail.
		panic(&diff.InternalInvariantError{NodeKind: j.Kind(), Detail: "left child failed on second differentiation: " + err.Error()})
	}
	return r
}
