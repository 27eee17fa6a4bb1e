package optree

import (
	"fmt"
	"strings"

	"github.com/flowdelta/pgdiff/diff"
	"github.com/flowdelta/pgdiff/internal/quoting"
	"github.com/flowdelta/pgdiff/rowid"
)

// Distinct models DISTINCT as GROUP BY all columns with a per-row
// multiplicity counter (§4.5).
type Distinct struct {
	Child     Node
	AliasName string
}

func (d *Distinct) OutputColumns() []string { return d.Child.OutputColumns() }
func (d *Distinct) SourceOIDs() []uint32    { return d.Child.SourceOIDs() }
func (d *Distinct) Alias() string           { return d.AliasName }
func (d *Distinct) Kind() string            { return "Distinct" }

func (d *Distinct) Diff(ctx *diff.Context) (*diff.Result, error) {
	child, err := d.Child.Diff(ctx)
	if err != nil {
		return nil, err
	}
	q := quoting.DoubleQuote
	colList := quotedColumnList(child.Columns)

	deltaBody := fmt.Sprintf(
		"SELECT %s, SUM(CASE WHEN __action = 'I' THEN 1 ELSE -1 END) AS __net_count\nFROM %s\nGROUP BY %s",
		colList, q(child.CTEName), colList,
	)
	deltaCTE := ctx.AddCTE("distinct_delta", deltaBody, false, false)

	st := ctx.STQualifiedName
	joinOn := joinOnAllColumns("d", "st", child.Columns)
	mergeBody := fmt.Sprintf(
		"SELECT %s, COALESCE(st.__count, 0) AS __old_count,\n  COALESCE(st.__count, 0) + d.__net_count AS __new_count\nFROM %s AS d\nLEFT JOIN %s AS st ON %s",
		prefixedColumnList("d", child.Columns), q(deltaCTE), stOrEmpty(st, child.Columns), joinOn,
	)
	mergeCTE := ctx.AddCTE("distinct_merge", mergeBody, false, false)

	rowID := rowid.Multi(quotedColumnsOf(child.Columns)...)
	body := fmt.Sprintf(
		"SELECT %s AS __row_id, 'D' AS __action, %s, __old_count AS __count\nFROM %s\nWHERE __old_count > 0 AND __new_count <= 0\nUNION ALL\nSELECT %s AS __row_id, 'I' AS __action, %s, __new_count AS __count\nFROM %s\nWHERE __new_count > 0 AND __old_count <> __new_count",
		rowID, colList, q(mergeCTE),
		rowID, colList, q(mergeCTE),
	)
	finalCTE := ctx.AddCTE("distinct_final", body, false, false)
	return &diff.Result{CTEName: finalCTE, Columns: d.OutputColumns(), Deduplicated: true}, nil
}

func joinOnAllColumns(leftAlias, rightAlias string, cols []string) string {
	q := quoting.DoubleQuote
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprintf("%s.%s IS NOT DISTINCT FROM %s.%s", leftAlias, q(c), rightAlias, q(c))
	}
	return strings.Join(parts, " AND ")
}

func prefixedColumnList(alias string, cols []string) string {
	q := quoting.DoubleQuote
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprintf("%s.%s AS %s", alias, q(c), q(c))
	}
	return strings.Join(parts, ", ")
}

func stOrEmpty(st string, cols []string) string {
	if st != "" {
		return st
	}
	q := quoting.DoubleQuote
	parts := make([]string, 0, len(cols)+1)
	parts = append(parts, "0 AS __count")
	for _, c := range cols {
		parts = append(parts, "NULL AS "+q(c))
	}
	return "(SELECT " + strings.Join(parts, ", ") + " WHERE FALSE) AS __empty_st"
}

// dualMultiplicitySetOp implements the shared shape of Intersect and
// Except: per-row dual multiplicity (count_L, count_R) merged against the
// ST, differing only in the effective-count formula (§4.5).
type dualMultiplicitySetOp struct {
	Left, Right Node
	All         bool
	AliasName   string
	kind        string
	effective   func(countL, countR string) string
}

func (s *dualMultiplicitySetOp) outputColumns() []string { return s.Left.OutputColumns() }

func (s *dualMultiplicitySetOp) diff(ctx *diff.Context) (*diff.Result, error) {
	leftDelta, err := s.Left.Diff(ctx)
	if err != nil {
		return nil, err
	}
	rightDelta, err := s.Right.Diff(ctx)
	if err != nil {
		return nil, err
	}
	if len(leftDelta.Columns) != len(rightDelta.Columns) {
		return nil, &diff.QueryShapeError{NodeKind: s.kind, Detail: "branches expose different column counts"}
	}

	q := quoting.DoubleQuote
	cols := s.outputColumns()
	colList := quotedColumnList(cols)

	leftNet := fmt.Sprintf(
		"SELECT %s, SUM(CASE WHEN __action = 'I' THEN 1 ELSE -1 END) AS __net_l\nFROM %s\nGROUP BY %s",
		renamedColumnList(leftDelta.Columns, cols), q(leftDelta.CTEName), quotedColumnList(leftDelta.Columns),
	)
	leftCTE := ctx.AddCTE(strings.ToLower(s.kind)+"_left_net", leftNet, false, false)

	rightNet := fmt.Sprintf(
		"SELECT %s, SUM(CASE WHEN __action = 'I' THEN 1 ELSE -1 END) AS __net_r\nFROM %s\nGROUP BY %s",
		renamedColumnList(rightDelta.Columns, cols), q(rightDelta.CTEName), quotedColumnList(rightDelta.Columns),
	)
	rightCTE := ctx.AddCTE(strings.ToLower(s.kind)+"_right_net", rightNet, false, false)

	unioned := fmt.Sprintf(
		"SELECT %s, __net_l, 0 AS __net_r\nFROM %s\nUNION ALL\nSELECT %s, 0 AS __net_l, __net_r\nFROM %s",
		colList, q(leftCTE), colList, q(rightCTE),
	)
	unionedCTE := ctx.AddCTE(strings.ToLower(s.kind)+"_unioned", unioned, false, false)

	collapsedBody := fmt.Sprintf(
		"SELECT %s, SUM(__net_l) AS __net_l, SUM(__net_r) AS __net_r\nFROM %s\nGROUP BY %s",
		colList, q(unionedCTE), colList,
	)
	collapsedCTE := ctx.AddCTE(strings.ToLower(s.kind)+"_collapsed", collapsedBody, false, false)

	st := ctx.STQualifiedName
	stCols := stOrEmptyDual(st, cols)
	joinOn := joinOnAllColumns("c", "st", cols)
	mergeBody := fmt.Sprintf(
		"SELECT %s, COALESCE(st.__count_l, 0) + c.__net_l AS __count_l, COALESCE(st.__count_r, 0) + c.__net_r AS __count_r,\n"+
			"  COALESCE(st.__count_l, 0) AS __old_count_l, COALESCE(st.__count_r, 0) AS __old_count_r\n"+
			"FROM %s AS c\nLEFT JOIN %s AS st ON %s",
		prefixedColumnList("c", cols), q(collapsedCTE), stCols, joinOn,
	)
	mergeCTE := ctx.AddCTE(strings.ToLower(s.kind)+"_merge", mergeBody, false, false)

	oldEffective := s.effective("__old_count_l", "__old_count_r")
	newEffective := s.effective("__count_l", "__count_r")
	emitCount := "1"
	if s.All {
		emitCount = newEffective
	}
	oldEmitCount := "1"
	if s.All {
		oldEmitCount = oldEffective
	}

	rowID := rowid.Multi(quotedColumnsOf(cols)...)
	body := fmt.Sprintf(
		"SELECT %s AS __row_id, 'D' AS __action, %s, %s AS __count\nFROM %s\nWHERE (%s) > 0 AND (%s) <= 0\nUNION ALL\n"+
			"SELECT %s AS __row_id, 'I' AS __action, %s, %s AS __count\nFROM %s\nWHERE (%s) > 0 AND (%s) IS DISTINCT FROM (%s)",
		rowID, colList, oldEmitCount, q(mergeCTE), oldEffective, newEffective,
		rowID, colList, emitCount, q(mergeCTE), newEffective, newEffective, oldEffective,
	)
	finalCTE := ctx.AddCTE(strings.ToLower(s.kind)+"_final", body, false, false)
	return &diff.Result{CTEName: finalCTE, Columns: cols, Deduplicated: true}, nil
}

func renamedColumnList(from, to []string) string {
	q := quoting.DoubleQuote
	parts := make([]string, len(from))
	for i := range from {
		parts[i] = fmt.Sprintf("%s AS %s", q(from[i]), q(to[i]))
	}
	return strings.Join(parts, ", ")
}

func stOrEmptyDual(st string, cols []string) string {
	if st != "" {
		return st
	}
	q := quoting.DoubleQuote
	parts := make([]string, 0, len(cols)+2)
	parts = append(parts, "0 AS __count_l", "0 AS __count_r")
	for _, c := range cols {
		parts = append(parts, "NULL AS "+q(c))
	}
	return "(SELECT " + strings.Join(parts, ", ") + " WHERE FALSE) AS __empty_st"
}

// Intersect implements [ALL] INTERSECT: effective count = LEAST(count_L,
// count_R) (§4.5).
type Intersect struct {
	Left, Right Node
	All         bool
	AliasName   string
}

func (i *Intersect) OutputColumns() []string { return i.Left.OutputColumns() }
func (i *Intersect) SourceOIDs() []uint32 {
	return dedupSourceOIDs(i.Left.SourceOIDs(), i.Right.SourceOIDs())
}
func (i *Intersect) Alias() string { return i.AliasName }
func (i *Intersect) Kind() string  { return "Intersect" }

func (i *Intersect) Diff(ctx *diff.Context) (*diff.Result, error) {
	op := &dualMultiplicitySetOp{
		Left: i.Left, Right: i.Right, All: i.All, AliasName: i.AliasName, kind: "Intersect",
		effective: func(l, r string) string { return fmt.Sprintf("LEAST(%s, %s)", l, r) },
	}
	return op.diff(ctx)
}

// Except implements [ALL] EXCEPT: effective count = GREATEST(0, count_L −
// count_R) (§4.5).
type Except struct {
	Left, Right Node
	All         bool
	AliasName   string
}

func (e *Except) OutputColumns() []string { return e.Left.OutputColumns() }
func (e *Except) SourceOIDs() []uint32 {
	return dedupSourceOIDs(e.Left.SourceOIDs(), e.Right.SourceOIDs())
}
func (e *Except) Alias() string { return e.AliasName }
func (e *Except) Kind() string  { return "Except" }

func (e *Except) Diff(ctx *diff.Context) (*diff.Result, error) {
	op := &dualMultiplicitySetOp{
		Left: e.Left, Right: e.Right, All: e.All, AliasName: e.AliasName, kind: "Except",
		effective: func(l, r string) string { return fmt.Sprintf("GREATEST(0, %s - %s)", l, r) },
	}
	return op.diff(ctx)
}

// UnionAll concatenates child deltas, prepending each child's index to the
// row-ID hash so children's row-ID spaces cannot collide (§4.5).
type UnionAll struct {
	Children  []Node
	AliasName string
}

func (u *UnionAll) OutputColumns() []string {
	if len(u.Children) == 0 {
		return nil
	}
	return u.Children[0].OutputColumns()
}

func (u *UnionAll) SourceOIDs() []uint32 {
	lists := make([][]uint32, len(u.Children))
	for i, c := range u.Children {
		lists[i] = c.SourceOIDs()
	}
	return dedupSourceOIDs(lists...)
}
func (u *UnionAll) Alias() string { return u.AliasName }
func (u *UnionAll) Kind() string  { return "UnionAll" }

func (u *UnionAll) Diff(ctx *diff.Context) (*diff.Result, error) {
	if len(u.Children) == 0 {
		return nil, &diff.QueryShapeError{NodeKind: u.Kind(), Detail: "union has no child branches"}
	}
	cols := u.OutputColumns()
	q := quoting.DoubleQuote
	parts := make([]string, len(u.Children))
	for i, child := range u.Children {
		result, err := child.Diff(ctx)
		if err != nil {
			return nil, err
		}
		if len(result.Columns) != len(cols) {
			return nil, &diff.QueryShapeError{NodeKind: u.Kind(), Detail: fmt.Sprintf("branch %d exposes %d columns, want %d", i, len(result.Columns), len(cols))}
		}
		rowID := rowid.Multi(fmt.Sprintf("%d", i), "__row_id")
		parts[i] = fmt.Sprintf(
			"SELECT %s AS __row_id, __action AS __action, %s\nFROM %s",
			rowID, renamedColumnList(result.Columns, cols), q(result.CTEName),
		)
	}
	body := strings.Join(parts, "\nUNION ALL\n")
	finalCTE := ctx.AddCTE("union_all", body, false, false)
	return &diff.Result{CTEName: finalCTE, Columns: cols, Deduplicated: false}, nil
}
