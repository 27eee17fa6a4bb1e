package optree

import (
	"fmt"
	"strings"

	"github.com/flowdelta/pgdiff/diff"
	"github.com/flowdelta/pgdiff/expr"
	"github.com/flowdelta/pgdiff/internal/quoting"
	"github.com/flowdelta/pgdiff/rowid"
)

// WindowFunc is one window function attached to a Window node: a raw
// function name (RANK, ROW_NUMBER, SUM, LAG, ...) applied either to no
// argument or to Arg, per the teacher's AggExpr-style argument shape.
type WindowFunc struct {
	FuncName string
	Arg      expr.Expr // nil for ROW_NUMBER()/RANK()
	Alias    string
}

// Window differentiates a window function via partition-scoped
// recomputation (§4.6): only partitions touched by a child-delta row are
// recomputed, rather than the whole relation.
type Window struct {
	Child       Node
	PartitionBy []expr.Expr
	OrderBy     []expr.OrderExpr
	Func        WindowFunc
	AliasName   string
}

func (w *Window) OutputColumns() []string {
	return append(append([]string{}, w.Child.OutputColumns()...), w.Func.Alias)
}
func (w *Window) SourceOIDs() []uint32 { return w.Child.SourceOIDs() }
func (w *Window) Alias() string        { return w.AliasName }
func (w *Window) Kind() string          { return "Window" }

// Diff recomputes only the partitions touched by a child-delta row (§4.6):
// old ST rows for those partitions are deleted wholesale and replaced by a
// fresh evaluation of the window function over the reconstructed input for
// the same partitions. Unpartitioned window functions (PartitionBy empty)
// fall back to a single implicit partition covering the whole relation, so
// any change triggers a full recompute.
func (w *Window) Diff(ctx *diff.Context) (*diff.Result, error) {
	childDelta, err := w.Child.Diff(ctx)
	if err != nil {
		return nil, err
	}
	snap, ok := w.Child.(Snapshotter)
	if !ok {
		return nil, &diff.UnsupportedOperatorError{NodeKind: w.Kind(), Reason: "child does not support snapshot reconstruction, cannot rebuild affected partitions"}
	}
	childSQL, err := snap.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	q := quoting.DoubleQuote
	childCols := w.Child.OutputColumns()

	partitionExprs := make([]string, len(w.PartitionBy))
	for i, p := range w.PartitionBy {
		resolved, err := resolveExpr(p, childCols)
		if err != nil {
			return nil, fmt.Errorf("Window partition key: %w", err)
		}
		partitionExprs[i] = resolved.ToSQL()
	}
	partitioned := len(partitionExprs) > 0

	var restrictClause string
	if partitioned {
		aliased := make([]string, len(partitionExprs))
		for i, p := range partitionExprs {
			aliased[i] = fmt.Sprintf("%s AS c%d", p, i)
		}
		body := fmt.Sprintf("SELECT DISTINCT %s\nFROM %s", strings.Join(aliased, ", "), q(childDelta.CTEName))
		keysCTE := ctx.AddCTE("window_affected_keys", body, false, false)
		restrictClause = fmt.Sprintf(
			"WHERE EXISTS (SELECT 1 FROM %s AS k WHERE %s)",
			q(keysCTE), tupleEquals(partitionExprs, "k"),
		)
	}

	st := ctx.STQualifiedName
	var oldBody string
	switch {
	case st != "" && partitioned:
		oldBody = fmt.Sprintf("SELECT * FROM %s\n%s", st, restrictClause)
	case st != "":
		oldBody = fmt.Sprintf("SELECT * FROM %s", st)
	default:
		oldBody = "SELECT * FROM (SELECT NULL WHERE FALSE) AS __empty_st"
	}
	oldCTE := ctx.AddCTE("window_old_rows", oldBody, false, false)

	inputBody := fmt.Sprintf("SELECT * FROM (%s) AS t\n%s", childSQL, restrictClause)
	inputCTE := ctx.AddCTE("window_affected_input", inputBody, false, false)

	partClause := ""
	if partitioned {
		partClause = "PARTITION BY " + strings.Join(partitionExprs, ", ") + " "
	}
	orderClause, err := renderOrderByExprs(w.OrderBy, childCols)
	if err != nil {
		return nil, fmt.Errorf("Window: %w", err)
	}
	funcArg := ""
	if w.Func.Arg != nil {
		resolved, err := resolveExpr(w.Func.Arg, childCols)
		if err != nil {
			return nil, fmt.Errorf("Window func arg: %w", err)
		}
		funcArg = resolved.ToSQL()
	}
	windowExpr := fmt.Sprintf("%s(%s) OVER (%s%s)", w.Func.FuncName, funcArg, partClause, orderClause)

	newBody := fmt.Sprintf(
		"SELECT %s, %s AS %s\nFROM %s",
		quotedColumnList(childCols), windowExpr, q(w.Func.Alias), q(inputCTE),
	)
	newCTE := ctx.AddCTE("window_new_rows", newBody, false, false)

	outCols := w.OutputColumns()
	rowID := rowid.Multi(quotedColumnsOf(childCols)...)
	body := fmt.Sprintf(
		"SELECT %s AS __row_id, 'D' AS __action, %s\nFROM %s\nUNION ALL\nSELECT %s AS __row_id, 'I' AS __action, %s\nFROM %s",
		rowID, quotedColumnList(outCols), q(oldCTE),
		rowID, quotedColumnList(outCols), q(newCTE),
	)
	finalCTE := ctx.AddCTE("window_final", body, false, false)
	return &diff.Result{CTEName: finalCTE, Columns: outCols, Deduplicated: false}, nil
}

// tupleEquals builds an AND-chain comparing each already-deparsed,
// unqualified partition expression against its identically-positioned
// column on rightAlias. Used only where both sides carry the same column
// namespace (the affected-keys CTE is built from the very same exprs).
func tupleEquals(partitionExprs []string, rightAlias string) string {
	parts := make([]string, len(partitionExprs))
	for i, p := range partitionExprs {
		parts[i] = fmt.Sprintf("%s IS NOT DISTINCT FROM %s.c%d", p, rightAlias, i)
	}
	return strings.Join(parts, " AND ")
}

func renderOrderByExprs(items []expr.OrderExpr, childCols []string) (string, error) {
	if len(items) == 0 {
		return "", nil
	}
	parts := make([]string, len(items))
	for i, it := range items {
		resolved, err := resolveExpr(it.Expr, childCols)
		if err != nil {
			return "", fmt.Errorf("Window order key: %w", err)
		}
		sql := resolved.ToSQL()
		if it.Desc {
			parts[i] = sql + " DESC"
		} else {
			parts[i] = sql + " ASC"
		}
	}
	return "ORDER BY " + strings.Join(parts, ", "), nil
}
