package optree

import (
	"fmt"
	"strings"

	"github.com/flowdelta/pgdiff/diff"
	"github.com/flowdelta/pgdiff/expr"
	"github.com/flowdelta/pgdiff/internal/quoting"
	"github.com/flowdelta/pgdiff/rowid"
)

// Aggregate differentiates a GROUP BY (or scalar) aggregation (§4.4). It
// picks one of three strategies node-wide: the algebraic path when every
// aggregate is CountStar/Count/Sum, the semi-algebraic path when every
// aggregate is Min/Max, and the group-rescan path otherwise — the always-
// correct fallback that re-executes the aggregate over affected groups.
type Aggregate struct {
	GroupBy        []expr.Expr
	GroupByAliases []string
	Aggs           []expr.AggExpr
	Child          Node
	AliasName      string
}

func (a *Aggregate) OutputColumns() []string {
	cols := make([]string, 0, len(a.GroupByAliases)+len(a.Aggs))
	cols = append(cols, a.GroupByAliases...)
	for _, agg := range a.Aggs {
		cols = append(cols, agg.Alias)
	}
	return cols
}

func (a *Aggregate) SourceOIDs() []uint32 { return a.Child.SourceOIDs() }
func (a *Aggregate) Alias() string        { return a.AliasName }
func (a *Aggregate) Kind() string         { return "Aggregate" }

func (a *Aggregate) isScalar() bool { return len(a.GroupBy) == 0 }

func (a *Aggregate) allAlgebraic() bool {
	for _, agg := range a.Aggs {
		if !agg.Kind.IsAlgebraic() {
			return false
		}
	}
	return true
}

func (a *Aggregate) allSemiAlgebraic() bool {
	for _, agg := range a.Aggs {
		if !agg.Kind.IsSemiAlgebraic() {
			return false
		}
	}
	return len(a.Aggs) > 0
}

// isIntermediate reports whether this aggregate's output is not among the
// ST's persisted user columns, meaning the terminal merge-against-ST path
// is unusable (§4.4, "Intermediate aggregates").
func (a *Aggregate) isIntermediate(ctx *diff.Context) bool {
	if len(ctx.STUserColumns) == 0 {
		return false
	}
	persisted := make(map[string]bool, len(ctx.STUserColumns))
	for _, c := range ctx.STUserColumns {
		persisted[c] = true
	}
	for _, c := range a.OutputColumns() {
		if !persisted[c] {
			return true
		}
	}
	return false
}

func (a *Aggregate) Diff(ctx *diff.Context) (*diff.Result, error) {
	if len(a.Aggs) == 0 {
		return nil, &diff.QueryShapeError{NodeKind: a.Kind(), Detail: "aggregate has no aggregate expressions"}
	}

	if a.isIntermediate(ctx) {
		return a.diffIntermediate(ctx)
	}
	if a.allAlgebraic() {
		return a.diffAlgebraic(ctx)
	}
	if a.allSemiAlgebraic() {
		return a.diffSemiAlgebraic(ctx)
	}
	return a.diffGroupRescan(ctx)
}

// groupKeyList renders the comma-joined, resolved group-by expression list
// against a child's column names.
func (a *Aggregate) groupKeyList(childCols []string) (string, error) {
	parts := make([]string, len(a.GroupBy))
	for i, g := range a.GroupBy {
		resolved, err := resolveExpr(g, childCols)
		if err != nil {
			return "", fmt.Errorf("Aggregate group key: %w", err)
		}
		parts[i] = resolved.ToSQL()
	}
	return strings.Join(parts, ", "), nil
}

func (a *Aggregate) groupKeySelectList(childCols []string) (string, error) {
	parts := make([]string, len(a.GroupBy))
	for i, g := range a.GroupBy {
		resolved, err := resolveExpr(g, childCols)
		if err != nil {
			return "", fmt.Errorf("Aggregate group key: %w", err)
		}
		parts[i] = fmt.Sprintf("%s AS %s", resolved.ToSQL(), quoting.DoubleQuote(a.GroupByAliases[i]))
	}
	return strings.Join(parts, ", "), nil
}

func (a *Aggregate) rowIDExpr() string {
	if a.isScalar() {
		return rowid.Zero
	}
	exprs := make([]string, len(a.GroupByAliases))
	for i, alias := range a.GroupByAliases {
		exprs[i] = quoting.DoubleQuote(alias)
	}
	return rowid.Multi(exprs...)
}

// resolvedAggExpr deparses one aggregate's own argument(s), including a
// FILTER clause resolved against the child's column names.
func resolvedAggExpr(agg expr.AggExpr, childCols []string) (arg, arg2, filter string, err error) {
	if agg.Arg != nil {
		r, e := resolveExpr(agg.Arg, childCols)
		if e != nil {
			return "", "", "", e
		}
		arg = r.ToSQL()
	}
	if agg.Arg2 != nil {
		r, e := resolveExpr(agg.Arg2, childCols)
		if e != nil {
			return "", "", "", e
		}
		arg2 = r.ToSQL()
	}
	if agg.Filter != nil {
		r, e := resolveExpr(agg.Filter, childCols)
		if e != nil {
			return "", "", "", e
		}
		filter = r.ToSQL()
	}
	return arg, arg2, filter, nil
}

// diffAlgebraic implements the algebraic path: ins/del per-group counts,
// merged against ST state algebraically, with meta-action classification
// (§4.4 steps 1-3).
func (a *Aggregate) diffAlgebraic(ctx *diff.Context) (*diff.Result, error) {
	child, err := a.Child.Diff(ctx)
	if err != nil {
		return nil, err
	}
	q := quoting.DoubleQuote

	groupSelect, err := a.groupKeySelectList(child.Columns)
	if err != nil {
		return nil, err
	}
	groupBy, err := a.groupKeyList(child.Columns)
	if err != nil {
		return nil, err
	}

	var deltaSel strings.Builder
	deltaSel.WriteString(groupSelect)
	fmt.Fprintf(&deltaSel, ", SUM(CASE WHEN __action = 'I' THEN 1 ELSE 0 END) AS __ins_count")
	fmt.Fprintf(&deltaSel, ", SUM(CASE WHEN __action = 'D' THEN 1 ELSE 0 END) AS __del_count")
	for _, agg := range a.Aggs {
		arg, _, filter, err := resolvedAggExpr(agg, child.Columns)
		if err != nil {
			return nil, err
		}
		insExpr, delExpr := algebraicCaseExprs(agg, arg, filter)
		fmt.Fprintf(&deltaSel, ", %s AS %s, %s AS %s", insExpr, insAlias(agg.Alias), delExpr, delAlias(agg.Alias))
	}
	deltaBody := fmt.Sprintf("SELECT %s\nFROM %s\nGROUP BY %s", deltaSel.String(), q(child.CTEName), nonEmptyGroupBy(groupBy))
	deltaCTE := ctx.AddCTE("agg_delta", deltaBody, false, false)

	mergeBody, err := a.algebraicMergeBody(ctx, deltaCTE)
	if err != nil {
		return nil, err
	}
	mergeCTE := ctx.AddCTE("agg_merge", mergeBody, false, false)

	finalBody := a.algebraicFinalBody(mergeCTE)
	finalCTE := ctx.AddCTE("agg_final", finalBody, false, false)

	return &diff.Result{CTEName: finalCTE, Columns: a.OutputColumns(), Deduplicated: true}, nil
}

func insAlias(alias string) string { return "__ins_" + alias }
func delAlias(alias string) string { return "__del_" + alias }

// algebraicCaseExprs renders the per-aggregate ins/del conditional-sum
// expressions used in the delta CTE.
func algebraicCaseExprs(agg expr.AggExpr, arg, filter string) (ins, del string) {
	cond := "__action = '%s'"
	if filter != "" {
		cond += " AND (" + filter + ")"
	}
	insCond := fmt.Sprintf(cond, "I")
	delCond := fmt.Sprintf(cond, "D")
	switch agg.Kind {
	case expr.CountStar:
		return fmt.Sprintf("SUM(CASE WHEN %s THEN 1 ELSE 0 END)", insCond),
			fmt.Sprintf("SUM(CASE WHEN %s THEN 1 ELSE 0 END)", delCond)
	case expr.Count:
		return fmt.Sprintf("SUM(CASE WHEN %s AND %s IS NOT NULL THEN 1 ELSE 0 END)", insCond, arg),
			fmt.Sprintf("SUM(CASE WHEN %s AND %s IS NOT NULL THEN 1 ELSE 0 END)", delCond, arg)
	default: // Sum
		return fmt.Sprintf("SUM(CASE WHEN %s THEN %s ELSE 0 END)", insCond, arg),
			fmt.Sprintf("SUM(CASE WHEN %s THEN %s ELSE 0 END)", delCond, arg)
	}
}

// algebraicMergeBody joins the delta CTE against the persisted ST state on
// group keys and computes new values algebraically.
func (a *Aggregate) algebraicMergeBody(ctx *diff.Context, deltaCTE string) (string, error) {
	q := quoting.DoubleQuote
	st := ctx.STQualifiedName
	if st == "" {
		st = "(SELECT " + zeroColumnsPlaceholder(a) + " WHERE FALSE) AS __empty_st"
	}
	joinOn := "TRUE"
	if !a.isScalar() {
		parts := make([]string, len(a.GroupByAliases))
		for i, alias := range a.GroupByAliases {
			parts[i] = fmt.Sprintf("d.%s = st.%s", q(alias), q(alias))
		}
		joinOn = strings.Join(parts, " AND ")
	}

	var sel strings.Builder
	for _, alias := range a.GroupByAliases {
		fmt.Fprintf(&sel, "d.%s AS %s, ", q(alias), q(alias))
	}
	sel.WriteString("(st." + q(a.GroupByAliases0Safe()) + " IS NOT NULL) AS __existed, ")
	sel.WriteString("COALESCE(st.__count, 0) AS __old_count, ")
	sel.WriteString("d.__ins_count - d.__del_count AS __net_count, ")
	sel.WriteString("COALESCE(st.__count, 0) + d.__ins_count - d.__del_count AS __new_count")
	for _, agg := range a.Aggs {
		fmt.Fprintf(&sel, ", COALESCE(st.%s, 0) AS %s", q(agg.Alias), q("old_"+agg.Alias))
		newExpr := algebraicNewValueExpr(agg)
		fmt.Fprintf(&sel, ", %s AS %s", newExpr, q("new_"+agg.Alias))
	}

	return fmt.Sprintf(
		"SELECT %s\nFROM %s AS d\nLEFT JOIN %s AS st ON %s",
		sel.String(), q(deltaCTE), st, joinOn,
	), nil
}

// GroupByAliases0Safe returns the first group-by alias for existence
// checks, or the ST's reserved scalar marker column for scalar aggregates.
func (a *Aggregate) GroupByAliases0Safe() string {
	if len(a.GroupByAliases) > 0 {
		return a.GroupByAliases[0]
	}
	return "__count"
}

func algebraicNewValueExpr(agg expr.AggExpr) string {
	q := quoting.DoubleQuote
	ins := insAlias(agg.Alias)
	del := delAlias(agg.Alias)
	return fmt.Sprintf("COALESCE(st.%s, 0) + d.%s - d.%s", q(agg.Alias), ins, del)
}

func zeroColumnsPlaceholder(a *Aggregate) string {
	cols := make([]string, 0, len(a.OutputColumns())+1)
	cols = append(cols, "0 AS __count")
	for _, alias := range a.GroupByAliases {
		cols = append(cols, "NULL AS "+quoting.DoubleQuote(alias))
	}
	for _, agg := range a.Aggs {
		cols = append(cols, "NULL AS "+quoting.DoubleQuote(agg.Alias))
	}
	return strings.Join(cols, ", ")
}

// algebraicFinalBody classifies each merged group into I/D/suppressed-U per
// §4.4 step 3.
func (a *Aggregate) algebraicFinalBody(mergeCTE string) string {
	q := quoting.DoubleQuote

	deleteWhere := "__existed AND __new_count <= 0"
	if a.isScalar() {
		deleteWhere = "FALSE"
	}

	var insSel, delSel strings.Builder
	for _, alias := range a.GroupByAliases {
		fmt.Fprintf(&insSel, "%s AS %s, ", q(alias), q(alias))
		fmt.Fprintf(&delSel, "%s AS %s, ", q(alias), q(alias))
	}
	fmt.Fprintf(&insSel, "%s AS __count", "__new_count")
	fmt.Fprintf(&delSel, "%s AS __count", "__old_count")
	for _, agg := range a.Aggs {
		fmt.Fprintf(&insSel, ", %s AS %s", q("new_"+agg.Alias), q(agg.Alias))
		fmt.Fprintf(&delSel, ", %s AS %s", q("old_"+agg.Alias), q(agg.Alias))
	}

	insertWhere := "(NOT __existed OR __new_count > 0) AND __net_count <> 0"
	changeGuard := insertWhere
	if !a.isScalar() {
		changeGuard = "(" + insertWhere + ") OR (__existed AND __new_count > 0 AND (" + algebraicChangeDetectionGuard(a) + "))"
	}

	return fmt.Sprintf(
		"SELECT %s AS __row_id, 'D' AS __action, %s\nFROM %s\nWHERE %s\nUNION ALL\nSELECT %s AS __row_id, 'I' AS __action, %s\nFROM %s\nWHERE %s",
		a.rowIDExpr(), delSel.String(), q(mergeCTE), deleteWhere,
		a.rowIDExpr(), insSel.String(), q(mergeCTE), changeGuard,
	)
}

func algebraicChangeDetectionGuard(a *Aggregate) string {
	q := quoting.DoubleQuote
	parts := make([]string, len(a.Aggs))
	for i, agg := range a.Aggs {
		parts[i] = fmt.Sprintf("%s IS DISTINCT FROM %s", q("new_"+agg.Alias), q("old_"+agg.Alias))
	}
	if len(parts) == 0 {
		return "TRUE"
	}
	return strings.Join(parts, " OR ")
}

func nonEmptyGroupBy(groupBy string) string {
	if groupBy == "" {
		return "()"
	}
	return groupBy
}

// diffSemiAlgebraic implements the MIN/MAX tracking path: usually an O(1)
// LEAST/GREATEST merge, falling back to a rescan CTE for groups whose
// deletion removed the current extremum (§4.4, "Non-invertible paths").
func (a *Aggregate) diffSemiAlgebraic(ctx *diff.Context) (*diff.Result, error) {
	child, err := a.Child.Diff(ctx)
	if err != nil {
		return nil, err
	}
	q := quoting.DoubleQuote

	groupSelect, err := a.groupKeySelectList(child.Columns)
	if err != nil {
		return nil, err
	}
	groupBy, err := a.groupKeyList(child.Columns)
	if err != nil {
		return nil, err
	}

	var deltaSel strings.Builder
	deltaSel.WriteString(groupSelect)
	fmt.Fprintf(&deltaSel, ", SUM(CASE WHEN __action = 'D' THEN 1 ELSE 0 END) AS __del_count")
	for _, agg := range a.Aggs {
		arg, _, filter, err := resolvedAggExpr(agg, child.Columns)
		if err != nil {
			return nil, err
		}
		fn := "MIN"
		if agg.Kind == expr.Max {
			fn = "MAX"
		}
		cond := "__action = 'I'"
		if filter != "" {
			cond += " AND (" + filter + ")"
		}
		fmt.Fprintf(&deltaSel, ", %s(CASE WHEN %s THEN %s END) AS %s", fn, cond, arg, q("ins_extreme_"+agg.Alias))
	}
	deltaBody := fmt.Sprintf("SELECT %s\nFROM %s\nGROUP BY %s", deltaSel.String(), q(child.CTEName), nonEmptyGroupBy(groupBy))
	deltaCTE := ctx.AddCTE("agg_minmax_delta", deltaBody, false, false)

	rescanCTE, err := a.rescanCTE(ctx, deltaCTE, child.Columns)
	if err != nil {
		return nil, err
	}

	finalBody := a.semiAlgebraicFinalBody(ctx, deltaCTE, rescanCTE)
	finalCTE := ctx.AddCTE("agg_minmax_final", finalBody, false, false)
	return &diff.Result{CTEName: finalCTE, Columns: a.OutputColumns(), Deduplicated: true}, nil
}

// semiAlgebraicFinalBody merges the ins/del delta with the current ST
// state: a deletion that left the tracked extremum untouched needs only a
// LEAST/GREATEST merge against the old value; a deletion that removed the
// current extremum falls back to the rescanned value for that group.
func (a *Aggregate) semiAlgebraicFinalBody(ctx *diff.Context, deltaCTE, rescanCTE string) string {
	q := quoting.DoubleQuote
	st := ctx.STQualifiedName
	if st == "" {
		st = "(SELECT " + zeroColumnsPlaceholder(a) + " WHERE FALSE) AS __empty_st"
	}
	joinOnWith := func(rightAlias string) string {
		if a.isScalar() {
			return "TRUE"
		}
		parts := make([]string, len(a.GroupByAliases))
		for i, alias := range a.GroupByAliases {
			parts[i] = fmt.Sprintf("d.%s = %s.%s", q(alias), rightAlias, q(alias))
		}
		return strings.Join(parts, " AND ")
	}

	var sel strings.Builder
	for _, alias := range a.GroupByAliases {
		fmt.Fprintf(&sel, "d.%s AS %s, ", q(alias), q(alias))
	}
	for _, agg := range a.Aggs {
		fn := "LEAST"
		if agg.Kind == expr.Max {
			fn = "GREATEST"
		}
		stCol := q(agg.Alias)
		insCol := q("ins_extreme_" + agg.Alias)
		fmt.Fprintf(&sel, "COALESCE(r.%s, CASE WHEN d.__del_count = 0 AND st.%s IS NOT NULL THEN %s(st.%s, d.%s) ELSE d.%s END) AS %s, ",
			q(agg.Alias), stCol, fn, stCol, insCol, insCol, q(agg.Alias))
	}
	sel.WriteString("'I' AS __action")
	return fmt.Sprintf(
		"SELECT %s, %s AS __row_id\nFROM %s AS d\nLEFT JOIN %s AS st ON %s\nLEFT JOIN %s AS r ON %s",
		sel.String(), a.rowIDExpr(), q(deltaCTE), st, joinOnWith("st"), q(rescanCTE), joinOnWith("r"),
	)
}

// diffGroupRescan implements the general-purpose fallback: re-aggregate
// affected groups from the reconstructed source FROM-clause and merge the
// rescanned values against the ST on group keys (§4.4, "Group-rescan
// aggregates" and "Rescan CTE"), the same old/new merge semiAlgebraicFinalBody
// uses for MIN/MAX. Always correct regardless of which aggregate kinds are
// present, so it also covers a node mixing algebraic and non-algebraic
// aggregates. A group whose rows are all deleted has no row in the rescan
// CTE at all, so the merge is a LEFT JOIN from the affected-keys set against
// both the ST (old values) and the rescan (new values, absent when the group
// vanished) rather than a plain re-emit of the rescan CTE's rows.
func (a *Aggregate) diffGroupRescan(ctx *diff.Context) (*diff.Result, error) {
	child, err := a.Child.Diff(ctx)
	if err != nil {
		return nil, err
	}
	q := quoting.DoubleQuote

	var keysBody string
	if a.isScalar() {
		keysBody = fmt.Sprintf("SELECT 1\nFROM %s\nLIMIT 1", q(child.CTEName))
	} else {
		groupSelect, err := a.groupKeySelectList(child.Columns)
		if err != nil {
			return nil, err
		}
		keysBody = fmt.Sprintf("SELECT DISTINCT %s\nFROM %s", groupSelect, q(child.CTEName))
	}
	keysCTE := ctx.AddCTE("agg_rescan_keys", keysBody, false, false)

	rescanCTE, err := a.rescanCTE(ctx, child.CTEName, child.Columns)
	if err != nil {
		return nil, err
	}

	mergeBody := a.groupRescanMergeBody(ctx, keysCTE, rescanCTE)
	mergeCTE := ctx.AddCTE("agg_rescan_merge", mergeBody, false, false)

	finalBody := a.groupRescanFinalBody(mergeCTE)
	finalCTE := ctx.AddCTE("agg_rescan_final", finalBody, false, false)
	return &diff.Result{CTEName: finalCTE, Columns: a.OutputColumns(), Deduplicated: true}, nil
}

// groupRescanMergeBody joins the affected-keys set against the persisted ST
// state and the rescanned values, both via LEFT JOIN so a group present on
// only one side (newly created, or fully deleted) still produces a row.
// "st IS NOT NULL"/"r IS NOT NULL" are whole-row NULL tests, true exactly
// when the respective side had no matching group — the standard Postgres
// LEFT JOIN anti-match idiom, which also sidesteps needing any particular
// named column to probe (a scalar aggregate's rescan CTE carries no group
// column at all).
func (a *Aggregate) groupRescanMergeBody(ctx *diff.Context, keysCTE, rescanCTE string) string {
	q := quoting.DoubleQuote
	st := ctx.STQualifiedName
	if st == "" {
		st = "(SELECT " + zeroColumnsPlaceholder(a) + " WHERE FALSE) AS __empty_st"
	}
	joinOnWith := func(rightAlias string) string {
		if a.isScalar() {
			return "TRUE"
		}
		parts := make([]string, len(a.GroupByAliases))
		for i, alias := range a.GroupByAliases {
			parts[i] = fmt.Sprintf("k.%s = %s.%s", q(alias), rightAlias, q(alias))
		}
		return strings.Join(parts, " AND ")
	}

	var sel strings.Builder
	for _, alias := range a.GroupByAliases {
		fmt.Fprintf(&sel, "k.%s AS %s, ", q(alias), q(alias))
	}
	sel.WriteString("(st IS NOT NULL) AS __existed, ")
	sel.WriteString("(r IS NOT NULL) AS __survives")
	for _, agg := range a.Aggs {
		fmt.Fprintf(&sel, ", st.%s AS %s", q(agg.Alias), q("old_"+agg.Alias))
		fmt.Fprintf(&sel, ", r.%s AS %s", q(agg.Alias), q("new_"+agg.Alias))
	}

	return fmt.Sprintf(
		"SELECT %s\nFROM %s AS k\nLEFT JOIN %s AS st ON %s\nLEFT JOIN %s AS r ON %s",
		sel.String(), q(keysCTE), st, joinOnWith("st"), q(rescanCTE), joinOnWith("r"),
	)
}

// groupRescanFinalBody classifies each merged group the same way
// algebraicFinalBody does: D(old) when a group existed and either vanished
// or changed value, I(new) when a group survives and either is brand new or
// changed value. A group that existed, survives, and is unchanged emits
// nothing.
func (a *Aggregate) groupRescanFinalBody(mergeCTE string) string {
	q := quoting.DoubleQuote
	guard := algebraicChangeDetectionGuard(a)
	deleteWhere := fmt.Sprintf("__existed AND (NOT __survives OR (%s))", guard)
	insertWhere := fmt.Sprintf("__survives AND (NOT __existed OR (%s))", guard)

	var insSel, delSel strings.Builder
	for _, alias := range a.GroupByAliases {
		fmt.Fprintf(&insSel, "%s AS %s, ", q(alias), q(alias))
		fmt.Fprintf(&delSel, "%s AS %s, ", q(alias), q(alias))
	}
	for i, agg := range a.Aggs {
		if i > 0 {
			insSel.WriteString(", ")
			delSel.WriteString(", ")
		}
		fmt.Fprintf(&insSel, "%s AS %s", q("new_"+agg.Alias), q(agg.Alias))
		fmt.Fprintf(&delSel, "%s AS %s", q("old_"+agg.Alias), q(agg.Alias))
	}

	return fmt.Sprintf(
		"SELECT %s AS __row_id, 'D' AS __action, %s\nFROM %s\nWHERE %s\nUNION ALL\nSELECT %s AS __row_id, 'I' AS __action, %s\nFROM %s\nWHERE %s",
		a.rowIDExpr(), delSel.String(), q(mergeCTE), deleteWhere,
		a.rowIDExpr(), insSel.String(), q(mergeCTE), insertWhere,
	)
}

// rescanCTE reconstructs the child subtree's current FROM-clause (via
// Snapshotter), restricts it to rows whose group key appears in the given
// delta CTE, and re-aggregates with GROUP BY the group keys (§4.4's
// "Rescan CTE"). If the child supports no snapshot reconstruction, this
// falls back to wrapping the defining-query text (§4.4), since the only
// information available at that point is the raw SQL text itself.
func (a *Aggregate) rescanCTE(ctx *diff.Context, restrictToDeltaCTE string, childCols []string) (string, error) {
	snap, ok := a.Child.(Snapshotter)
	var fromSQL string
	if ok {
		sql, err := snap.Snapshot(ctx)
		if err != nil {
			return "", err
		}
		fromSQL = sql
	} else if ctx.DefiningQuery != "" {
		fromSQL = ctx.DefiningQuery
	} else {
		return "", &diff.UnsupportedOperatorError{NodeKind: a.Kind(), Reason: "child supports neither snapshot reconstruction nor a defining-query fallback"}
	}

	q := quoting.DoubleQuote
	groupKeyCols := a.GroupByAliases
	restrict := "TRUE"
	if len(groupKeyCols) == 1 {
		restrict = fmt.Sprintf("%s IN (SELECT %s FROM %s)", q(groupKeyCols[0]), q(groupKeyCols[0]), q(restrictToDeltaCTE))
	} else if len(groupKeyCols) > 1 {
		eqParts := make([]string, len(groupKeyCols))
		for i, c := range groupKeyCols {
			eqParts[i] = fmt.Sprintf("t.%s IS NOT DISTINCT FROM d.%s", q(c), q(c))
		}
		restrict = fmt.Sprintf("EXISTS (SELECT 1 FROM %s AS d WHERE %s)", q(restrictToDeltaCTE), strings.Join(eqParts, " AND "))
	}

	groupSelect, err := a.groupKeySelectList(childCols)
	if err != nil {
		return "", err
	}
	groupBy, err := a.groupKeyList(childCols)
	if err != nil {
		return "", err
	}

	var sel strings.Builder
	sel.WriteString(groupSelect)
	for _, agg := range a.Aggs {
		sqlExpr, err := a.renderAggCall(agg, childCols)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sel, ", %s AS %s", sqlExpr, q(agg.Alias))
	}

	body := fmt.Sprintf(
		"SELECT %s\nFROM (%s) AS t\nWHERE %s\nGROUP BY %s",
		sel.String(), fromSQL, restrict, nonEmptyGroupBy(groupBy),
	)
	return ctx.AddCTE("agg_rescan", body, false, false), nil
}

// renderAggCall deparses one aggregate expression as a real SQL aggregate
// call (as opposed to the ins/del conditional-sum rewriting the algebraic
// path uses), for use inside a rescan CTE that re-executes the aggregate
// directly against source rows.
func (a *Aggregate) renderAggCall(agg expr.AggExpr, childCols []string) (string, error) {
	if agg.Kind == expr.ComplexExpression || agg.Kind == expr.JsonObjectAggStd || agg.Kind == expr.JsonArrayAggStd {
		return agg.Raw, nil
	}
	arg, arg2, filter, err := resolvedAggExpr(agg, childCols)
	if err != nil {
		return "", err
	}
	distinct := ""
	if agg.IsDistinct {
		distinct = "DISTINCT "
	}
	var inner string
	switch {
	case agg.Kind == expr.CountStar:
		inner = "COUNT(*)"
	case agg.Kind.IsOrderedSet():
		orderBy := renderOrderBy(agg.OrderBy)
		inner = fmt.Sprintf("%s(%s) WITHIN GROUP (ORDER BY %s)", agg.Kind.SQLName(), arg, orderBy)
	case arg2 != "":
		inner = fmt.Sprintf("%s(%s%s, %s)", agg.Kind.SQLName(), distinct, arg, arg2)
	default:
		inner = fmt.Sprintf("%s(%s%s)", agg.Kind.SQLName(), distinct, arg)
	}
	if filter != "" {
		inner += " FILTER (WHERE " + filter + ")"
	}
	return inner, nil
}

func renderOrderBy(items []expr.OrderExpr) string {
	parts := make([]string, len(items))
	for i, it := range items {
		dir := "ASC"
		if it.Desc {
			dir = "DESC"
		}
		parts[i] = it.Expr.ToSQL() + " " + dir
	}
	return strings.Join(parts, ", ")
}

// diffIntermediate handles an aggregate whose output is not among the ST's
// persisted columns (§4.4, "Intermediate aggregates"): the terminal
// merge-against-ST path is unusable since there is no ST row to join
// against, so old state is reconstructed instead of read.
func (a *Aggregate) diffIntermediate(ctx *diff.Context) (*diff.Result, error) {
	if a.allAlgebraic() {
		return a.diffIntermediateAlgebraic(ctx)
	}
	return a.diffIntermediateExceptAll(ctx)
}

// diffIntermediateAlgebraic re-aggregates "new" from the child's current
// FROM and computes "old" algebraically as new - ins + del.
func (a *Aggregate) diffIntermediateAlgebraic(ctx *diff.Context) (*diff.Result, error) {
	child, err := a.Child.Diff(ctx)
	if err != nil {
		return nil, err
	}
	q := quoting.DoubleQuote

	newCTE, err := a.rescanCTE(ctx, child.CTEName, child.Columns)
	if err != nil {
		return nil, err
	}

	groupSelect, err := a.groupKeySelectList(child.Columns)
	if err != nil {
		return nil, err
	}
	groupBy, err := a.groupKeyList(child.Columns)
	if err != nil {
		return nil, err
	}
	var deltaSel strings.Builder
	deltaSel.WriteString(groupSelect)
	for _, agg := range a.Aggs {
		arg, _, filter, err := resolvedAggExpr(agg, child.Columns)
		if err != nil {
			return nil, err
		}
		ins, del := algebraicCaseExprs(agg, arg, filter)
		fmt.Fprintf(&deltaSel, ", %s AS %s, %s AS %s", ins, insAlias(agg.Alias), del, delAlias(agg.Alias))
	}
	deltaBody := fmt.Sprintf("SELECT %s\nFROM %s\nGROUP BY %s", deltaSel.String(), q(child.CTEName), nonEmptyGroupBy(groupBy))
	deltaCTE := ctx.AddCTE("agg_intermediate_delta", deltaBody, false, false)

	joinOn := "TRUE"
	if !a.isScalar() {
		parts := make([]string, len(a.GroupByAliases))
		for i, alias := range a.GroupByAliases {
			parts[i] = fmt.Sprintf("n.%s = d.%s", q(alias), q(alias))
		}
		joinOn = strings.Join(parts, " AND ")
	}
	var insSel, delSel strings.Builder
	for _, alias := range a.GroupByAliases {
		fmt.Fprintf(&insSel, "n.%s AS %s, ", q(alias), q(alias))
		fmt.Fprintf(&delSel, "n.%s AS %s, ", q(alias), q(alias))
	}
	for i, agg := range a.Aggs {
		if i > 0 {
			insSel.WriteString(", ")
			delSel.WriteString(", ")
		}
		fmt.Fprintf(&insSel, "n.%s AS %s", q(agg.Alias), q(agg.Alias))
		fmt.Fprintf(&delSel, "(n.%s - d.%s + d.%s) AS %s", q(agg.Alias), insAlias(agg.Alias), delAlias(agg.Alias), q(agg.Alias))
	}
	body := fmt.Sprintf(
		"SELECT %s AS __row_id, 'D' AS __action, %s\nFROM %s AS n\nJOIN %s AS d ON %s\nUNION ALL\nSELECT %s AS __row_id, 'I' AS __action, %s\nFROM %s AS n\nJOIN %s AS d ON %s",
		a.rowIDExpr(), delSel.String(), q(newCTE), q(deltaCTE), joinOn,
		a.rowIDExpr(), insSel.String(), q(newCTE), q(deltaCTE), joinOn,
	)
	finalCTE := ctx.AddCTE("agg_intermediate_final", body, false, false)
	return &diff.Result{CTEName: finalCTE, Columns: a.OutputColumns(), Deduplicated: true}, nil
}

// diffIntermediateExceptAll reconstructs old state via EXCEPT ALL against
// the defining source and re-aggregates both old and new independently.
func (a *Aggregate) diffIntermediateExceptAll(ctx *diff.Context) (*diff.Result, error) {
	child, err := a.Child.Diff(ctx)
	if err != nil {
		return nil, err
	}
	q := quoting.DoubleQuote

	newRescan, err := a.rescanCTE(ctx, child.CTEName, child.Columns)
	if err != nil {
		return nil, err
	}

	old0SQL, err := reconstructL0(ctx, a.Child, child)
	if err != nil {
		return nil, err
	}
	old0CTE := ctx.AddCTE("agg_old_source", old0SQL, false, false)
	oldRescan, err := a.rescanCTE(ctx, old0CTE, child.Columns)
	if err != nil {
		return nil, err
	}

	selCols := strings.Join(quotedColumnsOf(a.OutputColumns()), ", ")
	body := fmt.Sprintf(
		"SELECT %s AS __row_id, 'D' AS __action, %s\nFROM %s\nUNION ALL\nSELECT %s AS __row_id, 'I' AS __action, %s\nFROM %s",
		a.rowIDExpr(), selCols, q(oldRescan),
		a.rowIDExpr(), selCols, q(newRescan),
	)
	finalCTE := ctx.AddCTE("agg_intermediate_final", body, false, false)
	return &diff.Result{CTEName: finalCTE, Columns: a.OutputColumns(), Deduplicated: true}, nil
}

func quotedColumnsOf(cols []string) []string {
	q := quoting.DoubleQuote
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = q(c)
	}
	return out
}
