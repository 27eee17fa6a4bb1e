package optree

import (
	"fmt"

	"github.com/flowdelta/pgdiff/diff"
	"github.com/flowdelta/pgdiff/internal/quoting"
	"github.com/flowdelta/pgdiff/rowid"
)

// LateralSubquery models a LATERAL correlated subquery re-executed per
// outer row, analogous to LateralFunction but producing an arbitrary SELECT
// rather than a set-returning function call (§4.6).
type LateralSubquery struct {
	Outer         Node
	SubquerySQL   string // raw, already-correlated subquery text referencing the outer alias
	OuterAliasRef string // the outer row's alias as it appears inside SubquerySQL
	OutputCols    []string
	AliasName     string
}

func (l *LateralSubquery) OutputColumns() []string {
	return append(append([]string{}, l.Outer.OutputColumns()...), l.OutputCols...)
}
func (l *LateralSubquery) SourceOIDs() []uint32 { return l.Outer.SourceOIDs() }
func (l *LateralSubquery) Alias() string         { return l.AliasName }
func (l *LateralSubquery) Kind() string           { return "LateralSubquery" }

// Diff re-executes SubquerySQL per changed outer row, same D-with-old /
// I-with-new convention as LateralFunction.
func (l *LateralSubquery) Diff(ctx *diff.Context) (*diff.Result, error) {
	outerDelta, err := l.Outer.Diff(ctx)
	if err != nil {
		return nil, err
	}
	q := quoting.DoubleQuote
	outerCols := l.Outer.OutputColumns()

	hashCols := make([]string, 0, len(outerCols)+len(l.OutputCols))
	for _, c := range outerCols {
		hashCols = append(hashCols, "d."+q(c))
	}
	for _, c := range l.OutputCols {
		hashCols = append(hashCols, "sub."+q(c))
	}
	subColList := make([]string, len(l.OutputCols))
	for i, c := range l.OutputCols {
		subColList[i] = "sub." + q(c)
	}

	outCols := l.OutputColumns()
	body := fmt.Sprintf(
		"SELECT %s AS __row_id, d.__action AS __action, %s, %s\nFROM %s AS d, LATERAL (%s) AS sub(%s)",
		rowid.Multi(hashCols...),
		prefixedColumnList("d", outerCols), joinComma(subColList),
		q(outerDelta.CTEName), renameOuterAlias(l.SubquerySQL, l.OuterAliasRef, "d"), joinComma(quotedColumnsOf(l.OutputCols)),
	)
	finalCTE := ctx.AddCTE("lateral_subquery_final", body, false, false)
	return &diff.Result{CTEName: finalCTE, Columns: outCols, Deduplicated: false}, nil
}

// renameOuterAlias requalifies every "<from>." occurrence in sql to "<to>.".
// SubquerySQL is raw text supplied by the caller (the parser layer, excluded
// from this module) already written against a known outer alias, so a plain
// textual substitution is sufficient here the way package expr's Raw
// substitution is for Filter/Project predicates.
func renameOuterAlias(sql, from, to string) string {
	if from == "" || from == to {
		return sql
	}
	out := make([]byte, 0, len(sql))
	fromDot := from + "."
	for i := 0; i < len(sql); {
		if i+len(fromDot) <= len(sql) && sql[i:i+len(fromDot)] == fromDot {
			out = append(out, (to + ".")...)
			i += len(fromDot)
			continue
		}
		out = append(out, sql[i])
		i++
	}
	return string(out)
}
