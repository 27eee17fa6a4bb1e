package optree

import (
	"fmt"

	"github.com/flowdelta/pgdiff/diff"
	"github.com/flowdelta/pgdiff/expr"
	"github.com/flowdelta/pgdiff/internal/quoting"
	"github.com/flowdelta/pgdiff/rowid"
)

// LateralFunction models a LATERAL set-returning function applied per outer
// row, e.g. `, LATERAL jsonb_array_elements(o.items) AS item(value)` (§4.6).
type LateralFunction struct {
	Outer       Node
	FuncName    string
	Args        []expr.Expr
	OutputAlias []string
	AliasName   string
}

func (l *LateralFunction) OutputColumns() []string {
	return append(append([]string{}, l.Outer.OutputColumns()...), l.OutputAlias...)
}
func (l *LateralFunction) SourceOIDs() []uint32 { return l.Outer.SourceOIDs() }
func (l *LateralFunction) Alias() string         { return l.AliasName }
func (l *LateralFunction) Kind() string           { return "LateralFunction" }

// Diff re-expands the SRF per changed outer row: a deletion re-expands with
// the row's OLD columns and emits D; an insertion re-expands with NEW
// columns and emits I. Since a re-expanded SRF row has no natural key, the
// row-ID is a content hash over both the outer columns and the SRF's own
// output columns, so the merge against the ST cannot collide across rows
// produced by distinct outer rows with identical SRF output (§9).
func (l *LateralFunction) Diff(ctx *diff.Context) (*diff.Result, error) {
	outerDelta, err := l.Outer.Diff(ctx)
	if err != nil {
		return nil, err
	}
	q := quoting.DoubleQuote
	outerCols := l.Outer.OutputColumns()

	argSQL := make([]string, len(l.Args))
	for i, a := range l.Args {
		resolved, err := resolveExpr(a, outerCols)
		if err != nil {
			return nil, fmt.Errorf("LateralFunction arg: %w", err)
		}
		argSQL[i] = resolved.ToSQL()
	}
	outAliasList := make([]string, len(l.OutputAlias))
	for i, a := range l.OutputAlias {
		outAliasList[i] = q(a)
	}
	srfCall := fmt.Sprintf("%s(%s)", l.FuncName, joinComma(argSQL))

	outCols := l.OutputColumns()
	hashCols := make([]string, 0, len(outerCols)+len(l.OutputAlias))
	for _, c := range outerCols {
		hashCols = append(hashCols, "d."+q(c))
	}
	for _, a := range l.OutputAlias {
		hashCols = append(hashCols, "srf."+q(a))
	}
	srfColList := make([]string, len(l.OutputAlias))
	for i, a := range l.OutputAlias {
		srfColList[i] = "srf." + q(a)
	}
	body := fmt.Sprintf(
		"SELECT %s AS __row_id, d.__action AS __action, %s, %s\nFROM %s AS d, LATERAL %s AS srf(%s)",
		rowid.Multi(hashCols...),
		prefixedColumnList("d", outerCols), joinComma(srfColList),
		q(outerDelta.CTEName), srfCall, joinComma(outAliasList),
	)
	finalCTE := ctx.AddCTE("lateral_function_final", body, false, false)
	return &diff.Result{CTEName: finalCTE, Columns: outCols, Deduplicated: false}, nil
}

func joinComma(items []string) string {
	out := ""
	for i, it := range items {
		if i > 0 {
			out += ", "
		}
		out += it
	}
	return out
}
