package optree

import (
	"fmt"

	"github.com/flowdelta/pgdiff/diff"
	"github.com/flowdelta/pgdiff/expr"
	"github.com/flowdelta/pgdiff/internal/quoting"
)

// Filter applies a predicate to its child's delta, unchanged otherwise. It
// introduces no deduplication of its own: a row crossing the predicate
// boundary must keep its D and I sides separate so upstream aggregates see
// the correct net count change (§4.2).
type Filter struct {
	Predicate expr.Expr
	Child     Node
	AliasName string
}

func (f *Filter) OutputColumns() []string { return f.Child.OutputColumns() }
func (f *Filter) SourceOIDs() []uint32    { return f.Child.SourceOIDs() }
func (f *Filter) Alias() string           { return f.AliasName }
func (f *Filter) Kind() string            { return "Filter" }

func (f *Filter) Diff(ctx *diff.Context) (*diff.Result, error) {
	child, err := f.Child.Diff(ctx)
	if err != nil {
		return nil, err
	}
	resolved, err := resolveExpr(f.Predicate, child.Columns)
	if err != nil {
		return nil, fmt.Errorf("Filter: %w", err)
	}
	q := quoting.DoubleQuote
	body := fmt.Sprintf(
		"SELECT *\nFROM %s\nWHERE %s",
		q(child.CTEName), resolved.ToSQL(),
	)
	name := ctx.AddCTE("filter", body, false, false)
	return &diff.Result{
		CTEName:      name,
		Columns:      child.Columns,
		Deduplicated: child.Deduplicated,
	}, nil
}
