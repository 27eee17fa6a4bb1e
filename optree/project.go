package optree

import (
	"fmt"
	"strings"

	"github.com/flowdelta/pgdiff/diff"
	"github.com/flowdelta/pgdiff/expr"
	"github.com/flowdelta/pgdiff/internal/quoting"
	"github.com/flowdelta/pgdiff/rowid"
)

// ProjItem is one projected output column.
type ProjItem struct {
	Expr  expr.Expr
	Alias string
}

// Project rewrites projection expressions against the child CTE's
// (possibly disambiguated) column names (§4.2).
type Project struct {
	Items     []ProjItem
	Child     Node
	AliasName string
	// RowIDExprs, when non-empty, recomputes __row_id from these
	// expressions instead of passing the child's row id through unchanged.
	// Required when Child is a join (PK-corresponding expressions) or a
	// lateral expansion (all projected columns), so the formula matches
	// the ground-truth full-refresh row id for the same query (§4.2, §9).
	RowIDExprs []expr.Expr
}

func (p *Project) OutputColumns() []string {
	cols := make([]string, len(p.Items))
	for i, it := range p.Items {
		cols[i] = it.Alias
	}
	return cols
}

func (p *Project) SourceOIDs() []uint32 { return p.Child.SourceOIDs() }
func (p *Project) Alias() string        { return p.AliasName }
func (p *Project) Kind() string         { return "Project" }

func (p *Project) Diff(ctx *diff.Context) (*diff.Result, error) {
	if len(p.Items) == 0 {
		return nil, &diff.QueryShapeError{NodeKind: p.Kind(), Detail: "project has no output columns"}
	}
	child, err := p.Child.Diff(ctx)
	if err != nil {
		return nil, err
	}

	var sel strings.Builder
	rowIDExpr := `"__row_id"`
	if len(p.RowIDExprs) > 0 {
		parts := make([]string, len(p.RowIDExprs))
		for i, e := range p.RowIDExprs {
			resolved, err := resolveExpr(e, child.Columns)
			if err != nil {
				return nil, fmt.Errorf("Project row-id: %w", err)
			}
			parts[i] = resolved.ToSQL()
		}
		rowIDExpr = rowid.Multi(parts...)
	}
	fmt.Fprintf(&sel, "%s AS __row_id, __action", rowIDExpr)

	for _, it := range p.Items {
		resolved, err := resolveExpr(it.Expr, child.Columns)
		if err != nil {
			return nil, fmt.Errorf("Project: %w", err)
		}
		fmt.Fprintf(&sel, ", %s AS %s", resolved.ToSQL(), quoting.DoubleQuote(it.Alias))
	}

	body := fmt.Sprintf("SELECT %s\nFROM %s", sel.String(), quoting.DoubleQuote(child.CTEName))
	name := ctx.AddCTE("project", body, false, false)
	return &diff.Result{
		CTEName:      name,
		Columns:      p.OutputColumns(),
		Deduplicated: len(p.RowIDExprs) == 0 && child.Deduplicated,
	}, nil
}
