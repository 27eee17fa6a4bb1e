package optree

import (
	"fmt"
	"strings"

	"github.com/flowdelta/pgdiff/diff"
	"github.com/flowdelta/pgdiff/internal/quoting"
)

// Subquery is a renaming wrapper: fully transparent when no column aliases
// are requested, otherwise a selecting CTE that renames child columns
// (§4.2).
type Subquery struct {
	Child         Node
	ColumnAliases []string // empty means transparent
	AliasName     string
}

func (s *Subquery) OutputColumns() []string {
	if len(s.ColumnAliases) > 0 {
		return s.ColumnAliases
	}
	return s.Child.OutputColumns()
}

func (s *Subquery) SourceOIDs() []uint32 { return s.Child.SourceOIDs() }
func (s *Subquery) Alias() string        { return s.AliasName }
func (s *Subquery) Kind() string         { return "Subquery" }

func (s *Subquery) Diff(ctx *diff.Context) (*diff.Result, error) {
	child, err := s.Child.Diff(ctx)
	if err != nil {
		return nil, err
	}
	if len(s.ColumnAliases) == 0 {
		return child, nil
	}
	if len(s.ColumnAliases) != len(child.Columns) {
		return nil, &diff.QueryShapeError{
			NodeKind: s.Kind(),
			Detail:   fmt.Sprintf("%d column aliases for %d child columns", len(s.ColumnAliases), len(child.Columns)),
		}
	}
	q := quoting.DoubleQuote
	var sel strings.Builder
	sel.WriteString("__row_id, __action")
	for i, alias := range s.ColumnAliases {
		fmt.Fprintf(&sel, ", %s AS %s", q(child.Columns[i]), q(alias))
	}
	body := fmt.Sprintf("SELECT %s\nFROM %s", sel.String(), q(child.CTEName))
	name := ctx.AddCTE("subquery", body, false, false)
	return &diff.Result{CTEName: name, Columns: s.ColumnAliases, Deduplicated: child.Deduplicated}, nil
}
