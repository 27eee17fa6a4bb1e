package optree

import (
	"fmt"

	"github.com/flowdelta/pgdiff/diff"
	"github.com/flowdelta/pgdiff/internal/quoting"
)

// Snapshotter is implemented by node kinds whose current full row set can
// be reconstructed as a plain SELECT, independent of any delta. The join
// family uses this to obtain L1/R1 (the post-change snapshot each side's
// delta is joined against) and, via EXCEPT ALL against the delta, L0/R0.
// This generalizes the FROM-clause reconstruction §4.4 describes for the
// aggregate rescan path to every operator that can sensibly support it;
// see DESIGN.md for the corresponding Open Question resolution.
type Snapshotter interface {
	// Snapshot returns a bare SELECT (no WITH, no trailing semicolon)
	// producing this subtree's current row set, with one output column
	// per OutputColumns() entry, in that order, unaliased in the select
	// list (callers wrap and alias as needed).
	Snapshot(ctx *diff.Context) (string, error)
}

func (s *Scan) Snapshot(ctx *diff.Context) (string, error) {
	q := quoting.DoubleQuote
	cols := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		cols[i] = q(c.Name)
	}
	list := cols[0]
	for _, c := range cols[1:] {
		list += ", " + c
	}
	return fmt.Sprintf("SELECT %s FROM %s", list, s.SchemaQualifiedName), nil
}

func (f *Filter) Snapshot(ctx *diff.Context) (string, error) {
	snap, ok := f.Child.(Snapshotter)
	if !ok {
		return "", &diff.UnsupportedOperatorError{NodeKind: f.Kind(), Reason: "child does not support snapshot reconstruction"}
	}
	childSQL, err := snap.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	resolved, err := resolveExpr(f.Predicate, f.Child.OutputColumns())
	if err != nil {
		return "", fmt.Errorf("Filter snapshot: %w", err)
	}
	return fmt.Sprintf("SELECT * FROM (%s) AS t WHERE %s", childSQL, resolved.ToSQL()), nil
}

func (p *Project) Snapshot(ctx *diff.Context) (string, error) {
	snap, ok := p.Child.(Snapshotter)
	if !ok {
		return "", &diff.UnsupportedOperatorError{NodeKind: p.Kind(), Reason: "child does not support snapshot reconstruction"}
	}
	childSQL, err := snap.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	q := quoting.DoubleQuote
	list := ""
	for i, it := range p.Items {
		resolved, err := resolveExpr(it.Expr, p.Child.OutputColumns())
		if err != nil {
			return "", fmt.Errorf("Project snapshot: %w", err)
		}
		if i > 0 {
			list += ", "
		}
		list += resolved.ToSQL() + " AS " + q(it.Alias)
	}
	return fmt.Sprintf("SELECT %s FROM (%s) AS t", list, childSQL), nil
}

// Snapshot on InnerJoin supports recursive-term self-joins (§4.7) and any
// other caller needing a join's current full row set rather than its delta.
func (j *InnerJoin) Snapshot(ctx *diff.Context) (string, error) {
	leftSnap, ok := j.Left.(Snapshotter)
	if !ok {
		return "", &diff.UnsupportedOperatorError{NodeKind: j.Kind(), Reason: "left child does not support snapshot reconstruction"}
	}
	rightSnap, ok := j.Right.(Snapshotter)
	if !ok {
		return "", &diff.UnsupportedOperatorError{NodeKind: j.Kind(), Reason: "right child does not support snapshot reconstruction"}
	}
	leftSQL, err := leftSnap.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	rightSQL, err := rightSnap.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	leftAliased := aliasSnapshotCombined(leftSQL, j.Left, j.Left.Alias())
	rightAliased := aliasSnapshotCombined(rightSQL, j.Right, j.Right.Alias())
	resolvedCond, err := resolveJoinCondition(j.On, j.Left, j.Right)
	if err != nil {
		return "", fmt.Errorf("InnerJoin snapshot: %w", err)
	}
	return fmt.Sprintf("SELECT * FROM (%s) AS l JOIN (%s) AS r ON %s", leftAliased, rightAliased, resolvedCond.ToSQL()), nil
}

func (s *Subquery) Snapshot(ctx *diff.Context) (string, error) {
	snap, ok := s.Child.(Snapshotter)
	if !ok {
		return "", &diff.UnsupportedOperatorError{NodeKind: s.Kind(), Reason: "child does not support snapshot reconstruction"}
	}
	childSQL, err := snap.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	if len(s.ColumnAliases) == 0 {
		return childSQL, nil
	}
	q := quoting.DoubleQuote
	list := ""
	for i, alias := range s.ColumnAliases {
		if i > 0 {
			list += ", "
		}
		list += q(s.Child.OutputColumns()[i]) + " AS " + q(alias)
	}
	return fmt.Sprintf("SELECT %s FROM (%s) AS t", list, childSQL), nil
}
