// Package expr models the scalar expression tree referenced by Filter,
// Project, and Aggregate nodes: a small tagged-variant tree with a single
// deparse target (PostgreSQL) and a column-requalification pass used by
// the disambiguation rules in package optree.
package expr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/flowdelta/pgdiff/internal/quoting"
)

// Expr is any scalar expression node. Every variant below implements it.
type Expr interface {
	// ToSQL deparses the expression as PostgreSQL text.
	ToSQL() string
	// StripQualifier returns a copy of the expression with any leading
	// table-alias qualifier removed from every ColumnRef it contains.
	StripQualifier() Expr
}

// ColumnRef is a (possibly qualified) reference to a column produced by an
// upstream CTE or source table.
type ColumnRef struct {
	Qualifier string // table/CTE alias; empty for an unqualified reference
	Column    string
}

func (c *ColumnRef) ToSQL() string {
	if c.Qualifier == "" {
		return quoting.DoubleQuote(c.Column)
	}
	return quoting.DoubleQuote(c.Qualifier) + "." + quoting.DoubleQuote(c.Column)
}

func (c *ColumnRef) StripQualifier() Expr {
	return &ColumnRef{Column: c.Column}
}

// BinaryOp applies an infix operator token (as it appears in SQL, e.g. "=",
// "AND", "||") between two operands.
type BinaryOp struct {
	Op          string
	Left, Right Expr
}

func (b *BinaryOp) ToSQL() string {
	return "(" + b.Left.ToSQL() + " " + b.Op + " " + b.Right.ToSQL() + ")"
}

func (b *BinaryOp) StripQualifier() Expr {
	return &BinaryOp{Op: b.Op, Left: b.Left.StripQualifier(), Right: b.Right.StripQualifier()}
}

// FuncCall is a scalar (non-aggregate) function call.
type FuncCall struct {
	Name string
	Args []Expr
}

func (f *FuncCall) ToSQL() string {
	args := make([]string, len(f.Args))
	for i, a := range f.Args {
		args[i] = a.ToSQL()
	}
	return f.Name + "(" + strings.Join(args, ", ") + ")"
}

func (f *FuncCall) StripQualifier() Expr {
	args := make([]Expr, len(f.Args))
	for i, a := range f.Args {
		args[i] = a.StripQualifier()
	}
	return &FuncCall{Name: f.Name, Args: args}
}

// Literal is a typed constant. Value is one of nil, string, bool, int64, int,
// or float64; any other type is an internal invariant violation and panics,
// matching the teacher's literalToSQL behavior for unsupported types.
type Literal struct {
	Value any
}

func (l *Literal) ToSQL() string {
	switch v := l.Value.(type) {
	case nil:
		return "NULL"
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case string:
		return "'" + quoting.EscapeString(v) + "'"
	default:
		panic(fmt.Sprintf("expr: unsupported literal type %T", v))
	}
}

func (l *Literal) StripQualifier() Expr { return l }

// Raw holds opaque SQL text for constructs too complex to model structurally
// (arbitrary CASE expressions, casts with type modifiers, vendor functions).
// Column substitution against it is best-effort: see SubstituteRawColumns.
type Raw struct {
	SQL string
}

func (r *Raw) ToSQL() string { return r.SQL }

func (r *Raw) StripQualifier() Expr { return r }

// Star is an unqualified or qualified "*" projection item.
type Star struct {
	Qualifier string
}

func (s *Star) ToSQL() string {
	if s.Qualifier == "" {
		return "*"
	}
	return quoting.DoubleQuote(s.Qualifier) + ".*"
}

func (s *Star) StripQualifier() Expr { return &Star{} }
