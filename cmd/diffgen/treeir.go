// JSON decoding for operator trees and frontier pairs loaded by the `load`
// command: a tagged-variant mirror of the optree/expr node types, since
// neither package carries its own JSON tags (the core has no reason to
// depend on encoding/json; only this interactive front-end does).
package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/flowdelta/pgdiff/expr"
	"github.com/flowdelta/pgdiff/frontier"
	"github.com/flowdelta/pgdiff/optree"
)

// sessionDoc is the top-level shape accepted by `load <file>`: an operator
// tree plus the frontier pair it should be differentiated against.
type sessionDoc struct {
	Tree   treeIR    `json:"tree"`
	Prev   frontier.Frontier `json:"prev"`
	Next   frontier.Frontier `json:"next"`
}

type columnIR struct {
	Name     string `json:"name"`
	Nullable bool   `json:"nullable,omitempty"`
}

type equiKeyIR struct {
	Left  string `json:"left"`
	Right string `json:"right"`
}

type projItemIR struct {
	Expr  exprIR `json:"expr"`
	Alias string `json:"alias"`
}

type aggIR struct {
	Kind       string   `json:"kind"`
	Arg        *exprIR  `json:"arg,omitempty"`
	Arg2       *exprIR  `json:"arg2,omitempty"`
	Alias      string   `json:"alias"`
	IsDistinct bool     `json:"distinct,omitempty"`
	Filter     *exprIR  `json:"filter,omitempty"`
	Raw        string   `json:"raw,omitempty"`
}

// treeIR is a tagged union over every optree.Node kind this loader
// understands. Not every kind in the core is represented: Window, Lateral,
// RecursiveCte, CteScan, and AntiJoin trees are exercised by the optree
// package's own tests, not by this interactive loader — see DESIGN.md.
type treeIR struct {
	Kind string `json:"kind"`

	// Scan
	OID                 uint32     `json:"oid,omitempty"`
	SchemaQualifiedName string     `json:"table,omitempty"`
	Columns             []columnIR `json:"columns,omitempty"`
	PrimaryKey          []string   `json:"primary_key,omitempty"`

	Alias string `json:"alias,omitempty"`

	// Filter / Project / Subquery / Aggregate / Distinct
	Child *treeIR `json:"child,omitempty"`

	// Filter
	Predicate *exprIR `json:"predicate,omitempty"`

	// Project
	Items      []projItemIR `json:"items,omitempty"`
	RowIDExprs []exprIR     `json:"row_id_exprs,omitempty"`

	// Subquery
	ColumnAliases []string `json:"column_aliases,omitempty"`

	// Aggregate
	GroupBy        []exprIR `json:"group_by,omitempty"`
	GroupByAliases []string `json:"group_by_aliases,omitempty"`
	Aggs           []aggIR  `json:"aggs,omitempty"`

	// Joins (Inner/Left/Semi)
	Left     *treeIR     `json:"left,omitempty"`
	Right    *treeIR     `json:"right,omitempty"`
	On       *exprIR     `json:"on,omitempty"`
	EquiKeys []equiKeyIR `json:"equi_keys,omitempty"`

	// Set ops (Distinct/Intersect/Except/UnionAll)
	All bool `json:"all,omitempty"`

	// ScalarSubquery
	SubquerySQL   string `json:"subquery_sql,omitempty"`
	OuterAliasRef string `json:"outer_alias_ref,omitempty"`
	ScalarAlias   string `json:"scalar_alias,omitempty"`
}

type exprIR struct {
	Kind string `json:"kind"`

	// column
	Qualifier string `json:"qualifier,omitempty"`
	Column    string `json:"column,omitempty"`

	// binary
	Op          string  `json:"op,omitempty"`
	Left, Right *exprIR `json:"left,omitempty"`

	// func
	Name string   `json:"name,omitempty"`
	Args []exprIR `json:"args,omitempty"`

	// literal
	Value any `json:"value,omitempty"`

	// raw
	SQL string `json:"sql,omitempty"`
}

func decodeSessionDoc(data []byte) (*sessionDoc, error) {
	var doc sessionDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("diffgen: parse session document: %w", err)
	}
	return &doc, nil
}

func (e exprIR) build() (expr.Expr, error) {
	switch strings.ToLower(e.Kind) {
	case "column", "col":
		return &expr.ColumnRef{Qualifier: e.Qualifier, Column: e.Column}, nil
	case "binary", "binop":
		if e.Left == nil || e.Right == nil {
			return nil, fmt.Errorf("diffgen: binary expression %q missing left/right", e.Op)
		}
		left, err := e.Left.build()
		if err != nil {
			return nil, err
		}
		right, err := e.Right.build()
		if err != nil {
			return nil, err
		}
		return &expr.BinaryOp{Op: e.Op, Left: left, Right: right}, nil
	case "func", "call":
		args := make([]expr.Expr, len(e.Args))
		for i, a := range e.Args {
			built, err := a.build()
			if err != nil {
				return nil, err
			}
			args[i] = built
		}
		return &expr.FuncCall{Name: e.Name, Args: args}, nil
	case "literal", "lit":
		return &expr.Literal{Value: e.Value}, nil
	case "raw":
		return &expr.Raw{SQL: e.SQL}, nil
	case "star":
		return &expr.Star{Qualifier: e.Qualifier}, nil
	default:
		return nil, fmt.Errorf("diffgen: unknown expression kind %q", e.Kind)
	}
}

var aggKindByName = map[string]expr.AggKind{
	"count_star":           expr.CountStar,
	"count":                expr.Count,
	"sum":                  expr.Sum,
	"min":                  expr.Min,
	"max":                  expr.Max,
	"avg":                  expr.Avg,
	"bool_and":             expr.BoolAnd,
	"bool_or":              expr.BoolOr,
	"string_agg":           expr.StringAgg,
	"array_agg":            expr.ArrayAgg,
	"json_agg":             expr.JsonAgg,
	"jsonb_agg":            expr.JsonbAgg,
	"bit_and":              expr.BitAnd,
	"bit_or":               expr.BitOr,
	"bit_xor":              expr.BitXor,
	"json_object_agg":      expr.JsonObjectAgg,
	"jsonb_object_agg":     expr.JsonbObjectAgg,
	"json_object_agg_std":  expr.JsonObjectAggStd,
	"json_array_agg_std":   expr.JsonArrayAggStd,
	"stddev_pop":           expr.StddevPop,
	"stddev_samp":          expr.StddevSamp,
	"var_pop":              expr.VarPop,
	"var_samp":             expr.VarSamp,
	"mode":                 expr.Mode,
	"percentile_cont":      expr.PercentileCont,
	"percentile_disc":      expr.PercentileDisc,
	"complex_expression":   expr.ComplexExpression,
}

func (a aggIR) build() (expr.AggExpr, error) {
	kind, ok := aggKindByName[strings.ToLower(a.Kind)]
	if !ok {
		return expr.AggExpr{}, fmt.Errorf("diffgen: unknown aggregate kind %q", a.Kind)
	}
	out := expr.AggExpr{Kind: kind, Alias: a.Alias, IsDistinct: a.IsDistinct, Raw: a.Raw}
	if a.Arg != nil {
		built, err := a.Arg.build()
		if err != nil {
			return expr.AggExpr{}, err
		}
		out.Arg = built
	}
	if a.Arg2 != nil {
		built, err := a.Arg2.build()
		if err != nil {
			return expr.AggExpr{}, err
		}
		out.Arg2 = built
	}
	if a.Filter != nil {
		built, err := a.Filter.build()
		if err != nil {
			return expr.AggExpr{}, err
		}
		out.Filter = built
	}
	return out, nil
}

func (t treeIR) build() (optree.Node, error) {
	switch strings.ToLower(t.Kind) {
	case "scan":
		cols := make([]optree.Column, len(t.Columns))
		for i, c := range t.Columns {
			cols[i] = optree.Column{Name: c.Name, Nullable: c.Nullable}
		}
		return &optree.Scan{
			OID:                 t.OID,
			SchemaQualifiedName: t.SchemaQualifiedName,
			Columns:             cols,
			PrimaryKey:          t.PrimaryKey,
			AliasName:           t.Alias,
		}, nil

	case "filter":
		child, err := t.requireChild()
		if err != nil {
			return nil, err
		}
		if t.Predicate == nil {
			return nil, fmt.Errorf("diffgen: filter node missing predicate")
		}
		pred, err := t.Predicate.build()
		if err != nil {
			return nil, err
		}
		return &optree.Filter{Child: child, Predicate: pred, AliasName: t.Alias}, nil

	case "project":
		child, err := t.requireChild()
		if err != nil {
			return nil, err
		}
		items := make([]optree.ProjItem, len(t.Items))
		for i, it := range t.Items {
			built, err := it.Expr.build()
			if err != nil {
				return nil, err
			}
			items[i] = optree.ProjItem{Expr: built, Alias: it.Alias}
		}
		var rowIDExprs []expr.Expr
		for _, re := range t.RowIDExprs {
			built, err := re.build()
			if err != nil {
				return nil, err
			}
			rowIDExprs = append(rowIDExprs, built)
		}
		return &optree.Project{Items: items, Child: child, AliasName: t.Alias, RowIDExprs: rowIDExprs}, nil

	case "subquery":
		child, err := t.requireChild()
		if err != nil {
			return nil, err
		}
		return &optree.Subquery{Child: child, ColumnAliases: t.ColumnAliases, AliasName: t.Alias}, nil

	case "aggregate":
		child, err := t.requireChild()
		if err != nil {
			return nil, err
		}
		groupBy := make([]expr.Expr, len(t.GroupBy))
		for i, g := range t.GroupBy {
			built, err := g.build()
			if err != nil {
				return nil, err
			}
			groupBy[i] = built
		}
		aggs := make([]expr.AggExpr, len(t.Aggs))
		for i, a := range t.Aggs {
			built, err := a.build()
			if err != nil {
				return nil, err
			}
			aggs[i] = built
		}
		return &optree.Aggregate{
			GroupBy:        groupBy,
			GroupByAliases: t.GroupByAliases,
			Aggs:           aggs,
			Child:          child,
			AliasName:      t.Alias,
		}, nil

	case "distinct":
		child, err := t.requireChild()
		if err != nil {
			return nil, err
		}
		return &optree.Distinct{Child: child, AliasName: t.Alias}, nil

	case "innerjoin", "inner_join":
		left, right, on, equi, err := t.requireJoinParts()
		if err != nil {
			return nil, err
		}
		return &optree.InnerJoin{Left: left, Right: right, On: on, EquiKeys: equi, AliasName: t.Alias}, nil

	case "leftjoin", "left_join":
		left, right, on, equi, err := t.requireJoinParts()
		if err != nil {
			return nil, err
		}
		return &optree.LeftJoin{Left: left, Right: right, On: on, EquiKeys: equi, AliasName: t.Alias}, nil

	case "semijoin", "semi_join":
		left, right, on, equi, err := t.requireJoinParts()
		if err != nil {
			return nil, err
		}
		return &optree.SemiJoin{Left: left, Right: right, On: on, EquiKeys: equi, AliasName: t.Alias}, nil

	case "intersect":
		left, right, err := t.requireSetOpParts()
		if err != nil {
			return nil, err
		}
		return &optree.Intersect{Left: left, Right: right, All: t.All, AliasName: t.Alias}, nil

	case "except":
		left, right, err := t.requireSetOpParts()
		if err != nil {
			return nil, err
		}
		return &optree.Except{Left: left, Right: right, All: t.All, AliasName: t.Alias}, nil

	case "unionall", "union_all":
		left, right, err := t.requireSetOpParts()
		if err != nil {
			return nil, err
		}
		return &optree.UnionAll{Left: left, Right: right, AliasName: t.Alias}, nil

	case "scalarsubquery", "scalar_subquery":
		child, err := t.requireChild()
		if err != nil {
			return nil, err
		}
		if t.SubquerySQL == "" {
			return nil, fmt.Errorf("diffgen: scalar subquery node missing subquery_sql")
		}
		return &optree.ScalarSubquery{
			Outer:         child,
			SubquerySQL:   t.SubquerySQL,
			OuterAliasRef: t.OuterAliasRef,
			ScalarAlias:   t.ScalarAlias,
			AliasName:     t.Alias,
		}, nil

	default:
		return nil, fmt.Errorf("diffgen: unknown or unsupported node kind %q", t.Kind)
	}
}

func (t treeIR) requireChild() (optree.Node, error) {
	if t.Child == nil {
		return nil, fmt.Errorf("diffgen: %s node missing child", t.Kind)
	}
	return t.Child.build()
}

func (t treeIR) requireJoinParts() (left, right optree.Node, on expr.Expr, equi []optree.EquiKey, err error) {
	if t.Left == nil || t.Right == nil {
		return nil, nil, nil, nil, fmt.Errorf("diffgen: %s node missing left/right", t.Kind)
	}
	left, err = t.Left.build()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	right, err = t.Right.build()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if t.On != nil {
		on, err = t.On.build()
		if err != nil {
			return nil, nil, nil, nil, err
		}
	}
	equi = make([]optree.EquiKey, len(t.EquiKeys))
	for i, k := range t.EquiKeys {
		equi[i] = optree.EquiKey{Left: k.Left, Right: k.Right}
	}
	return left, right, on, equi, nil
}

func (t treeIR) requireSetOpParts() (left, right optree.Node, err error) {
	if t.Left == nil || t.Right == nil {
		return nil, nil, fmt.Errorf("diffgen: %s node missing left/right", t.Kind)
	}
	left, err = t.Left.build()
	if err != nil {
		return nil, err
	}
	right, err = t.Right.build()
	if err != nil {
		return nil, err
	}
	return left, right, nil
}
