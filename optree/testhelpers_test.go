package optree

import (
	"github.com/flowdelta/pgdiff/diff"
	"github.com/flowdelta/pgdiff/expr"
	"github.com/flowdelta/pgdiff/frontier"
)

func newScan(oid uint32, alias, table string, pk []string, cols ...string) *Scan {
	columns := make([]Column, len(cols))
	for i, c := range cols {
		columns[i] = Column{Name: c}
	}
	return &Scan{
		OID:                 oid,
		SchemaQualifiedName: `"public"."` + table + `"`,
		Columns:             columns,
		PrimaryKey:          pk,
		AliasName:           alias,
	}
}

func newTestDiffContext() *diff.Context {
	return diff.NewContext(
		frontier.Frontier{1: {LSN: "0/100", Timestamp: "t0"}, 2: {LSN: "0/100", Timestamp: "t0"}},
		frontier.Frontier{1: {LSN: "0/200", Timestamp: "t1"}, 2: {LSN: "0/200", Timestamp: "t1"}},
	)
}

// eqCond builds "leftAlias.leftCol = rightAlias.rightCol" as the combined
// (disambiguated) expr.Expr a join node expects in On.
func eqCond(leftAlias, leftCol, rightAlias, rightCol string) expr.Expr {
	return &expr.BinaryOp{
		Op:   "=",
		Left: &expr.ColumnRef{Qualifier: leftAlias, Column: leftCol},
		Right: &expr.ColumnRef{
			Qualifier: rightAlias,
			Column:    rightCol,
		},
	}
}
