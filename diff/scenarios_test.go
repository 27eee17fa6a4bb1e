// Scenarios S1-S6 from SPEC_FULL.md §8, asserting the shape of the
// generated SQL. When PGDIFF_TEST_DATABASE_URL is set, the verify package
// additionally executes these programs against a real PostgreSQL instance
// and checks the resulting delta multiset; here, without a live database,
// each scenario only checks that the differentiation core emits the SQL
// constructs its correctness proof depends on.
package diff_test

import (
	"strings"
	"testing"

	"github.com/flowdelta/pgdiff/diff"
	"github.com/flowdelta/pgdiff/expr"
	"github.com/flowdelta/pgdiff/frontier"
	"github.com/flowdelta/pgdiff/optree"
)

func newScenarioContext() *diff.Context {
	return diff.NewContext(
		frontier.Frontier{1: {LSN: "0/100", Timestamp: "t0"}, 2: {LSN: "0/100", Timestamp: "t0"}},
		frontier.Frontier{1: {LSN: "0/200", Timestamp: "t1"}, 2: {LSN: "0/200", Timestamp: "t1"}},
	)
}

func scanCol(oid uint32, alias, table string, pk []string, cols ...string) *optree.Scan {
	columns := make([]optree.Column, len(cols))
	for i, c := range cols {
		columns[i] = optree.Column{Name: c}
	}
	return &optree.Scan{
		OID:                 oid,
		SchemaQualifiedName: `"public"."` + table + `"`,
		Columns:             columns,
		PrimaryKey:          pk,
		AliasName:           alias,
	}
}

// S1: scan+filter. SELECT id, amount FROM orders WHERE amount > 15.
func TestScenarioS1ScanFilter(t *testing.T) {
	t.Parallel()
	ctx := newScenarioContext()
	root := &optree.Filter{
		Child: scanCol(1, "o", "orders", []string{"id"}, "id", "amount"),
		Predicate: &expr.BinaryOp{
			Op:    ">",
			Left:  &expr.ColumnRef{Column: "amount"},
			Right: &expr.Literal{Value: int64(15)},
		},
		AliasName: "f",
	}
	program, err := optree.Differentiate(ctx, root)
	if err != nil {
		t.Fatalf("Differentiate() error = %v", err)
	}
	if !strings.Contains(program, `"amount" > 15`) {
		t.Errorf("expected the filter predicate in generated SQL, got:\n%s", program)
	}
	if !strings.Contains(program, "changes_1") {
		t.Errorf("expected a reference to orders' change buffer, got:\n%s", program)
	}
}

// S2: aggregate with an update within a group. SELECT region, SUM(amount)
// FROM orders GROUP BY region.
func TestScenarioS2AggregateUpdateWithinGroup(t *testing.T) {
	t.Parallel()
	ctx := newScenarioContext()
	ctx.STQualifiedName = `"pgdiff"."st_region_totals"`
	root := &optree.Aggregate{
		GroupBy:        []expr.Expr{&expr.ColumnRef{Column: "region"}},
		GroupByAliases: []string{"region"},
		Aggs: []expr.AggExpr{
			{Kind: expr.Sum, Arg: &expr.ColumnRef{Column: "amount"}, Alias: "total"},
		},
		Child:     scanCol(1, "o", "orders", []string{"id"}, "id", "region", "amount"),
		AliasName: "agg",
	}
	program, err := optree.Differentiate(ctx, root)
	if err != nil {
		t.Fatalf("Differentiate() error = %v", err)
	}
	if !strings.Contains(program, "__ins_total") || !strings.Contains(program, "__del_total") {
		t.Errorf("expected algebraic ins/del tracking for the SUM aggregate, got:\n%s", program)
	}
	if !strings.Contains(program, `"pgdiff"."st_region_totals"`) {
		t.Errorf("expected the merge to join against the configured stream table, got:\n%s", program)
	}
}

// S3: inner join, both sides change.
func TestScenarioS3InnerJoinBothSidesChange(t *testing.T) {
	t.Parallel()
	ctx := newScenarioContext()
	root := &optree.InnerJoin{
		Left:  scanCol(1, "o", "orders", []string{"id"}, "id", "cid"),
		Right: scanCol(2, "c", "customers", []string{"id"}, "id", "name"),
		On: &expr.BinaryOp{
			Op:    "=",
			Left:  &expr.ColumnRef{Qualifier: "o", Column: "cid"},
			Right: &expr.ColumnRef{Qualifier: "c", Column: "id"},
		},
		EquiKeys:  []optree.EquiKey{{Left: "cid", Right: "id"}},
		AliasName: "oc",
	}
	program, err := optree.Differentiate(ctx, root)
	if err != nil {
		t.Fatalf("Differentiate() error = %v", err)
	}
	if !strings.Contains(program, "changes_1") || !strings.Contains(program, "changes_2") {
		t.Errorf("expected both sources' change buffers to be referenced, got:\n%s", program)
	}
}

// S4: left join, right-side last match removed.
func TestScenarioS4LeftJoinLastMatchRemoved(t *testing.T) {
	t.Parallel()
	ctx := newScenarioContext()
	root := &optree.LeftJoin{
		Left:  scanCol(1, "l", "l", []string{"id"}, "id"),
		Right: scanCol(2, "r", "r", []string{"id"}, "id", "lid"),
		On: &expr.BinaryOp{
			Op:    "=",
			Left:  &expr.ColumnRef{Qualifier: "r", Column: "lid"},
			Right: &expr.ColumnRef{Qualifier: "l", Column: "id"},
		},
		EquiKeys:  []optree.EquiKey{{Left: "id", Right: "lid"}},
		AliasName: "lr",
	}
	program, err := optree.Differentiate(ctx, root)
	if err != nil {
		t.Fatalf("Differentiate() error = %v", err)
	}
	if !strings.Contains(program, "UNION ALL") {
		t.Errorf("expected a LEFT JOIN's unmatched-row transitions to union multiple parts, got:\n%s", program)
	}
}

// S5: semi-join status flip. SELECT id FROM l WHERE EXISTS (SELECT 1 FROM r
// WHERE r.k = l.k).
func TestScenarioS5SemiJoinStatusFlip(t *testing.T) {
	t.Parallel()
	ctx := newScenarioContext()
	root := &optree.SemiJoin{
		Left:  scanCol(1, "l", "l", []string{"id"}, "id", "k"),
		Right: scanCol(2, "r", "r", []string{"k"}, "k"),
		On: &expr.BinaryOp{
			Op:    "=",
			Left:  &expr.ColumnRef{Qualifier: "r", Column: "k"},
			Right: &expr.ColumnRef{Qualifier: "l", Column: "k"},
		},
		EquiKeys:  []optree.EquiKey{{Left: "k", Right: "k"}},
		AliasName: "sl",
	}
	program, err := optree.Differentiate(ctx, root)
	if err != nil {
		t.Fatalf("Differentiate() error = %v", err)
	}
	if !strings.Contains(program, "EXISTS") {
		t.Errorf("expected an EXISTS-based existence check, got:\n%s", program)
	}
}

// S6: scalar subquery change broadcasts. SELECT id, amount, (SELECT rate
// FROM t) AS r FROM o.
func TestScenarioS6ScalarSubqueryBroadcast(t *testing.T) {
	t.Parallel()
	ctx := newScenarioContext()
	root := &optree.ScalarSubquery{
		Outer:         scanCol(1, "o", "orders", []string{"id"}, "id", "amount"),
		SubquerySQL:   `SELECT rate FROM "public"."t" t`,
		OuterAliasRef: "o",
		ScalarAlias:   "r",
		AliasName:     "os",
	}
	program, err := optree.Differentiate(ctx, root)
	if err != nil {
		t.Fatalf("Differentiate() error = %v", err)
	}
	if !strings.Contains(program, "__scalar_old IS DISTINCT FROM __scalar_new") {
		t.Errorf("expected the broadcast pass to gate on a value-change check, got:\n%s", program)
	}
}
