package optree

import (
	"strings"
	"testing"

	"github.com/flowdelta/pgdiff/expr"
)

func newOrdersByCustomerCountSum() *Aggregate {
	child := newScan(1, "o", "orders", []string{"id"}, "id", "customer_id", "total")
	return &Aggregate{
		GroupBy:        []expr.Expr{&expr.ColumnRef{Column: "customer_id"}},
		GroupByAliases: []string{"customer_id"},
		Aggs: []expr.AggExpr{
			{Kind: expr.CountStar, Alias: "order_count"},
			{Kind: expr.Sum, Arg: &expr.ColumnRef{Column: "total"}, Alias: "total_sum"},
		},
		Child:     child,
		AliasName: "agg",
	}
}

func TestAggregateOutputColumnsGroupKeysThenAggs(t *testing.T) {
	t.Parallel()
	a := newOrdersByCustomerCountSum()
	got := a.OutputColumns()
	want := []string{"customer_id", "order_count", "total_sum"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("OutputColumns()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestAggregateNoAggsIsQueryShapeError(t *testing.T) {
	t.Parallel()
	ctx := newTestDiffContext()
	child := newScan(1, "o", "orders", []string{"id"}, "id", "customer_id")
	a := &Aggregate{
		GroupBy:        []expr.Expr{&expr.ColumnRef{Column: "customer_id"}},
		GroupByAliases: []string{"customer_id"},
		Child:          child,
		AliasName:      "agg",
	}
	if _, err := a.Diff(ctx); err == nil {
		t.Fatal("expected an error for an aggregate with no aggregate expressions")
	}
}

func TestAggregateAlgebraicPathUsesConditionalSums(t *testing.T) {
	t.Parallel()
	ctx := newTestDiffContext()
	a := newOrdersByCustomerCountSum()
	result, err := a.Diff(ctx)
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	if !result.Deduplicated {
		t.Error("Aggregate result must be marked Deduplicated")
	}
	var sawIns, sawDel bool
	for _, cte := range ctx.CTEs() {
		if strings.Contains(cte.Body, "__ins_count") {
			sawIns = true
		}
		if strings.Contains(cte.Body, "__del_count") {
			sawDel = true
		}
	}
	if !sawIns || !sawDel {
		t.Errorf("expected __ins_count and __del_count in the algebraic delta CTE, sawIns=%v sawDel=%v", sawIns, sawDel)
	}
}

func TestAggregateAlgebraicFinalBodyUnionsDeleteAndInsert(t *testing.T) {
	t.Parallel()
	ctx := newTestDiffContext()
	a := newOrdersByCustomerCountSum()
	result, err := a.Diff(ctx)
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	var body string
	for _, cte := range ctx.CTEs() {
		if cte.Name == result.CTEName {
			body = cte.Body
		}
	}
	if !strings.Contains(body, "'D' AS __action") || !strings.Contains(body, "'I' AS __action") {
		t.Errorf("Aggregate final body should emit both D and I events, got:\n%s", body)
	}
	if !strings.Contains(body, "UNION ALL") {
		t.Error("Aggregate final body should union deletes with inserts")
	}
}

func newRevenueByRegionMinMax(kind expr.AggKind) *Aggregate {
	child := newScan(1, "o", "orders", []string{"id"}, "id", "region", "total")
	return &Aggregate{
		GroupBy:        []expr.Expr{&expr.ColumnRef{Column: "region"}},
		GroupByAliases: []string{"region"},
		Aggs: []expr.AggExpr{
			{Kind: kind, Arg: &expr.ColumnRef{Column: "total"}, Alias: "extreme_total"},
		},
		Child:     child,
		AliasName: "agg",
	}
}

func TestAggregateSemiAlgebraicPathUsesMinMaxTracking(t *testing.T) {
	t.Parallel()
	ctx := newTestDiffContext()
	a := newRevenueByRegionMinMax(expr.Max)
	result, err := a.Diff(ctx)
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	var sawGreatest bool
	for _, cte := range ctx.CTEs() {
		if strings.Contains(cte.Body, "GREATEST(") {
			sawGreatest = true
		}
	}
	if !sawGreatest {
		t.Error("MAX aggregate should merge via GREATEST() somewhere in the registered CTEs")
	}
	if !result.Deduplicated {
		t.Error("Aggregate result must be marked Deduplicated")
	}
}

func TestAggregateSemiAlgebraicMinUsesLeast(t *testing.T) {
	t.Parallel()
	ctx := newTestDiffContext()
	a := newRevenueByRegionMinMax(expr.Min)
	if _, err := a.Diff(ctx); err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	var sawLeast bool
	for _, cte := range ctx.CTEs() {
		if strings.Contains(cte.Body, "LEAST(") {
			sawLeast = true
		}
	}
	if !sawLeast {
		t.Error("MIN aggregate should merge via LEAST() somewhere in the registered CTEs")
	}
}

func TestAggregateGroupRescanPathReexecutesAggregate(t *testing.T) {
	t.Parallel()
	ctx := newTestDiffContext()
	child := newScan(1, "o", "orders", []string{"id"}, "id", "region", "payload")
	a := &Aggregate{
		GroupBy:        []expr.Expr{&expr.ColumnRef{Column: "region"}},
		GroupByAliases: []string{"region"},
		Aggs: []expr.AggExpr{
			{Kind: expr.ArrayAgg, Arg: &expr.ColumnRef{Column: "payload"}, Alias: "payloads"},
		},
		Child:     child,
		AliasName: "agg",
	}
	result, err := a.Diff(ctx)
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	var sawArrayAgg bool
	for _, cte := range ctx.CTEs() {
		if strings.Contains(cte.Body, "ARRAY_AGG(") {
			sawArrayAgg = true
		}
	}
	if !sawArrayAgg {
		t.Error("group-rescan path should re-execute ARRAY_AGG directly against source rows")
	}
	if result.Columns[len(result.Columns)-1] != "payloads" {
		t.Errorf("Columns = %v, want last column payloads", result.Columns)
	}
}

func TestAggregateScalarIsScalarTrue(t *testing.T) {
	t.Parallel()
	child := newScan(1, "o", "orders", []string{"id"}, "id", "total")
	a := &Aggregate{
		Aggs: []expr.AggExpr{
			{Kind: expr.CountStar, Alias: "order_count"},
		},
		Child:     child,
		AliasName: "agg",
	}
	if !a.isScalar() {
		t.Error("an Aggregate with no GroupBy should be scalar")
	}
}

func TestAggregateIntermediateWhenOutputNotPersisted(t *testing.T) {
	t.Parallel()
	ctx := newTestDiffContext()
	ctx.STQualifiedName = `"pgdiff"."st_customer_totals"`
	ctx.STUserColumns = []string{"customer_id"}
	a := newOrdersByCustomerCountSum()
	result, err := a.Diff(ctx)
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	if !result.Deduplicated {
		t.Error("Aggregate result must be marked Deduplicated")
	}
	var sawIntermediate bool
	for _, cte := range ctx.CTEs() {
		if strings.Contains(cte.Name, "agg_intermediate") {
			sawIntermediate = true
		}
	}
	if !sawIntermediate {
		t.Error("expected the intermediate-aggregate path to register an agg_intermediate CTE when output columns aren't persisted")
	}
}
