package optree

import (
	"strings"
	"testing"

	"github.com/flowdelta/pgdiff/expr"
)

func newOrdersWithItemsLateral() *LateralFunction {
	orders := newScan(1, "o", "orders", []string{"id"}, "id", "items")
	return &LateralFunction{
		Outer:       orders,
		FuncName:    "jsonb_array_elements",
		Args:        []expr.Expr{&expr.ColumnRef{Column: "items"}},
		OutputAlias: []string{"item"},
		AliasName:   "oi",
	}
}

func TestLateralFunctionOutputColumnsAppendSRFAlias(t *testing.T) {
	t.Parallel()
	l := newOrdersWithItemsLateral()
	got := l.OutputColumns()
	want := []string{"id", "items", "item"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("OutputColumns()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLateralFunctionDiffJoinsLateralSRF(t *testing.T) {
	t.Parallel()
	ctx := newTestDiffContext()
	l := newOrdersWithItemsLateral()
	result, err := l.Diff(ctx)
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	var body string
	for _, cte := range ctx.CTEs() {
		if cte.Name == result.CTEName {
			body = cte.Body
		}
	}
	if !strings.Contains(body, "LATERAL jsonb_array_elements") {
		t.Errorf("expected a LATERAL jsonb_array_elements call, got:\n%s", body)
	}
}

func newOrdersWithLatestReturnScalarSubquery() *ScalarSubquery {
	orders := newScan(1, "o", "orders", []string{"id"}, "id", "customer_id")
	return &ScalarSubquery{
		Outer:         orders,
		SubquerySQL:   `SELECT MAX(r.created_at) FROM "public"."returns" r WHERE r.order_id = o.id`,
		OuterAliasRef: "o",
		ScalarAlias:   "latest_return",
		AliasName:     "os",
	}
}

func TestScalarSubqueryOutputColumnsAppendScalarAlias(t *testing.T) {
	t.Parallel()
	s := newOrdersWithLatestReturnScalarSubquery()
	got := s.OutputColumns()
	want := []string{"id", "customer_id", "latest_return"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("OutputColumns()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestScalarSubqueryDiffBroadcastsOnlyWhenValueChanges(t *testing.T) {
	t.Parallel()
	ctx := newTestDiffContext()
	s := newOrdersWithLatestReturnScalarSubquery()
	result, err := s.Diff(ctx)
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	var body string
	for _, cte := range ctx.CTEs() {
		if cte.Name == result.CTEName {
			body = cte.Body
		}
	}
	if !strings.Contains(body, "__scalar_old IS DISTINCT FROM __scalar_new") {
		t.Errorf("ScalarSubquery should gate the broadcast union on a change check, got:\n%s", body)
	}
}
