package optree

import (
	"strings"
	"testing"
)

func newCustomersWithoutOrdersAntiJoin() *AntiJoin {
	customers := newScan(2, "c", "customers", []string{"id"}, "id", "name")
	orders := newScan(1, "o", "orders", []string{"id"}, "id", "customer_id")
	return &AntiJoin{
		Left:      customers,
		Right:     orders,
		On:        eqCond("c", "id", "o", "customer_id"),
		EquiKeys:  []EquiKey{{Left: "c__id", Right: "o__customer_id"}},
		AliasName: "co",
	}
}

func TestAntiJoinOutputColumnsAreLeftOnly(t *testing.T) {
	t.Parallel()
	a := newCustomersWithoutOrdersAntiJoin()
	got := a.OutputColumns()
	want := []string{"id", "name"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("OutputColumns() = %v, want %v", got, want)
	}
}

func TestAntiJoinDiffUsesNotExists(t *testing.T) {
	t.Parallel()
	ctx := newTestDiffContext()
	a := newCustomersWithoutOrdersAntiJoin()
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
	if !strings.Contains(body, "NOT EXISTS") {
		t.Errorf("AntiJoin body should filter with NOT EXISTS, got:\n%s", body)
	}
}

func TestAntiJoinDiffRestoresInsideSemiJoin(t *testing.T) {
	t.Parallel()
	ctx := newTestDiffContext()
	a := newCustomersWithoutOrdersAntiJoin()
	if _, err := a.Diff(ctx); err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	if ctx.InsideSemiJoin {
		t.Fatal("InsideSemiJoin must be restored to false after Diff returns")
	}
}
