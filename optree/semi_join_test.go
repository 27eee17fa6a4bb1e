package optree

import (
	"strings"
	"testing"
)

func newCustomersWithOrdersSemiJoin() *SemiJoin {
	customers := newScan(2, "c", "customers", []string{"id"}, "id", "name")
	orders := newScan(1, "o", "orders", []string{"id"}, "id", "customer_id")
	return &SemiJoin{
		Left:      customers,
		Right:     orders,
		On:        eqCond("c", "id", "o", "customer_id"),
		EquiKeys:  []EquiKey{{Left: "c__id", Right: "o__customer_id"}},
		AliasName: "co",
	}
}

func TestSemiJoinOutputColumnsAreLeftOnly(t *testing.T) {
	t.Parallel()
	s := newCustomersWithOrdersSemiJoin()
	got := s.OutputColumns()
	want := []string{"id", "name"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("OutputColumns() = %v, want %v", got, want)
	}
}

func TestSemiJoinDiffSetsInsideSemiJoinWhileDifferentiatingRight(t *testing.T) {
	t.Parallel()
	ctx := newTestDiffContext()
	s := newCustomersWithOrdersSemiJoin()
	if ctx.InsideSemiJoin {
		t.Fatal("InsideSemiJoin should start false")
	}
	if _, err := s.Diff(ctx); err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	if ctx.InsideSemiJoin {
		t.Fatal("InsideSemiJoin must be restored to false after Diff returns")
	}
}

func TestSemiJoinDiffMaterializesROld(t *testing.T) {
	t.Parallel()
	ctx := newTestDiffContext()
	s := newCustomersWithOrdersSemiJoin()
	if _, err := s.Diff(ctx); err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	found := false
	for _, cte := range ctx.CTEs() {
		if strings.HasPrefix(cte.Name, "r_old_") && cte.Materialized {
			found = true
		}
	}
	if !found {
		t.Error("expected a materialized r_old CTE")
	}
}

func TestSemiJoinDiffIsTwoPartUnion(t *testing.T) {
	t.Parallel()
	ctx := newTestDiffContext()
	s := newCustomersWithOrdersSemiJoin()
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
	if got, want := strings.Count(body, "UNION ALL"), 2; got != want {
		t.Errorf("SemiJoin body should union the left-delta part with the two existence-flip transitions, got %d:\n%s", got, body)
	}
}
