package optree

import (
	"strings"
	"testing"
)

func newOrdersCustomersJoin() *InnerJoin {
	orders := newScan(1, "o", "orders", []string{"id"}, "id", "customer_id", "total")
	customers := newScan(2, "c", "customers", []string{"id"}, "id", "name")
	return &InnerJoin{
		Left:      orders,
		Right:     customers,
		On:        eqCond("o", "customer_id", "c", "id"),
		EquiKeys:  []EquiKey{{Left: "o__customer_id", Right: "c__id"}},
		AliasName: "oc",
	}
}

func TestInnerJoinOutputColumnsAreDisambiguated(t *testing.T) {
	t.Parallel()
	j := newOrdersCustomersJoin()
	got := j.OutputColumns()
	want := []string{"o__id", "o__customer_id", "o__total", "c__id", "c__name"}
	if len(got) != len(want) {
		t.Fatalf("OutputColumns() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("OutputColumns()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestInnerJoinSourceOIDsDeduped(t *testing.T) {
	t.Parallel()
	j := newOrdersCustomersJoin()
	oids := j.SourceOIDs()
	if len(oids) != 2 || oids[0] != 1 || oids[1] != 2 {
		t.Errorf("SourceOIDs() = %v, want [1 2]", oids)
	}
}

func TestInnerJoinDiffProducesTwoPartUnion(t *testing.T) {
	t.Parallel()
	ctx := newTestDiffContext()
	j := newOrdersCustomersJoin()
	result, err := j.Diff(ctx)
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	var body string
	for _, cte := range ctx.CTEs() {
		if cte.Name == result.CTEName {
			body = cte.Body
		}
	}
	if body == "" {
		t.Fatalf("root CTE %q not found in registry", result.CTEName)
	}
	// Count only the separators between top-level parts: the inline L0
	// reconstruction in part 2 carries its own "UNION ALL\n(".
	if strings.Count(body, "\nUNION ALL\nSELECT ") != 1 {
		t.Errorf("InnerJoin body should be a 2-part UNION ALL, got:\n%s", body)
	}
	if !strings.Contains(body, `"o__customer_id" = "c__id"`) {
		t.Errorf("InnerJoin body should reference the resolved join condition, got:\n%s", body)
	}
}

func TestInnerJoinDiffEmitsSemiJoinPrefilterWhenEquiKeysPresent(t *testing.T) {
	t.Parallel()
	ctx := newTestDiffContext()
	j := newOrdersCustomersJoin()
	result, err := j.Diff(ctx)
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	var body string
	for _, cte := range ctx.CTEs() {
		if cte.Name == result.CTEName {
			body = cte.Body
		}
	}
	if !strings.Contains(body, "IN (SELECT DISTINCT") {
		t.Errorf("expected semi-join pre-filter in body, got:\n%s", body)
	}
}

func TestInnerJoinDiffWithoutEquiKeysSkipsPrefilter(t *testing.T) {
	t.Parallel()
	ctx := newTestDiffContext()
	j := newOrdersCustomersJoin()
	j.EquiKeys = nil
	_, err := j.Diff(ctx)
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	for _, cte := range ctx.CTEs() {
		if strings.Contains(cte.Body, "IN (SELECT DISTINCT") {
			t.Errorf("did not expect a semi-join pre-filter with no equi-keys, found in %q", cte.Name)
		}
	}
}

func TestInnerJoinUnresolvableConditionIsQueryShapeError(t *testing.T) {
	t.Parallel()
	ctx := newTestDiffContext()
	j := newOrdersCustomersJoin()
	j.On = eqCond("o", "does_not_exist", "c", "id")
	if _, err := j.Diff(ctx); err == nil {
		t.Fatal("expected an error for an unresolvable join condition")
	}
}
