package optree

import (
	"strings"
	"testing"

	"github.com/flowdelta/pgdiff/diff"
)

func TestDistinctOutputColumnsMatchChild(t *testing.T) {
	t.Parallel()
	child := newScan(1, "o", "orders", []string{"id"}, "id", "customer_id")
	d := &Distinct{Child: child, AliasName: "do"}
	got := d.OutputColumns()
	if len(got) != 2 || got[0] != "id" || got[1] != "customer_id" {
		t.Errorf("OutputColumns() = %v", got)
	}
}

func TestDistinctDiffEmitsMultiplicityMerge(t *testing.T) {
	t.Parallel()
	ctx := newTestDiffContext()
	child := newScan(1, "o", "orders", []string{"id"}, "id", "customer_id")
	d := &Distinct{Child: child, AliasName: "do"}
	result, err := d.Diff(ctx)
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	if !result.Deduplicated {
		t.Error("Distinct's result must be marked Deduplicated")
	}
	var sawNetCount bool
	for _, cte := range ctx.CTEs() {
		if strings.Contains(cte.Body, "__net_count") {
			sawNetCount = true
		}
	}
	if !sawNetCount {
		t.Error("expected a __net_count multiplicity column somewhere in the registered CTEs")
	}
}

func newOrdersAndReturnsScans() (*Scan, *Scan) {
	orders := newScan(1, "o", "orders", []string{"id"}, "id", "customer_id")
	returns := newScan(2, "r", "returns", []string{"id"}, "id", "customer_id")
	return orders, returns
}

func TestIntersectOutputColumnsMatchLeft(t *testing.T) {
	t.Parallel()
	left, right := newOrdersAndReturnsScans()
	i := &Intersect{Left: left, Right: right, All: false, AliasName: "io"}
	got := i.OutputColumns()
	if len(got) != 2 || got[0] != "id" || got[1] != "customer_id" {
		t.Errorf("OutputColumns() = %v", got)
	}
}

func TestIntersectDiffUsesLeastForEffectiveCount(t *testing.T) {
	t.Parallel()
	ctx := newTestDiffContext()
	left, right := newOrdersAndReturnsScans()
	i := &Intersect{Left: left, Right: right, All: false, AliasName: "io"}
	result, err := i.Diff(ctx)
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	var body string
	for _, cte := range ctx.CTEs() {
		if cte.Name == result.CTEName {
			body = cte.Body
		}
	}
	if !strings.Contains(body, "LEAST(") {
		t.Errorf("Intersect final body should reference LEAST(), got:\n%s", body)
	}
}

func TestExceptDiffUsesGreatestForEffectiveCount(t *testing.T) {
	t.Parallel()
	ctx := newTestDiffContext()
	left, right := newOrdersAndReturnsScans()
	e := &Except{Left: left, Right: right, All: false, AliasName: "eo"}
	result, err := e.Diff(ctx)
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	var body string
	for _, cte := range ctx.CTEs() {
		if cte.Name == result.CTEName {
			body = cte.Body
		}
	}
	if !strings.Contains(body, "GREATEST(0,") {
		t.Errorf("Except final body should reference GREATEST(0, ...), got:\n%s", body)
	}
}

func TestExceptMismatchedBranchShapeIsQueryShapeError(t *testing.T) {
	t.Parallel()
	ctx := newTestDiffContext()
	left := newScan(1, "o", "orders", []string{"id"}, "id", "customer_id")
	right := newScan(2, "r", "returns", []string{"id"}, "id")
	e := &Except{Left: left, Right: right, All: false, AliasName: "eo"}
	_, err := e.Diff(ctx)
	if _, ok := err.(*diff.QueryShapeError); !ok {
		t.Fatalf("expected *diff.QueryShapeError for mismatched branch shapes, got %v", err)
	}
}

func TestUnionAllPrependsChildIndexToRowID(t *testing.T) {
	t.Parallel()
	ctx := newTestDiffContext()
	left, right := newOrdersAndReturnsScans()
	u := &UnionAll{Children: []Node{left, right}, AliasName: "ua"}
	result, err := u.Diff(ctx)
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	var body string
	for _, cte := range ctx.CTEs() {
		if cte.Name == result.CTEName {
			body = cte.Body
		}
	}
	if got, want := strings.Count(body, "hash_multi(ARRAY[0::text"), 1; got != want {
		t.Errorf("expected exactly one branch hashed with child index 0, got %d:\n%s", got, body)
	}
	if got, want := strings.Count(body, "hash_multi(ARRAY[1::text"), 1; got != want {
		t.Errorf("expected exactly one branch hashed with child index 1, got %d:\n%s", got, body)
	}
}

func TestUnionAllNoChildrenIsQueryShapeError(t *testing.T) {
	t.Parallel()
	ctx := newTestDiffContext()
	u := &UnionAll{Children: nil, AliasName: "ua"}
	if _, err := u.Diff(ctx); err == nil {
		t.Fatal("expected an error for a union with no children")
	}
}
