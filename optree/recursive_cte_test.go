package optree

import (
	"strings"
	"testing"

	"github.com/flowdelta/pgdiff/expr"
)

// newReachableRecursiveCte builds a minimal "WITH RECURSIVE reachable AS
// (base UNION ALL recursive-step)" tree: base is a scan of seed edges,
// the recursive step joins the self-reference against the edges table.
func newReachableRecursiveCte() *RecursiveCte {
	const cteID = 7
	base := newScan(1, "e", "edges", []string{"src", "dst"}, "src", "dst")
	selfRef := &RecursiveSelfRef{CTEID: cteID, Columns: []string{"src", "dst"}, AliasName: "r"}
	edges := newScan(1, "e2", "edges", []string{"src", "dst"}, "src", "dst")
	joined := &InnerJoin{
		Left:      selfRef,
		Right:     edges,
		On:        eqCond("r", "dst", "e2", "src"),
		AliasName: "step",
	}
	step := &Project{
		Child: joined,
		Items: []ProjItem{
			{Expr: &expr.ColumnRef{Qualifier: "r", Column: "src"}, Alias: "src"},
			{Expr: &expr.ColumnRef{Qualifier: "e2", Column: "dst"}, Alias: "dst"},
		},
		AliasName: "proj",
	}
	return &RecursiveCte{
		CTEID:         cteID,
		Name:          "reachable",
		Columns:       []string{"src", "dst"},
		BaseCase:      base,
		RecursiveTerm: step,
		AliasName:     "rc",
	}
}

func TestRecursiveCteOutputColumnsMatchDeclared(t *testing.T) {
	t.Parallel()
	r := newReachableRecursiveCte()
	got := r.OutputColumns()
	if len(got) != 2 || got[0] != "src" || got[1] != "dst" {
		t.Errorf("OutputColumns() = %v", got)
	}
}

func TestRecursiveCteDiffRegistersRecursiveCTE(t *testing.T) {
	t.Parallel()
	ctx := newTestDiffContext()
	r := newReachableRecursiveCte()
	if _, err := r.Diff(ctx); err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	var sawRecursive bool
	for _, cte := range ctx.CTEs() {
		if cte.Recursive {
			sawRecursive = true
		}
	}
	if !sawRecursive {
		t.Error("expected at least one CTE marked Recursive")
	}
}

func TestRecursiveCteDiffMemoizesByID(t *testing.T) {
	t.Parallel()
	ctx := newTestDiffContext()
	r := newReachableRecursiveCte()
	first, err := r.Diff(ctx)
	if err != nil {
		t.Fatalf("first Diff() error = %v", err)
	}
	ctesAfterFirst := len(ctx.CTEs())
	second, err := r.Diff(ctx)
	if err != nil {
		t.Fatalf("second Diff() error = %v", err)
	}
	if second.CTEName != first.CTEName {
		t.Errorf("second Diff() should return the memoized Result, got a different CTE name %q vs %q", second.CTEName, first.CTEName)
	}
	if len(ctx.CTEs()) != ctesAfterFirst {
		t.Error("second Diff() should not register any new CTEs")
	}
}

func TestRecursiveSelfRefDiffIsTreeShapeError(t *testing.T) {
	t.Parallel()
	ctx := newTestDiffContext()
	selfRef := &RecursiveSelfRef{CTEID: 99, Columns: []string{"a"}, AliasName: "r"}
	if _, err := selfRef.Diff(ctx); err == nil {
		t.Fatal("expected an error differentiating a bare RecursiveSelfRef")
	}
}

func TestRecursiveSelfRefSnapshotWithoutEnclosingCteErrors(t *testing.T) {
	t.Parallel()
	ctx := newTestDiffContext()
	selfRef := &RecursiveSelfRef{CTEID: 123, Columns: []string{"a"}, AliasName: "r"}
	if _, err := selfRef.Snapshot(ctx); err == nil {
		t.Fatal("expected an error snapshotting a RecursiveSelfRef with no registered enclosing CTE")
	}
}

func TestCteScanDiffDelegatesAndMemoizes(t *testing.T) {
	t.Parallel()
	ctx := newTestDiffContext()
	body := newScan(1, "o", "orders", []string{"id"}, "id", "total")
	scan1 := &CteScan{CTEID: 42, Body: body, AliasName: "c1"}
	scan2 := &CteScan{CTEID: 42, Body: body, AliasName: "c2"}
	first, err := scan1.Diff(ctx)
	if err != nil {
		t.Fatalf("first Diff() error = %v", err)
	}
	ctesAfterFirst := len(ctx.CTEs())
	second, err := scan2.Diff(ctx)
	if err != nil {
		t.Fatalf("second Diff() error = %v", err)
	}
	if second.CTEName != first.CTEName {
		t.Error("second CteScan with the same CTEID should reuse the memoized Result")
	}
	if len(ctx.CTEs()) != ctesAfterFirst {
		t.Error("second CteScan.Diff() should not register any new CTEs")
	}
}

func TestRecursiveCteFinalBodyDiffsAgainstStreamTable(t *testing.T) {
	t.Parallel()
	ctx := newTestDiffContext()
	ctx.STQualifiedName = `"pgdiff"."st_reachable"`
	r := newReachableRecursiveCte()
	result, err := r.Diff(ctx)
	if err != nil {
		t.Fatalf("Diff() error = %v", err)
	}
	var body string
	for _, cte := range ctx.CTEs() {
		if cte.Name == result.CTEName {
			body = cte.Body
		}
	}
	if !strings.Contains(body, "EXCEPT ALL") {
		t.Errorf("RecursiveCte final body should diff old vs new via EXCEPT ALL, got:\n%s", body)
	}
}
