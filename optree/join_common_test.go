package optree

import "testing"

func TestIsShallowTrueForTwoScanChildren(t *testing.T) {
	t.Parallel()
	j := newOrdersCustomersJoin()
	if !isShallow(j) {
		t.Error("join of two plain scans should be shallow")
	}
}

func TestIsShallowFalseForNestedJoin(t *testing.T) {
	t.Parallel()
	inner := newOrdersCustomersJoin()
	outer := &InnerJoin{
		Left:      inner,
		Right:     newScan(3, "p", "products", []string{"id"}, "id"),
		On:        eqCond("o", "id", "p", "id"),
		AliasName: "deep",
	}
	if isShallow(outer) {
		t.Error("join with a join child should not be shallow")
	}
}

func TestContainsSemiOrAntiDetectsNestedSemiJoin(t *testing.T) {
	t.Parallel()
	sj := newCustomersWithOrdersSemiJoin()
	filter := &Filter{Child: sj, Predicate: nil, AliasName: "f"}
	if !containsSemiOrAnti(filter) {
		t.Error("expected containsSemiOrAnti to see through a Filter wrapper")
	}
}

func TestContainsSemiOrAntiFalseForPlainJoin(t *testing.T) {
	t.Parallel()
	j := newOrdersCustomersJoin()
	if containsSemiOrAnti(j) {
		t.Error("plain InnerJoin tree should not contain a semi/anti join")
	}
}

func TestChooseL0StrategyExceptAllByDefault(t *testing.T) {
	t.Parallel()
	ctx := newTestDiffContext()
	scan := newScan(1, "o", "orders", []string{"id"}, "id")
	if got := chooseL0Strategy(ctx, scan); got != l0ExceptAll {
		t.Errorf("chooseL0Strategy() = %v, want l0ExceptAll", got)
	}
}

func TestChooseL0StrategyCorrectionForShallowJoin(t *testing.T) {
	t.Parallel()
	ctx := newTestDiffContext()
	j := newOrdersCustomersJoin()
	restore := ctx.PushSemiJoin()
	defer restore()
	if got := chooseL0Strategy(ctx, j); got != l0Correction {
		t.Errorf("chooseL0Strategy() = %v, want l0Correction for a shallow join inside a semi-join context", got)
	}
}

func TestChooseL0StrategyPlainForDeepJoin(t *testing.T) {
	t.Parallel()
	ctx := newTestDiffContext()
	inner := newOrdersCustomersJoin()
	outer := &InnerJoin{
		Left:      inner,
		Right:     newScan(3, "p", "products", []string{"id"}, "id"),
		On:        eqCond("o", "id", "p", "id"),
		AliasName: "deep",
	}
	restore := ctx.PushSemiJoin()
	defer restore()
	if got := chooseL0Strategy(ctx, outer); got != l0Plain {
		t.Errorf("chooseL0Strategy() = %v, want l0Plain for a deep join inside a semi-join context", got)
	}
}

func TestDisambiguatedColumnsOrderPreserved(t *testing.T) {
	t.Parallel()
	left := newScan(1, "o", "orders", []string{"id"}, "id", "total")
	right := newScan(2, "c", "customers", []string{"id"}, "id", "name")
	got := disambiguatedColumns(left, right)
	want := []string{"o__id", "o__total", "c__id", "c__name"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("disambiguatedColumns()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
