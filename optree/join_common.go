package optree

import (
	"fmt"
	"strings"

	"github.com/flowdelta/pgdiff/diff"
	"github.com/flowdelta/pgdiff/expr"
	"github.com/flowdelta/pgdiff/internal/quoting"
)

// EquiKey pairs one left-side and one right-side column name forming part
// of an equi-join condition. Populating EquiKeys on a join node enables the
// semi-join pre-filter optimization in §4.3; leaving it empty is always
// correct, just potentially slower.
type EquiKey struct {
	Left, Right string
}

// sideColumnSelect renders one side's own combined-namespace data columns,
// explicitly enumerated as "tableAlias.\"sideAlias__c1\", ..." rather than
// a "tableAlias.*" wildcard. A dl/dr alias built from deltaAliasedCombined
// or deltaFilteredBy also carries __row_id/__action alongside its data
// columns; wildcarding it after the outer SELECT has already projected
// __row_id/__action explicitly re-expands those same two columns under a
// second name, producing a CTE with duplicate output columns that Postgres
// rejects as ambiguous wherever a later operator references them bare
// (e.g. Aggregate's "__action = 'I'"). Enumerating by name sidesteps that
// regardless of whether tableAlias happens to carry control columns.
func sideColumnSelect(n Node, tableAlias string) string {
	q := quoting.DoubleQuote
	cols := n.OutputColumns()
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = tableAlias + "." + q(n.Alias()+"__"+c)
	}
	return strings.Join(parts, ", ")
}

// disambiguatedColumns returns "leftAlias__col" for every left output
// column followed by "rightAlias__col" for every right output column, the
// naming scheme §9 specifies for join children.
func disambiguatedColumns(left, right Node) []string {
	out := make([]string, 0, len(left.OutputColumns())+len(right.OutputColumns()))
	for _, c := range left.OutputColumns() {
		out = append(out, left.Alias()+"__"+c)
	}
	for _, c := range right.OutputColumns() {
		out = append(out, right.Alias()+"__"+c)
	}
	return out
}

// isShallow reports whether n is a join whose own children are both plain
// scans, the "shallow join" predicate gating the L1+correction strategy
// (§4.3, rule 2). Non-join nodes are not shallow joins.
func isShallow(n Node) bool {
	var left, right Node
	switch j := n.(type) {
	case *InnerJoin:
		left, right = j.Left, j.Right
	case *LeftJoin:
		left, right = j.Left, j.Right
	case *FullJoin:
		left, right = j.Left, j.Right
	default:
		return false
	}
	_, lScan := left.(*Scan)
	_, rScan := right.(*Scan)
	return lScan && rScan
}

// isJoin reports whether n is any join-family node.
func isJoin(n Node) bool {
	switch n.(type) {
	case *InnerJoin, *LeftJoin, *FullJoin, *SemiJoin, *AntiJoin:
		return true
	default:
		return false
	}
}

// containsSemiOrAnti reports whether n's subtree contains a SemiJoin or
// AntiJoin anywhere, the other half of rule 1's gating condition.
func containsSemiOrAnti(n Node) bool {
	switch j := n.(type) {
	case *SemiJoin, *AntiJoin:
		return true
	case *InnerJoin:
		return containsSemiOrAnti(j.Left) || containsSemiOrAnti(j.Right)
	case *LeftJoin:
		return containsSemiOrAnti(j.Left) || containsSemiOrAnti(j.Right)
	case *FullJoin:
		return containsSemiOrAnti(j.Left) || containsSemiOrAnti(j.Right)
	case *Filter:
		return containsSemiOrAnti(j.Child)
	case *Project:
		return containsSemiOrAnti(j.Child)
	case *Subquery:
		return containsSemiOrAnti(j.Child)
	default:
		return false
	}
}

// l0Strategy is the three-way tradeoff from §4.3's "the L0 dilemma".
type l0Strategy int

const (
	// l0ExceptAll reconstructs L0 = L1 EXCEPT ALL ins UNION ALL del.
	l0ExceptAll l0Strategy = iota
	// l0Correction uses L1 directly plus a correction term (Part 3).
	l0Correction
	// l0Plain uses L1 directly with no correction (deep chains).
	l0Plain
)

func chooseL0Strategy(ctx *diff.Context, child Node) l0Strategy {
	if !containsSemiOrAnti(child) && !ctx.InsideSemiJoin {
		return l0ExceptAll
	}
	if isJoin(child) && isShallow(child) {
		return l0Correction
	}
	return l0Plain
}

// reconstructL0 builds L0's SELECT from a child's current snapshot and its
// delta CTE, via L0 = L1 EXCEPT ALL ins UNION ALL del.
func reconstructL0(ctx *diff.Context, child Node, childDelta *diff.Result) (string, error) {
	snap, ok := child.(Snapshotter)
	if !ok {
		return "", &diff.UnsupportedOperatorError{NodeKind: "Join", Reason: "child does not support snapshot reconstruction for L0/R0"}
	}
	current, err := snap.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	q := quoting.DoubleQuote
	cols := quotedColumnList(childDelta.Columns)
	ins := fmt.Sprintf("SELECT %s FROM %s WHERE __action = 'I'", cols, q(childDelta.CTEName))
	del := fmt.Sprintf("SELECT %s FROM %s WHERE __action = 'D'", cols, q(childDelta.CTEName))
	return fmt.Sprintf("(%s)\nEXCEPT ALL\n(%s)\nUNION ALL\n(%s)", current, ins, del), nil
}

func quotedColumnList(cols []string) string {
	q := quoting.DoubleQuote
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = q(c)
	}
	return strings.Join(parts, ", ")
}

// deltaFilteredBy returns a SELECT over a delta CTE restricted to one
// action, with columns renamed to their disambiguated combined names under
// the given side alias.
func deltaFilteredBy(cteName string, cols []string, sideAlias string, action string) string {
	q := quoting.DoubleQuote
	sel := make([]string, 0, len(cols)+2)
	sel = append(sel, "__row_id AS __row_id", "__action AS __action")
	for _, c := range cols {
		sel = append(sel, fmt.Sprintf("%s AS %s", q(c), q(sideAlias+"__"+c)))
	}
	return fmt.Sprintf("SELECT %s FROM %s WHERE __action = '%s'", strings.Join(sel, ", "), q(cteName), action)
}

// semiJoinPrefilter wraps a snapshot SELECT with a semi-join pre-filter
// against the other side's delta, when equi-keys are known (§4.3's
// O(|T|) -> O(|Δ|) optimization). When keys is empty, it returns snapshotSQL
// unchanged.
func semiJoinPrefilter(snapshotSQL string, keyCols []string, deltaCTE string, deltaKeyCols []string) string {
	if len(keyCols) == 0 {
		return snapshotSQL
	}
	q := quoting.DoubleQuote
	keyList := quotedColumnList(keyCols)
	deltaKeyList := quotedColumnList(deltaKeyCols)
	return fmt.Sprintf(
		"SELECT * FROM (%s) AS t WHERE (%s) IN (SELECT DISTINCT %s FROM %s)",
		snapshotSQL, keyList, deltaKeyList, q(deltaCTE),
	)
}

// resolveJoinCondition resolves a join condition's ColumnRefs against the
// combined disambiguated namespace (leftAlias__col / rightAlias__col).
func resolveJoinCondition(cond expr.Expr, left, right Node) (expr.Expr, error) {
	combined := disambiguatedColumns(left, right)
	return resolveExpr(cond, combined)
}

// aliasSnapshotCombined wraps a subtree's current-snapshot SELECT so its
// columns carry the combined disambiguated names (sideAlias__col) the join
// output uses.
func aliasSnapshotCombined(snapshotSQL string, node Node, sideAlias string) string {
	q := quoting.DoubleQuote
	cols := node.OutputColumns()
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = fmt.Sprintf("%s AS %s", q(c), q(sideAlias+"__"+c))
	}
	return fmt.Sprintf("SELECT %s FROM (%s) AS t", strings.Join(parts, ", "), snapshotSQL)
}

// sidePKColumns returns the plain (undisambiguated) column names used as a
// join side's identity for row-id hashing: a Scan's declared primary key
// when present, otherwise every output column.
func sidePKColumns(n Node) []string {
	if s, ok := n.(*Scan); ok && len(s.PrimaryKey) > 0 {
		return s.PrimaryKey
	}
	return n.OutputColumns()
}

// sidePKExprsCombined returns quoted combined-namespace column expressions
// ("sideAlias__col") for a side's PK columns, for use inside row-id hashing
// over a result set already carrying combined names.
func sidePKExprsCombined(n Node, sideAlias string) []string {
	pk := sidePKColumns(n)
	q := quoting.DoubleQuote
	out := make([]string, len(pk))
	for i, c := range pk {
		out[i] = q(sideAlias + "__" + c)
	}
	return out
}
