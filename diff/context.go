// Package diff implements the per-refresh differentiation context: the CTE
// registry, ambient flags, and the final WITH-envelope assembly described
// in §3 and §4.8. It holds no knowledge of any particular operator kind —
// package optree supplies that — so it can be unit-tested in isolation.
package diff

import (
	"fmt"
	"strings"

	"github.com/flowdelta/pgdiff/frontier"
	"github.com/flowdelta/pgdiff/internal/quoting"
)

// CTE is one registered common table expression.
type CTE struct {
	Name        string
	Body        string
	Recursive   bool
	Materialized bool
}

// Context is the mutable state threaded through one refresh's tree walk.
// Not safe for concurrent use; callers needing concurrent refreshes own one
// Context per goroutine.
type Context struct {
	Prev, New frontier.Frontier

	// ChangeBufferSchema names the schema holding changes_<oid> tables.
	ChangeBufferSchema string

	// STQualifiedName and STUserColumns are optional; required respectively
	// for terminal-aggregate merging and intermediate-aggregate detection.
	STQualifiedName string
	STUserColumns   []string

	// UsePlaceholders emits __PREV_LSN_<oid>__/__NEW_LSN_<oid>__ tokens
	// instead of literal LSN values so the program can be cached (see
	// package cache) and replayed across refreshes.
	UsePlaceholders bool

	// DefiningQuery is the original query text, needed by the recursive-CTE
	// recomputation fallback and the aggregate rescan fallback.
	DefiningQuery string

	// MergeSafeDedup is true for top-level scan-chain queries; it lets a
	// Scan emit at most one delta row per PK. InsideSemiJoin is true while
	// recursing through any SemiJoin/AntiJoin ancestor's children. Both
	// follow save-on-entry/restore-on-exit discipline via the Push* methods
	// below — operator code reads them directly but never writes them.
	MergeSafeDedup bool
	InsideSemiJoin bool

	// RefreshID correlates this refresh's log lines and cache entries
	// (see package obslog / package cache). Callers set it; the core
	// never generates one itself (it has no clock or randomness source).
	RefreshID string

	ctes      []CTE
	counter   int
	cteMemo   map[int]Result
	cteBodies map[int]cteBody // parser-provided registry, see RegisterCTEBody
}

// cteBody is the parser-provided definition of a named CTE in the defining
// query (populated by the excluded parser, consumed read-only by CteScan
// and RecursiveCte differentiation).
type cteBody struct {
	Name      string
	Recursive bool
}

// NewContext builds a fresh, empty differentiation context for one refresh.
func NewContext(prev, next frontier.Frontier) *Context {
	return &Context{
		Prev:               prev,
		New:                next,
		ChangeBufferSchema: "pgdiff",
		cteMemo:            make(map[int]Result),
		cteBodies:          make(map[int]cteBody),
	}
}

// NextName returns a fresh, unique CTE name built from prefix and the
// monotonic counter. Names are never reused or reordered within a refresh.
func (c *Context) NextName(prefix string) string {
	c.counter++
	return fmt.Sprintf("%s_%d", prefix, c.counter)
}

// CTECount returns the number of CTEs registered so far, for callers that
// report on a completed program (e.g. the diffgen REPL's summary line)
// without needing the rendered text itself.
func (c *Context) CTECount() int { return len(c.ctes) }

// AddCTE appends a new CTE definition to the registry and returns its name.
// The registry is append-only: emission order is dependency order, per §5.
func (c *Context) AddCTE(prefix, body string, recursive, materialized bool) string {
	name := c.NextName(prefix)
	c.AddNamedCTE(name, body, recursive, materialized)
	return name
}

// AddNamedCTE appends a CTE under a name the caller already reserved via
// NextName, for the rare case (RecursiveCte's self-reference) where the
// body text must embed the CTE's own name before the body itself can be
// built.
func (c *Context) AddNamedCTE(name, body string, recursive, materialized bool) {
	c.ctes = append(c.ctes, CTE{Name: name, Body: body, Recursive: recursive, Materialized: materialized})
}

// PushSemiJoin sets InsideSemiJoin and returns a restorer to be deferred by
// the caller, implementing the save/restore discipline required by §5/§9.
func (c *Context) PushSemiJoin() func() {
	prev := c.InsideSemiJoin
	c.InsideSemiJoin = true
	return func() { c.InsideSemiJoin = prev }
}

// PushMergeSafeDedup sets MergeSafeDedup to v for the duration of the
// caller's scope and returns a restorer.
func (c *Context) PushMergeSafeDedup(v bool) func() {
	prev := c.MergeSafeDedup
	c.MergeSafeDedup = v
	return func() { c.MergeSafeDedup = prev }
}

// Memo returns a cached Result for a recursive-CTE id and whether it was
// present, implementing the write-once-per-key memoization required so a
// CTE referenced multiple times differentiates exactly once.
func (c *Context) Memo(cteID int) (Result, bool) {
	r, ok := c.cteMemo[cteID]
	return r, ok
}

// SetMemo records the Result for a recursive-CTE id. Calling it twice for
// the same id is an internal invariant violation: memoization must be
// write-once.
func (c *Context) SetMemo(cteID int, r Result) error {
	if _, ok := c.cteMemo[cteID]; ok {
		return &InternalInvariantError{NodeKind: "CteScan", Detail: fmt.Sprintf("cte id %d differentiated more than once", cteID)}
	}
	c.cteMemo[cteID] = r
	return nil
}

// RegisterCTEBody records a named CTE definition populated by the (excluded)
// parser, so CteScan/RecursiveCte differentiation can look up its name.
func (c *Context) RegisterCTEBody(cteID int, name string, recursive bool) {
	c.cteBodies[cteID] = cteBody{Name: name, Recursive: recursive}
}

// LookupCTEBody returns the parser-registered name/recursive-ness for a CTE
// id, or false if none was registered.
func (c *Context) LookupCTEBody(cteID int) (name string, recursive bool, ok bool) {
	b, found := c.cteBodies[cteID]
	return b.Name, b.Recursive, found
}

// PrevLSNRef and NewLSNRef return the SQL text referencing a source's
// frontier LSN: a literal quoted LSN when UsePlaceholders is false, or a
// parametric token when true (§3's placeholder mode).
func (c *Context) PrevLSNRef(oid uint32) string {
	return c.lsnRef("PREV", oid, c.Prev)
}

func (c *Context) NewLSNRef(oid uint32) string {
	return c.lsnRef("NEW", oid, c.New)
}

func (c *Context) lsnRef(which string, oid uint32, f frontier.Frontier) string {
	if c.UsePlaceholders {
		return fmt.Sprintf("__%s_LSN_%d__", which, oid)
	}
	p, ok := f.Get(oid)
	if !ok {
		return "NULL"
	}
	return "'" + quoting.EscapeString(p.LSN) + "'::pg_lsn"
}

// ChangeBufferTable returns the schema-qualified changes_<oid> table name.
func (c *Context) ChangeBufferTable(oid uint32) string {
	return quoting.DoubleQuote(c.ChangeBufferSchema) + "." + quoting.DoubleQuote(fmt.Sprintf("changes_%d", oid))
}

// Render assembles the final WITH-envelope SQL referencing rootCTE, per
// §4.8: RECURSIVE iff any CTE was added as recursive, MATERIALIZED per-CTE
// iff marked, and a bare SELECT when the registry is empty.
func (c *Context) Render(rootCTE string) string {
	if len(c.ctes) == 0 {
		return "SELECT * FROM " + quoting.DoubleQuote(rootCTE)
	}
	recursive := false
	for _, cte := range c.ctes {
		if cte.Recursive {
			recursive = true
			break
		}
	}
	var b strings.Builder
	b.WriteString("WITH ")
	if recursive {
		b.WriteString("RECURSIVE ")
	}
	for i, cte := range c.ctes {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quoting.DoubleQuote(cte.Name))
		b.WriteString(" AS ")
		if cte.Materialized {
			b.WriteString("MATERIALIZED ")
		}
		b.WriteString("(\n")
		b.WriteString(cte.Body)
		b.WriteString("\n)")
	}
	b.WriteString("\nSELECT * FROM ")
	b.WriteString(quoting.DoubleQuote(rootCTE))
	return b.String()
}

// CTEs exposes the registered CTE list for inspection by tests and by the
// verification harness; callers must not mutate the returned slice.
func (c *Context) CTEs() []CTE { return c.ctes }
