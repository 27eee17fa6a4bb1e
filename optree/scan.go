package optree

import (
	"fmt"
	"strings"

	"github.com/flowdelta/pgdiff/diff"
	"github.com/flowdelta/pgdiff/internal/quoting"
	"github.com/flowdelta/pgdiff/rowid"
)

// Scan turns a scan of source table OID, bounded by (prev, new], into a
// net-effect delta against its change buffer (§4.1).
type Scan struct {
	OID                 uint32
	SchemaQualifiedName string
	Columns             []Column
	// PrimaryKey lists the PK column names in declared order. Empty means
	// a keyless table: pk_hash is computed over every column instead.
	PrimaryKey []string
	AliasName  string
}

func (s *Scan) OutputColumns() []string {
	cols := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		cols[i] = c.Name
	}
	return cols
}

func (s *Scan) SourceOIDs() []uint32 { return []uint32{s.OID} }
func (s *Scan) Alias() string        { return s.AliasName }
func (s *Scan) Kind() string         { return "Scan" }

func (s *Scan) keyless() bool { return len(s.PrimaryKey) == 0 }

func (s *Scan) Diff(ctx *diff.Context) (*diff.Result, error) {
	if len(s.Columns) == 0 {
		return nil, &diff.QueryShapeError{NodeKind: s.Kind(), Detail: "scan has no output columns"}
	}
	buf := ctx.ChangeBufferTable(s.OID)
	q := quoting.DoubleQuote

	inWindow := fmt.Sprintf("lsn > %s AND lsn <= %s", ctx.PrevLSNRef(s.OID), ctx.NewLSNRef(s.OID))

	grouped := fmt.Sprintf(
		"SELECT pk_hash, COUNT(*) AS change_count\nFROM %s\nWHERE %s\nGROUP BY pk_hash",
		buf, inWindow,
	)
	groupedCTE := ctx.AddCTE("scan_grouped", grouped, false, false)

	newCols, oldCols := s.columnLists()

	fastpath := fmt.Sprintf(
		"SELECT c.pk_hash AS pk_hash, c.action AS first_action, c.action AS last_action,\n  %s,\n  %s\nFROM %s c\nJOIN %s g ON g.pk_hash = c.pk_hash AND g.change_count = 1\nWHERE %s",
		newCols, oldCols, buf, q(groupedCTE), inWindow,
	)
	fastpathCTE := ctx.AddCTE("scan_fastpath", fastpath, false, false)

	windowedNewCols, windowedOldCols := s.windowedColumnLists()
	windowed := fmt.Sprintf(
		"SELECT DISTINCT ON (c.pk_hash) c.pk_hash AS pk_hash,\n"+
			"  FIRST_VALUE(c.action) OVER w AS first_action,\n"+
			"  LAST_VALUE(c.action) OVER w AS last_action,\n"+
			"  %s,\n  %s\n"+
			"FROM %s c\n"+
			"JOIN %s g ON g.pk_hash = c.pk_hash AND g.change_count > 1\n"+
			"WHERE %s\n"+
			"WINDOW w AS (PARTITION BY c.pk_hash ORDER BY c.change_id ROWS BETWEEN UNBOUNDED PRECEDING AND UNBOUNDED FOLLOWING)\n"+
			"ORDER BY c.pk_hash, c.change_id",
		windowedNewCols, windowedOldCols, buf, q(groupedCTE), inWindow,
	)
	windowedCTE := ctx.AddCTE("scan_windowed", windowed, false, false)

	combined := fmt.Sprintf(
		"SELECT * FROM %s\nUNION ALL\nSELECT * FROM %s",
		q(fastpathCTE), q(windowedCTE),
	)
	combinedCTE := ctx.AddCTE("scan_combined", combined, false, false)

	pkHashOldExpr := "pk_hash"
	if s.keyless() {
		pkHashOldExpr = "pk_hash_old"
	}

	deleteGuard := "first_action <> 'I'"
	if ctx.MergeSafeDedup {
		// A merge-safe Scan emits one row per PK, destined for a MERGE-style
		// upsert: a plain update (PK existed before and after) contributes
		// only its I row, an insert-then-delete within the window (PK never
		// existed before and doesn't exist now) contributes nothing, and only
		// a true net deletion (existed before, gone now) contributes D.
		deleteGuard = "(first_action <> 'I' AND last_action = 'D')"
		if s.keyless() {
			deleteGuard = fmt.Sprintf("(last_action = 'D' OR %s <> pk_hash)", pkHashOldExpr)
		}
	}

	rowIDOld := rowid.Single(pkHashOldExpr)
	rowIDNew := rowid.Single("pk_hash")

	deleteCols := s.prefixedOutputList("old_")
	insertCols := s.prefixedOutputList("new_")

	emit := fmt.Sprintf(
		"SELECT %s AS __row_id, 'D' AS __action, %s\nFROM %s\nWHERE %s\nUNION ALL\nSELECT %s AS __row_id, 'I' AS __action, %s\nFROM %s\nWHERE last_action <> 'D'",
		rowIDOld, deleteCols, q(combinedCTE), deleteGuard,
		rowIDNew, insertCols, q(combinedCTE),
	)
	emitCTE := ctx.AddCTE("scan_emit", emit, false, false)

	return &diff.Result{
		CTEName:      emitCTE,
		Columns:      s.OutputColumns(),
		Deduplicated: ctx.MergeSafeDedup,
	}, nil
}

// columnLists returns the "new_c1, new_c2, ..." and "old_c1, old_c2, ..."
// selection lists used by the fastpath CTE, which (having exactly one
// change row per PK) can select new_*/old_* directly without a window
// function.
func (s *Scan) columnLists() (newCols, oldCols string) {
	var nb, ob strings.Builder
	for i, c := range s.Columns {
		if i > 0 {
			nb.WriteString(", ")
			ob.WriteString(", ")
		}
		fmt.Fprintf(&nb, "c.new_%s AS new_%s", c.Name, c.Name)
		fmt.Fprintf(&ob, "c.old_%s AS old_%s", c.Name, c.Name)
	}
	if s.keyless() {
		nb.WriteString(", c.pk_hash AS pk_hash")
		ob.WriteString(", c.pk_hash AS pk_hash_old")
	}
	return nb.String(), ob.String()
}

// windowedColumnLists is columnLists' counterpart for the multi-change
// path: new_* comes from the LAST_VALUE frame, old_* from FIRST_VALUE.
func (s *Scan) windowedColumnLists() (newCols, oldCols string) {
	var nb, ob strings.Builder
	for i, c := range s.Columns {
		if i > 0 {
			nb.WriteString(", ")
			ob.WriteString(", ")
		}
		fmt.Fprintf(&nb, "LAST_VALUE(c.new_%s) OVER w AS new_%s", c.Name, c.Name)
		fmt.Fprintf(&ob, "FIRST_VALUE(c.old_%s) OVER w AS old_%s", c.Name, c.Name)
	}
	if s.keyless() {
		nb.WriteString(", LAST_VALUE(c.pk_hash) OVER w AS pk_hash")
		ob.WriteString(", FIRST_VALUE(c.pk_hash) OVER w AS pk_hash_old")
	}
	return nb.String(), ob.String()
}

// prefixedOutputList renders "prefix.c1 AS c1, prefix.c2 AS c2, ..." for
// the emit CTE's final projection, where prefix is "old_" or "new_".
func (s *Scan) prefixedOutputList(prefix string) string {
	var b strings.Builder
	for i, c := range s.Columns {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s%s AS %s", prefix, c.Name, c.Name)
	}
	return b.String()
}
