// Package verify provides the one component in this module allowed to
// execute generated SQL: an end-to-end harness that stands up a scratch
// schema, seeds source + change-buffer rows, runs a differentiation
// program, and asserts the resulting delta against an expected row
// multiset (§8's testable properties, scenarios S1-S6). It is skipped
// entirely — falling back to asserting SQL-text shape in the caller —
// when no PGDIFF_TEST_DATABASE_URL is configured, mirroring cmd/repl's
// own "best-effort, never fatal" treatment of optional database access.
package verify

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flowdelta/pgdiff/refreshkind"
)

// Row is one emitted delta row: its action ('I' or 'D') plus the ordered
// payload values, compared as their textual SQL representation.
type Row struct {
	Action string
	Values []any
}

// Harness owns one pooled connection to a scratch PostgreSQL database used
// only by tests.
type Harness struct {
	pool *pgxpool.Pool
}

// Open dials dsn and returns a Harness. Callers should defer Close.
func Open(ctx context.Context, dsn string) (*Harness, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("verify: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("verify: ping: %w", err)
	}
	return &Harness{pool: pool}, nil
}

// Close releases the pool.
func (h *Harness) Close() { h.pool.Close() }

// Exec runs a DDL/DML statement, classifying any failure via refreshkind so
// callers can decide whether to retry a transient setup failure once before
// failing the scenario outright.
func (h *Harness) Exec(ctx context.Context, sql string, args ...any) error {
	if _, err := h.pool.Exec(ctx, sql, args...); err != nil {
		if refreshkind.ClassifySPIError(err.Error()) {
			return refreshkind.New(refreshkind.System, err.Error(), false, true)
		}
		return refreshkind.New(refreshkind.User, err.Error(), false, true)
	}
	return nil
}

// RunDelta executes program (the WITH-envelope output of
// optree.Differentiate), columns listing __row_id, __action and the
// payload columns in order, and returns every emitted row.
func (h *Harness) RunDelta(ctx context.Context, program string, columns []string) ([]Row, error) {
	rows, err := h.pool.Query(ctx, program)
	if err != nil {
		return nil, fmt.Errorf("verify: run delta: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("verify: scan delta row: %w", err)
		}
		action, payload, err := splitRowIDAction(columns, vals)
		if err != nil {
			return nil, err
		}
		out = append(out, Row{Action: action, Values: payload})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("verify: delta rows: %w", err)
	}
	return out, nil
}

// splitRowIDAction strips __row_id and __action from a scanned row,
// returning the action and the remaining payload values in column order.
func splitRowIDAction(columns []string, vals []any) (action string, payload []any, err error) {
	for i, c := range columns {
		switch c {
		case "__action":
			a, ok := vals[i].(string)
			if !ok {
				return "", nil, fmt.Errorf("verify: __action column is not text")
			}
			action = a
		case "__row_id":
			// identity only, not compared against the expected multiset
		default:
			payload = append(payload, vals[i])
		}
	}
	if action == "" {
		return "", nil, fmt.Errorf("verify: no __action column found among %v", columns)
	}
	return action, payload, nil
}

// AssertMultiset reports whether got and want contain the same rows,
// ignoring order (property 1 of §8 treats the delta as a multiset, not a
// sequence). Comparison is by each row's %v rendering, which is sufficient
// for the scalar column types the scenarios in §8 use.
func AssertMultiset(got, want []Row) error {
	if len(got) != len(want) {
		return fmt.Errorf("verify: got %d rows, want %d\n  got:  %s\n  want: %s", len(got), len(want), renderRows(got), renderRows(want))
	}
	gotKeys := rowKeys(got)
	wantKeys := rowKeys(want)
	sort.Strings(gotKeys)
	sort.Strings(wantKeys)
	for i := range gotKeys {
		if gotKeys[i] != wantKeys[i] {
			return fmt.Errorf("verify: delta multiset mismatch\n  got:  %s\n  want: %s", renderRows(got), renderRows(want))
		}
	}
	return nil
}

func rowKeys(rows []Row) []string {
	keys := make([]string, len(rows))
	for i, r := range rows {
		keys[i] = r.Action + "|" + fmt.Sprint(r.Values)
	}
	return keys
}

func renderRows(rows []Row) string {
	parts := make([]string, len(rows))
	for i, r := range rows {
		parts[i] = r.Action + fmt.Sprint(r.Values)
	}
	return strings.Join(parts, ", ")
}
