package verify

import (
	"os"
	"testing"
)

// TestHarnessAgainstLivePostgres exercises the harness against a real
// database when PGDIFF_TEST_DATABASE_URL is set (§8's "execute against a
// conforming SQL engine"); otherwise it's skipped, and scenario assertions
// fall back to checking generated SQL shape directly in the optree tests.
func TestHarnessAgainstLivePostgres(t *testing.T) {
	dsn := os.Getenv("PGDIFF_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("PGDIFF_TEST_DATABASE_URL not set; skipping live-database verification")
	}
	t.Parallel()

	ctx := t.Context()
	h, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer h.Close()

	if err := h.Exec(ctx, "SELECT 1"); err != nil {
		t.Fatalf("Exec() error = %v", err)
	}
}

func TestAssertMultisetIgnoresOrder(t *testing.T) {
	t.Parallel()
	got := []Row{
		{Action: "I", Values: []any{int64(2), "20"}},
		{Action: "D", Values: []any{int64(1), "10"}},
	}
	want := []Row{
		{Action: "D", Values: []any{int64(1), "10"}},
		{Action: "I", Values: []any{int64(2), "20"}},
	}
	if err := AssertMultiset(got, want); err != nil {
		t.Errorf("AssertMultiset() error = %v, want nil", err)
	}
}

func TestAssertMultisetDetectsMismatch(t *testing.T) {
	t.Parallel()
	got := []Row{{Action: "I", Values: []any{int64(2)}}}
	want := []Row{{Action: "I", Values: []any{int64(3)}}}
	if err := AssertMultiset(got, want); err == nil {
		t.Error("expected AssertMultiset to report a mismatch")
	}
}

func TestSplitRowIDAction(t *testing.T) {
	t.Parallel()
	columns := []string{"__row_id", "__action", "id", "amount"}
	vals := []any{int64(123), "I", int64(4), int64(25)}
	action, payload, err := splitRowIDAction(columns, vals)
	if err != nil {
		t.Fatalf("splitRowIDAction() error = %v", err)
	}
	if action != "I" {
		t.Errorf("action = %q, want %q", action, "I")
	}
	if len(payload) != 2 || payload[0] != int64(4) || payload[1] != int64(25) {
		t.Errorf("payload = %v, want [4 25]", payload)
	}
}

func TestSplitRowIDActionMissingActionColumn(t *testing.T) {
	t.Parallel()
	columns := []string{"__row_id", "id"}
	vals := []any{int64(1), int64(4)}
	if _, _, err := splitRowIDAction(columns, vals); err == nil {
		t.Error("expected an error when no __action column is present")
	}
}
