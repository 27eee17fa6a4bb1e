package refreshkind

import (
	"testing"
	"time"
)

func TestKindString(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		kind Kind
		want string
	}{
		{"user", User, "USER"},
		{"schema", Schema, "SCHEMA"},
		{"system", System, "SYSTEM"},
		{"internal", Internal, "INTERNAL"},
		{"zero value", Kind(0), "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.want {
				t.Errorf("Kind(%d).String() = %q, want %q", tt.kind, got, tt.want)
			}
		})
	}
}

func TestErrorRetryable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		kind Kind
		want bool
	}{
		{"user not retryable", User, false},
		{"schema not retryable", Schema, false},
		{"system retryable", System, true},
		{"internal not retryable", Internal, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := New(tt.kind, "boom", false, true)
			if got := e.Retryable(); got != tt.want {
				t.Errorf("Retryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorRequiresReinitialize(t *testing.T) {
	t.Parallel()
	e := New(Schema, "upstream table dropped", true, true)
	if !e.RequiresReinitialize() {
		t.Error("expected RequiresReinitialize() to be true")
	}
}

func TestClassifySPIError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		message string
		want    bool
	}{
		{"permission denied", "permission denied for table orders", false},
		{"insufficient privilege code", "ERROR: 42501 insufficient_privilege", false},
		{"unique violation", "23505: duplicate key value violates unique constraint", false},
		{"division by zero", "22012 division_by_zero", false},
		{"undefined table", "42P01: undefined_table", false},
		{"serialization failure", "40001: could not serialize access", true},
		{"deadlock", "deadlock detected", true},
		{"lock not available", "55P03: lock_not_available", true},
		{"connection dropped", "server closed the connection unexpectedly", true},
		{"unknown defaults retryable", "something weird happened", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifySPIError(tt.message); got != tt.want {
				t.Errorf("ClassifySPIError(%q) = %v, want %v", tt.message, got, tt.want)
			}
		})
	}
}

func TestRetryPolicyBackoff(t *testing.T) {
	t.Parallel()
	policy := RetryPolicy{BaseDelay: time.Second, MaxDelay: 10 * time.Second, MaxRetries: 5}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 750 * time.Millisecond},
		{1, 2500 * time.Millisecond},
		{2, 3 * time.Second},
		{3, 10 * time.Second},
		{4, 7500 * time.Millisecond},
	}
	for _, tt := range tests {
		if got := policy.Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryPolicyShouldRetry(t *testing.T) {
	t.Parallel()
	policy := RetryPolicy{BaseDelay: time.Second, MaxDelay: time.Minute, MaxRetries: 3}
	tests := []struct {
		attempt int
		want    bool
	}{
		{0, true}, {1, true}, {2, true}, {3, false}, {4, false},
	}
	for _, tt := range tests {
		if got := policy.ShouldRetry(tt.attempt); got != tt.want {
			t.Errorf("ShouldRetry(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryStateLifecycle(t *testing.T) {
	t.Parallel()
	policy := DefaultRetryPolicy()
	var state RetryState

	now := time.Unix(10, 0)
	if state.InBackoff(now) {
		t.Error("fresh state should not be in backoff")
	}

	if !state.RecordFailure(policy, now) {
		t.Fatal("first failure should still allow a retry")
	}
	if state.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", state.Attempts)
	}
	if !state.InBackoff(now.Add(100 * time.Millisecond)) {
		t.Error("expected to still be in backoff shortly after the failure")
	}
	if state.InBackoff(now.Add(time.Hour)) {
		t.Error("expected backoff to have elapsed after an hour")
	}

	state.Reset()
	if state.Attempts != 0 {
		t.Errorf("Attempts after Reset() = %d, want 0", state.Attempts)
	}
}

func TestRetryStateMaxAttemptsExhausted(t *testing.T) {
	t.Parallel()
	policy := RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, MaxRetries: 2}
	var state RetryState

	if !state.RecordFailure(policy, time.Unix(1, 0)) {
		t.Fatal("first failure (attempt 0 < max 2) should allow a retry")
	}
	if !state.RecordFailure(policy, time.Unix(2, 0)) {
		t.Fatal("second failure (attempt 1 < max 2) should still allow a retry")
	}
	if state.RecordFailure(policy, time.Unix(3, 0)) {
		t.Fatal("third failure (attempt 2 >= max 2) should exhaust the retry budget")
	}
	if state.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", state.Attempts)
	}
}
