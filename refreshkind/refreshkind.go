// Package refreshkind classifies refresh-driver errors into the four kinds
// a caller needs to decide retry behavior for, and provides a deterministic
// backoff schedule for the retryable ones. It sits entirely outside the
// differentiation core: nothing in diff/optree imports it, and it imports
// nothing from diff/optree in return.
package refreshkind

import (
	"strings"
	"time"
)

// Kind is the four-way classification a refresh-driver error falls into.
type Kind int

const (
	// User errors: invalid queries, type mismatches, cycles. Never retried.
	User Kind = iota + 1
	// Schema errors: upstream DDL changed out from under the refresh. Not
	// retried; the caller must reinitialize the stream table.
	Schema
	// System errors: lock timeouts, slot errors, transient SPI failures.
	// Retried with backoff.
	System
	// Internal errors indicate a bug. Not retried.
	Internal
)

func (k Kind) String() string {
	switch k {
	case User:
		return "USER"
	case Schema:
		return "SCHEMA"
	case System:
		return "SYSTEM"
	case Internal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

// Error wraps an underlying refresh-driver failure with its classification.
type Error struct {
	Kind    Kind
	Message string
	// Reinitialize is true when the stream table must be rebuilt from
	// scratch before any further refresh can succeed (an upstream table
	// was dropped or its schema changed).
	Reinitialize bool
	// CountsTowardSuspension is false for failures that don't indicate the
	// stream table itself is broken (e.g. a refresh skipped because a prior
	// one was still in flight).
	CountsTowardSuspension bool
}

func (e *Error) Error() string { return e.Kind.String() + ": " + e.Message }

// New builds a classified Error. Kind, reinit, and suspension bits are the
// caller's own facts about the failure (e.g. an UpstreamSchemaChanged
// condition detected by the refresh driver itself) rather than inferred.
func New(kind Kind, message string, reinitialize, countsTowardSuspension bool) *Error {
	return &Error{Kind: kind, Message: message, Reinitialize: reinitialize, CountsTowardSuspension: countsTowardSuspension}
}

// Retryable reports whether the scheduler should retry this error at all.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case System:
		return true
	default:
		return false
	}
}

// RequiresReinitialize reports whether the stream table must be rebuilt
// before another refresh can succeed.
func (e *Error) RequiresReinitialize() bool { return e.Reinitialize }

// ClassifySPIError inspects a raw SPI/driver error message and reports
// whether it describes a truly transient condition (serialization failure,
// deadlock, lock timeout, dropped connection) as opposed to a permission,
// constraint, or syntax problem that retrying cannot fix. Unknown messages
// default to retryable: re-running an already-doomed query once costs a
// refresh cycle, but giving up on a genuinely transient failure costs
// correctness.
func ClassifySPIError(message string) bool {
	lower := strings.ToLower(message)

	for _, pat := range nonRetryableSPIPatterns {
		if strings.Contains(lower, pat) {
			return false
		}
	}
	for _, pat := range retryableSPIPatterns {
		if strings.Contains(lower, pat) {
			return true
		}
	}
	return true
}

var nonRetryableSPIPatterns = []string{
	"permission denied",
	"insufficient_privilege",
	"42501",
	"42000",
	"42601",
	"42p01",
	"42703",
	"42p07",
	"42710",
	"23", // integrity_constraint_violation class
	"22012",
	"2200",
}

var retryableSPIPatterns = []string{
	"serialization",
	"deadlock",
	"40001",
	"40p01",
	"55p03",
	"could not obtain lock",
	"canceling statement due to lock timeout",
	"connection",
	"server closed the connection",
}

// RetryPolicy describes exponential backoff with deterministic jitter for
// System-kind errors. The jitter alternates by attempt parity rather than
// drawing from math/rand, so a retry schedule is reproducible in tests
// without seeding.
type RetryPolicy struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries int
}

// DefaultRetryPolicy mirrors the refresh driver's out-of-the-box schedule:
// a one-second base delay, capped at one minute, allowing five retries so
// that the sixth consecutive failure exhausts the budget.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{BaseDelay: time.Second, MaxDelay: time.Minute, MaxRetries: 5}
}

// Backoff computes the delay before retry attempt (0-based). It doubles the
// base delay per attempt, caps at MaxDelay, then applies a deterministic
// ±25% jitter: even attempts run fast (-25%), odd attempts run slow (+25%),
// so two schedulers computing the same attempt number always agree.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt > 16 {
		attempt = 16 // avoid overflowing the shift
	}
	delay := p.BaseDelay * time.Duration(1<<uint(attempt))
	if delay > p.MaxDelay || delay <= 0 {
		delay = p.MaxDelay
	}
	if attempt%2 == 0 {
		return delay * 3 / 4
	}
	return delay * 5 / 4
}

// ShouldRetry reports whether attempt (0-based) is still within the policy's
// retry budget.
func (p RetryPolicy) ShouldRetry(attempt int) bool { return attempt < p.MaxRetries }

// RetryState tracks a single stream table's consecutive-failure count and
// next eligible retry time. The scheduler holds one per stream table,
// in-memory only; it resets on a successful refresh or process restart.
type RetryState struct {
	Attempts    int
	NextRetryAt time.Time
}

// RecordFailure registers a retryable failure against policy at time now,
// advancing Attempts and NextRetryAt. It reports whether another retry is
// still allowed.
func (s *RetryState) RecordFailure(policy RetryPolicy, now time.Time) bool {
	s.Attempts++
	if !policy.ShouldRetry(s.Attempts - 1) {
		return false
	}
	s.NextRetryAt = now.Add(policy.Backoff(s.Attempts - 1))
	return true
}

// Reset clears retry state after a successful refresh.
func (s *RetryState) Reset() {
	s.Attempts = 0
	s.NextRetryAt = time.Time{}
}

// InBackoff reports whether now still falls within this state's backoff
// window.
func (s *RetryState) InBackoff(now time.Time) bool {
	return s.Attempts > 0 && now.Before(s.NextRetryAt)
}
