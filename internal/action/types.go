// Package action implements the staged, locked, idempotent executor: for
// each planned action it re-validates process identity immediately before
// acting, runs the remaining pre-checks, dispatches the OS-level operation,
// and verifies the observed effect.
package action

import (
	"time"

	"github.com/processtriage/pt/internal/decision"
	"github.com/processtriage/pt/internal/identity"
	"github.com/processtriage/pt/internal/plan"
)

// Status is the outcome of attempting one planned action.
type Status string

const (
	StatusSuccess           Status = "success"
	StatusIdentityMismatch  Status = "identity_mismatch"
	StatusPermissionDenied  Status = "permission_denied"
	StatusTimeout           Status = "timeout"
	StatusFailed            Status = "failed"
	StatusSkipped           Status = "skipped"
	StatusPreCheckBlocked   Status = "pre_check_blocked"
)

// Result is the recorded outcome for one action in the plan.
type Result struct {
	ActionID string            `json:"action_id"`
	Status   Status            `json:"status"`
	ElapsedMs int64            `json:"time_ms"`
	Details  string            `json:"details,omitempty"`
	Check    plan.PreCheck     `json:"check,omitempty"`    // set only for StatusPreCheckBlocked
	Reason   string            `json:"reason,omitempty"`   // set only for StatusPreCheckBlocked
}

// Summary tallies outcomes across an execution run.
type Summary struct {
	ActionsAttempted int `json:"actions_attempted"`
	ActionsSucceeded int `json:"actions_succeeded"`
	ActionsFailed    int `json:"actions_failed"`
}

// ExecutionResult is the full output of running a plan.
type ExecutionResult struct {
	Summary  Summary  `json:"summary"`
	Outcomes []Result `json:"outcomes"`
}

// Error is the typed error an ActionRunner may return; it maps directly to
// a Status via StatusFromError.
type Error struct {
	Kind    string // "identity_mismatch" | "permission_denied" | "timeout" | "failed"
	Message string
}

func (e *Error) Error() string { return e.Kind + ": " + e.Message }

// StatusFromError maps a runner error to the Status recorded for the
// action. A nil error maps to StatusSuccess.
func StatusFromError(err error) Status {
	if err == nil {
		return StatusSuccess
	}
	ae, ok := err.(*Error)
	if !ok {
		return StatusFailed
	}
	switch ae.Kind {
	case "identity_mismatch":
		return StatusIdentityMismatch
	case "permission_denied":
		return StatusPermissionDenied
	case "timeout":
		return StatusTimeout
	default:
		return StatusFailed
	}
}

// Runner performs and verifies one action against a live process. It is a
// capability interface so the executor never depends on a concrete
// signal/cgroup implementation directly — tests inject a fake.
type Runner interface {
	Execute(id identity.ProcessIdentity, a decision.Action) error
	Verify(id identity.ProcessIdentity, a decision.Action) error
}

// IdentityProvider re-reads a process's current identity so the executor
// can detect PID reuse immediately before acting.
type IdentityProvider interface {
	Revalidate(target identity.ProcessIdentity) (identity.ProcessIdentity, error)
}

// Blocked is returned by PreCheckProvider.RunChecks when a pre-check fails.
type Blocked struct {
	Check  plan.PreCheck
	Reason string
}

// PreCheckProvider runs every pre-check on a planned action other than
// VerifyIdentity (which the executor handles directly via IdentityProvider).
// It returns the first Blocked check encountered, or nil if all pass.
type PreCheckProvider interface {
	RunChecks(a plan.Action) *Blocked
}

// noopTimestamp exists only so callers can stamp ElapsedMs without pulling
// in time at every call site.
func elapsedMs(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}
