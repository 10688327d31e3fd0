package action

import (
	"time"

	"github.com/processtriage/pt/internal/identity"
	"github.com/processtriage/pt/internal/plan"
)

// Executor runs a plan.Plan linearly: no action executes in parallel with
// another within the same run, and every action's status cell transitions
// from pending exactly once.
type Executor struct {
	runner       Runner
	identity     IdentityProvider
	preChecks    PreCheckProvider // nil is allowed: every non-identity pre-check then passes trivially
	lockPath     string
}

// New builds an Executor. preChecks may be nil, in which case every
// pre-check other than VerifyIdentity is treated as satisfied.
func New(runner Runner, identityProvider IdentityProvider, preChecks PreCheckProvider, lockPath string) *Executor {
	return &Executor{runner: runner, identity: identityProvider, preChecks: preChecks, lockPath: lockPath}
}

// ExecutePlan acquires the global lock, runs every action in plan order,
// and releases the lock on every exit path (success, panic-free error, or
// early return).
func (e *Executor) ExecutePlan(p plan.Plan) (ExecutionResult, error) {
	lock, err := AcquireLock(e.lockPath)
	if err != nil {
		return ExecutionResult{}, err
	}
	defer lock.Release()

	result := ExecutionResult{Outcomes: make([]Result, 0, len(p.Actions))}
	for _, a := range p.Actions {
		outcome := e.executeAction(a)
		result.Outcomes = append(result.Outcomes, outcome)
		result.Summary.ActionsAttempted++
		switch outcome.Status {
		case StatusSuccess:
			result.Summary.ActionsSucceeded++
		case StatusSkipped:
			// Neither success nor failure: blocked actions are excluded from
			// the plan entirely, so Skipped only happens for defensive
			// double-dispatch protection and is not counted either way.
		default:
			result.Summary.ActionsFailed++
		}
	}
	return result, nil
}

func (e *Executor) executeAction(a plan.Action) Result {
	start := time.Now()

	if a.Blocked {
		return Result{ActionID: a.ActionID, Status: StatusSkipped, ElapsedMs: elapsedMs(start)}
	}

	current := a.Target
	if hasPreCheck(a.PreChecks, plan.PreCheckVerifyIdentity) {
		revalidated, err := e.identity.Revalidate(a.Target)
		if err != nil || !revalidated.Matches(a.Target) {
			return Result{
				ActionID:  a.ActionID,
				Status:    StatusIdentityMismatch,
				ElapsedMs: elapsedMs(start),
				Details:   "identity re-validation failed immediately before dispatch",
			}
		}
		current = revalidated
	}

	if e.preChecks != nil {
		if blocked := e.preChecks.RunChecks(a); blocked != nil {
			return Result{
				ActionID:  a.ActionID,
				Status:    StatusPreCheckBlocked,
				ElapsedMs: elapsedMs(start),
				Check:     blocked.Check,
				Reason:    blocked.Reason,
			}
		}
	}

	if err := e.runner.Execute(current, a.Action); err != nil {
		return Result{ActionID: a.ActionID, Status: StatusFromError(err), ElapsedMs: elapsedMs(start), Details: err.Error()}
	}
	if err := e.runner.Verify(current, a.Action); err != nil {
		return Result{ActionID: a.ActionID, Status: StatusFromError(err), ElapsedMs: elapsedMs(start), Details: err.Error()}
	}

	return Result{ActionID: a.ActionID, Status: StatusSuccess, ElapsedMs: elapsedMs(start)}
}

func hasPreCheck(checks []plan.PreCheck, target plan.PreCheck) bool {
	for _, c := range checks {
		if c == target {
			return true
		}
	}
	return false
}

// StaticIdentityProvider is a test double that always reports a fixed
// identity, used the same way the Rust reference's StaticIdentityProvider
// is: to deterministically exercise the identity-mismatch path.
type StaticIdentityProvider struct {
	Current identity.ProcessIdentity
}

// Revalidate implements IdentityProvider.
func (s StaticIdentityProvider) Revalidate(identity.ProcessIdentity) (identity.ProcessIdentity, error) {
	return s.Current, nil
}
