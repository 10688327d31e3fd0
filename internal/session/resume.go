package session

import (
	"time"

	"github.com/processtriage/pt/internal/action"
	"github.com/processtriage/pt/internal/decision"
	"github.com/processtriage/pt/internal/identity"
)

// Verdict is the per-action outcome of a side-effect-free Verify pass.
type Verdict string

const (
	VerdictValid       Verdict = "valid"
	VerdictProcessGone Verdict = "process_gone"
	VerdictPidReused   Verdict = "pid_reused"
	VerdictUidChanged  Verdict = "uid_changed"
	VerdictProcessDead Verdict = "process_dead"
)

// VerificationReport is the output of Verify: what fraction of pending
// actions still target a live, unrecycled process.
type VerificationReport struct {
	Freshness float64                                    `json:"freshness"` // valid / total
	Verdicts  map[identity.ProcessIdentity]Verdict        `json:"verdicts"`
}

// Resumer re-validates and re-dispatches pending actions from a persisted
// ExecutionPlan. Resume is idempotent: running it twice on unchanged
// system state yields the same AppliedSet, because an action whose
// identity is already Applied is skipped by PendingActions and Append
// refuses to downgrade an Applied entry.
type Resumer struct {
	identityProvider action.IdentityProvider
	runner           action.Runner
	store            *Store
}

// NewResumer builds a Resumer over store, using identityProvider for
// TOCTOU-safe re-validation and runner to dispatch the actual OS effect.
func NewResumer(identityProvider action.IdentityProvider, runner action.Runner, store *Store) *Resumer {
	return &Resumer{identityProvider: identityProvider, runner: runner, store: store}
}

// Resume iterates the plan's pending actions, revalidating identity and
// dispatching execution for each, appending an ExecutionEntry for every
// attempt via the store's atomic tmp+rename writer.
func (r *Resumer) Resume(plan *ExecutionPlan) error {
	for _, pa := range plan.PendingActions() {
		entry := r.attempt(pa)
		plan.Append(entry)
		if err := r.store.SaveExecutionPlan(*plan); err != nil {
			return err
		}
	}
	return nil
}

func (r *Resumer) attempt(pa PlannedAction) ExecutionEntry {
	now := time.Now().UTC()
	revalidated, err := r.identityProvider.Revalidate(pa.Identity)
	if err != nil || !revalidated.Matches(pa.Identity) {
		return ExecutionEntry{
			Identity: pa.Identity, Action: pa.Action, Status: EntryFailed,
			Timestamp: now, Error: "identity mismatch on resume: no signal sent",
		}
	}

	if pa.Action == decision.Keep {
		return ExecutionEntry{Identity: pa.Identity, Action: pa.Action, Status: EntryApplied, Timestamp: now}
	}

	if err := r.runner.Execute(revalidated, pa.Action); err != nil {
		return ExecutionEntry{Identity: pa.Identity, Action: pa.Action, Status: EntryFailed, Timestamp: now, Error: err.Error()}
	}
	if err := r.runner.Verify(revalidated, pa.Action); err != nil {
		return ExecutionEntry{Identity: pa.Identity, Action: pa.Action, Status: EntryFailed, Timestamp: now, Error: err.Error()}
	}
	return ExecutionEntry{Identity: pa.Identity, Action: pa.Action, Status: EntryApplied, Timestamp: now}
}

// Verify runs the same identity-revalidation algorithm as Resume but never
// dispatches execution; it reports per-action freshness instead.
func (r *Resumer) Verify(plan ExecutionPlan) VerificationReport {
	pending := plan.PendingActions()
	verdicts := make(map[identity.ProcessIdentity]Verdict, len(pending))
	valid := 0
	for _, pa := range pending {
		revalidated, err := r.identityProvider.Revalidate(pa.Identity)
		switch {
		case err != nil:
			verdicts[pa.Identity] = VerdictProcessGone
		case revalidated.PID != pa.Identity.PID:
			verdicts[pa.Identity] = VerdictPidReused
		case revalidated.StartID != pa.Identity.StartID:
			verdicts[pa.Identity] = VerdictPidReused
		case revalidated.UID != pa.Identity.UID:
			verdicts[pa.Identity] = VerdictUidChanged
		default:
			verdicts[pa.Identity] = VerdictValid
			valid++
		}
	}
	freshness := 1.0
	if len(pending) > 0 {
		freshness = float64(valid) / float64(len(pending))
	}
	return VerificationReport{Freshness: freshness, Verdicts: verdicts}
}
