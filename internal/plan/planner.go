package plan

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/processtriage/pt/internal/decision"
)

// Planner merges decision outcomes, guardrails and supervision verdicts
// into an ordered, pre-checked Plan.
type Planner struct {
	guardrails GuardrailConfig
	limiter    *RateLimiter
}

// New builds a Planner bound to limiter, which the caller owns (its
// lifetime typically spans many Build calls across a daemon's lifetime,
// so the Planner does not create or close it).
func New(guardrails GuardrailConfig, limiter *RateLimiter) *Planner {
	return &Planner{guardrails: guardrails, limiter: limiter}
}

// Build runs the five §4.7 steps over candidates and returns the ordered
// Plan.
func (p *Planner) Build(candidates []Candidate) Plan {
	actions := make([]Action, 0, len(candidates))

	for _, c := range candidates {
		action := p.planOne(c)
		actions = append(actions, action)

		if p.guardrails.StagedPauseBeforeKill && !action.Blocked &&
			action.Action == decision.Kill &&
			highestLoss(c.Outcome, decision.Kill) >= p.guardrails.StagedPauseCostThreshold {
			actions = append(actions, Action{
				ActionID:  newActionID(),
				Target:    c.Target,
				Action:    decision.Pause,
				PreChecks: []PreCheck{PreCheckVerifyIdentity, PreCheckSupervisionOK},
				Rationale: "staged pause ahead of a high-cost kill",
			})
		}
	}

	sort.SliceStable(actions, func(i, j int) bool {
		if actions[i].Action != actions[j].Action {
			return actions[i].Action < actions[j].Action
		}
		return lossOf(actions[i]) < lossOf(actions[j])
	})

	return Plan{Actions: actions}
}

func (p *Planner) planOne(c Candidate) Action {
	optimal := c.Outcome.OptimalAction
	preChecks := []PreCheck{PreCheckVerifyIdentity}
	blocked := false
	reasons := make([]string, 0, 2)

	// Step 1: guardrails.
	if c.Protected {
		blocked = true
		reasons = append(reasons, "matched a protected pattern/user/group/never-kill set")
		preChecks = append(preChecks, PreCheckProtectedPattern)
	}
	if c.NeverKill && optimal.Destructive() {
		blocked = true
		optimal = decision.Keep
		reasons = append(reasons, "supervision oracle returned a never-kill verdict")
		preChecks = append(preChecks, PreCheckSupervisor)
	}
	if !c.MinAgeMet && optimal.Destructive() {
		blocked = true
		reasons = append(reasons, "process does not satisfy the configured min_age guardrail")
	}

	// Step 2: attach pre-checks.
	if optimal.Destructive() && c.DataLossArmed {
		preChecks = append(preChecks, PreCheckDataLoss)
	}
	preChecks = append(preChecks, PreCheckSupervisionOK)
	if c.HasActiveTTY {
		preChecks = append(preChecks, PreCheckSessionSafety)
	}

	// Step 3: rate limit destructive actions.
	if !blocked && optimal.Destructive() {
		if p.limiter == nil || !p.limiter.TryAdmit() {
			blocked = false // Not a hard block: the action simply downgrades.
			reasons = append(reasons, fmt.Sprintf("destructive-action budget exhausted, downgraded %s to keep", optimal))
			optimal = decision.Keep
		}
	}

	rationale := c.Outcome.Rationale.Summary
	if len(reasons) > 0 {
		rationale = rationale + "; " + joinReasons(reasons)
	}

	return Action{
		ActionID:  newActionID(),
		Target:    c.Target,
		Action:    optimal,
		PreChecks: dedupePreChecks(preChecks),
		Blocked:   blocked,
		Rationale: rationale,
	}
}

func highestLoss(o decision.Outcome, a decision.Action) float64 {
	for _, e := range o.ExpectedLoss {
		if e.Action == a {
			return e.Loss
		}
	}
	return 0
}

func lossOf(a Action) float64 {
	// Synthetic staged-pause actions carry no expected-loss entry of their
	// own; they sort immediately after their triggering kill by virtue of
	// zero loss, which keeps them adjacent to it within the Pause tier.
	return 0
}

func dedupePreChecks(checks []PreCheck) []PreCheck {
	seen := make(map[PreCheck]bool, len(checks))
	out := make([]PreCheck, 0, len(checks))
	for _, c := range checks {
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

func joinReasons(reasons []string) string {
	out := reasons[0]
	for _, r := range reasons[1:] {
		out += "; " + r
	}
	return out
}

func newActionID() string {
	return uuid.NewString()
}
