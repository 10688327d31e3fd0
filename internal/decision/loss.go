package decision

import (
	"fmt"
	"sort"

	"github.com/processtriage/pt/internal/evidence"
)

// LossMatrix gives loss[class][action] for every action the policy
// considers allowed for that class; a missing cell means the action is
// infeasible for that class regardless of other feasibility signals.
type LossMatrix map[evidence.Class]map[Action]float64

// DefaultLossMatrix is a reasonable starting matrix: killing a useful
// process is maximally costly, keeping a zombie indefinitely is costly but
// not as costly as killing something useful.
func DefaultLossMatrix() LossMatrix {
	return LossMatrix{
		evidence.ClassUseful: {
			Keep: 0, Pause: 2, Throttle: 1, Renice: 0.5, Freeze: 3, Restart: 8, Kill: 20,
		},
		evidence.ClassUsefulBad: {
			Keep: 3, Pause: 1, Throttle: 0.5, Renice: 0.5, Freeze: 1, Restart: 2, Kill: 6,
		},
		evidence.ClassAbandoned: {
			Keep: 4, Pause: 1, Throttle: 1, Freeze: 0.5, Restart: 1, Kill: 0.5,
		},
		evidence.ClassZombie: {
			Keep: 5, Kill: 0,
		},
	}
}

// Feasible is a bitset over Action describing which actions may be applied
// to a given candidate this round.
type Feasible map[Action]bool

// AllFeasible returns a Feasible bitset with every action enabled.
func AllFeasible() Feasible {
	f := make(Feasible, len(Actions))
	for _, a := range Actions {
		f[a] = true
	}
	return f
}

// Disable clears the bit for action a, returning the same map for chaining.
func (f Feasible) Disable(a Action) Feasible {
	f[a] = false
	return f
}

// ForZombie narrows a feasibility bitset the way §4.4 requires: a zombie
// process cannot be killed (it is already dead; the kernel reaps it) or
// paused (nothing is scheduled to pause).
func ForZombie(f Feasible) Feasible {
	return f.Disable(Kill).Disable(Pause).Disable(Throttle).Disable(Freeze).Disable(Restart).Disable(Renice)
}

// ExpectedLossEntry is one action's expected loss, used both as scratch
// state and as the public DecisionOutcome payload.
type ExpectedLossEntry struct {
	Action Action  `json:"action"`
	Loss   float64 `json:"loss"`
}

// Rationale explains why an action was chosen.
type Rationale struct {
	Summary        string  `json:"summary"`
	OptimalLoss    float64 `json:"optimal_loss"`
	RunnerUpAction *Action `json:"runner_up_action,omitempty"`
	RunnerUpLoss   float64 `json:"runner_up_loss,omitempty"`
}

// Outcome is the full per-candidate decision result.
type Outcome struct {
	ExpectedLoss  []ExpectedLossEntry `json:"expected_loss"`
	OptimalAction Action              `json:"optimal_action"`
	Rationale     Rationale           `json:"rationale"`
	PosteriorOdds float64             `json:"posterior_odds,omitempty"`
}

// Decide computes the expected loss of every feasible action under
// posterior and matrix, and returns the feasible argmin with the fixed
// tie-break total order (ascending Action value, i.e. reversible-first).
//
// Expected losses are guaranteed non-negative whenever every populated cell
// of matrix is non-negative (Invariant 2); Decide never mutates matrix or
// posterior.
func Decide(posterior evidence.ClassScores, matrix LossMatrix, feasible Feasible) (Outcome, error) {
	entries := make([]ExpectedLossEntry, 0, len(Actions))
	for _, a := range Actions {
		if !feasible[a] {
			continue
		}
		loss, ok := expectedLoss(posterior, matrix, a)
		if !ok {
			continue // No class assigns a loss cell to this action: infeasible.
		}
		entries = append(entries, ExpectedLossEntry{Action: a, Loss: loss})
	}
	if len(entries) == 0 {
		return Outcome{}, fmt.Errorf("decision: no feasible action has a defined loss cell")
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Loss != entries[j].Loss {
			return entries[i].Loss < entries[j].Loss
		}
		return entries[i].Action < entries[j].Action
	})

	best := entries[0]
	rationale := Rationale{
		Summary:     fmt.Sprintf("%s minimises expected loss at %.4f", best.Action, best.Loss),
		OptimalLoss: best.Loss,
	}
	if len(entries) > 1 {
		ru := entries[1].Action
		rationale.RunnerUpAction = &ru
		rationale.RunnerUpLoss = entries[1].Loss
	}

	return Outcome{
		ExpectedLoss:  entries,
		OptimalAction: best.Action,
		Rationale:     rationale,
	}, nil
}

// expectedLoss sums posterior_c * loss[c][a] over every class that defines a
// cell for a. If no class defines a cell for a, ok is false (infeasible).
func expectedLoss(posterior evidence.ClassScores, matrix LossMatrix, a Action) (loss float64, ok bool) {
	for _, class := range evidence.AllClasses {
		cellsForClass, hasClass := matrix[class]
		if !hasClass {
			continue
		}
		cell, hasCell := cellsForClass[a]
		if !hasCell {
			continue
		}
		ok = true
		loss += posterior.Get(class) * cell
	}
	return loss, ok
}
