// Package plan merges per-candidate decisions with guardrails and
// supervision verdicts into an ordered, pre-checked execution plan.
package plan

import (
	"time"

	"github.com/processtriage/pt/internal/decision"
	"github.com/processtriage/pt/internal/identity"
)

// PreCheck is a guard the executor must satisfy immediately before applying
// an action.
type PreCheck string

const (
	PreCheckVerifyIdentity PreCheck = "VerifyIdentity"
	PreCheckProtectedPattern PreCheck = "ProtectedPattern"
	PreCheckDataLoss         PreCheck = "DataLoss"
	PreCheckSupervisionOK    PreCheck = "SupervisionOK"
	PreCheckSessionSafety    PreCheck = "SessionSafety"
	PreCheckSupervisor       PreCheck = "Supervisor"
)

// Action is one planned, ordered step.
type Action struct {
	ActionID   string                   `json:"action_id"`
	Target     identity.ProcessIdentity `json:"target"`
	Action     decision.Action          `json:"action"`
	PreChecks  []PreCheck               `json:"pre_checks"`
	Blocked    bool                     `json:"blocked"`
	Rationale  string                   `json:"rationale"`
}

// Plan is the ordered output of the planner: actions are ordered by
// ascending destructiveness, then by ascending expected loss within the
// same destructiveness tier (§4.7 step 5).
type Plan struct {
	Actions []Action `json:"actions"`
}

// Candidate is a single process under consideration by the planner, with
// its decision outcome and supervision verdict already computed.
type Candidate struct {
	Target       identity.ProcessIdentity
	Outcome      decision.Outcome
	NeverKill    bool // from supervision.CombinedResult.NeverKill()
	HasActiveTTY bool
	Protected    bool // matched a protected pattern / user / group / never-kill PID set
	MinAgeMet    bool // process age satisfies the configured min_age guardrail
	DataLossArmed bool // any data-loss gate is armed for this candidate
}

// GuardrailConfig holds the planner's static guardrail knobs.
type GuardrailConfig struct {
	MaxKillsPerRun  int `yaml:"max_kills_per_run" json:"max_kills_per_run"`
	MaxKillsPerHour int `yaml:"max_kills_per_hour" json:"max_kills_per_hour"`
	MaxKillsPerDay  int `yaml:"max_kills_per_day" json:"max_kills_per_day"`

	// StagedPauseBeforeKill enables a synthetic Pause step ahead of a Kill
	// for any candidate whose expected loss for Kill exceeds
	// StagedPauseCostThreshold (a "high-cost destructive action").
	StagedPauseBeforeKill     bool    `yaml:"staged_pause_before_kill" json:"staged_pause_before_kill"`
	StagedPauseCostThreshold  float64 `yaml:"staged_pause_cost_threshold" json:"staged_pause_cost_threshold"`

	// ProtectedUIDs lists UIDs whose processes are always Protected.
	ProtectedUIDs []uint32 `yaml:"protected_uids" json:"protected_uids"`

	// MinAge is the minimum process age a destructive action requires;
	// younger candidates are blocked regardless of decision outcome.
	MinAge time.Duration `yaml:"min_age" json:"min_age"`
}

// DefaultGuardrailConfig is a conservative starting point: a handful of
// kills per run, a slightly looser hourly/daily ceiling, staged pausing on.
func DefaultGuardrailConfig() GuardrailConfig {
	return GuardrailConfig{
		MaxKillsPerRun:           3,
		MaxKillsPerHour:          10,
		MaxKillsPerDay:           50,
		StagedPauseBeforeKill:    true,
		StagedPauseCostThreshold: 10,
		ProtectedUIDs:            []uint32{0},
		MinAge:                   10 * time.Second,
	}
}
