// Package session implements the persisted execution plan, its resume
// semantics, and the monotonic {pending, applied, failed} state machine
// that lets a crashed run pick up exactly where it left off.
package session

import (
	"time"

	"github.com/processtriage/pt/internal/decision"
	"github.com/processtriage/pt/internal/identity"
)

// Status is a session's overall lifecycle state.
type Status string

const (
	StatusNew       Status = "new"
	StatusPlanned   Status = "planned"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
)

// transitions enumerates the only legal Status -> Status edges; the
// history vector below is append-only and never records a reverse edge.
var transitions = map[Status]map[Status]bool{
	StatusNew:       {StatusPlanned: true, StatusAborted: true},
	StatusPlanned:   {StatusExecuting: true, StatusAborted: true},
	StatusExecuting: {StatusCompleted: true, StatusAborted: true},
}

// CanTransition reports whether from -> to is a legal session state edge.
func CanTransition(from, to Status) bool {
	return transitions[from][to]
}

// StatusChange is one entry in a session's append-only state-history
// vector.
type StatusChange struct {
	From      Status    `json:"from"`
	To        Status    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// EntryStatus is the per-execution-entry outcome; {Pending, Applied,
// Failed} is monotonic and never transitions backward for a given
// identity within a session.
type EntryStatus string

const (
	EntryPending EntryStatus = "pending"
	EntryApplied EntryStatus = "applied"
	EntryFailed  EntryStatus = "failed"
)

// PlannedAction is one action committed to the session's plan at creation
// time.
type PlannedAction struct {
	Identity      identity.ProcessIdentity `json:"identity"`
	Action        decision.Action          `json:"action"`
	ExpectedLoss  float64                  `json:"expected_loss"`
	Rationale     string                   `json:"rationale"`
}

// ExecutionEntry is one append-only record of an attempt to apply a
// PlannedAction.
type ExecutionEntry struct {
	Identity  identity.ProcessIdentity `json:"identity"`
	Action    decision.Action          `json:"action"`
	Status    EntryStatus              `json:"status"`
	Timestamp time.Time                `json:"timestamp"`
	Error     string                   `json:"error,omitempty"`
}

// ExecutionPlan is the full persisted unit of work for one session.
type ExecutionPlan struct {
	SessionID string          `json:"session_id"`
	Actions   []PlannedAction `json:"actions"`
	Log       []ExecutionEntry `json:"log"`
}

// AppliedSet returns the set of identities whose most recent log entry has
// status Applied.
func (p ExecutionPlan) AppliedSet() map[identity.ProcessIdentity]bool {
	latest := p.latestStatusByIdentity()
	out := make(map[identity.ProcessIdentity]bool, len(latest))
	for id, status := range latest {
		if status == EntryApplied {
			out[id] = true
		}
	}
	return out
}

// PendingActions returns the PlannedActions whose identity is not yet in
// AppliedSet — i.e. the work a resume pass still needs to attempt.
func (p ExecutionPlan) PendingActions() []PlannedAction {
	applied := p.AppliedSet()
	var pending []PlannedAction
	for _, a := range p.Actions {
		if !applied[a.Identity] {
			pending = append(pending, a)
		}
	}
	return pending
}

func (p ExecutionPlan) latestStatusByIdentity() map[identity.ProcessIdentity]EntryStatus {
	latest := make(map[identity.ProcessIdentity]EntryStatus, len(p.Log))
	latestAt := make(map[identity.ProcessIdentity]time.Time, len(p.Log))
	for _, e := range p.Log {
		if prior, ok := latestAt[e.Identity]; ok && e.Timestamp.Before(prior) {
			continue
		}
		latest[e.Identity] = e.Status
		latestAt[e.Identity] = e.Timestamp
	}
	return latest
}

// Append records a new ExecutionEntry, enforcing the monotonic status rule:
// an identity already Applied may not be overwritten by a later Pending or
// Failed entry (Applied is a terminal, positive outcome).
func (p *ExecutionPlan) Append(entry ExecutionEntry) {
	latest := p.latestStatusByIdentity()
	if latest[entry.Identity] == EntryApplied {
		return
	}
	p.Log = append(p.Log, entry)
}
