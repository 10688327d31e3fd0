// Package supervision implements the composite "never kill" oracle: three
// independent detectors (ancestry, environ, ipc) each propose a verdict for
// a PID, and the combined result takes the argmax-confidence winner.
package supervision

import "github.com/processtriage/pt/internal/identity"

// Category classifies what kind of supervisor was detected.
type Category string

const (
	CategoryAgent        Category = "agent"
	CategoryIDE          Category = "ide"
	CategoryCI           Category = "ci"
	CategoryOrchestrator Category = "orchestrator"
	CategoryTerminal     Category = "terminal"
	CategoryOther        Category = "other"
)

// neverKillCategories are the categories that trigger the hard "never
// kill" verdict once confidence clears the threshold.
var neverKillCategories = map[Category]bool{
	CategoryAgent:        true,
	CategoryIDE:          true,
	CategoryCI:           true,
	CategoryOrchestrator: true,
}

// neverKillConfidence is the minimum confidence, from any single detector,
// required to trigger a "never kill" verdict for a never-kill category.
const neverKillConfidence = 0.9

// Evidence is one clue a detector observed in support of its verdict.
type Evidence struct {
	Type        string  `json:"type"`
	Description string  `json:"description"`
	Weight      float64 `json:"weight"`
}

// Result is the verdict of a single detector (ancestry, environ or ipc).
type Result struct {
	IsSupervised   bool       `json:"is_supervised"`
	Confidence     float64    `json:"confidence"`
	Category       Category   `json:"category,omitempty"`
	SupervisorName string     `json:"supervisor_name,omitempty"`
	Evidence       []Evidence `json:"evidence"`
}

func notSupervised() Result { return Result{} }

// CombinedResult is the composite verdict across all three detectors.
type CombinedResult struct {
	IsSupervised   bool       `json:"is_supervised"`
	SupervisorName string     `json:"supervisor_name,omitempty"`
	Category       Category   `json:"category,omitempty"`
	Confidence     float64    `json:"confidence"`
	Evidence       []Evidence `json:"evidence"`
	Ancestry       *Result    `json:"ancestry,omitempty"`
	Environ        *Result    `json:"environ,omitempty"`
	IPC            *Result    `json:"ipc,omitempty"`
}

// NeverKill reports whether this combined result triggers the hard
// "never kill" guardrail: any single detector returned confidence >= 0.9
// with a category in {agent, ide, ci, orchestrator}.
func (c CombinedResult) NeverKill() bool {
	for _, r := range []*Result{c.Ancestry, c.Environ, c.IPC} {
		if r == nil {
			continue
		}
		if r.Confidence >= neverKillConfidence && neverKillCategories[r.Category] {
			return true
		}
	}
	return false
}

// AncestryDetector walks a process's parent chain and matches names/paths
// against a supervisor pattern library.
type AncestryDetector interface {
	Detect(id identity.ProcessIdentity) (Result, error)
}

// EnvironDetector matches a process's environment block against known
// supervisor indicators (agent session tokens, IDE PIDs, CI env vars).
type EnvironDetector interface {
	Detect(id identity.ProcessIdentity) (Result, error)
}

// IPCDetector inspects a process's socket peers against a known-supervisor
// path/address list.
type IPCDetector interface {
	Detect(id identity.ProcessIdentity) (Result, error)
}

// ErrProcessNotFound is returned by AncestryDetector.Detect when the target
// process has already exited; Detector.Detect propagates it (ancestry
// failure is fatal to the combined result, unlike environ/ipc failures).
var ErrProcessNotFound = processNotFoundError{}

type processNotFoundError struct{}

func (processNotFoundError) Error() string { return "supervision: process not found" }

// Detector composes the three independent signal sources into a single
// CombinedResult, tolerating individual environ/ipc failures.
type Detector struct {
	Ancestry AncestryDetector
	Environ  EnvironDetector
	IPC      IPCDetector
}

// Detect runs all three detectors for id and combines their verdicts.
// An ancestry error (most commonly ErrProcessNotFound) propagates; environ
// and ipc errors are swallowed and treated as "no evidence" so a single
// flaky detector cannot hide supervision signal the others found.
func (d Detector) Detect(id identity.ProcessIdentity) (CombinedResult, error) {
	var combined CombinedResult

	ancestry, err := d.Ancestry.Detect(id)
	if err != nil {
		return CombinedResult{}, err
	}
	combined.Ancestry = &ancestry

	environ, err := d.Environ.Detect(id)
	if err == nil {
		combined.Environ = &environ
	} else {
		n := notSupervised()
		combined.Environ = &n
	}

	ipc, err := d.IPC.Detect(id)
	if err == nil {
		combined.IPC = &ipc
	} else {
		n := notSupervised()
		combined.IPC = &n
	}

	best := pickBest(ancestry, environ, ipc)
	combined.IsSupervised = best.Confidence > 0
	combined.Confidence = best.Confidence
	combined.Category = best.Category
	combined.SupervisorName = best.SupervisorName
	combined.Evidence = best.Evidence
	return combined, nil
}

func pickBest(results ...Result) Result {
	best := notSupervised()
	for _, r := range results {
		if r.Confidence > best.Confidence {
			best = r
		}
	}
	return best
}

// DetectBatch runs Detect for every id in ids, skipping (omitting from the
// result map) any process that produces ErrProcessNotFound — it is assumed
// to have exited mid-batch rather than failing the whole batch.
func (d Detector) DetectBatch(ids []identity.ProcessIdentity) (map[identity.ProcessIdentity]CombinedResult, error) {
	out := make(map[identity.ProcessIdentity]CombinedResult, len(ids))
	for _, id := range ids {
		res, err := d.Detect(id)
		if err != nil {
			if err == ErrProcessNotFound {
				continue
			}
			return nil, err
		}
		out[id] = res
	}
	return out, nil
}
