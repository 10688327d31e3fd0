package decision

import (
	"math"

	"github.com/processtriage/pt/internal/evidence"
)

// Probe is a candidate additional observation (e.g. "sample /proc/<pid>/io
// again in 2s", "read cgroup memory.current") with a known cost and a set
// of hypothetical posteriors it might resolve to, each with its own
// likelihood of occurring.
type Probe struct {
	Name string
	Cost float64
	// Outcomes enumerates the possible posteriors this probe could resolve
	// to, each weighted by the probability that outcome occurs. Weights
	// must sum to 1; Score does not renormalise them.
	Outcomes []ProbeOutcome
}

// ProbeOutcome is one possible posterior a Probe might resolve to.
type ProbeOutcome struct {
	Probability float64
	Posterior   evidence.ClassScores
}

// Score computes the value of information for a probe: the expected
// reduction in minimum loss it buys, net of its cost.
//
//	VOI = current_min_loss - E[min_loss | probe] - cost
//
// VOI >= 0 means the probe is worth taking. current_min_loss is the
// expected loss of the best feasible action under the current posterior,
// without probing.
func ProbeVOI(currentPosterior evidence.ClassScores, matrix LossMatrix, feasible Feasible, probe Probe) (voi float64, err error) {
	currentOutcome, err := Decide(currentPosterior, matrix, feasible)
	if err != nil {
		return 0, err
	}
	currentMinLoss := currentOutcome.Rationale.OptimalLoss

	expectedMinLoss := 0.0
	for _, o := range probe.Outcomes {
		outcome, err := Decide(o.Posterior, matrix, feasible)
		if err != nil {
			return 0, err
		}
		expectedMinLoss += o.Probability * outcome.Rationale.OptimalLoss
	}

	return currentMinLoss - expectedMinLoss - probe.Cost, nil
}

// Worthwhile reports whether a probe's VOI is non-negative.
func Worthwhile(voi float64) bool {
	return voi >= 0
}

// BestProbe evaluates every candidate probe and returns the index of the
// one with the highest VOI, along with that VOI. Returns ok=false if probes
// is empty or every probe errors.
func BestProbe(currentPosterior evidence.ClassScores, matrix LossMatrix, feasible Feasible, probes []Probe) (bestIdx int, bestVOI float64, ok bool) {
	bestVOI = math.Inf(-1)
	for i, p := range probes {
		v, err := ProbeVOI(currentPosterior, matrix, feasible, p)
		if err != nil {
			continue
		}
		if !ok || v > bestVOI {
			bestIdx, bestVOI, ok = i, v, true
		}
	}
	return bestIdx, bestVOI, ok
}
