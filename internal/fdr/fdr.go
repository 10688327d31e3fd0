// Package fdr implements e-value based False Discovery Rate gating
// (e-BH / e-BY / None) over a batch of candidates, ported from the
// reference fdr_selection algorithm: sort descending by e-value, then
// find the largest rank r whose e-value clears threshold(r) — a full scan,
// not an early-stopping search, since e-values are not guaranteed monotone
// enough for early exit to be safe.
package fdr

import (
	"math"
	"sort"

	"github.com/processtriage/pt/internal/identity"
)

// Method selects which FDR-control rule SelectFDR applies.
type Method string

const (
	// MethodNone selects every candidate whose e-value exceeds 1 — no
	// multiplicity correction.
	MethodNone Method = "none"

	// MethodEBH is the e-value analogue of Benjamini-Hochberg.
	MethodEBH Method = "ebh"

	// MethodEBY is the e-value analogue of Benjamini-Yekutieli, which
	// applies a harmonic correction factor c(m) and is therefore always at
	// least as conservative as e-BH at the same alpha.
	MethodEBY Method = "eby"
)

// Candidate is one batch member under consideration for FDR-gated
// admission, paired with its e-value (a non-negative random variable whose
// expectation under the null is <= 1).
type Candidate struct {
	Target  identity.ProcessIdentity
	EValue  float64
}

// Result is the per-candidate FDR outcome.
type Result struct {
	Target    identity.ProcessIdentity `json:"target"`
	EValue    float64                  `json:"e_value"`
	Rank      int                      `json:"rank"` // 1-based, by descending e-value
	Threshold float64                  `json:"threshold"`
	Selected  bool                     `json:"selected"`
}

// Selection is the full batch output of SelectFDR.
type Selection struct {
	Method      Method                     `json:"method"`
	Alpha       float64                    `json:"alpha"`
	Results     []Result                   `json:"results"`
	SelectedIDs []identity.ProcessIdentity `json:"selected_ids"`
	SelectedK   int                        `json:"selected_k"`
}

// SelectFDR applies method at level alpha to candidates. It never mutates
// the input slice; output Results are in the same order as the input.
//
// Monotonicity invariant (property 4): increasing any candidate's e_value,
// holding everything else fixed, never decreases SelectedK.
// eBY is never more liberal than eBH at the same alpha (property 5), since
// c(m) >= 1 for every m >= 1.
func SelectFDR(candidates []Candidate, alpha float64, method Method) Selection {
	m := len(candidates)
	sel := Selection{Method: method, Alpha: alpha, Results: make([]Result, m)}
	if m == 0 {
		return sel
	}

	// Sort a scratch index slice descending by e-value; ties keep input
	// order (stable) so the selection is deterministic for identical input.
	order := make([]int, m)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return candidates[order[i]].EValue > candidates[order[j]].EValue
	})

	effectiveAlpha := alpha
	if method == MethodEBY {
		effectiveAlpha = alpha / harmonicSum(m)
	}

	selectedK := 0
	if method == MethodNone {
		for _, idx := range order {
			if candidates[idx].EValue > 1 {
				selectedK++
			} else {
				break // Sorted descending: nothing further exceeds 1 either.
			}
		}
	} else {
		// Full scan over every rank r in [1, m]: threshold(r) = m / (alpha' * r).
		// selected_k is the LARGEST r whose e-value at that rank clears its
		// threshold — not the first such r found, since the admissible set
		// is not necessarily a prefix once threshold(r) has been computed
		// for every r.
		for r := 1; r <= m; r++ {
			threshold := thresholdAt(m, effectiveAlpha, r)
			eAtR := candidates[order[r-1]].EValue
			if eAtR >= threshold {
				selectedK = r
			}
		}
	}

	for rank, idx := range order {
		r := rank + 1
		threshold := math.NaN()
		if method != MethodNone {
			threshold = thresholdAt(m, effectiveAlpha, r)
		} else {
			threshold = 1
		}
		sel.Results[idx] = Result{
			Target:    candidates[idx].Target,
			EValue:    candidates[idx].EValue,
			Rank:      r,
			Threshold: threshold,
			Selected:  r <= selectedK,
		}
	}

	sel.SelectedK = selectedK
	for _, idx := range order[:selectedK] {
		sel.SelectedIDs = append(sel.SelectedIDs, candidates[idx].Target)
	}
	return sel
}

// thresholdAt returns m / (alpha * r), the e-BH/e-BY admission threshold at
// rank r out of m candidates.
func thresholdAt(m int, alpha float64, r int) float64 {
	return float64(m) / (alpha * float64(r))
}

// harmonicSum returns c(m) = sum_{j=1..m} 1/j, the e-BY correction factor.
func harmonicSum(m int) float64 {
	sum := 0.0
	for j := 1; j <= m; j++ {
		sum += 1.0 / float64(j)
	}
	return sum
}
