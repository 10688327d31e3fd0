package inference

import (
	"time"

	"github.com/processtriage/pt/internal/evidence"
	"github.com/processtriage/pt/internal/identity"
)

// Confidence buckets the top posterior mass into a human-facing label.
type Confidence string

const (
	ConfidenceVeryHigh Confidence = "very_high"
	ConfidenceHigh     Confidence = "high"
	ConfidenceMedium   Confidence = "medium"
	ConfidenceLow      Confidence = "low"
)

// ConfidenceFor labels the top posterior probability per the fixed
// thresholds: VeryHigh >= 0.99, High >= 0.95, Medium >= 0.80, else Low.
func ConfidenceFor(topPosterior float64) Confidence {
	switch {
	case topPosterior >= 0.99:
		return ConfidenceVeryHigh
	case topPosterior >= 0.95:
		return ConfidenceHigh
	case topPosterior >= 0.80:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// FeatureEvidence is a single per-feature log Bayes factor entry, reported
// against inference.ReferenceClass.
type FeatureEvidence struct {
	Feature   string  `json:"feature"`
	LogBF     float64 `json:"log_bf"`
	DeltaBits float64 `json:"delta_bits"`
	Direction string  `json:"direction"` // "increases" | "decreases"
	Strength  string  `json:"strength"`  // "weak" | "substantial" | "strong" | "decisive"
}

// LedgerEntry is the per-process record persisted once per scan: posterior,
// classification, confidence, and the feature-wise Bayes factor evidence
// that explains it.
type LedgerEntry struct {
	Identity       identity.ProcessIdentity `json:"identity"`
	Timestamp      time.Time                `json:"timestamp"`
	Posterior      evidence.ClassScores     `json:"posterior"`
	Classification evidence.Class           `json:"classification"`
	Confidence     Confidence               `json:"confidence"`
	BayesFactors   []FeatureEvidence        `json:"bayes_factors"`
	TopEvidence    []FeatureEvidence        `json:"top_evidence"`
	WhySummary     string                   `json:"why_summary"`
}

// Evaluate runs Classify and assembles the full LedgerEntry for a single
// process, including the top-N explanatory features and a one-line summary.
func (e *Engine) Evaluate(id identity.ProcessIdentity, rec evidence.Record, now time.Time) LedgerEntry {
	scores, bfs := e.Classify(rec)
	top, topP := scores.Top()

	sorted := append([]FeatureEvidence(nil), bfs...)
	sortByAbsDeltaBitsDesc(sorted)
	topN := sorted
	if len(topN) > 3 {
		topN = topN[:3]
	}

	return LedgerEntry{
		Identity:       id,
		Timestamp:      now,
		Posterior:      scores,
		Classification: top,
		Confidence:     ConfidenceFor(topP),
		BayesFactors:   bfs,
		TopEvidence:    topN,
		WhySummary:     summarize(top, topP, topN),
	}
}

func sortByAbsDeltaBitsDesc(fs []FeatureEvidence) {
	for i := 1; i < len(fs); i++ {
		for j := i; j > 0 && absF(fs[j].DeltaBits) > absF(fs[j-1].DeltaBits); j-- {
			fs[j], fs[j-1] = fs[j-1], fs[j]
		}
	}
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func summarize(top evidence.Class, topP float64, features []FeatureEvidence) string {
	if len(features) == 0 {
		return string(top) + " (no distinguishing evidence observed)"
	}
	lead := features[0]
	return string(top) + ": " + lead.Feature + " " + lead.Direction + " this classification (" + lead.Strength + ")"
}
