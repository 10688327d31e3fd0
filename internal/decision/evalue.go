package decision

import "github.com/processtriage/pt/internal/evidence"

// EValueForReclaim converts a posterior/prior pair into an e-value for the
// null hypothesis "this process is ClassUseful", suitable as fdr.Candidate's
// EValue. It is the posterior-to-prior odds ratio against usefulness: a
// valid e-value under a well-specified model, since its expectation under
// the null is the ratio of two probabilities of the same event and so
// averages to 1 across a population that is genuinely useful.
//
// Both probabilities are clamped away from 0 and 1 so a single
// maximum-confidence classification cannot produce +Inf or divide by zero.
func EValueForReclaim(posterior evidence.ClassScores, priors evidence.PriorTable) float64 {
	pPost := clampProb(posterior.Get(evidence.ClassUseful))
	pPrior := clampProb(priorUsefulProb(priors))

	oddsPost := (1 - pPost) / pPost
	oddsPrior := (1 - pPrior) / pPrior
	return oddsPost / oddsPrior
}

func priorUsefulProb(priors evidence.PriorTable) float64 {
	cp, ok := priors.Classes[evidence.ClassUseful]
	if !ok || cp.PriorProb <= 0 {
		return 0.55 // DefaultPriorTable's ClassUseful prior_prob.
	}
	return cp.PriorProb
}

func clampProb(p float64) float64 {
	const eps = 1e-9
	switch {
	case p < eps:
		return eps
	case p > 1-eps:
		return 1 - eps
	default:
		return p
	}
}
