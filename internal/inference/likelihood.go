package inference

import "math"

// betaLogPDF is the log density of Beta(alpha, beta) at x, used directly as
// the CPU-occupancy likelihood (x is a fraction in [0,1]).
func betaLogPDF(x, alpha, beta float64) float64 {
	x = clamp01(x)
	const eps = 1e-9
	if x < eps {
		x = eps
	}
	if x > 1-eps {
		x = 1 - eps
	}
	logBeta := lgammaSum(alpha) + lgammaSum(beta) - lgammaSum(alpha+beta)
	return (alpha-1)*math.Log(x) + (beta-1)*math.Log(1-x) - logBeta
}

// gammaLogPDF is the log density of Gamma(shape, rate) at x, used as the
// runtime hazard likelihood.
func gammaLogPDF(x, shape, rate float64) float64 {
	if x < 0 {
		x = 0
	}
	const eps = 1e-9
	if x < eps {
		x = eps
	}
	return shape*math.Log(rate) - lgammaSum(shape) + (shape-1)*math.Log(x) - rate*x
}

// dirichletCategoricalLogLik returns the log of the Dirichlet-categorical
// posterior-predictive probability of observing category cat given
// per-category pseudo-counts alphas (Laplace-style smoothed proportion).
func dirichletCategoricalLogLik(cat string, alphas map[string]float64) float64 {
	total := 0.0
	for _, a := range alphas {
		total += a
	}
	a, ok := alphas[cat]
	if !ok {
		// Unseen category: treat as one unit of uniform pseudo-count spread
		// over the existing support, matching Dirichlet smoothing behaviour.
		a = 1.0
		total += 1.0
	}
	if total <= 0 {
		return math.Log(1e-12)
	}
	return math.Log(safeProb(a / total))
}

func lgammaSum(x float64) float64 {
	v, _ := math.Lgamma(x)
	return v
}
