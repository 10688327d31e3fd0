// Package inference computes per-class posteriors over evidence.AllClasses
// using Beta-Bernoulli, Gamma-hazard and Dirichlet-categorical likelihoods,
// normalised with the log-sum-exp trick, and produces the per-feature log
// Bayes factor ledger used to explain a classification.
package inference

import (
	"math"

	"github.com/processtriage/pt/internal/evidence"
)

// ReferenceClass is the class every per-feature Bayes factor is reported
// against.
const ReferenceClass = evidence.ClassUseful

// Engine evaluates evidence.Record values against a fixed evidence.PriorTable.
type Engine struct {
	priors evidence.PriorTable
}

// New builds an Engine bound to priors. priors is assumed to have already
// passed PriorTable.Validate.
func New(priors evidence.PriorTable) *Engine {
	return &Engine{priors: priors}
}

// featureLogLik holds, per evaluated class, the log-likelihood contribution
// of a single feature — kept so the ledger can report per-feature Bayes
// factors without re-deriving them from the joint log-posterior.
type featureLogLik struct {
	name string
	byClass map[evidence.Class]float64
	observed bool
}

// Classify computes the posterior ClassScores for rec and the supporting
// per-feature evidence used to build an EvidenceLedger entry.
func (e *Engine) Classify(rec evidence.Record) (evidence.ClassScores, []FeatureEvidence) {
	logJoint := make(map[evidence.Class]float64, len(evidence.AllClasses))
	var features []featureLogLik

	for _, class := range evidence.AllClasses {
		cp := e.priors.Classes[class]
		lp := math.Log(safeProb(cp.PriorProb))
		logJoint[class] = lp
	}

	addFeature := func(name string, contribution func(cp evidence.ClassPriors) (float64, bool)) {
		fl := featureLogLik{name: name, byClass: make(map[evidence.Class]float64, len(evidence.AllClasses))}
		any := false
		for _, class := range evidence.AllClasses {
			cp := e.priors.Classes[class]
			ll, ok := contribution(cp)
			if !ok {
				continue
			}
			any = true
			eta := cp.SafeBayesEta
			if eta <= 0 || eta > 1 {
				eta = 1
			}
			ll *= eta
			fl.byClass[class] = ll
			logJoint[class] += ll
		}
		if any {
			fl.observed = true
			features = append(features, fl)
		}
	}

	if rec.CPU != nil {
		cpu := clamp01(*rec.CPU)
		addFeature("cpu", func(cp evidence.ClassPriors) (float64, bool) {
			if cp.CPUBeta == nil {
				return 0, false
			}
			return betaLogPDF(cpu, cp.CPUBeta.Alpha, cp.CPUBeta.Beta), true
		})
	}
	if rec.RuntimeSeconds != nil {
		rt := math.Max(0, *rec.RuntimeSeconds)
		addFeature("runtime_seconds", func(cp evidence.ClassPriors) (float64, bool) {
			if cp.RuntimeGamma == nil {
				return 0, false
			}
			return gammaLogPDF(rt, cp.RuntimeGamma.Shape, cp.RuntimeGamma.Rate), true
		})
	}
	if rec.Orphan != nil {
		addFeature("orphan", bernoulliContribution(*rec.Orphan, func(cp evidence.ClassPriors) *evidence.BetaPrior { return cp.OrphanBeta }))
	}
	if rec.TTY != nil {
		addFeature("tty", bernoulliContribution(*rec.TTY, func(cp evidence.ClassPriors) *evidence.BetaPrior { return cp.TTYBeta }))
	}
	if rec.Net != nil {
		addFeature("net", bernoulliContribution(*rec.Net, func(cp evidence.ClassPriors) *evidence.BetaPrior { return cp.NetBeta }))
	}
	if rec.IOActive != nil {
		addFeature("io_active", bernoulliContribution(*rec.IOActive, func(cp evidence.ClassPriors) *evidence.BetaPrior { return cp.IOActiveBeta }))
	}
	if rec.CommandCategory != nil {
		cat := *rec.CommandCategory
		addFeature("command_category", func(cp evidence.ClassPriors) (float64, bool) {
			if cp.CommandCategory == nil {
				return 0, false
			}
			return dirichletCategoricalLogLik(cat, cp.CommandCategory.Alphas), true
		})
	}

	scores := normalize(logJoint)

	topClass, _ := scores.Top()
	var ledger []FeatureEvidence
	for _, f := range features {
		topLL, topOK := f.byClass[topClass]
		refLL, refOK := f.byClass[ReferenceClass]
		if !topOK || !refOK {
			continue
		}
		logBF := topLL - refLL
		ledger = append(ledger, FeatureEvidence{
			Feature:   f.name,
			LogBF:     logBF,
			DeltaBits: logBF / math.Ln2,
			Direction: direction(logBF),
			Strength:  strength(logBF),
		})
	}

	return scores, ledger
}

func bernoulliContribution(observed bool, pick func(evidence.ClassPriors) *evidence.BetaPrior) func(evidence.ClassPriors) (float64, bool) {
	return func(cp evidence.ClassPriors) (float64, bool) {
		bp := pick(cp)
		if bp == nil {
			return 0, false
		}
		// Posterior mean of Beta(alpha+1,beta) when observed, Beta(alpha,beta+1)
		// when not observed, used directly as the Bernoulli parameter.
		var p float64
		if observed {
			p = (bp.Alpha + 1) / (bp.Alpha + bp.Beta + 1)
		} else {
			p = bp.Alpha / (bp.Alpha + bp.Beta + 1)
		}
		p = clamp01(p)
		if observed {
			return math.Log(safeProb(p)), true
		}
		return math.Log(safeProb(1 - p)), true
	}
}

// normalize applies the log-sum-exp trick to a map of per-class log-joint
// values and returns a normalised evidence.ClassScores summing to 1.
func normalize(logJoint map[evidence.Class]float64) evidence.ClassScores {
	max := math.Inf(-1)
	for _, v := range logJoint {
		if v > max {
			max = v
		}
	}
	sum := 0.0
	for _, v := range logJoint {
		sum += math.Exp(v - max)
	}
	logZ := max + math.Log(sum)

	out := make(map[evidence.Class]float64, len(logJoint))
	for class, v := range logJoint {
		out[class] = math.Exp(v - logZ)
	}
	return evidence.ClassScores{
		Useful:    out[evidence.ClassUseful],
		UsefulBad: out[evidence.ClassUsefulBad],
		Abandoned: out[evidence.ClassAbandoned],
		Zombie:    out[evidence.ClassZombie],
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func safeProb(p float64) float64 {
	const eps = 1e-12
	if p < eps {
		return eps
	}
	if p > 1-eps {
		return 1 - eps
	}
	return p
}

func direction(logBF float64) string {
	if logBF >= 0 {
		return "increases"
	}
	return "decreases"
}

func strength(logBF float64) string {
	abs := math.Abs(logBF)
	switch {
	case abs >= 4.6: // ~ln(100), "decisive" on the Jeffreys scale
		return "decisive"
	case abs >= 2.3: // ~ln(10), "strong"
		return "strong"
	case abs >= 1.1: // ~ln(3), "substantial"
		return "substantial"
	default:
		return "weak"
	}
}
