package evidence

import "fmt"

// BetaPrior is a Beta(alpha, beta) prior over a Bernoulli/occupancy feature.
type BetaPrior struct {
	Alpha float64 `yaml:"alpha" json:"alpha"`
	Beta  float64 `yaml:"beta" json:"beta"`
}

// GammaPrior is a Gamma(shape, rate) prior used for the runtime hazard
// likelihood.
type GammaPrior struct {
	Shape float64 `yaml:"shape" json:"shape"`
	Rate  float64 `yaml:"rate" json:"rate"`
}

// DirichletPrior is a Dirichlet prior over a fixed set of categorical
// outcomes (command_category, state_flag); Alphas is keyed by category name.
type DirichletPrior struct {
	Alphas map[string]float64 `yaml:"alphas" json:"alphas"`
}

// ClassPriors are the per-class prior blocks declared in config. Only the
// four class blocks are required; every other field is optional and, if
// absent, the likelihood term for that feature is skipped rather than
// defaulted to an opinionated value — this is what keeps "absent field
// never changes the posterior" true.
type ClassPriors struct {
	PriorProb       float64          `yaml:"prior_prob" json:"prior_prob"`
	CPUBeta         *BetaPrior       `yaml:"cpu_beta,omitempty" json:"cpu_beta,omitempty"`
	RuntimeGamma    *GammaPrior      `yaml:"runtime_gamma,omitempty" json:"runtime_gamma,omitempty"`
	OrphanBeta      *BetaPrior       `yaml:"orphan_beta,omitempty" json:"orphan_beta,omitempty"`
	TTYBeta         *BetaPrior       `yaml:"tty_beta,omitempty" json:"tty_beta,omitempty"`
	NetBeta         *BetaPrior       `yaml:"net_beta,omitempty" json:"net_beta,omitempty"`
	IOActiveBeta    *BetaPrior       `yaml:"io_active_beta,omitempty" json:"io_active_beta,omitempty"`
	HazardGamma     *GammaPrior      `yaml:"hazard_gamma,omitempty" json:"hazard_gamma,omitempty"`
	CommandCategory *DirichletPrior  `yaml:"command_category,omitempty" json:"command_category,omitempty"`
	StateFlag       *DirichletPrior  `yaml:"state_flag,omitempty" json:"state_flag,omitempty"`

	// SafeBayesEta tempers the likelihood contribution of this class by
	// raising it to the power eta in (0,1]; 1 disables tempering. Used to
	// guard against model misspecification under heavy-tailed evidence.
	SafeBayesEta float64 `yaml:"safe_bayes_eta,omitempty" json:"safe_bayes_eta,omitempty"`
}

// PriorTable is the complete config-declared set of per-class priors.
// Unknown keys encountered while decoding YAML are ignored by the decoder
// (forward compatibility); any block omitted here substitutes an
// uninformative prior at evaluation time rather than failing to load.
type PriorTable struct {
	SchemaVersion string                 `yaml:"schema_version" json:"schema_version"`
	Classes       map[Class]ClassPriors  `yaml:"classes" json:"classes"`
}

// DefaultPriorTable returns a reasonable starting prior table covering
// exactly the four required classes with weakly-informative Beta/Gamma
// blocks; operators override via config.
func DefaultPriorTable() PriorTable {
	return PriorTable{
		SchemaVersion: "1.0.0",
		Classes: map[Class]ClassPriors{
			ClassUseful: {
				PriorProb:    0.55,
				CPUBeta:      &BetaPrior{Alpha: 4, Beta: 2},
				RuntimeGamma: &GammaPrior{Shape: 2, Rate: 0.0005},
				OrphanBeta:   &BetaPrior{Alpha: 1, Beta: 9},
				TTYBeta:      &BetaPrior{Alpha: 5, Beta: 2},
				NetBeta:      &BetaPrior{Alpha: 3, Beta: 3},
				IOActiveBeta: &BetaPrior{Alpha: 3, Beta: 3},
			},
			ClassUsefulBad: {
				PriorProb:    0.15,
				CPUBeta:      &BetaPrior{Alpha: 6, Beta: 1},
				RuntimeGamma: &GammaPrior{Shape: 2, Rate: 0.0008},
				OrphanBeta:   &BetaPrior{Alpha: 2, Beta: 8},
				TTYBeta:      &BetaPrior{Alpha: 2, Beta: 5},
				NetBeta:      &BetaPrior{Alpha: 4, Beta: 2},
				IOActiveBeta: &BetaPrior{Alpha: 5, Beta: 2},
			},
			ClassAbandoned: {
				PriorProb:    0.20,
				CPUBeta:      &BetaPrior{Alpha: 1, Beta: 6},
				RuntimeGamma: &GammaPrior{Shape: 1.5, Rate: 0.0002},
				OrphanBeta:   &BetaPrior{Alpha: 7, Beta: 1},
				TTYBeta:      &BetaPrior{Alpha: 1, Beta: 6},
				NetBeta:      &BetaPrior{Alpha: 1, Beta: 6},
				IOActiveBeta: &BetaPrior{Alpha: 1, Beta: 6},
			},
			ClassZombie: {
				PriorProb:    0.10,
				CPUBeta:      &BetaPrior{Alpha: 1, Beta: 20},
				OrphanBeta:   &BetaPrior{Alpha: 8, Beta: 1},
				TTYBeta:      &BetaPrior{Alpha: 1, Beta: 10},
				NetBeta:      &BetaPrior{Alpha: 1, Beta: 10},
				IOActiveBeta: &BetaPrior{Alpha: 1, Beta: 20},
			},
		},
	}
}

// Validate checks that exactly the four required classes are present and
// that their prior_prob fields sum to 1 within tolerance.
func (t PriorTable) Validate() error {
	var violations []string
	sum := 0.0
	for _, class := range AllClasses {
		cp, ok := t.Classes[class]
		if !ok {
			violations = append(violations, fmt.Sprintf("priors: missing required class block %q", class))
			continue
		}
		sum += cp.PriorProb
	}
	if len(violations) == 0 {
		const tolerance = 1e-9
		if d := sum - 1.0; d > tolerance || d < -tolerance {
			violations = append(violations, fmt.Sprintf("priors: prior_prob across classes sums to %.12f, want 1.0 +/- %g", sum, tolerance))
		}
	}
	if len(violations) > 0 {
		return fmt.Errorf("invalid prior table: %v", violations)
	}
	return nil
}
