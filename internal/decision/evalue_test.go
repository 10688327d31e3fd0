package decision

import (
	"testing"

	"github.com/processtriage/pt/internal/evidence"
)

func TestEValueForReclaim_NeutralWhenPosteriorMatchesPrior(t *testing.T) {
	priors := evidence.DefaultPriorTable()
	posterior := evidence.ClassScores{Useful: priorUsefulProb(priors)}
	e := EValueForReclaim(posterior, priors)
	if e < 0.99 || e > 1.01 {
		t.Errorf("expected e-value ~= 1 when posterior matches prior, got %f", e)
	}
}

func TestEValueForReclaim_HighWhenConfidentNotUseful(t *testing.T) {
	priors := evidence.DefaultPriorTable()
	posterior := evidence.ClassScores{Useful: 0.01, Zombie: 0.99}
	e := EValueForReclaim(posterior, priors)
	if e <= 1 {
		t.Errorf("expected e-value > 1 for confident non-useful posterior, got %f", e)
	}
}

func TestEValueForReclaim_LowWhenConfidentlyUseful(t *testing.T) {
	priors := evidence.DefaultPriorTable()
	posterior := evidence.ClassScores{Useful: 0.999}
	e := EValueForReclaim(posterior, priors)
	if e >= 1 {
		t.Errorf("expected e-value < 1 for confidently useful posterior, got %f", e)
	}
}
