package decision

import (
	"math"
	"sync"
)

// LoadAccumulator is an EWMA smoother over the system load_score, reused
// directly from the pressure-accumulator idiom: P_{t+1} = a*P_t + (1-a)*A_t.
// One instance is shared for the whole host (load is a system-wide signal,
// unlike per-PID pressure).
type LoadAccumulator struct {
	mu    sync.Mutex
	alpha float64
	value float64
}

// NewLoadAccumulator creates a LoadAccumulator with smoothing factor alpha
// in [0,1]. Panics if out of range.
func NewLoadAccumulator(alpha float64) *LoadAccumulator {
	if alpha < 0.0 || alpha > 1.0 {
		panic("alpha must be in [0.0, 1.0]")
	}
	return &LoadAccumulator{alpha: alpha}
}

// Update applies one EWMA step given an instantaneous load_score in [0,1]
// and returns the smoothed value.
func (a *LoadAccumulator) Update(instant float64) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.value = a.alpha*a.value + (1.0-a.alpha)*clamp01(instant)
	return a.value
}

// Value returns the current smoothed load score without updating it.
func (a *LoadAccumulator) Value() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.value
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

// LoadSignals are the raw inputs blended into a single load_score.
type LoadSignals struct {
	QueueLength   float64 // candidates currently awaiting a decision
	QueueCapacity float64 // configured soft ceiling for QueueLength
	LoadPerCore   float64 // 1-minute load average / core count
	MemoryFrac    float64 // fraction of system memory in use, [0,1]
	PSISome10s    float64 // /proc/pressure/cpu "some" avg10, already a fraction
}

// LoadWeights are the per-signal blend weights; they need not sum to 1 —
// Score normalises by the weight total.
type LoadWeights struct {
	Queue  float64
	Load   float64
	Memory float64
	PSI    float64
}

// DefaultLoadWeights gives load-per-core and PSI the largest share, since
// they are the most direct proxies for host contention.
func DefaultLoadWeights() LoadWeights {
	return LoadWeights{Queue: 0.15, Load: 0.35, Memory: 0.2, PSI: 0.3}
}

// LoadScore blends the raw signals into a load_score in [0,1] using the
// configured weights.
func LoadScore(s LoadSignals, w LoadWeights) float64 {
	queueFrac := 0.0
	if s.QueueCapacity > 0 {
		queueFrac = clamp01(s.QueueLength / s.QueueCapacity)
	}
	total := w.Queue + w.Load + w.Memory + w.PSI
	if total <= 0 {
		return 0
	}
	blended := w.Queue*queueFrac + w.Load*clamp01(s.LoadPerCore) + w.Memory*clamp01(s.MemoryFrac) + w.PSI*clamp01(s.PSISome10s)
	return clamp01(blended / total)
}

// ScaleFactors are the exponent bases applied per §4.4: keep is scaled by
// keep_max^score (more expensive to "do nothing" under pressure),
// reversible actions by reversible_min^score (cheaper under pressure),
// risky (destructive) actions by risky_max^score (more expensive, to avoid
// panicked mass-killing under load).
type ScaleFactors struct {
	KeepMax        float64
	ReversibleMin  float64
	RiskyMax       float64
}

// DefaultScaleFactors gives keep and kill/restart a mild upward push under
// load while making pause/throttle/renice/freeze cheaper, nudging the
// optimiser toward reversible actions as pressure rises.
func DefaultScaleFactors() ScaleFactors {
	return ScaleFactors{KeepMax: 1.5, ReversibleMin: 0.6, RiskyMax: 2.0}
}

// Adjust scales matrix's cells for a single candidate by load_score,
// returning a new matrix (the caller's original is left untouched so the
// same base matrix can be reused across candidates with different scores).
func Adjust(matrix LossMatrix, score float64, factors ScaleFactors) LossMatrix {
	score = clamp01(score)
	out := make(LossMatrix, len(matrix))
	for class, cells := range matrix {
		newCells := make(map[Action]float64, len(cells))
		for action, loss := range cells {
			switch {
			case action == Keep:
				newCells[action] = loss * math.Pow(factors.KeepMax, score)
			case action.Reversible():
				newCells[action] = loss * math.Pow(factors.ReversibleMin, score)
			case action.Destructive():
				newCells[action] = loss * math.Pow(factors.RiskyMax, score)
			default:
				newCells[action] = loss
			}
		}
		out[class] = newCells
	}
	return out
}
