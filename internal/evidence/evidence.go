// Package evidence defines the observable signals collected for a process
// and the per-class prior tables the inference engine conditions on.
//
// The collection layer (native /proc enumeration) is out of scope for this
// module; evidence.Record is the typed boundary it must produce.
package evidence

// StateFlag mirrors the single-character /proc/<pid>/stat state codes the
// inference engine treats as categorical evidence.
type StateFlag string

const (
	StateRunning  StateFlag = "R"
	StateSleeping StateFlag = "S"
	StateDisk     StateFlag = "D"
	StateZombie   StateFlag = "Z"
	StateStopped  StateFlag = "T"
)

// Class is one of the four fixed process-triage classes.
type Class string

const (
	ClassUseful     Class = "useful"
	ClassUsefulBad  Class = "useful_bad"
	ClassAbandoned  Class = "abandoned"
	ClassZombie     Class = "zombie"
)

// AllClasses fixes the iteration order used everywhere a class loop needs
// determinism (log-sum-exp normalisation, ledger output, tie-breaks).
var AllClasses = [4]Class{ClassUseful, ClassUsefulBad, ClassAbandoned, ClassZombie}

// Record holds the heterogeneous per-process signals the inference engine
// conditions on. Every field is a pointer so that "not observed" and "false"
// are distinguishable; an absent field must never change the posterior
// relative to omitting that feature's likelihood term entirely.
type Record struct {
	CPU             *float64   `json:"cpu,omitempty"`             // fraction in [0,1]
	RuntimeSeconds  *float64   `json:"runtime_seconds,omitempty"` // >= 0
	Orphan          *bool      `json:"orphan,omitempty"`
	TTY             *bool      `json:"tty,omitempty"`
	IOActive        *bool      `json:"io_active,omitempty"`
	Net             *bool      `json:"net,omitempty"`
	StateFlagValue  *StateFlag `json:"state_flag,omitempty"`
	CommandCategory *string    `json:"command_category,omitempty"`
}

func boolPtr(b bool) *bool          { return &b }
func f64Ptr(f float64) *float64     { return &f }

// WithCPU returns a copy of r with CPU set, for fluent test construction.
func (r Record) WithCPU(v float64) Record { r.CPU = f64Ptr(v); return r }

// WithRuntimeSeconds returns a copy of r with RuntimeSeconds set.
func (r Record) WithRuntimeSeconds(v float64) Record { r.RuntimeSeconds = f64Ptr(v); return r }

// WithOrphan returns a copy of r with Orphan set.
func (r Record) WithOrphan(v bool) Record { r.Orphan = boolPtr(v); return r }

// WithTTY returns a copy of r with TTY set.
func (r Record) WithTTY(v bool) Record { r.TTY = boolPtr(v); return r }

// WithIOActive returns a copy of r with IOActive set.
func (r Record) WithIOActive(v bool) Record { r.IOActive = boolPtr(v); return r }

// WithNet returns a copy of r with Net set.
func (r Record) WithNet(v bool) Record { r.Net = boolPtr(v); return r }

// ClassScores is a normalised posterior over the four classes; Sum must be
// 1 +/- 1e-9.
type ClassScores struct {
	Useful    float64 `json:"useful"`
	UsefulBad float64 `json:"useful_bad"`
	Abandoned float64 `json:"abandoned"`
	Zombie    float64 `json:"zombie"`
}

// Get returns the posterior mass for a single class.
func (c ClassScores) Get(class Class) float64 {
	switch class {
	case ClassUseful:
		return c.Useful
	case ClassUsefulBad:
		return c.UsefulBad
	case ClassAbandoned:
		return c.Abandoned
	case ClassZombie:
		return c.Zombie
	default:
		return 0
	}
}

// Sum returns the total posterior mass, which should equal 1 within 1e-9
// for any ClassScores produced by the inference engine.
func (c ClassScores) Sum() float64 {
	return c.Useful + c.UsefulBad + c.Abandoned + c.Zombie
}

// Top returns the class with the highest posterior mass and its value.
func (c ClassScores) Top() (Class, float64) {
	best, bestP := ClassUseful, c.Useful
	for _, cl := range AllClasses[1:] {
		if p := c.Get(cl); p > bestP {
			best, bestP = cl, p
		}
	}
	return best, bestP
}
