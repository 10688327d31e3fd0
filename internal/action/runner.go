package action

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/processtriage/pt/internal/decision"
	"github.com/processtriage/pt/internal/identity"
)

// SignalRunner implements Runner against real OS processes via signals and
// cgroup v2 controls. It re-checks the identity's start_id immediately
// before the syscall that delivers a signal, so a PID recycled between
// plan construction and dispatch cannot be hit by mistake.
type SignalRunner struct {
	// CgroupRoot is the cgroup v2 mount point, normally "/sys/fs/cgroup".
	CgroupRoot string

	// startIDOf re-reads a PID's current start_id for the TOCTOU check
	// immediately before signalling; overridable in tests.
	startIDOf func(pid uint32) (string, error)

	// PropagationWait is how long Verify waits before re-reading
	// cgroup.freeze after a freeze/unfreeze write.
	PropagationWait time.Duration
}

// NewSignalRunner builds a SignalRunner with the real /proc-based start_id
// reader and a 50ms freeze-propagation wait.
func NewSignalRunner(cgroupRoot string) *SignalRunner {
	return &SignalRunner{
		CgroupRoot:      cgroupRoot,
		startIDOf:       readStartTicks,
		PropagationWait: 50 * time.Millisecond,
	}
}

// Execute dispatches a over the process identified by id.
func (r *SignalRunner) Execute(id identity.ProcessIdentity, a decision.Action) error {
	switch a {
	case decision.Keep:
		return nil
	case decision.Kill, decision.Pause, decision.Restart:
		return r.signalAction(id, a)
	case decision.Freeze:
		return r.writeFreeze(id, true)
	case decision.Throttle, decision.Renice:
		return r.renice(id, a)
	default:
		return &Error{Kind: "failed", Message: fmt.Sprintf("unsupported action %s", a)}
	}
}

// Verify re-observes the process/cgroup state and confirms the action's
// effect actually took place.
func (r *SignalRunner) Verify(id identity.ProcessIdentity, a decision.Action) error {
	switch a {
	case decision.Keep:
		return nil
	case decision.Kill:
		if processAlive(id.PID) {
			return &Error{Kind: "failed", Message: "process still alive after kill"}
		}
		return nil
	case decision.Pause, decision.Restart:
		return nil // Signal delivery has no directly re-observable state here.
	case decision.Freeze:
		time.Sleep(r.PropagationWait)
		frozen, err := r.readFreezeState(id)
		if err != nil {
			return &Error{Kind: "failed", Message: err.Error()}
		}
		if !frozen {
			return &Error{Kind: "failed", Message: "cgroup.freeze did not read back as frozen"}
		}
		return nil
	case decision.Throttle, decision.Renice:
		return nil
	default:
		return &Error{Kind: "failed", Message: fmt.Sprintf("unsupported action %s", a)}
	}
}

// signalAction re-checks start_id immediately before the syscall, then
// delivers the appropriate POSIX signal.
func (r *SignalRunner) signalAction(id identity.ProcessIdentity, a decision.Action) error {
	if err := r.recheckStartID(id); err != nil {
		return err
	}

	var sig unix.Signal
	switch a {
	case decision.Kill:
		sig = unix.SIGKILL
	case decision.Pause:
		sig = unix.SIGSTOP
	case decision.Restart:
		sig = unix.SIGHUP
	default:
		return &Error{Kind: "failed", Message: fmt.Sprintf("%s is not a signal action", a)}
	}

	if err := unix.Kill(int(id.PID), sig); err != nil {
		if err == unix.EPERM {
			return &Error{Kind: "permission_denied", Message: err.Error()}
		}
		if err == unix.ESRCH {
			return &Error{Kind: "identity_mismatch", Message: "process vanished between revalidation and signal"}
		}
		return &Error{Kind: "failed", Message: err.Error()}
	}
	return nil
}

// recheckStartID re-reads the live process's start_id and compares it to
// id.StartID; a mismatch means the PID has already been recycled and the
// caller must not deliver the signal.
func (r *SignalRunner) recheckStartID(id identity.ProcessIdentity) error {
	currentTicks, err := r.startIDOf(id.PID)
	if err != nil {
		return &Error{Kind: "identity_mismatch", Message: err.Error()}
	}
	// id.StartID is "boot_id:start_time_ticks:pid"; compare just the ticks
	// fragment, since that is what this re-check can actually observe.
	parts := strings.Split(id.StartID, ":")
	expectedTicks := id.StartID
	if len(parts) == 3 {
		expectedTicks = parts[1]
	}
	if currentTicks != expectedTicks {
		return &Error{Kind: "identity_mismatch", Message: "start_id changed immediately before dispatch"}
	}
	return nil
}

func (r *SignalRunner) renice(id identity.ProcessIdentity, a decision.Action) error {
	if err := r.recheckStartID(id); err != nil {
		return err
	}
	priority := 10
	if a == decision.Throttle {
		priority = 19
	}
	if err := unix.Setpriority(unix.PRIO_PROCESS, int(id.PID), priority); err != nil {
		if err == unix.EPERM {
			return &Error{Kind: "permission_denied", Message: err.Error()}
		}
		return &Error{Kind: "failed", Message: err.Error()}
	}
	return nil
}

func (r *SignalRunner) cgroupFreezePath(id identity.ProcessIdentity) string {
	return filepath.Join(r.CgroupRoot, "pt.slice", fmt.Sprintf("pid-%d", id.PID), "cgroup.freeze")
}

func (r *SignalRunner) writeFreeze(id identity.ProcessIdentity, frozen bool) error {
	val := "0"
	if frozen {
		val = "1"
	}
	path := r.cgroupFreezePath(id)
	if err := os.WriteFile(path, []byte(val), 0o644); err != nil {
		return &Error{Kind: "failed", Message: fmt.Sprintf("write %s: %v", path, err)}
	}
	return nil
}

func (r *SignalRunner) readFreezeState(id identity.ProcessIdentity) (bool, error) {
	data, err := os.ReadFile(r.cgroupFreezePath(id))
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(string(data)) == "1", nil
}

func processAlive(pid uint32) bool {
	return unix.Kill(int(pid), 0) == nil
}

// readStartTicks reads /proc/<pid>/stat and returns the start_time field
// (field 22) as the identity-comparable fragment of start_id.
func readStartTicks(pid uint32) (string, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return "", err
	}
	// Field 2 (comm) may itself contain spaces/parens, so split on the
	// closing paren first.
	idx := strings.LastIndexByte(string(data), ')')
	if idx < 0 || idx+2 >= len(data) {
		return "", fmt.Errorf("malformed /proc/%d/stat", pid)
	}
	fields := strings.Fields(string(data[idx+2:]))
	const startTimeFieldOffset = 19 // field 22 overall, 0-indexed from field 3
	if len(fields) <= startTimeFieldOffset {
		return "", fmt.Errorf("short /proc/%d/stat", pid)
	}
	ticks, err := strconv.ParseUint(fields[startTimeFieldOffset], 10, 64)
	if err != nil {
		return "", err
	}
	return strconv.FormatUint(ticks, 10), nil
}
