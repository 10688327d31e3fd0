// Package collect is the native /proc enumeration boundary: it produces the
// identity.ProcessIdentity and evidence.Record pairs every other component
// in the pipeline conditions on. The collection layer itself is an external
// collaborator specified only at its interface; this implementation is kept
// deliberately small and reuses the same /proc/<pid>/stat parsing idiom as
// internal/action's TOCTOU re-check.
package collect

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/processtriage/pt/internal/evidence"
	"github.com/processtriage/pt/internal/identity"
)

// Candidate pairs one process's identity with the evidence observed for it
// in a single scan pass.
type Candidate struct {
	Identity identity.ProcessIdentity
	Evidence evidence.Record
}

// Collector enumerates live processes from /proc.
type Collector struct {
	procRoot string
	bootID   string
}

// NewCollector reads the kernel boot_id once and builds a Collector rooted
// at /proc.
func NewCollector() (*Collector, error) {
	return newCollectorAt("/proc")
}

// NewCollectorAt builds a Collector rooted at an arbitrary procRoot,
// letting callers outside this package point at a fixture tree in tests.
func NewCollectorAt(procRoot string) (*Collector, error) {
	return newCollectorAt(procRoot)
}

func newCollectorAt(procRoot string) (*Collector, error) {
	bootID, err := readBootID(procRoot)
	if err != nil {
		return nil, fmt.Errorf("collect: read boot_id: %w", err)
	}
	return &Collector{procRoot: procRoot, bootID: bootID}, nil
}

// Enumerate walks every numeric entry under /proc and returns a Candidate
// for each PID it could read a stat line for. Processes that exit between
// the directory listing and the stat read are silently skipped — a scan is
// a best-effort snapshot, not a transaction.
func (c *Collector) Enumerate() ([]Candidate, error) {
	entries, err := os.ReadDir(c.procRoot)
	if err != nil {
		return nil, fmt.Errorf("collect: read %s: %w", c.procRoot, err)
	}

	uptime, err := readUptimeSeconds(c.procRoot)
	if err != nil {
		return nil, fmt.Errorf("collect: read uptime: %w", err)
	}

	out := make([]Candidate, 0, len(entries))
	for _, e := range entries {
		pid64, err := strconv.ParseUint(e.Name(), 10, 32)
		if err != nil {
			continue // Not a PID directory.
		}
		pid := uint32(pid64)

		st, err := readStat(c.procRoot, pid)
		if err != nil {
			continue // Process vanished or is inaccessible; skip it.
		}
		uid, err := readUID(c.procRoot, pid)
		if err != nil {
			uid = 0
		}

		id := identity.NewFull(c.bootID, st.startTimeTicks, pid, uid)

		runtimeSeconds := uptime - float64(st.startTimeTicks)/clockTicksPerSecond
		if runtimeSeconds < 0 {
			runtimeSeconds = 0
		}
		orphan := st.ppid == 1
		tty := st.ttyNr != 0
		state := evidence.StateFlag(st.state)

		rec := evidence.Record{
			RuntimeSeconds: &runtimeSeconds,
			Orphan:         &orphan,
			TTY:            &tty,
			StateFlagValue: &state,
		}
		out = append(out, Candidate{Identity: id, Evidence: rec})
	}
	return out, nil
}

// ProcIdentityProvider implements action.IdentityProvider by re-reading a
// PID's current start_id from /proc immediately before dispatch.
type ProcIdentityProvider struct {
	procRoot string
	bootID   string
}

// NewProcIdentityProvider builds an IdentityProvider sharing the same
// boot_id resolution as Collector.
func NewProcIdentityProvider(procRoot, bootID string) *ProcIdentityProvider {
	return &ProcIdentityProvider{procRoot: procRoot, bootID: bootID}
}

// Revalidate re-reads the target PID's stat line and returns its current
// identity, or an error if the process is gone.
func (p *ProcIdentityProvider) Revalidate(target identity.ProcessIdentity) (identity.ProcessIdentity, error) {
	st, err := readStat(p.procRoot, target.PID)
	if err != nil {
		return identity.ProcessIdentity{}, err
	}
	uid, err := readUID(p.procRoot, target.PID)
	if err != nil {
		uid = target.UID
	}
	return identity.NewFull(p.bootID, st.startTimeTicks, target.PID, uid), nil
}

const clockTicksPerSecond = 100 // USER_HZ; correct for every mainstream Linux distro's default.

type statFields struct {
	state          string
	ppid           int
	ttyNr          int
	startTimeTicks uint64
}

// readStat parses /proc/<pid>/stat, splitting on the last ')' so a comm
// field containing spaces or parens cannot desynchronise the column count
// (the same technique internal/action's readStartTicks uses).
func readStat(procRoot string, pid uint32) (statFields, error) {
	data, err := os.ReadFile(fmt.Sprintf("%s/%d/stat", procRoot, pid))
	if err != nil {
		return statFields{}, err
	}
	idx := strings.LastIndexByte(string(data), ')')
	if idx < 0 || idx+2 >= len(data) {
		return statFields{}, fmt.Errorf("malformed /proc/%d/stat", pid)
	}
	fields := strings.Fields(string(data[idx+2:]))
	// fields[0] is field 3 (state) in the canonical /proc/<pid>/stat layout.
	const (
		idxState     = 0
		idxPPID      = 1
		idxTTY       = 4
		idxStartTime = 19
	)
	if len(fields) <= idxStartTime {
		return statFields{}, fmt.Errorf("short /proc/%d/stat", pid)
	}
	ppid, err := strconv.Atoi(fields[idxPPID])
	if err != nil {
		return statFields{}, err
	}
	tty, err := strconv.Atoi(fields[idxTTY])
	if err != nil {
		return statFields{}, err
	}
	startTicks, err := strconv.ParseUint(fields[idxStartTime], 10, 64)
	if err != nil {
		return statFields{}, err
	}
	return statFields{state: fields[idxState], ppid: ppid, ttyNr: tty, startTimeTicks: startTicks}, nil
}

// readUID parses the first value of the "Uid:" line in /proc/<pid>/status,
// which is the real UID.
func readUID(procRoot string, pid uint32) (uint32, error) {
	data, err := os.ReadFile(fmt.Sprintf("%s/%d/status", procRoot, pid))
	if err != nil {
		return 0, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "Uid:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, fmt.Errorf("malformed Uid line in /proc/%d/status", pid)
		}
		v, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			return 0, err
		}
		return uint32(v), nil
	}
	return 0, fmt.Errorf("no Uid line in /proc/%d/status", pid)
}

func readBootID(procRoot string) (string, error) {
	data, err := os.ReadFile(procRoot + "/sys/kernel/random/boot_id")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func readUptimeSeconds(procRoot string) (float64, error) {
	data, err := os.ReadFile(procRoot + "/uptime")
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) < 1 {
		return 0, fmt.Errorf("malformed /proc/uptime")
	}
	return strconv.ParseFloat(fields[0], 64)
}

// BootID exposes the resolved boot_id for callers that need to share it
// with a ProcIdentityProvider constructed separately from the Collector.
func (c *Collector) BootID() string { return c.bootID }
