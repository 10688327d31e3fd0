// Package identity defines the TOCTOU-safe process handle used throughout
// the triage pipeline: every candidate, decision, plan action and audit
// entry carries a ProcessIdentity rather than a bare PID.
package identity

import "fmt"

// Quality describes how much of a ProcessIdentity could be recovered from
// the collection layer. A PidOnly identity is still usable but cannot be
// safely re-validated across a reused PID.
type Quality string

const (
	// QualityFull means boot_id, start_time_ticks and pid were all read
	// from /proc, so StartID is reuse-safe.
	QualityFull Quality = "full"

	// QualityNoBootID means the kernel boot_id was unavailable (e.g. a
	// container without access to /proc/sys/kernel/random/boot_id);
	// StartID is still monotonic within this boot but not across reboots.
	QualityNoBootID Quality = "no_boot_id"

	// QualityPidOnly means only the PID could be recovered; StartID
	// degrades to the PID itself and carries no reuse protection.
	QualityPidOnly Quality = "pid_only"
)

// ProcessIdentity is the sole TOCTOU-safe handle to a process. Two
// identities match iff PID, StartID, and UID are all bit-equal: StartID
// alone rules out PID reuse across a reboot or process-table wraparound,
// but a setuid/setreuid change within the same incarnation still changes
// who a destructive action would act against, so UID is part of the gate
// too.
type ProcessIdentity struct {
	PID     uint32  `json:"pid"`
	StartID string  `json:"start_id"`
	UID     uint32  `json:"uid"`
	PGID    *uint32 `json:"pgid,omitempty"`
	SID     *uint32 `json:"sid,omitempty"`
	Quality Quality `json:"quality"`
}

// NewFull builds a reuse-safe identity from a Linux boot_id, the process's
// start_time in clock ticks since boot, and its pid.
func NewFull(bootID string, startTimeTicks uint64, pid uint32, uid uint32) ProcessIdentity {
	return ProcessIdentity{
		PID:     pid,
		StartID: fmt.Sprintf("%s:%d:%d", bootID, startTimeTicks, pid),
		UID:     uid,
		Quality: QualityFull,
	}
}

// Matches reports whether two identities refer to the same process
// incarnation with the same owner. This is the only TOCTOU-safe equality
// check in the system; comparing PID alone is never sufficient because
// PIDs are recycled, and ignoring UID would let a re-validation pass
// through a privilege change unnoticed.
func (p ProcessIdentity) Matches(other ProcessIdentity) bool {
	return p.PID == other.PID && p.StartID == other.StartID && p.UID == other.UID
}

// String renders a short human-readable form for logs.
func (p ProcessIdentity) String() string {
	return fmt.Sprintf("pid=%d start_id=%s uid=%d", p.PID, p.StartID, p.UID)
}
