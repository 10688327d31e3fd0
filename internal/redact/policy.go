package redact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Action is the classifier verdict applied to one field of a collected
// record.
type Action string

const (
	// ActionAllow passes the value through unchanged.
	ActionAllow Action = "allow"
	// ActionHash replaces the value with a truncated SHA-256 hex digest.
	ActionHash Action = "hash"
	// ActionNormalize runs the value through canonicalisation only.
	ActionNormalize Action = "normalize"
	// ActionNormalizeHash canonicalises the value, then hashes the result.
	ActionNormalizeHash Action = "normalize_hash"
	// ActionRedact replaces the value with a fixed placeholder.
	ActionRedact Action = "redact"
	// ActionDetect runs the entropy-based secret detector and redacts only
	// if the value looks like a secret; otherwise passes through unchanged.
	ActionDetect Action = "detect"
	// ActionTruncate caps the value's length, appending a truncation marker.
	ActionTruncate Action = "truncate"
)

// RedactedPlaceholder is substituted for any value the policy redacts
// outright or detects as a secret.
const RedactedPlaceholder = "[REDACTED]"

// DefaultHashTruncationBytes is the number of leading bytes of a SHA-256
// digest kept when an action truncates a hash to a shorter, still-unique-
// enough identifier.
const DefaultHashTruncationBytes = 8

// DefaultTruncateLen is the default maximum length ActionTruncate keeps
// before appending the truncation marker.
const DefaultTruncateLen = 256

// PolicyVersion identifies the field-rule table in effect; bump on any
// change to DefaultPolicy's rule set.
const PolicyVersion = "1.0.0"

// Policy is the field classifier: a base rule per named field, plus
// per-export-profile overrides layered on top.
type Policy struct {
	Version             string
	HashTruncationBytes int
	TruncateLen         int
	Rules               map[string]Action
	ProfileOverrides    map[ExportProfile]map[string]Action
}

// DefaultPolicy returns the built-in 21-field rule table used when no
// operator override is supplied.
func DefaultPolicy() Policy {
	return Policy{
		Version:             PolicyVersion,
		HashTruncationBytes: DefaultHashTruncationBytes,
		TruncateLen:         DefaultTruncateLen,
		Rules: map[string]Action{
			"pid":             ActionAllow,
			"uid":             ActionAllow,
			"gid":             ActionAllow,
			"start_id":        ActionAllow,
			"process_category": ActionAllow,
			"state_flag":      ActionAllow,
			"action":          ActionAllow,
			"class":           ActionAllow,
			"posterior":       ActionAllow,
			"blocked":         ActionAllow,
			"session_id":      ActionAllow,
			"host_id":         ActionHash,
			"rationale":       ActionTruncate,
			"details":         ActionTruncate,
			"ts":              ActionAllow,
			"exe_path":        ActionNormalize,
			"cwd":             ActionNormalize,
			"cmdline":         ActionNormalizeHash,
			"environ":         ActionDetect,
			"username":        ActionHash,
			"hostname":        ActionHash,
			"container_id":    ActionHash,
			"cgroup_path":     ActionNormalize,
			"tty_path":        ActionNormalize,
			"network_peer":    ActionHash,
			"network_local":   ActionHash,
			"open_file_paths": ActionNormalizeHash,
			"parent_cmdline":  ActionNormalizeHash,
			"session_token":   ActionDetect,
			"free_text_note":  ActionTruncate,
		},
		ProfileOverrides: map[ExportProfile]map[string]Action{
			ProfileMinimal: {
				"exe_path":        ActionHash,
				"cwd":              ActionRedact,
				"cmdline":          ActionRedact,
				"environ":          ActionRedact,
				"cgroup_path":      ActionRedact,
				"tty_path":         ActionRedact,
				"open_file_paths":  ActionRedact,
				"parent_cmdline":   ActionRedact,
				"session_token":    ActionRedact,
			},
			ProfileSafe: {
				// Default rules above already describe the "safe" balance;
				// no overrides needed.
			},
			ProfileForensic: {
				"exe_path":       ActionAllow,
				"cwd":            ActionAllow,
				"cmdline":        ActionAllow,
				"cgroup_path":    ActionAllow,
				"tty_path":       ActionAllow,
				"open_file_paths": ActionAllow,
				"parent_cmdline": ActionAllow,
				// environ and session_token keep ActionDetect even under
				// forensic export: raw secrets are never bulk-exported.
			},
		},
	}
}

// ActionFor returns the effective action for field under profile: the
// profile override if one exists, falling back to the base rule, falling
// back to ActionRedact for any field the table does not name (fail closed).
func (p Policy) ActionFor(field string, profile ExportProfile) Action {
	if overrides, ok := p.ProfileOverrides[profile]; ok {
		if a, ok := overrides[field]; ok {
			return a
		}
	}
	if a, ok := p.Rules[field]; ok {
		return a
	}
	return ActionRedact
}

// ExportProfile is re-exported here (rather than imported from bundle) to
// keep internal/redact free of a dependency on internal/bundle; the two
// string sets are kept in lockstep by convention and compared by value at
// the call sites that bridge them.
type ExportProfile string

const (
	ProfileMinimal  ExportProfile = "minimal"
	ProfileSafe     ExportProfile = "safe"
	ProfileForensic ExportProfile = "forensic"
)

// Redactor applies a Policy's per-field actions to a record's values,
// canonicalising through c wherever the action calls for it.
type Redactor struct {
	policy Policy
	canon  *Canonicalizer
}

// NewRedactor binds a Policy to a Canonicalizer.
func NewRedactor(policy Policy, canon *Canonicalizer) *Redactor {
	return &Redactor{policy: policy, canon: canon}
}

// Policy returns the rule table this Redactor applies, so a caller can
// fingerprint it (PolicyHash) for e.g. a bundle manifest's
// RedactionPolicyHash field.
func (r *Redactor) Policy() Policy { return r.policy }

// Apply runs the effective action for field/profile against value,
// returning the redacted/hashed/normalized result.
func (r *Redactor) Apply(field, value string, profile ExportProfile) string {
	switch r.policy.ActionFor(field, profile) {
	case ActionAllow:
		return value
	case ActionNormalize:
		return r.canon.Canonicalize(value)
	case ActionHash:
		return r.hash(value)
	case ActionNormalizeHash:
		return r.hash(r.canon.Canonicalize(value))
	case ActionRedact:
		return RedactedPlaceholder
	case ActionDetect:
		if LooksLikeSecret(value) {
			return RedactedPlaceholder
		}
		return r.canon.Canonicalize(value)
	case ActionTruncate:
		return r.truncate(value)
	default:
		return RedactedPlaceholder
	}
}

func (r *Redactor) hash(value string) string {
	sum := sha256.Sum256([]byte(value))
	n := r.policy.HashTruncationBytes
	if n <= 0 || n > len(sum) {
		n = len(sum)
	}
	return hex.EncodeToString(sum[:n])
}

func (r *Redactor) truncate(value string) string {
	max := r.policy.TruncateLen
	if max <= 0 {
		max = DefaultTruncateLen
	}
	if len(value) <= max {
		return value
	}
	return fmt.Sprintf("%s...[truncated %d bytes]", value[:max], len(value)-max)
}
