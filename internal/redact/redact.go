package redact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// PolicyHash returns a stable hex-SHA-256 fingerprint of a policy's rule
// table, suitable for embedding as bundle.Manifest.RedactionPolicyHash so a
// reader can detect that a bundle was produced under different rules than
// the ones currently configured.
func PolicyHash(p Policy) string {
	keys := make([]string, 0, len(p.Rules))
	for k := range p.Rules {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	fmt.Fprintf(h, "version=%s\n", p.Version)
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%s\n", k, p.Rules[k])
	}

	profiles := make([]string, 0, len(p.ProfileOverrides))
	for pr := range p.ProfileOverrides {
		profiles = append(profiles, string(pr))
	}
	sort.Strings(profiles)
	for _, pr := range profiles {
		overrides := p.ProfileOverrides[ExportProfile(pr)]
		fkeys := make([]string, 0, len(overrides))
		for k := range overrides {
			fkeys = append(fkeys, k)
		}
		sort.Strings(fkeys)
		for _, k := range fkeys {
			fmt.Fprintf(h, "profile=%s %s=%s\n", pr, k, overrides[k])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// RedactFields applies r's policy to a heterogeneous field map — the shape
// telemetry rows and bundle artifact summaries are actually built in,
// where pid/posterior/blocked are numeric or boolean rather than string.
// A field whose effective action is ActionAllow passes through with its
// original type untouched; every other action stringifies the value first
// (via fmt.Sprint) and returns the redacted/hashed/normalized string, same
// as RedactRecord. This is what lets the same field-classifier table fail
// closed on an unrecognised field regardless of its Go type.
func (r *Redactor) RedactFields(fields map[string]any, profile ExportProfile) map[string]any {
	out := make(map[string]any, len(fields))
	for field, value := range fields {
		if r.policy.ActionFor(field, profile) == ActionAllow {
			out[field] = value
			continue
		}
		out[field] = r.Apply(field, fmt.Sprint(value), profile)
	}
	return out
}

// RedactRecord applies r's policy to every field in fields, under profile,
// returning a new map of the same keys with redacted/hashed/normalized
// values. Keys absent from the policy's rule table fail closed to
// ActionRedact (see Policy.ActionFor), so a newly-added field is never
// accidentally exported raw.
func (r *Redactor) RedactRecord(fields map[string]string, profile ExportProfile) map[string]string {
	out := make(map[string]string, len(fields))
	for field, value := range fields {
		out[field] = r.Apply(field, value, profile)
	}
	return out
}
