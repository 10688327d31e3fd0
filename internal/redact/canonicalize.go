// Package redact implements the canonicalisation + field-classifier
// pipeline that turns raw collected strings into stable, privacy-safe
// artifacts: trim/collapse/lowercase, structural placeholder substitution,
// then a policy-driven {allow, hash, normalize, redact, detect} action per
// field class.
package redact

import (
	"regexp"
	"strings"
)

// CanonicalizationVersion is persisted alongside any hash produced from a
// canonicalised value, so downstream tools can detect a rule change.
const CanonicalizationVersion = "1.0.0"

var (
	reMultipleSpaces = regexp.MustCompile(`\s+`)
	rePidArg         = regexp.MustCompile(`(?i)--pid[=\s]+\d+`)
	rePortArg        = regexp.MustCompile(`(?i)--port[=\s]+\d+`)
	reUUID           = regexp.MustCompile(`[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	reTimestampISO   = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:?\d{2})?`)
	reTimestampUnix  = regexp.MustCompile(`\b(1|2)\d{9,12}\b`) // 10-13 digit, ~2000-2100 range
	reURLCred        = regexp.MustCompile(`([a-zA-Z][a-zA-Z0-9+.-]*://)[^/@\s]+:[^/@\s]+@`)
	reNumericSuffix  = regexp.MustCompile(`_\d+\b`)
	reTmpSession     = regexp.MustCompile(`/tmp/[^\s]*`)
)

// Canonicalizer applies the fixed canonicalisation pipeline to raw strings.
// homeDir is substituted for the [HOME] placeholder; customPatterns are
// applied last, after every built-in rule.
type Canonicalizer struct {
	homeDir        string
	customPatterns []CustomPattern
}

// CustomPattern is an operator-supplied additional canonicalisation rule,
// applied after all built-in rules.
type CustomPattern struct {
	Pattern     *regexp.Regexp
	Replacement string
}

// New builds a Canonicalizer bound to homeDir (usually $HOME).
func New(homeDir string, customPatterns []CustomPattern) *Canonicalizer {
	return &Canonicalizer{homeDir: homeDir, customPatterns: customPatterns}
}

// Canonicalize applies every rule in the fixed order documented in
// SPEC_FULL.md §4.1:
//  1. trim
//  2. collapse whitespace
//  3. lowercase
//  4. replace $HOME -> [HOME]
//  5. replace /tmp/* -> [TMP]/*
//  6. replace --pid N -> --pid [PID]
//  7. replace --port N -> [PORT]
//  8. replace UUIDs -> [UUID]
//  9. replace ISO timestamps -> [TIMESTAMP], then Unix timestamps -> [TIMESTAMP]
//  10. replace trailing numeric suffixes (outside bracketed placeholders) -> [N]
//  11. replace user:pass@ URL credentials -> [CRED]@
//  12. apply custom patterns
//
// Canonicalize is idempotent: every placeholder it introduces is immune to
// every later step (placeholders contain no digits, uppercase letters, or
// further-matchable structure once produced), so re-running it on its own
// output is a no-op.
func (c *Canonicalizer) Canonicalize(raw string) string {
	s := strings.TrimSpace(raw)
	s = reMultipleSpaces.ReplaceAllString(s, " ")
	s = strings.ToLower(s)

	if c.homeDir != "" {
		s = strings.ReplaceAll(s, strings.ToLower(c.homeDir), "[HOME]")
	}
	s = reTmpSession.ReplaceAllString(s, "[TMP]")

	s = rePidArg.ReplaceAllString(s, "--pid [PID]")
	s = rePortArg.ReplaceAllString(s, "--port [PORT]")

	s = reUUID.ReplaceAllString(s, "[UUID]")
	s = reTimestampISO.ReplaceAllString(s, "[TIMESTAMP]")
	s = reTimestampUnix.ReplaceAllString(s, "[TIMESTAMP]")

	s = canonicalizeNumericSuffixes(s)

	s = reURLCred.ReplaceAllString(s, "$1[CRED]@")

	for _, cp := range c.customPatterns {
		s = cp.Pattern.ReplaceAllString(s, cp.Replacement)
	}

	return s
}

// canonicalizeNumericSuffixes replaces trailing "_123"-style numeric
// suffixes with "_[N]", but never touches text already inside a bracketed
// placeholder like "[UUID]" — it splits on "[" and only rewrites the
// segments outside brackets, mirroring the reference implementation's
// bracket-aware suffix pass.
func canonicalizeNumericSuffixes(s string) string {
	segments := strings.Split(s, "[")
	for i, seg := range segments {
		if i == 0 {
			segments[i] = reNumericSuffix.ReplaceAllString(seg, "_[N]")
			continue
		}
		// seg looks like "uuid]/rest/of/string_123"; only the part after the
		// closing bracket is eligible for suffix replacement.
		closeIdx := strings.IndexByte(seg, ']')
		if closeIdx < 0 {
			continue // Unbalanced bracket: leave untouched.
		}
		tail := reNumericSuffix.ReplaceAllString(seg[closeIdx+1:], "_[N]")
		segments[i] = seg[:closeIdx+1] + tail
	}
	return strings.Join(segments, "[")
}
