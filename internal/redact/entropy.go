package redact

import "math"

// StringEntropy computes H = -Σ p(cᵢ) * log₂(p(cᵢ)) over the byte-frequency
// distribution of s, generalising the fixed-size event-count histogram
// approach to an arbitrary-length alphabet: counts are bucketed by byte value
// instead of a fixed event-type index, but the reduction formula and the
// zero-total/degenerate-distribution conventions are unchanged.
//
// Returns 0.0 for an empty string or one made of a single repeated byte.
func StringEntropy(s string) float64 {
	if len(s) == 0 {
		return 0.0
	}
	var counts [256]int
	for i := 0; i < len(s); i++ {
		counts[s[i]]++
	}
	total := float64(len(s))
	var h float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / total
		h -= p * math.Log2(p)
	}
	return h
}

// MinSecretLen and MinSecretBitsPerChar are the thresholds a Detect-slot
// value must clear before it is treated as a high-entropy secret: at least
// 12 alphanumeric characters, averaging at least 4.5 bits of entropy per
// character.
const (
	MinSecretLen         = 12
	MinSecretBitsPerChar = 4.5
)

// LooksLikeSecret reports whether s clears the high-entropy secret
// threshold: long enough, and its per-character Shannon entropy is at or
// above MinSecretBitsPerChar.
func LooksLikeSecret(s string) bool {
	if len(s) < MinSecretLen {
		return false
	}
	if !isAlnumRun(s) {
		return false
	}
	return StringEntropy(s) >= MinSecretBitsPerChar
}

func isAlnumRun(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c == '+' || c == '/' || c == '=' || c == '-' || c == '_':
			// base64/JWT/url-safe alphabets: still eligible for entropy scoring.
		default:
			return false
		}
	}
	return true
}
