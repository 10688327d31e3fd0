package redact

import "testing"

func TestPolicy_ActionFor_Defaults(t *testing.T) {
	p := DefaultPolicy()
	if p.ActionFor("pid", ProfileSafe) != ActionAllow {
		t.Errorf("expected pid to be allowed")
	}
	if p.ActionFor("cmdline", ProfileSafe) != ActionNormalizeHash {
		t.Errorf("expected cmdline to be normalize_hash under safe profile")
	}
	if p.ActionFor("unknown_field_xyz", ProfileSafe) != ActionRedact {
		t.Errorf("expected unknown field to fail closed to redact")
	}
}

func TestPolicy_ActionFor_MinimalOverride(t *testing.T) {
	p := DefaultPolicy()
	if p.ActionFor("cmdline", ProfileMinimal) != ActionRedact {
		t.Errorf("expected cmdline to be redacted under minimal profile")
	}
}

func TestPolicy_ActionFor_ForensicOverride(t *testing.T) {
	p := DefaultPolicy()
	if p.ActionFor("cmdline", ProfileForensic) != ActionAllow {
		t.Errorf("expected cmdline to be allowed under forensic profile")
	}
	if p.ActionFor("session_token", ProfileForensic) != ActionDetect {
		t.Errorf("expected session_token to remain detect-gated even under forensic profile")
	}
}

func TestRedactor_Apply_Hash(t *testing.T) {
	r := NewRedactor(DefaultPolicy(), New("", nil))
	got := r.Apply("username", "alice", ProfileSafe)
	if got == "alice" {
		t.Errorf("expected username to be hashed")
	}
	if len(got) != DefaultHashTruncationBytes*2 {
		t.Errorf("expected %d hex chars, got %d (%q)", DefaultHashTruncationBytes*2, len(got), got)
	}
}

func TestRedactor_Apply_HashDeterministic(t *testing.T) {
	r := NewRedactor(DefaultPolicy(), New("", nil))
	a := r.Apply("username", "alice", ProfileSafe)
	b := r.Apply("username", "alice", ProfileSafe)
	if a != b {
		t.Errorf("hash action is not deterministic: %q vs %q", a, b)
	}
}

func TestRedactor_Apply_DetectSecret(t *testing.T) {
	r := NewRedactor(DefaultPolicy(), New("", nil))
	secret := "aK9fQ2zR8mX4pL7vN3tY6wB1cE5dH0jS"
	got := r.Apply("environ", secret, ProfileSafe)
	if got != RedactedPlaceholder {
		t.Errorf("expected high-entropy value to be redacted, got %q", got)
	}
}

func TestRedactor_Apply_DetectNonSecret(t *testing.T) {
	r := NewRedactor(DefaultPolicy(), New("", nil))
	got := r.Apply("environ", "PATH=/usr/bin:/bin", ProfileSafe)
	if got == RedactedPlaceholder {
		t.Errorf("expected low-entropy value to pass through canonicalized, got %q", got)
	}
}

func TestRedactor_Apply_Truncate(t *testing.T) {
	r := NewRedactor(DefaultPolicy(), New("", nil))
	long := make([]byte, DefaultTruncateLen+50)
	for i := range long {
		long[i] = 'a'
	}
	got := r.Apply("free_text_note", string(long), ProfileSafe)
	if len(got) >= len(long) {
		t.Errorf("expected truncated output to be shorter than input")
	}
}

func TestPolicyHash_StableAcrossCalls(t *testing.T) {
	p := DefaultPolicy()
	h1 := PolicyHash(p)
	h2 := PolicyHash(p)
	if h1 != h2 {
		t.Errorf("policy hash is not stable: %q vs %q", h1, h2)
	}
}

func TestRedactRecord(t *testing.T) {
	r := NewRedactor(DefaultPolicy(), New("", nil))
	fields := map[string]string{
		"pid":      "1234",
		"username": "bob",
	}
	out := r.RedactRecord(fields, ProfileSafe)
	if out["pid"] != "1234" {
		t.Errorf("expected pid to pass through, got %q", out["pid"])
	}
	if out["username"] == "bob" {
		t.Errorf("expected username to be hashed")
	}
}
