package bundle

import (
	"os"
	"path/filepath"
	"testing"
)

func testArtifacts() []Artifact {
	return []Artifact{
		{Path: "plan.json", Data: []byte(`[{"pid":1}]`), MimeType: "application/json"},
		{Path: "session.json", Data: []byte(`{"session_id":"s-1"}`), MimeType: "application/json"},
	}
}

func TestWrite_ReadVerified_RoundTrip(t *testing.T) {
	outPath := filepath.Join(t.TempDir(), "s-1.zip")
	base := New("host-abc123", "s-1", ProfileSafe, "1.0.0", "deadbeef")

	sealed, err := Write(outPath, base, testArtifacts())
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if sealed.FileCount() != 2 {
		t.Fatalf("expected 2 file entries, got %d", sealed.FileCount())
	}
	if sealed.SelfChecksum == "" {
		t.Fatal("expected a non-empty self checksum")
	}

	r, err := Open(outPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if r.Manifest.SessionID != "s-1" {
		t.Errorf("expected session_id %q, got %q", "s-1", r.Manifest.SessionID)
	}

	planData, err := r.ReadVerified("plan.json")
	if err != nil {
		t.Fatalf("ReadVerified(plan.json): %v", err)
	}
	if string(planData) != `[{"pid":1}]` {
		t.Errorf("unexpected plan.json contents: %s", planData)
	}

	sessionData, err := r.ReadVerified("session.json")
	if err != nil {
		t.Fatalf("ReadVerified(session.json): %v", err)
	}
	if string(sessionData) != `{"session_id":"s-1"}` {
		t.Errorf("unexpected session.json contents: %s", sessionData)
	}
}

func TestReadVerified_DetectsTampering(t *testing.T) {
	outPath := filepath.Join(t.TempDir(), "s-2.zip")
	base := New("host-abc123", "s-2", ProfileSafe, "1.0.0", "deadbeef")

	if _, err := Write(outPath, base, testArtifacts()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	raw, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	// Flip a byte in the archive body, past the local file headers, so the
	// ZIP still opens but an entry's content no longer matches its recorded
	// checksum.
	tampered := append([]byte(nil), raw...)
	flipped := false
	for i := len(tampered) - 1; i >= 0; i-- {
		if tampered[i] != 0 {
			tampered[i] ^= 0xFF
			flipped = true
			break
		}
	}
	if !flipped {
		t.Fatal("fixture: nothing to flip")
	}
	if err := os.WriteFile(outPath, tampered, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	r, err := Open(outPath)
	if err != nil {
		// A corrupted trailer can make the zip itself unreadable; either
		// failure mode demonstrates tampering is caught.
		return
	}
	defer r.Close()

	if _, err := r.ReadVerified("plan.json"); err != nil {
		return
	}
	if _, err := r.ReadVerified("session.json"); err != nil {
		return
	}
	t.Fatal("expected tampering to be detected by Open or ReadVerified")
}

func TestManifest_Validate_RejectsEmptyIdentifiers(t *testing.T) {
	m := New("", "s-1", ProfileSafe, "1.0.0", "deadbeef")
	if err := m.Validate(); err == nil {
		t.Fatal("expected Validate to reject an empty host_id")
	}
}

func TestManifest_Validate_RejectsBadSchemaVersion(t *testing.T) {
	m := New("host-abc123", "s-1", ProfileSafe, "1.0.0", "deadbeef")
	m.BundleVersion = "0.0.1"
	if err := m.Validate(); err == nil {
		t.Fatal("expected Validate to reject a mismatched bundle_version")
	}
}
