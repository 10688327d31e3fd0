package collect

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/processtriage/pt/internal/identity"
)

// writeFakeProc builds a minimal fake /proc tree with one process so
// Enumerate and readStat can be exercised without root or a real kernel.
func writeFakeProc(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("fixture setup: %v", err)
		}
	}

	must(os.MkdirAll(filepath.Join(root, "sys", "kernel", "random"), 0o755))
	must(os.WriteFile(filepath.Join(root, "sys", "kernel", "random", "boot_id"), []byte("boot-123\n"), 0o644))
	must(os.WriteFile(filepath.Join(root, "uptime"), []byte("1000.50 900.0\n"), 0o644))

	must(os.MkdirAll(filepath.Join(root, "1234"), 0o755))
	// pid comm state ppid pgrp session tty_nr tpgid flags ... (field 22 = starttime)
	stat := "1234 (myproc) S 1 1234 1234 0 -1 4194304 " +
		"0 0 0 0 0 0 0 0 0 0 0 0 500 0 0"
	must(os.WriteFile(filepath.Join(root, "1234", "stat"), []byte(stat+"\n"), 0o644))
	must(os.WriteFile(filepath.Join(root, "1234", "status"), []byte("Name:\tmyproc\nUid:\t1000\t1000\t1000\t1000\n"), 0o644))

	return root
}

func TestCollector_Enumerate(t *testing.T) {
	root := writeFakeProc(t)
	c, err := newCollectorAt(root)
	if err != nil {
		t.Fatalf("newCollectorAt: %v", err)
	}

	cands, err := c.Enumerate()
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	if len(cands) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(cands))
	}
	got := cands[0]
	if got.Identity.PID != 1234 {
		t.Errorf("expected pid 1234, got %d", got.Identity.PID)
	}
	if got.Identity.UID != 1000 {
		t.Errorf("expected uid 1000, got %d", got.Identity.UID)
	}
	if got.Evidence.Orphan == nil || !*got.Evidence.Orphan {
		t.Errorf("expected orphan=true (ppid 1), got %+v", got.Evidence.Orphan)
	}
	if got.Evidence.StateFlagValue == nil || *got.Evidence.StateFlagValue != "S" {
		t.Errorf("expected state S, got %+v", got.Evidence.StateFlagValue)
	}
}

func TestProcIdentityProvider_Revalidate(t *testing.T) {
	root := writeFakeProc(t)
	c, err := newCollectorAt(root)
	if err != nil {
		t.Fatalf("newCollectorAt: %v", err)
	}
	p := NewProcIdentityProvider(root, c.BootID())

	cands, err := c.Enumerate()
	if err != nil {
		t.Fatalf("Enumerate: %v", err)
	}
	got, err := p.Revalidate(cands[0].Identity)
	if err != nil {
		t.Fatalf("Revalidate: %v", err)
	}
	if !got.Matches(cands[0].Identity) {
		t.Errorf("expected revalidated identity to match original, got %+v vs %+v", got, cands[0].Identity)
	}
}

func TestProcIdentityProvider_RevalidateMissingProcess(t *testing.T) {
	root := writeFakeProc(t)
	p := NewProcIdentityProvider(root, "boot-123")
	if _, err := p.Revalidate(identity.ProcessIdentity{PID: 9999}); err == nil {
		t.Fatal("expected error revalidating a PID with no /proc entry")
	}
}
