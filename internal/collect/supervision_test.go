package collect

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/processtriage/pt/internal/identity"
)

func writeProcEntry(t *testing.T, root string, pid int, comm string, ppid int) {
	t.Helper()
	dir := filepath.Join(root, itoa(pid))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	stat := itoa(pid) + " (" + comm + ") S " + itoa(ppid) + " " + itoa(pid) + " " + itoa(pid) + " 0 -1 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0 0"
	if err := os.WriteFile(filepath.Join(dir, "stat"), []byte(stat+"\n"), 0o644); err != nil {
		t.Fatalf("write stat: %v", err)
	}
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf []byte
	for n > 0 {
		buf = append([]byte{byte('0' + n%10)}, buf...)
		n /= 10
	}
	if neg {
		buf = append([]byte{'-'}, buf...)
	}
	return string(buf)
}

func TestAncestryDetector_MatchesParent(t *testing.T) {
	root := t.TempDir()
	writeProcEntry(t, root, 200, "claude", 1)
	writeProcEntry(t, root, 300, "bash", 200)

	d := NewAncestryDetector(root, 8)
	res, err := d.Detect(identity.ProcessIdentity{PID: 300})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !res.IsSupervised || res.Category != "agent" {
		t.Errorf("expected agent supervision match, got %+v", res)
	}
}

func TestAncestryDetector_NoMatch(t *testing.T) {
	root := t.TempDir()
	writeProcEntry(t, root, 300, "bash", 1)

	d := NewAncestryDetector(root, 8)
	res, err := d.Detect(identity.ProcessIdentity{PID: 300})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if res.IsSupervised {
		t.Errorf("expected no supervision match, got %+v", res)
	}
}

func TestAncestryDetector_ProcessNotFound(t *testing.T) {
	root := t.TempDir()
	d := NewAncestryDetector(root, 8)
	if _, err := d.Detect(identity.ProcessIdentity{PID: 9999}); err == nil {
		t.Fatal("expected an error for a missing process")
	}
}

func TestEnvironDetector_MatchesCI(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "400")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	environ := "PATH=/usr/bin\x00CI=true\x00HOME=/root\x00"
	if err := os.WriteFile(filepath.Join(dir, "environ"), []byte(environ), 0o644); err != nil {
		t.Fatalf("write environ: %v", err)
	}

	d := NewEnvironDetector(root)
	res, err := d.Detect(identity.ProcessIdentity{PID: 400})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !res.IsSupervised || res.Category != "ci" {
		t.Errorf("expected ci supervision match, got %+v", res)
	}
}

func TestIPCDetector_MatchesSocket(t *testing.T) {
	root := t.TempDir()
	fdDir := filepath.Join(root, "500", "fd")
	if err := os.MkdirAll(fdDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Symlink("/run/user/1000/vscode-ipc-abc.sock", filepath.Join(fdDir, "3")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	d := NewIPCDetector(root)
	res, err := d.Detect(identity.ProcessIdentity{PID: 500})
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if !res.IsSupervised {
		t.Errorf("expected ipc supervision match, got %+v", res)
	}
}
