package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults_Valid(t *testing.T) {
	cfg := Defaults()
	if err := Validate(&cfg); err != nil {
		t.Fatalf("expected defaults to validate, got: %v", err)
	}
}

func TestValidate_RejectsBadSchemaVersion(t *testing.T) {
	cfg := Defaults()
	cfg.SchemaVersion = "2"
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected error for unsupported schema_version")
	}
}

func TestValidate_RejectsBadFdrMethod(t *testing.T) {
	cfg := Defaults()
	cfg.Fdr.Method = "bonferroni"
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected error for unknown fdr.method")
	}
}

func TestValidate_RejectsRelativeLockPath(t *testing.T) {
	cfg := Defaults()
	cfg.Executor.LockPath = "relative/path.lock"
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected error for relative executor.lock_path")
	}
}

func TestValidate_RejectsOutOfRangeAlpha(t *testing.T) {
	cfg := Defaults()
	cfg.Fdr.Alpha = 1.5
	if err := Validate(&cfg); err == nil {
		t.Fatal("expected error for fdr.alpha out of range")
	}
}

func TestLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := `
schema_version: "1"
host_id: testhost
fdr:
  method: eby
  alpha: 0.05
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HostID != "testhost" {
		t.Errorf("expected host_id to be overridden, got %q", cfg.HostID)
	}
	if cfg.Fdr.Method != "eby" || cfg.Fdr.Alpha != 0.05 {
		t.Errorf("expected fdr overrides to apply, got %+v", cfg.Fdr)
	}
	// Unset fields retain their defaults.
	if cfg.Executor.LockPath != Defaults().Executor.LockPath {
		t.Errorf("expected executor.lock_path default to survive merge, got %q", cfg.Executor.LockPath)
	}
}

func TestLoad_InvalidConfigRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := `
schema_version: "1"
host_id: testhost
fdr:
  alpha: 5.0
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected Load to reject an invalid alpha")
	}
}
