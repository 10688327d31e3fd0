package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/processtriage/pt/internal/action"
	"github.com/processtriage/pt/internal/audit"
	"github.com/processtriage/pt/internal/bundle"
	"github.com/processtriage/pt/internal/collect"
	"github.com/processtriage/pt/internal/decision"
	"github.com/processtriage/pt/internal/evidence"
	"github.com/processtriage/pt/internal/fdr"
	"github.com/processtriage/pt/internal/identity"
	"github.com/processtriage/pt/internal/inference"
	"github.com/processtriage/pt/internal/observability"
	"github.com/processtriage/pt/internal/plan"
	"github.com/processtriage/pt/internal/redact"
	"github.com/processtriage/pt/internal/session"
	"github.com/processtriage/pt/internal/storage"
	"github.com/processtriage/pt/internal/supervision"
	"github.com/processtriage/pt/internal/telemetry"
)

// fakeRunner always succeeds, so ScanOnce can be exercised without issuing
// real signals against real processes.
type fakeRunner struct{}

func (fakeRunner) Execute(identity.ProcessIdentity, decision.Action) error { return nil }
func (fakeRunner) Verify(identity.ProcessIdentity, decision.Action) error  { return nil }

// fakeIdentityProvider revalidates every identity as itself.
type fakeIdentityProvider struct{}

func (fakeIdentityProvider) Revalidate(id identity.ProcessIdentity) (identity.ProcessIdentity, error) {
	return id, nil
}

// noopDetector never reports supervision for any process.
type noopDetector struct{}

func (noopDetector) Detect(identity.ProcessIdentity) (supervision.Result, error) {
	return supervision.Result{}, nil
}

func writeFakeProcTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatalf("fixture: %v", err)
		}
	}
	must(os.MkdirAll(filepath.Join(root, "sys", "kernel", "random"), 0o755))
	must(os.WriteFile(filepath.Join(root, "sys", "kernel", "random", "boot_id"), []byte("boot-xyz\n"), 0o644))
	must(os.WriteFile(filepath.Join(root, "uptime"), []byte("5000.0 4000.0\n"), 0o644))

	must(os.MkdirAll(filepath.Join(root, "777"), 0o755))
	stat := "777 (worker) S 1 777 777 0 -1 4194304 0 0 0 0 0 0 0 0 0 0 0 0 100 0 0"
	must(os.WriteFile(filepath.Join(root, "777", "stat"), []byte(stat+"\n"), 0o644))
	must(os.WriteFile(filepath.Join(root, "777", "status"), []byte("Name:\tworker\nUid:\t1000\t1000\t1000\t1000\n"), 0o644))
	return root
}

func buildTestEngine(t *testing.T) (*Engine, *storage.DB, string) {
	t.Helper()
	procRoot := writeFakeProcTree(t)
	dataDir := t.TempDir()

	fixtureCollector, err := collect.NewCollectorAt(procRoot)
	if err != nil {
		t.Fatalf("NewCollectorAt: %v", err)
	}

	db, err := storage.Open(filepath.Join(dataDir, "pt.db"), 30)
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	auditWriter, err := audit.Open(filepath.Join(dataDir, "audit.jsonl"), 0)
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}
	t.Cleanup(func() { auditWriter.Close() })

	tel := telemetry.New(filepath.Join(dataDir, "telemetry"), "host-1", 100, 10, time.Hour, observability.NewMetrics(), nil)

	sessionStore := session.NewStore(dataDir)
	executor := action.New(fakeRunner{}, fakeIdentityProvider{}, nil, filepath.Join(dataDir, "executor.lock"))
	limiter := plan.NewRateLimiter(plan.DefaultGuardrailConfig())
	t.Cleanup(limiter.Close)
	planner := plan.New(plan.DefaultGuardrailConfig(), limiter)

	redactor := redact.NewRedactor(redact.DefaultPolicy(), redact.New("", nil))
	bundleDir := filepath.Join(dataDir, "bundles")

	eng := New(Deps{
		HostID:          "host-1",
		Collector:       fixtureCollector,
		Inference:       inference.New(evidence.DefaultPriorTable()),
		Priors:          evidence.DefaultPriorTable(),
		LossMatrix:      decision.DefaultLossMatrix(),
		LoadAccumulator: decision.NewLoadAccumulator(0.8),
		ScaleFactors:    decision.DefaultScaleFactors(),
		FdrMethod:       fdr.MethodEBH,
		FdrAlpha:        0.1,
		Supervision:     supervision.Detector{Ancestry: noopDetector{}, Environ: noopDetector{}, IPC: noopDetector{}},
		NeverKillConf:   0.9,
		Guardrails:      plan.DefaultGuardrailConfig(),
		Planner:         planner,
		Executor:        executor,
		SessionStore:    sessionStore,
		DB:              db,
		Audit:           auditWriter,
		Telemetry:       tel,
		Metrics:         observability.NewMetrics(),
		Redactor:        redactor,
		ExportProfile:   redact.ProfileSafe,
		BundleDir:       bundleDir,
		PTVersion:       "test",
	})
	return eng, db, bundleDir
}

func TestEngine_ScanOnce_ProducesReport(t *testing.T) {
	eng, db, _ := buildTestEngine(t)

	report, err := eng.ScanOnce(context.Background())
	if err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}
	if report.CandidatesSeen != 1 {
		t.Errorf("expected 1 candidate, got %d", report.CandidatesSeen)
	}
	if report.SessionID == "" {
		t.Error("expected a non-empty session id")
	}

	sessions, err := db.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 indexed session, got %d", len(sessions))
	}
}

func TestEngine_ScanOnce_SealsVerifiableBundle(t *testing.T) {
	eng, _, bundleDir := buildTestEngine(t)

	report, err := eng.ScanOnce(context.Background())
	if err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}

	bundlePath := filepath.Join(bundleDir, report.SessionID+".zip")
	r, err := bundle.Open(bundlePath)
	if err != nil {
		t.Fatalf("bundle.Open: %v", err)
	}
	defer r.Close()

	if r.Manifest.SessionID != report.SessionID {
		t.Errorf("expected bundle session_id %q, got %q", report.SessionID, r.Manifest.SessionID)
	}
	if r.Manifest.HostID == "host-1" {
		t.Errorf("expected host_id to be hashed by the redaction policy, got raw value %q", r.Manifest.HostID)
	}
	if r.Manifest.FileCount() != 2 {
		t.Errorf("expected 2 file entries, got %d", r.Manifest.FileCount())
	}

	planData, err := r.ReadVerified("plan.json")
	if err != nil {
		t.Fatalf("ReadVerified(plan.json): %v", err)
	}
	if len(planData) == 0 {
		t.Error("expected non-empty plan.json artifact")
	}
	if _, err := r.ReadVerified("session.json"); err != nil {
		t.Fatalf("ReadVerified(session.json): %v", err)
	}
}
