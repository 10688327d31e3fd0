// Package main — cmd/pt/main.go
//
// pt daemon entrypoint.
//
// Startup sequence:
//  1. Parse flags.
//  2. Load and validate config from /etc/pt/config.yaml.
//  3. Initialise structured logger (zap, JSON format).
//  4. Open BoltDB storage, prune stale ledger entries.
//  5. Build the collection, inference, decision, FDR, supervision,
//     planning, and execution collaborators.
//  6. Open the session store, audit writer, and telemetry writer.
//  7. Start the Prometheus metrics server.
//  8. Start the audit writer's flush loop.
//  9. Start the telemetry writer's flush loop.
// 10. Start the operator query socket (if enabled).
// 11. Register SIGHUP handler for config hot-reload.
// 12. Run the engine: a single scan pass, or a ticking loop at
//     scan.interval.
// 13. Block on SIGINT/SIGTERM for graceful shutdown.
//
// Shutdown sequence (on SIGINT/SIGTERM, or after a one-shot scan):
//  1. Cancel the root context (propagates to every background goroutine).
//  2. Wait for the background group to return (bounded by errgroup).
//  3. Close the audit writer (flushes and syncs).
//  4. Close the telemetry writer (flushes every table).
//  5. Close BoltDB.
//  6. Flush the logger.
//  7. Exit 0.
//
// On config validation failure, or on any collaborator failing to
// initialise: exit 1 immediately (no partial state).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/processtriage/pt/internal/action"
	"github.com/processtriage/pt/internal/audit"
	"github.com/processtriage/pt/internal/collect"
	"github.com/processtriage/pt/internal/config"
	"github.com/processtriage/pt/internal/decision"
	"github.com/processtriage/pt/internal/engine"
	"github.com/processtriage/pt/internal/evidence"
	"github.com/processtriage/pt/internal/fdr"
	"github.com/processtriage/pt/internal/inference"
	"github.com/processtriage/pt/internal/observability"
	"github.com/processtriage/pt/internal/operator"
	"github.com/processtriage/pt/internal/plan"
	"github.com/processtriage/pt/internal/redact"
	"github.com/processtriage/pt/internal/session"
	"github.com/processtriage/pt/internal/storage"
	"github.com/processtriage/pt/internal/supervision"
	"github.com/processtriage/pt/internal/telemetry"
)

func main() {
	// ── Flags ────────────────────────────────────────────────────────────
	configPath := flag.String("config", "/etc/pt/config.yaml", "Path to config.yaml")
	version := flag.Bool("version", false, "Print version and exit")
	once := flag.Bool("once", false, "Run a single scan pass and exit, ignoring scan.interval")
	flag.Parse()

	if *version {
		fmt.Printf("pt %s (commit=%s built=%s)\n", config.Version, config.GitCommit, config.BuildTime)
		os.Exit(0)
	}

	// ── Step 2: Load config ─────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: config load failed: %v\n", err)
		os.Exit(1)
	}

	// ── Step 3: Initialise logger ────────────────────────────────────────
	log, err := buildLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("pt starting",
		zap.String("version", config.Version),
		zap.String("commit", config.GitCommit),
		zap.String("built", config.BuildTime),
		zap.String("host_id", cfg.HostID),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Step 4: Open BoltDB, prune stale ledger entries ──────────────────
	db, err := storage.Open(cfg.Storage.DBPath, cfg.Storage.RetentionDays)
	if err != nil {
		log.Fatal("BoltDB open failed", zap.Error(err), zap.String("path", cfg.Storage.DBPath))
	}
	defer db.Close() //nolint:errcheck
	log.Info("BoltDB opened", zap.String("path", cfg.Storage.DBPath))

	if pruned, err := db.PruneOldLedgerEntries(); err != nil {
		log.Warn("ledger pruning failed", zap.Error(err))
	} else {
		log.Info("ledger pruned", zap.Int("deleted", pruned))
	}

	// ── Step 5: Build the pipeline collaborators ─────────────────────────
	collector, err := collect.NewCollector()
	if err != nil {
		log.Fatal("collector init failed", zap.Error(err))
	}

	priors := evidence.DefaultPriorTable()
	if cfg.Inference.PriorsPath != "" {
		log.Warn("inference.priors_path is set but custom prior tables are not yet loaded; using built-in priors",
			zap.String("path", cfg.Inference.PriorsPath))
	}
	if err := priors.Validate(); err != nil {
		log.Fatal("prior table validation failed", zap.Error(err))
	}
	inferenceEngine := inference.New(priors)

	lossMatrix := decision.DefaultLossMatrix()
	if cfg.Decision.LossMatrixPath != "" {
		log.Warn("decision.loss_matrix_path is set but custom loss matrices are not yet loaded; using the default matrix",
			zap.String("path", cfg.Decision.LossMatrixPath))
	}
	loadAccumulator := decision.NewLoadAccumulator(cfg.Decision.LoadAlpha)
	scaleFactors := decision.ScaleFactors{
		KeepMax:       cfg.Decision.Scale.KeepMax,
		ReversibleMin: cfg.Decision.Scale.ReversibleMin,
		RiskyMax:      cfg.Decision.Scale.RiskyMax,
	}

	ancestryDetector := collect.NewAncestryDetector("/proc", 8)
	environDetector := collect.NewEnvironDetector("/proc")
	ipcDetector := collect.NewIPCDetector("/proc")
	ancestryCache := supervision.NewAncestryCache(cfg.Supervision.AncestryCacheTTL)
	defer ancestryCache.Close()
	detector := supervision.Detector{Ancestry: ancestryDetector, Environ: environDetector, IPC: ipcDetector}

	guardrails := plan.GuardrailConfig{
		MaxKillsPerRun:           cfg.Planner.MaxKillsPerRun,
		MaxKillsPerHour:          cfg.Planner.MaxKillsPerHour,
		MaxKillsPerDay:           cfg.Planner.MaxKillsPerDay,
		StagedPauseBeforeKill:    cfg.Planner.StagedPauseBeforeKill,
		StagedPauseCostThreshold: cfg.Planner.StagedPauseCostThreshold,
		ProtectedUIDs:            cfg.Planner.ProtectedUIDs,
		MinAge:                   cfg.Planner.MinAge,
	}
	limiter := plan.NewRateLimiter(guardrails)
	defer limiter.Close()
	planner := plan.New(guardrails, limiter)

	bootID := collector.BootID()
	identityProvider := collect.NewProcIdentityProvider("/proc", bootID)
	runner := action.NewSignalRunner(cfg.Executor.CgroupRoot)
	executor := action.New(runner, identityProvider, nil, cfg.Executor.LockPath)

	fdrMethod := fdr.Method(cfg.Fdr.Method)

	redactPolicy := redact.DefaultPolicy()
	redactPolicy.HashTruncationBytes = cfg.Redaction.HashTruncationBytes
	if cfg.Redaction.PolicyPath != "" {
		log.Warn("redaction.policy_path is set but custom policies are not yet loaded; using the built-in policy",
			zap.String("path", cfg.Redaction.PolicyPath))
	}
	redactor := redact.NewRedactor(redactPolicy, redact.New(cfg.Redaction.HomeDir, nil))
	exportProfile := redact.ExportProfile(cfg.Bundle.DefaultProfile)

	// ── Step 6: Session store, audit writer, telemetry writer ────────────
	sessionStore := session.NewStore(cfg.Session.DataDir)

	auditWriter, err := audit.Open(cfg.Audit.LogPath, cfg.Audit.MaxSizeBytes)
	if err != nil {
		log.Fatal("audit log open failed", zap.Error(err), zap.String("path", cfg.Audit.LogPath))
	}

	metrics := observability.NewMetrics()

	telemetryWriter := telemetry.New(
		cfg.Session.DataDir+"/telemetry", cfg.HostID,
		4096, 500, 30*time.Second, metrics, log,
	)

	eng := engine.New(engine.Deps{
		HostID:          cfg.HostID,
		Collector:       collector,
		Inference:       inferenceEngine,
		Priors:          priors,
		LossMatrix:      lossMatrix,
		LoadAccumulator: loadAccumulator,
		ScaleFactors:    scaleFactors,
		FdrMethod:       fdrMethod,
		FdrAlpha:        cfg.Fdr.Alpha,
		Supervision:     detector,
		AncestryCache:   ancestryCache,
		NeverKillConf:   cfg.Supervision.NeverKillConfidence,
		Guardrails:      guardrails,
		Planner:         planner,
		Executor:        executor,
		SessionStore:    sessionStore,
		DB:              db,
		Audit:           auditWriter,
		Telemetry:       telemetryWriter,
		Metrics:         metrics,
		Log:             log,
		Redactor:        redactor,
		ExportProfile:   exportProfile,
		BundleDir:       cfg.Bundle.OutputDir,
		PTVersion:       config.Version,
	})

	// ── Steps 7-10: background goroutines, bounded by one errgroup ───────
	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := metrics.ServeMetrics(gctx, cfg.Observability.MetricsAddr); err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	log.Info("metrics server started", zap.String("addr", cfg.Observability.MetricsAddr))

	group.Go(func() error {
		auditWriter.Run(gctx)
		return nil
	})

	group.Go(func() error {
		telemetryWriter.Run(gctx)
		return nil
	})

	if cfg.Operator.Enabled {
		querier := operator.NewStorageQuerier(db, sessionStore)
		opServer := operator.NewServer(cfg.Operator.SocketPath, querier, log)
		group.Go(func() error {
			if err := opServer.ListenAndServe(gctx); err != nil {
				return fmt.Errorf("operator server: %w", err)
			}
			return nil
		})
		log.Info("operator socket started", zap.String("path", cfg.Operator.SocketPath))
	} else {
		log.Info("operator socket disabled")
	}

	// ── Step 11: SIGHUP hot-reload ────────────────────────────────────────
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			log.Info("SIGHUP received — reloading config...")
			newCfg, err := config.Load(*configPath)
			if err != nil {
				log.Error("config hot-reload failed — retaining old config", zap.Error(err))
				continue
			}
			// Guardrails and FDR knobs are safe to swap without a restart;
			// collaborators with open file handles or listeners are not.
			log.Info("config hot-reload successful",
				zap.Int("new_max_kills_per_run", newCfg.Planner.MaxKillsPerRun),
				zap.Float64("new_fdr_alpha", newCfg.Fdr.Alpha))
		}
	}()

	// ── Step 12: run the engine ───────────────────────────────────────────
	loadFeeder := func() {
		signals := collect.ReadSystemLoad("/proc", 0, float64(cfg.Scan.MaxTrackedPIDs))
		loadAccumulator.Update(decision.LoadScore(signals, decision.DefaultLoadWeights()))
	}

	// The scan loop's own completion (one-shot mode, or a fatal loop error)
	// must be able to trigger shutdown independently of errgroup's
	// cancellation, which only fires on a non-nil return — otherwise a
	// clean one-shot exit would leave the metrics/audit/telemetry
	// goroutines blocked on gctx forever.
	scanDone := make(chan struct{})
	group.Go(func() error {
		defer close(scanDone)
		return runScanLoop(gctx, eng, cfg.Scan.Interval, *once, loadFeeder, log)
	})

	// ── Step 13: wait for shutdown signal or engine exit ──────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	case <-scanDone:
		log.Info("scan loop finished")
	case <-gctx.Done():
		log.Warn("a background collaborator failed", zap.Error(context.Cause(gctx)))
	}
	cancel()

	if err := group.Wait(); err != nil {
		log.Error("background group exited with error", zap.Error(err))
	}

	if err := telemetryWriter.Close(); err != nil {
		log.Warn("telemetry writer close failed", zap.Error(err))
	}
	if err := auditWriter.Close(); err != nil {
		log.Warn("audit writer close failed", zap.Error(err))
	}

	log.Info("pt shutdown complete")
}

// runScanLoop drives the engine once (and returns), or repeatedly at the
// given interval until ctx is cancelled.
func runScanLoop(ctx context.Context, eng *engine.Engine, interval time.Duration, once bool, feedLoad func(), log *zap.Logger) error {
	runAndLog := func() {
		feedLoad()
		report, err := eng.ScanOnce(ctx)
		if err != nil {
			log.Error("scan pass failed", zap.Error(err))
			return
		}
		log.Info("scan pass complete",
			zap.String("session_id", report.SessionID),
			zap.Int("candidates", report.CandidatesSeen),
			zap.Int("destructive_plans", report.DestructivePlans),
			zap.Int("fdr_selected", report.FdrSelected),
			zap.Int("attempted", report.Execution.Summary.ActionsAttempted),
			zap.Int("succeeded", report.Execution.Summary.ActionsSucceeded),
			zap.Int("failed", report.Execution.Summary.ActionsFailed),
		)
	}

	if once || interval <= 0 {
		runAndLog()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	runAndLog()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			runAndLog()
		}
	}
}

// buildLogger constructs a zap.Logger with the given level and format.
func buildLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}
