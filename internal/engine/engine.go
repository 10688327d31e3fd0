// Package engine orchestrates one full scan -> infer -> decide -> gate ->
// plan -> execute pass, the same shape the reference daemon's core loop
// describes as "orchestrates scan -> infer -> plan pipeline": collect
// candidates from /proc, classify each with the Bayesian engine, convert
// posteriors into expected-loss decisions, apply FDR-gated batch admission
// to destructive actions, merge in supervision verdicts and guardrails via
// the planner, execute the resulting plan, and durably record every stage
// in the session store, the audit log, the telemetry sink, and BoltDB.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

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

// Deps bundles every collaborator a scan pass needs. Engine does not own
// the lifecycle of any of these — the caller opens and closes them.
type Deps struct {
	HostID string

	Collector        *collect.Collector
	Inference        *inference.Engine
	Priors           evidence.PriorTable
	LossMatrix       decision.LossMatrix
	LoadAccumulator  *decision.LoadAccumulator
	ScaleFactors     decision.ScaleFactors
	FdrMethod        fdr.Method
	FdrAlpha         float64
	Supervision      supervision.Detector
	AncestryCache    *supervision.AncestryCache
	NeverKillConf    float64
	Guardrails       plan.GuardrailConfig
	Planner          *plan.Planner
	Executor         *action.Executor
	SessionStore     *session.Store
	DB               *storage.DB
	Audit            *audit.Writer
	Telemetry        *telemetry.Writer
	Metrics          *observability.Metrics
	Log              *zap.Logger

	// Redactor applies the field-classifier policy to every artifact this
	// run emits (telemetry rows, the session bundle) before it leaves the
	// process boundary. Nil disables redaction — only acceptable in tests.
	Redactor      *redact.Redactor
	ExportProfile redact.ExportProfile

	// BundleDir is where this run's sealed session bundle ZIP is written.
	// Empty disables bundling.
	BundleDir  string
	PTVersion  string
}

// Engine runs repeated scan passes against a fixed set of collaborators.
type Engine struct {
	d Deps
}

// New builds an Engine from its wired collaborators.
func New(d Deps) *Engine {
	return &Engine{d: d}
}

// Report summarises one ScanOnce pass.
type Report struct {
	SessionID        string
	CandidatesSeen   int
	DestructivePlans int
	FdrSelected      int
	Execution        action.ExecutionResult
}

// ScanOnce runs exactly one scan -> infer -> decide -> gate -> plan ->
// execute pass and returns its summary. It is safe to call repeatedly
// (e.g. from a daemon tick); each call creates its own session.
func (e *Engine) ScanOnce(ctx context.Context) (Report, error) {
	d := e.d
	runID := fmt.Sprintf("run-%d", time.Now().UnixNano())

	manifest, err := d.SessionStore.NewSession(d.HostID)
	if err != nil {
		return Report{}, fmt.Errorf("engine: new session: %w", err)
	}
	sessionID := manifest.SessionID

	d.emitAudit(audit.Entry{
		EventType: audit.EventRunStarted,
		RunID:     runID,
		SessionID: sessionID,
		HostID:    d.HostID,
		Message:   "scan pass started",
	})

	candidates, err := d.Collector.Enumerate()
	if err != nil {
		return Report{}, fmt.Errorf("engine: enumerate: %w", err)
	}
	if d.Metrics != nil {
		d.Metrics.ScansTotal.Inc()
		d.Metrics.ProcessesScannedTotal.Add(float64(len(candidates)))
	}

	ids := make([]identity.ProcessIdentity, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.Identity)
	}
	var supervised map[identity.ProcessIdentity]supervision.CombinedResult
	if d.Supervision.Ancestry != nil {
		supervised, err = d.Supervision.DetectBatch(ids)
		if err != nil {
			d.logWarn("supervision detection failed", zap.Error(err))
			supervised = nil
		}
	}

	loadScore := 0.0
	if d.LoadAccumulator != nil {
		loadScore = d.LoadAccumulator.Value()
	}
	adjustedMatrix := d.LossMatrix
	if adjustedMatrix != nil {
		adjustedMatrix = decision.Adjust(d.LossMatrix, loadScore, d.ScaleFactors)
	}
	if d.Metrics != nil {
		d.Metrics.LoadScoreGauge.Set(loadScore)
	}

	type scored struct {
		target     identity.ProcessIdentity
		rec        evidence.Record
		posterior  evidence.ClassScores
		class      evidence.Class
		outcome    decision.Outcome
		supervised supervision.CombinedResult
	}
	results := make([]scored, 0, len(candidates))

	for _, c := range candidates {
		posterior, _ := d.Inference.Classify(c.Evidence)
		topClass, topP := posterior.Top()
		if d.Metrics != nil {
			d.Metrics.ClassificationsTotal.WithLabelValues(string(topClass)).Inc()
			d.Metrics.PosteriorConfidenceHistogram.Observe(topP)
		}

		feasible := decision.AllFeasible()
		if topClass == evidence.ClassZombie {
			feasible = decision.ForZombie(feasible)
		}
		outcome, err := decision.Decide(posterior, adjustedMatrix, feasible)
		if err != nil {
			d.logWarn("decision failed, skipping candidate", zap.Uint32("pid", c.Identity.PID), zap.Error(err))
			continue
		}
		if d.Metrics != nil {
			d.Metrics.DecisionsTotal.WithLabelValues(outcome.OptimalAction.String()).Inc()
		}

		sv := supervised[c.Identity]
		results = append(results, scored{
			target: c.Identity, rec: c.Evidence, posterior: posterior,
			class: topClass, outcome: outcome, supervised: sv,
		})

		if d.Telemetry != nil {
			fields := map[string]any{
				"pid": c.Identity.PID, "uid": c.Identity.UID, "class": string(topClass),
				"posterior": topP, "action": outcome.OptimalAction.String(),
				"session_id": sessionID, "host_id": d.HostID, "ts": time.Now().UTC(),
			}
			d.Telemetry.Enqueue(telemetry.Row{Table: "classifications", Fields: d.redactFields(fields)})
		}
	}

	// FDR-gated batch admission: only destructive-leaning candidates
	// compete for the shared destructive-action budget.
	fdrCandidates := make([]fdr.Candidate, 0, len(results))
	fdrIdx := make(map[identity.ProcessIdentity]int, len(results))
	for i, r := range results {
		if !r.outcome.OptimalAction.Destructive() {
			continue
		}
		fdrIdx[r.target] = i
		fdrCandidates = append(fdrCandidates, fdr.Candidate{
			Target: r.target,
			EValue: decision.EValueForReclaim(r.posterior, d.Priors),
		})
	}
	if d.Metrics != nil {
		d.Metrics.FdrCandidatesTotal.Add(float64(len(fdrCandidates)))
	}
	selection := fdr.SelectFDR(fdrCandidates, d.FdrAlpha, d.FdrMethod)
	admitted := make(map[identity.ProcessIdentity]bool, selection.SelectedK)
	for _, id := range selection.SelectedIDs {
		admitted[id] = true
	}
	if d.Metrics != nil {
		d.Metrics.FdrSelectedTotal.Add(float64(selection.SelectedK))
	}
	for target, idx := range fdrIdx {
		if !admitted[target] {
			results[idx].outcome.OptimalAction = decision.Keep
			results[idx].outcome.Rationale.Summary += "; downgraded to keep by FDR batch admission gate"
		}
	}

	planCandidates := make([]plan.Candidate, 0, len(results))
	for _, r := range results {
		runtimeSeconds := 0.0
		if r.rec.RuntimeSeconds != nil {
			runtimeSeconds = *r.rec.RuntimeSeconds
		}
		hasTTY := r.rec.TTY != nil && *r.rec.TTY
		dataLossArmed := r.rec.IOActive != nil && *r.rec.IOActive
		neverKill := r.supervised.NeverKill() && r.supervised.Confidence >= d.NeverKillConf

		planCandidates = append(planCandidates, plan.Candidate{
			Target:        r.target,
			Outcome:       r.outcome,
			NeverKill:     neverKill,
			HasActiveTTY:  hasTTY,
			Protected:     d.protected(r.target),
			MinAgeMet:     time.Duration(runtimeSeconds*float64(time.Second)) >= d.Guardrails.MinAge,
			DataLossArmed: dataLossArmed,
		})
	}

	builtPlan := d.Planner.Build(planCandidates)
	destructive := 0
	for _, a := range builtPlan.Actions {
		if a.Action.Destructive() {
			destructive++
		}
		if d.Metrics != nil {
			d.Metrics.PlannedActionsTotal.WithLabelValues(a.Action.String(), boolLabel(a.Blocked)).Inc()
			if a.Blocked {
				d.Metrics.GuardrailBlocksTotal.WithLabelValues("guardrail").Inc()
			}
		}
	}

	execPlan := session.ExecutionPlan{SessionID: sessionID}
	for _, a := range builtPlan.Actions {
		execPlan.Actions = append(execPlan.Actions, session.PlannedAction{
			Identity: a.Target, Action: a.Action, Rationale: a.Rationale,
		})
	}
	if err := d.SessionStore.SaveExecutionPlan(execPlan); err != nil {
		d.logWarn("saving execution plan failed", zap.Error(err))
	}
	d.emitAudit(audit.Entry{
		EventType: audit.EventPlanCreated, RunID: runID, SessionID: sessionID, HostID: d.HostID,
		Message: fmt.Sprintf("plan built with %d actions (%d destructive)", len(builtPlan.Actions), destructive),
	})

	execResult, err := d.Executor.ExecutePlan(builtPlan)
	if err != nil {
		return Report{}, fmt.Errorf("engine: execute plan: %w", err)
	}

	actionByID := make(map[string]plan.Action, len(builtPlan.Actions))
	for _, a := range builtPlan.Actions {
		actionByID[a.ActionID] = a
	}
	for _, outcome := range execResult.Outcomes {
		a, ok := actionByID[outcome.ActionID]
		if !ok {
			continue
		}
		status := session.EntryApplied
		if outcome.Status != action.StatusSuccess {
			status = session.EntryFailed
		}
		execPlan.Append(session.ExecutionEntry{
			Identity: a.Target, Action: a.Action, Status: status,
			Timestamp: time.Now().UTC(), Error: outcome.Details,
		})
		if d.Metrics != nil {
			d.Metrics.ExecutionOutcomesTotal.WithLabelValues(string(outcome.Status)).Inc()
		}
		if err := d.DB.AppendLedger(storage.LedgerEntry{
			Timestamp: time.Now().UTC(), PID: a.Target.PID, Action: a.Action.String(),
			SessionID: sessionID, HostID: d.HostID,
		}); err != nil {
			d.logWarn("ledger append failed", zap.Error(err))
		}
	}
	if err := d.SessionStore.SaveExecutionPlan(execPlan); err != nil {
		d.logWarn("saving final execution plan failed", zap.Error(err))
	}

	if err := d.DB.PutSession(storage.SessionRecord{
		SessionID: sessionID, HostID: d.HostID, Status: string(session.StatusCompleted),
		CreatedAt: manifest.CreatedAt, UpdatedAt: time.Now().UTC(),
	}); err != nil {
		d.logWarn("session index write failed", zap.Error(err))
	}

	if d.BundleDir != "" {
		bundlePath, err := d.writeBundle(sessionID, manifest, builtPlan, execResult)
		if err != nil {
			d.logWarn("bundle write failed", zap.Error(err))
		} else {
			d.emitAudit(audit.Entry{
				EventType: audit.EventBundleSealed, RunID: runID, SessionID: sessionID, HostID: d.HostID,
				Message: fmt.Sprintf("bundle sealed: %s", bundlePath),
			})
		}
	}

	d.emitAudit(audit.Entry{
		EventType: audit.EventRunFinished, RunID: runID, SessionID: sessionID, HostID: d.HostID,
		Message: fmt.Sprintf("run finished: %d attempted, %d succeeded, %d failed",
			execResult.Summary.ActionsAttempted, execResult.Summary.ActionsSucceeded, execResult.Summary.ActionsFailed),
	})

	return Report{
		SessionID: sessionID, CandidatesSeen: len(candidates),
		DestructivePlans: destructive, FdrSelected: selection.SelectedK, Execution: execResult,
	}, nil
}

// writeBundle seals this run's plan and execution outcome into a
// self-describing ZIP under BundleDir, redacting every field through
// ExportProfile first. It returns the path written.
func (d Deps) writeBundle(sessionID string, manifest session.Manifest, builtPlan plan.Plan, execResult action.ExecutionResult) (string, error) {
	policyVersion, policyHash := "", ""
	if d.Redactor != nil {
		policyVersion = d.Redactor.Policy().Version
		policyHash = redact.PolicyHash(d.Redactor.Policy())
	}

	topFields := d.redactFields(map[string]any{"host_id": d.HostID, "session_id": sessionID})
	redactedHostID, _ := topFields["host_id"].(string)
	redactedSessionID, _ := topFields["session_id"].(string)

	base := bundle.New(redactedHostID, redactedSessionID, bundle.ExportProfile(d.ExportProfile), policyVersion, policyHash).
		WithPTVersion(d.PTVersion)

	outcomeByAction := make(map[string]action.Result, len(execResult.Outcomes))
	for _, o := range execResult.Outcomes {
		outcomeByAction[o.ActionID] = o
	}

	type planRow struct {
		PID       any    `json:"pid"`
		UID       any    `json:"uid"`
		StartID   any    `json:"start_id"`
		Action    any    `json:"action"`
		Blocked   any    `json:"blocked"`
		Rationale any    `json:"rationale"`
		Status    string `json:"status,omitempty"`
		Details   any    `json:"details,omitempty"`
	}
	rows := make([]planRow, 0, len(builtPlan.Actions))
	for _, a := range builtPlan.Actions {
		redacted := d.redactFields(map[string]any{
			"pid": a.Target.PID, "uid": a.Target.UID, "start_id": a.Target.StartID,
			"action": a.Action.String(), "blocked": a.Blocked, "rationale": a.Rationale,
		})
		row := planRow{
			PID: redacted["pid"], UID: redacted["uid"], StartID: redacted["start_id"],
			Action: redacted["action"], Blocked: redacted["blocked"], Rationale: redacted["rationale"],
		}
		if o, ok := outcomeByAction[a.ActionID]; ok {
			row.Status = string(o.Status)
			if o.Details != "" {
				row.Details = d.redactFields(map[string]any{"details": o.Details})["details"]
			}
		}
		rows = append(rows, row)
	}
	planJSON, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return "", fmt.Errorf("engine: marshal bundle plan artifact: %w", err)
	}

	sessionJSON, err := json.MarshalIndent(map[string]any{
		"session_id": redactedSessionID,
		"host_id":    redactedHostID,
		"status":     string(manifest.Status),
		"created_at": manifest.CreatedAt,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("engine: marshal bundle session artifact: %w", err)
	}

	artifacts := []bundle.Artifact{
		{Path: "plan.json", Data: planJSON, MimeType: "application/json"},
		{Path: "session.json", Data: sessionJSON, MimeType: "application/json"},
	}

	if err := os.MkdirAll(d.BundleDir, 0o700); err != nil {
		return "", fmt.Errorf("engine: mkdir bundle dir %q: %w", d.BundleDir, err)
	}
	outPath := filepath.Join(d.BundleDir, sessionID+".zip")
	if _, err := bundle.Write(outPath, base, artifacts); err != nil {
		return "", fmt.Errorf("engine: write bundle: %w", err)
	}
	return outPath, nil
}

func (d Deps) redactFields(fields map[string]any) map[string]any {
	if d.Redactor == nil {
		return fields
	}
	return d.Redactor.RedactFields(fields, d.ExportProfile)
}

func (d Deps) protected(id identity.ProcessIdentity) bool {
	for _, uid := range d.Guardrails.ProtectedUIDs {
		if uid == id.UID {
			return true
		}
	}
	return false
}

func (d Deps) emitAudit(e audit.Entry) {
	if d.Audit == nil {
		return
	}
	e.SchemaVersion = audit.SchemaVersion
	e.TS = time.Now().UTC()
	if !d.Audit.Enqueue(e) {
		d.logWarn("audit queue full, entry dropped", zap.String("event_type", string(e.EventType)))
	} else if d.Metrics != nil {
		d.Metrics.AuditEntriesAppendedTotal.Inc()
	}
}

func (d Deps) logWarn(msg string, fields ...zap.Field) {
	if d.Log != nil {
		d.Log.Warn(msg, fields...)
	}
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
