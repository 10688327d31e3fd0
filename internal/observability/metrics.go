// Package observability — metrics.go
//
// Prometheus metrics for the process-triage engine.
//
// Endpoint: GET /metrics on 127.0.0.1:9091 (configurable).
// Format: Prometheus text exposition format (OpenMetrics compatible).
// Bind: loopback only — no external exposure.
//
// Metric naming convention: pt_<subsystem>_<name>_<unit>
//
// All metrics are registered on a dedicated prometheus.Registry (not the
// default global registry) to avoid collisions with other instrumented
// libraries in the same process.
//
// Cardinality control:
//   - Class/action labels use the fixed, small enum string values.
//   - PID is NOT used as a label (unbounded cardinality).
//   - Per-PID metrics are aggregated before recording.

package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric descriptors for pt.
type Metrics struct {
	registry *prometheus.Registry

	// ─── Scan ─────────────────────────────────────────────────────────────────

	// ScansTotal counts completed scan passes.
	ScansTotal prometheus.Counter

	// ProcessesScannedTotal counts processes examined across all scans.
	ProcessesScannedTotal prometheus.Counter

	// ScanDuration records scan-pass wall time.
	ScanDuration prometheus.Histogram

	// ─── Inference ────────────────────────────────────────────────────────────

	// ClassificationsTotal counts Bayesian classifications performed, by
	// the winning class (useful, useful_bad, abandoned, zombie).
	ClassificationsTotal *prometheus.CounterVec

	// PosteriorConfidenceHistogram records the top-class posterior
	// probability of every classification.
	PosteriorConfidenceHistogram prometheus.Histogram

	// ─── Decision ─────────────────────────────────────────────────────────────

	// DecisionsTotal counts expected-loss decisions, by chosen action.
	DecisionsTotal *prometheus.CounterVec

	// LoadScoreGauge is the current system load score feeding loss-matrix
	// scaling.
	LoadScoreGauge prometheus.Gauge

	// ─── FDR admission ────────────────────────────────────────────────────────

	// FdrCandidatesTotal counts candidates considered for batch admission.
	FdrCandidatesTotal prometheus.Counter

	// FdrSelectedTotal counts candidates admitted past the e-value
	// threshold.
	FdrSelectedTotal prometheus.Counter

	// ─── Planner ──────────────────────────────────────────────────────────────

	// PlannedActionsTotal counts planned actions, by action and whether
	// blocked by a guardrail.
	PlannedActionsTotal *prometheus.CounterVec

	// GuardrailBlocksTotal counts actions downgraded to Keep by a
	// guardrail or rate limit.
	GuardrailBlocksTotal *prometheus.CounterVec

	// ─── Executor ─────────────────────────────────────────────────────────────

	// ExecutionOutcomesTotal counts executed actions, by resulting status.
	ExecutionOutcomesTotal *prometheus.CounterVec

	// ExecutionLatency records action execute+verify latency.
	ExecutionLatency prometheus.Histogram

	// ─── Audit ────────────────────────────────────────────────────────────────

	// AuditEntriesAppendedTotal counts entries appended to the audit log.
	AuditEntriesAppendedTotal prometheus.Counter

	// AuditRotationsTotal counts checkpoint rotations.
	AuditRotationsTotal prometheus.Counter

	// AuditVerifyFailuresTotal counts failed audit-log verification runs.
	AuditVerifyFailuresTotal prometheus.Counter

	// ─── Bundle ───────────────────────────────────────────────────────────────

	// BundlesWrittenTotal counts export bundles written, by profile.
	BundlesWrittenTotal *prometheus.CounterVec

	// BundleWriteLatency records ZIP bundle write latency.
	BundleWriteLatency prometheus.Histogram

	// ─── Storage ──────────────────────────────────────────────────────────────

	// StorageWriteLatency records BoltDB write transaction latency.
	StorageWriteLatency prometheus.Histogram

	// StorageSessionsActive is the current number of in-flight sessions.
	StorageSessionsActive prometheus.Gauge

	// ─── Telemetry ────────────────────────────────────────────────────────────

	// TelemetryRowsWrittenTotal counts rows flushed to a telemetry table,
	// by table name.
	TelemetryRowsWrittenTotal *prometheus.CounterVec

	// TelemetryRowsDroppedTotal counts rows dropped because a table's
	// write queue was full, by table name.
	TelemetryRowsDroppedTotal *prometheus.CounterVec

	// ─── Engine ───────────────────────────────────────────────────────────────

	// EngineUptimeSeconds is the number of seconds since the engine started.
	EngineUptimeSeconds prometheus.Gauge

	// startTime records when the engine started (for uptime calculation).
	startTime time.Time
}

// NewMetrics creates and registers all pt Prometheus metrics.
// Returns a *Metrics with all descriptors initialised.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		ScansTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pt",
			Subsystem: "scan",
			Name:      "passes_total",
			Help:      "Total scan passes completed.",
		}),

		ProcessesScannedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pt",
			Subsystem: "scan",
			Name:      "processes_total",
			Help:      "Total processes examined across all scan passes.",
		}),

		ScanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pt",
			Subsystem: "scan",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of a scan pass, in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),

		ClassificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pt",
			Subsystem: "inference",
			Name:      "classifications_total",
			Help:      "Total Bayesian classifications performed, by winning class.",
		}, []string{"class"}),

		PosteriorConfidenceHistogram: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pt",
			Subsystem: "inference",
			Name:      "posterior_confidence",
			Help:      "Distribution of the winning class's posterior probability.",
			Buckets:   []float64{0.25, 0.5, 0.7, 0.8, 0.9, 0.95, 0.99, 0.999},
		}),

		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pt",
			Subsystem: "decision",
			Name:      "actions_total",
			Help:      "Total expected-loss decisions, by chosen action.",
		}, []string{"action"}),

		LoadScoreGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pt",
			Subsystem: "decision",
			Name:      "load_score",
			Help:      "Current system load score feeding loss-matrix scaling.",
		}),

		FdrCandidatesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pt",
			Subsystem: "fdr",
			Name:      "candidates_total",
			Help:      "Total candidates considered for batch e-value admission.",
		}),

		FdrSelectedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pt",
			Subsystem: "fdr",
			Name:      "selected_total",
			Help:      "Total candidates admitted past the e-value threshold.",
		}),

		PlannedActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pt",
			Subsystem: "planner",
			Name:      "actions_total",
			Help:      "Total planned actions, by action and blocked status.",
		}, []string{"action", "blocked"}),

		GuardrailBlocksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pt",
			Subsystem: "planner",
			Name:      "guardrail_blocks_total",
			Help:      "Total actions downgraded to keep by a guardrail, by reason.",
		}, []string{"reason"}),

		ExecutionOutcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pt",
			Subsystem: "executor",
			Name:      "outcomes_total",
			Help:      "Total executed actions, by resulting status.",
		}, []string{"status"}),

		ExecutionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pt",
			Subsystem: "executor",
			Name:      "latency_seconds",
			Help:      "Action execute+verify latency, in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),

		AuditEntriesAppendedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pt",
			Subsystem: "audit",
			Name:      "entries_appended_total",
			Help:      "Total entries appended to the hash-chained audit log.",
		}),

		AuditRotationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pt",
			Subsystem: "audit",
			Name:      "rotations_total",
			Help:      "Total checkpoint rotations of the audit log.",
		}),

		AuditVerifyFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pt",
			Subsystem: "audit",
			Name:      "verify_failures_total",
			Help:      "Total audit-log verification runs that found a broken chain or tampered entry.",
		}),

		BundlesWrittenTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pt",
			Subsystem: "bundle",
			Name:      "written_total",
			Help:      "Total export bundles written, by export profile.",
		}, []string{"profile"}),

		BundleWriteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pt",
			Subsystem: "bundle",
			Name:      "write_latency_seconds",
			Help:      "ZIP bundle write latency, in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),

		StorageWriteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pt",
			Subsystem: "storage",
			Name:      "write_latency_seconds",
			Help:      "BoltDB write transaction latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}),

		StorageSessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pt",
			Subsystem: "storage",
			Name:      "sessions_active",
			Help:      "Current number of in-flight (non-terminal) sessions.",
		}),

		TelemetryRowsWrittenTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pt",
			Subsystem: "telemetry",
			Name:      "rows_written_total",
			Help:      "Total rows flushed to a telemetry table, by table name.",
		}, []string{"table"}),

		TelemetryRowsDroppedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pt",
			Subsystem: "telemetry",
			Name:      "rows_dropped_total",
			Help:      "Total rows dropped because a table's write queue was full, by table name.",
		}, []string{"table"}),

		EngineUptimeSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pt",
			Subsystem: "engine",
			Name:      "uptime_seconds",
			Help:      "Number of seconds since the engine started.",
		}),
	}

	// Register all metrics with the dedicated registry.
	reg.MustRegister(
		m.ScansTotal,
		m.ProcessesScannedTotal,
		m.ScanDuration,
		m.ClassificationsTotal,
		m.PosteriorConfidenceHistogram,
		m.DecisionsTotal,
		m.LoadScoreGauge,
		m.FdrCandidatesTotal,
		m.FdrSelectedTotal,
		m.PlannedActionsTotal,
		m.GuardrailBlocksTotal,
		m.ExecutionOutcomesTotal,
		m.ExecutionLatency,
		m.AuditEntriesAppendedTotal,
		m.AuditRotationsTotal,
		m.AuditVerifyFailuresTotal,
		m.BundlesWrittenTotal,
		m.BundleWriteLatency,
		m.StorageWriteLatency,
		m.StorageSessionsActive,
		m.TelemetryRowsWrittenTotal,
		m.TelemetryRowsDroppedTotal,
		m.EngineUptimeSeconds,
		// Standard Go runtime metrics.
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	return m
}

// ServeMetrics starts the Prometheus HTTP metrics server on the given address.
// Blocks until ctx is cancelled or the server fails.
// The server binds to addr (e.g., "127.0.0.1:9091") and serves GET /metrics.
// Returns an error only if the server fails to start or encounters a fatal error.
func (m *Metrics) ServeMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		ErrorHandling:     promhttp.ContinueOnError,
	}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start uptime updater goroutine.
	go m.updateUptime(ctx)

	// Shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server on %s: %w", addr, err)
	}
	return nil
}

// updateUptime periodically updates the EngineUptimeSeconds gauge.
func (m *Metrics) updateUptime(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.EngineUptimeSeconds.Set(time.Since(m.startTime).Seconds())
		case <-ctx.Done():
			return
		}
	}
}
