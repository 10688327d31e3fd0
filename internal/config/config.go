// Package config provides configuration loading and validation for the
// process-triage engine.
//
// Configuration file: /etc/pt/config.yaml (default)
// Schema version: 1
//
// Validation:
//   - All required fields must be present.
//   - Numeric ranges enforced (e.g. alpha in [0,1], weights >= 0).
//   - File paths must be absolute.
//   - Invalid config on startup: the engine refuses to start (fatal error).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Version, GitCommit, BuildTime are injected by the Makefile via -ldflags.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

// Config is the root configuration structure for pt.
// All fields have defaults; see Defaults() for values.
type Config struct {
	// SchemaVersion must be "1". Future versions will trigger migration.
	SchemaVersion string `yaml:"schema_version"`

	// HostID identifies this workstation in audit entries and bundle
	// manifests. Default: hostname.
	HostID string `yaml:"host_id"`

	Storage       StorageConfig       `yaml:"storage"`
	Scan          ScanConfig          `yaml:"scan"`
	Inference     InferenceConfig     `yaml:"inference"`
	Decision      DecisionConfig      `yaml:"decision"`
	Fdr           FdrConfig           `yaml:"fdr"`
	Supervision   SupervisionConfig   `yaml:"supervision"`
	Planner       PlannerConfig       `yaml:"planner"`
	Executor      ExecutorConfig      `yaml:"executor"`
	Session       SessionConfig       `yaml:"session"`
	Audit         AuditConfig         `yaml:"audit"`
	Bundle        BundleConfig        `yaml:"bundle"`
	Redaction     RedactionConfig     `yaml:"redaction"`
	Observability ObservabilityConfig `yaml:"observability"`
	Operator      OperatorConfig      `yaml:"operator"`
}

// StorageConfig holds the bbolt-backed local store's parameters.
type StorageConfig struct {
	// DBPath is the bbolt database file. Default: /var/lib/pt/pt.db.
	DBPath string `yaml:"db_path"`

	// RetentionDays is how long ledger entries are kept before
	// PruneOldLedgerEntries removes them. Default: 30.
	RetentionDays int `yaml:"retention_days"`
}

// ScanConfig holds process-scan operational parameters.
type ScanConfig struct {
	// MaxGoroutines is the maximum number of goroutines used for concurrent
	// /proc feature extraction. Default: 4.
	MaxGoroutines int `yaml:"max_goroutines"`

	// MaxTrackedPIDs is the maximum number of PIDs considered in a single
	// scan pass. Default: 8192.
	MaxTrackedPIDs int `yaml:"max_tracked_pids"`

	// Interval is the time between automatic scans when running as a
	// daemon. Zero means scan-once-and-exit. Default: 0.
	Interval time.Duration `yaml:"interval"`
}

// InferenceConfig holds Bayesian classifier parameters.
type InferenceConfig struct {
	// PriorsPath optionally overrides the built-in prior table with a
	// YAML file of the same shape as evidence.PriorTable. Empty means use
	// evidence.DefaultPriorTable().
	PriorsPath string `yaml:"priors_path"`

	// VOIProbeCostBudget caps the total cost of probes BestProbe is
	// allowed to recommend per classification. Default: 1.0.
	VOIProbeCostBudget float64 `yaml:"voi_probe_cost_budget"`
}

// DecisionConfig holds expected-loss decision and load-scaling parameters.
type DecisionConfig struct {
	// LossMatrixPath optionally overrides decision.DefaultLossMatrix().
	LossMatrixPath string `yaml:"loss_matrix_path"`

	// LoadAlpha is the EWMA smoothing factor for decision.LoadAccumulator,
	// in [0.0, 1.0]. Default: 0.8.
	LoadAlpha float64 `yaml:"load_alpha"`

	Weights DecisionWeights `yaml:"weights"`
	Scale   DecisionScale   `yaml:"scale"`
}

// DecisionWeights mirrors decision.LoadWeights for YAML loading.
type DecisionWeights struct {
	Queue  float64 `yaml:"queue"`
	Load   float64 `yaml:"load"`
	Memory float64 `yaml:"memory"`
	PSI    float64 `yaml:"psi"`
}

// DecisionScale mirrors decision.ScaleFactors for YAML loading.
type DecisionScale struct {
	KeepMax       float64 `yaml:"keep_max"`
	ReversibleMin float64 `yaml:"reversible_min"`
	RiskyMax      float64 `yaml:"risky_max"`
}

// FdrConfig holds the e-value batch admission parameters.
type FdrConfig struct {
	// Method is "none", "ebh", or "eby". Default: "ebh".
	Method string `yaml:"method"`

	// Alpha is the target false discovery rate, in (0.0, 1.0]. Default: 0.1.
	Alpha float64 `yaml:"alpha"`
}

// SupervisionConfig holds never-kill oracle parameters.
type SupervisionConfig struct {
	// AncestryCacheTTL is how long a supervision verdict is cached before
	// re-detection. Default: 30s.
	AncestryCacheTTL time.Duration `yaml:"ancestry_cache_ttl"`

	// NeverKillConfidence is the minimum confidence required before a
	// supervised-category verdict is honoured as an absolute veto.
	// Default: 0.9.
	NeverKillConfidence float64 `yaml:"never_kill_confidence"`
}

// PlannerConfig holds guardrail and rate-limit parameters.
type PlannerConfig struct {
	MaxKillsPerRun           int           `yaml:"max_kills_per_run"`
	MaxKillsPerHour          int           `yaml:"max_kills_per_hour"`
	MaxKillsPerDay           int           `yaml:"max_kills_per_day"`
	StagedPauseBeforeKill    bool          `yaml:"staged_pause_before_kill"`
	StagedPauseCostThreshold float64       `yaml:"staged_pause_cost_threshold"`
	MinAge                   time.Duration `yaml:"min_age"`

	// ProtectedUIDs lists UIDs whose processes are always treated as
	// Candidate.Protected regardless of classification (e.g. UID 0).
	ProtectedUIDs []uint32 `yaml:"protected_uids"`
}

// ExecutorConfig holds signal/cgroup execution parameters.
type ExecutorConfig struct {
	// CgroupRoot is the base path under which per-PID freeze cgroups are
	// created. Default: /sys/fs/cgroup/pt.
	CgroupRoot string `yaml:"cgroup_root"`

	// LockPath is the exclusive execution lock file. Default:
	// /run/pt/executor.lock.
	LockPath string `yaml:"lock_path"`

	// PropagationWait is how long Verify waits after a signal before
	// re-observing process state. Default: 200ms.
	PropagationWait time.Duration `yaml:"propagation_wait"`
}

// SessionConfig holds resumable-session persistence parameters.
type SessionConfig struct {
	// DataDir is the root directory for session manifests and execution
	// plans. Default: /var/lib/pt/sessions.
	DataDir string `yaml:"data_dir"`
}

// AuditConfig holds hash-chained audit log parameters.
type AuditConfig struct {
	// LogPath is the append-only JSONL audit log file. Default:
	// /var/log/pt/audit.jsonl.
	LogPath string `yaml:"log_path"`

	// MaxSizeBytes triggers a checkpoint rotation once crossed. Default:
	// 64 MiB.
	MaxSizeBytes int64 `yaml:"max_size_bytes"`
}

// BundleConfig holds export bundle parameters.
type BundleConfig struct {
	// OutputDir is where sealed bundle ZIPs are written. Default:
	// /var/lib/pt/bundles.
	OutputDir string `yaml:"output_dir"`

	// DefaultProfile is the export profile used when none is specified
	// explicitly ("minimal", "safe", or "forensic"). Default: "safe".
	DefaultProfile string `yaml:"default_profile"`
}

// RedactionConfig holds canonicalisation and field-policy parameters.
type RedactionConfig struct {
	// PolicyPath optionally overrides redact.DefaultPolicy().
	PolicyPath string `yaml:"policy_path"`

	// HomeDir is substituted for the [HOME] canonicalisation placeholder.
	// Default: $HOME at load time.
	HomeDir string `yaml:"home_dir"`

	// HashTruncationBytes is the number of SHA-256 bytes kept for hashed
	// fields. Default: 8.
	HashTruncationBytes int `yaml:"hash_truncation_bytes"`
}

// ObservabilityConfig holds metrics and logging parameters.
type ObservabilityConfig struct {
	// MetricsAddr is the Prometheus metrics HTTP bind address. Default:
	// 127.0.0.1:9091.
	MetricsAddr string `yaml:"metrics_addr"`

	// LogLevel controls the minimum log level (debug, info, warn, error).
	// Default: info.
	LogLevel string `yaml:"log_level"`

	// LogFormat controls the log output format (json, console). Default:
	// json.
	LogFormat string `yaml:"log_format"`
}

// OperatorConfig holds the read-only operator query socket parameters.
type OperatorConfig struct {
	// SocketPath is the Unix domain socket path for operator queries.
	// Default: /run/pt/operator.sock.
	SocketPath string `yaml:"socket_path"`

	// Enabled controls whether the operator socket is active. Default:
	// true.
	Enabled bool `yaml:"enabled"`
}

// DefaultDBPath mirrors the storage package constant for use in config
// defaults.
const DefaultDBPath = "/var/lib/pt/pt.db"

// Defaults returns a Config populated with all default values.
func Defaults() Config {
	hostname, _ := os.Hostname()
	homeDir, _ := os.UserHomeDir()
	return Config{
		SchemaVersion: "1",
		HostID:        hostname,
		Storage: StorageConfig{
			DBPath:        DefaultDBPath,
			RetentionDays: 30,
		},
		Scan: ScanConfig{
			MaxGoroutines:  4,
			MaxTrackedPIDs: 8192,
			Interval:       0,
		},
		Inference: InferenceConfig{
			VOIProbeCostBudget: 1.0,
		},
		Decision: DecisionConfig{
			LoadAlpha: 0.8,
			Weights:   DecisionWeights{Queue: 0.3, Load: 0.3, Memory: 0.2, PSI: 0.2},
			Scale:     DecisionScale{KeepMax: 1.5, ReversibleMin: 0.5, RiskyMax: 0.5},
		},
		Fdr: FdrConfig{
			Method: "ebh",
			Alpha:  0.1,
		},
		Supervision: SupervisionConfig{
			AncestryCacheTTL:    30 * time.Second,
			NeverKillConfidence: 0.9,
		},
		Planner: PlannerConfig{
			MaxKillsPerRun:           10,
			MaxKillsPerHour:          30,
			MaxKillsPerDay:           100,
			StagedPauseBeforeKill:    true,
			StagedPauseCostThreshold: 15.0,
			MinAge:                   10 * time.Second,
			ProtectedUIDs:            []uint32{0},
		},
		Executor: ExecutorConfig{
			CgroupRoot:      "/sys/fs/cgroup/pt",
			LockPath:        "/run/pt/executor.lock",
			PropagationWait: 200 * time.Millisecond,
		},
		Session: SessionConfig{
			DataDir: "/var/lib/pt/sessions",
		},
		Audit: AuditConfig{
			LogPath:      "/var/log/pt/audit.jsonl",
			MaxSizeBytes: 64 * 1024 * 1024,
		},
		Bundle: BundleConfig{
			OutputDir:      "/var/lib/pt/bundles",
			DefaultProfile: "safe",
		},
		Redaction: RedactionConfig{
			HomeDir:             homeDir,
			HashTruncationBytes: 8,
		},
		Observability: ObservabilityConfig{
			MetricsAddr: "127.0.0.1:9091",
			LogLevel:    "info",
			LogFormat:   "json",
		},
		Operator: OperatorConfig{
			Enabled:    true,
			SocketPath: "/run/pt/operator.sock",
		},
	}
}

// Load reads and validates a config file from the given path.
// Returns the merged config (defaults overridden by file values).
// Returns an error if the file cannot be read, parsed, or validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse %q: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks all config fields for correctness.
// Returns a descriptive error listing all violations found.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.SchemaVersion != "1" {
		errs = append(errs, fmt.Sprintf("schema_version must be \"1\", got %q", cfg.SchemaVersion))
	}
	if cfg.HostID == "" {
		errs = append(errs, "host_id must not be empty")
	}
	if cfg.Storage.DBPath == "" || !filepath.IsAbs(cfg.Storage.DBPath) {
		errs = append(errs, fmt.Sprintf("storage.db_path must be an absolute path, got %q", cfg.Storage.DBPath))
	}
	if cfg.Storage.RetentionDays < 1 {
		errs = append(errs, fmt.Sprintf("storage.retention_days must be >= 1, got %d", cfg.Storage.RetentionDays))
	}
	if cfg.Scan.MaxGoroutines < 1 || cfg.Scan.MaxGoroutines > 64 {
		errs = append(errs, fmt.Sprintf("scan.max_goroutines must be in [1, 64], got %d", cfg.Scan.MaxGoroutines))
	}
	if cfg.Scan.MaxTrackedPIDs < 1 || cfg.Scan.MaxTrackedPIDs > 65536 {
		errs = append(errs, fmt.Sprintf("scan.max_tracked_pids must be in [1, 65536], got %d", cfg.Scan.MaxTrackedPIDs))
	}
	if cfg.Inference.VOIProbeCostBudget < 0 {
		errs = append(errs, "inference.voi_probe_cost_budget must be >= 0")
	}
	if cfg.Decision.LoadAlpha < 0.0 || cfg.Decision.LoadAlpha > 1.0 {
		errs = append(errs, fmt.Sprintf("decision.load_alpha must be in [0.0, 1.0], got %f", cfg.Decision.LoadAlpha))
	}
	if cfg.Decision.Weights.Queue < 0 || cfg.Decision.Weights.Load < 0 ||
		cfg.Decision.Weights.Memory < 0 || cfg.Decision.Weights.PSI < 0 {
		errs = append(errs, "all decision.weights fields must be >= 0")
	}
	switch cfg.Fdr.Method {
	case "none", "ebh", "eby":
	default:
		errs = append(errs, fmt.Sprintf("fdr.method must be one of none, ebh, eby, got %q", cfg.Fdr.Method))
	}
	if cfg.Fdr.Alpha <= 0.0 || cfg.Fdr.Alpha > 1.0 {
		errs = append(errs, fmt.Sprintf("fdr.alpha must be in (0.0, 1.0], got %f", cfg.Fdr.Alpha))
	}
	if cfg.Supervision.NeverKillConfidence < 0.0 || cfg.Supervision.NeverKillConfidence > 1.0 {
		errs = append(errs, fmt.Sprintf("supervision.never_kill_confidence must be in [0.0, 1.0], got %f", cfg.Supervision.NeverKillConfidence))
	}
	if cfg.Planner.MaxKillsPerRun < 0 || cfg.Planner.MaxKillsPerHour < 0 || cfg.Planner.MaxKillsPerDay < 0 {
		errs = append(errs, "planner kill guardrails must be >= 0")
	}
	if cfg.Executor.CgroupRoot != "" && !filepath.IsAbs(cfg.Executor.CgroupRoot) {
		errs = append(errs, fmt.Sprintf("executor.cgroup_root must be absolute, got %q", cfg.Executor.CgroupRoot))
	}
	if cfg.Executor.LockPath == "" || !filepath.IsAbs(cfg.Executor.LockPath) {
		errs = append(errs, fmt.Sprintf("executor.lock_path must be an absolute path, got %q", cfg.Executor.LockPath))
	}
	if cfg.Session.DataDir == "" || !filepath.IsAbs(cfg.Session.DataDir) {
		errs = append(errs, fmt.Sprintf("session.data_dir must be an absolute path, got %q", cfg.Session.DataDir))
	}
	if cfg.Audit.LogPath == "" || !filepath.IsAbs(cfg.Audit.LogPath) {
		errs = append(errs, fmt.Sprintf("audit.log_path must be an absolute path, got %q", cfg.Audit.LogPath))
	}
	if cfg.Audit.MaxSizeBytes < 1024 {
		errs = append(errs, fmt.Sprintf("audit.max_size_bytes must be >= 1024, got %d", cfg.Audit.MaxSizeBytes))
	}
	if cfg.Bundle.OutputDir == "" || !filepath.IsAbs(cfg.Bundle.OutputDir) {
		errs = append(errs, fmt.Sprintf("bundle.output_dir must be an absolute path, got %q", cfg.Bundle.OutputDir))
	}
	switch cfg.Bundle.DefaultProfile {
	case "minimal", "safe", "forensic":
	default:
		errs = append(errs, fmt.Sprintf("bundle.default_profile must be one of minimal, safe, forensic, got %q", cfg.Bundle.DefaultProfile))
	}
	if cfg.Redaction.HashTruncationBytes < 4 || cfg.Redaction.HashTruncationBytes > 32 {
		errs = append(errs, fmt.Sprintf("redaction.hash_truncation_bytes must be in [4, 32], got %d", cfg.Redaction.HashTruncationBytes))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s",
			joinStrings(errs, "\n  - "))
	}
	return nil
}

// joinStrings joins a slice of strings with a separator.
func joinStrings(ss []string, sep string) string {
	if len(ss) == 0 {
		return ""
	}
	result := ss[0]
	for _, s := range ss[1:] {
		result += sep + s
	}
	return result
}
