// Package telemetry is the typed-table sink boundary: a buffered,
// per-table row writer that flushes to partitioned JSONL files. The
// reference system writes Parquet; Parquet encoding itself is out of
// scope here, so every table is a flat newline-delimited JSON file instead,
// laid out under the same year=/month=/day=/host_id= partitioning scheme.
//
// Backpressure follows the same shape as a ring-buffer event processor: a
// bounded in-memory queue per table, rows dropped (and counted) rather than
// blocking the caller when the queue is full, and a background flush loop
// that drains the queue on a row-count threshold or a ticker, whichever
// comes first.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/processtriage/pt/internal/observability"
)

// Row is one record destined for a named table. Fields is marshalled as a
// single JSON object per line.
type Row struct {
	Table  string
	Fields map[string]any
}

// Sink accepts rows for eventual durable storage. Writer is the only
// implementation; the interface exists so callers that only need to
// enqueue rows (the scan/decision pipeline) don't depend on Writer's
// concrete flush machinery.
type Sink interface {
	Enqueue(row Row) bool
}

// Writer buffers rows per table in memory and flushes each table's buffer
// to a partitioned JSONL file once it reaches flushThreshold rows or
// flushInterval elapses, whichever comes first.
type Writer struct {
	baseDir         string
	hostID          string
	flushThreshold  int
	flushInterval   time.Duration
	metrics         *observability.Metrics
	log             *zap.Logger

	mu      sync.Mutex
	buffers map[string][]Row
	queue   chan Row
	done    chan struct{}
}

// New builds a Writer rooted at baseDir (typically $DATA/telemetry).
// queueCap bounds the number of rows buffered across all tables before
// Enqueue starts dropping; flushThreshold is the per-table row count that
// triggers an eager flush.
func New(baseDir, hostID string, queueCap, flushThreshold int, flushInterval time.Duration, metrics *observability.Metrics, log *zap.Logger) *Writer {
	if flushThreshold <= 0 {
		flushThreshold = 500
	}
	if flushInterval <= 0 {
		flushInterval = 30 * time.Second
	}
	return &Writer{
		baseDir:        baseDir,
		hostID:         hostID,
		flushThreshold: flushThreshold,
		flushInterval:  flushInterval,
		metrics:        metrics,
		log:            log,
		buffers:        make(map[string][]Row),
		queue:          make(chan Row, queueCap),
		done:           make(chan struct{}),
	}
}

// Enqueue submits a row for eventual flush. It never blocks: if the queue
// is full the row is dropped and TelemetryRowsDroppedTotal is incremented.
func (w *Writer) Enqueue(row Row) bool {
	select {
	case w.queue <- row:
		return true
	default:
		if w.metrics != nil {
			w.metrics.TelemetryRowsDroppedTotal.WithLabelValues(row.Table).Inc()
		}
		if w.log != nil {
			w.log.Debug("telemetry queue full, dropping row", zap.String("table", row.Table))
		}
		return false
	}
}

// Run drains the queue until ctx is cancelled, flushing every table's
// buffer on exit. It is meant to run in its own goroutine, coordinated
// alongside the audit writer's flush loop under one cancellable group.
func (w *Writer) Run(ctx context.Context) {
	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()
	defer w.flushAll()

	for {
		select {
		case <-ctx.Done():
			return
		case row, ok := <-w.queue:
			if !ok {
				return
			}
			w.append(row)
		case <-ticker.C:
			w.flushAll()
		}
	}
}

func (w *Writer) append(row Row) {
	w.mu.Lock()
	w.buffers[row.Table] = append(w.buffers[row.Table], row)
	full := len(w.buffers[row.Table]) >= w.flushThreshold
	w.mu.Unlock()
	if full {
		w.flushTable(row.Table)
	}
}

func (w *Writer) flushAll() {
	w.mu.Lock()
	tables := make([]string, 0, len(w.buffers))
	for t := range w.buffers {
		tables = append(tables, t)
	}
	w.mu.Unlock()
	for _, t := range tables {
		w.flushTable(t)
	}
}

func (w *Writer) flushTable(table string) {
	w.mu.Lock()
	rows := w.buffers[table]
	w.buffers[table] = nil
	w.mu.Unlock()
	if len(rows) == 0 {
		return
	}

	path, err := w.partitionPath(table, time.Now())
	if err != nil {
		if w.log != nil {
			w.log.Warn("telemetry: failed to resolve partition path", zap.String("table", table), zap.Error(err))
		}
		return
	}
	if err := appendJSONL(path, rows); err != nil {
		if w.log != nil {
			w.log.Warn("telemetry: flush failed", zap.String("table", table), zap.String("path", path), zap.Error(err))
		}
		return
	}
	if w.metrics != nil {
		w.metrics.TelemetryRowsWrittenTotal.WithLabelValues(table).Add(float64(len(rows)))
	}
}

// partitionPath mirrors the persisted-state layout's
// telemetry/<table>/year=.../month=.../day=.../host_id=.../<table>_<suffix>.jsonl
// convention; <suffix> is the hour, so at most one file is appended to per
// table per hour.
func (w *Writer) partitionPath(table string, ts time.Time) (string, error) {
	dir := filepath.Join(
		w.baseDir, table,
		fmt.Sprintf("year=%04d", ts.Year()),
		fmt.Sprintf("month=%02d", ts.Month()),
		fmt.Sprintf("day=%02d", ts.Day()),
		fmt.Sprintf("host_id=%s", w.hostID),
	)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("telemetry: mkdir %s: %w", dir, err)
	}
	name := fmt.Sprintf("%s_%02d.jsonl", table, ts.Hour())
	return filepath.Join(dir, name), nil
}

func appendJSONL(path string, rows []Row) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, r := range rows {
		if err := enc.Encode(r.Fields); err != nil {
			return err
		}
	}
	return f.Sync()
}

// Close flushes every buffered row and releases resources. It does not
// stop a running Run goroutine; callers should cancel that goroutine's
// context first.
func (w *Writer) Close() error {
	w.flushAll()
	return nil
}
