package telemetry

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/processtriage/pt/internal/observability"
)

func TestWriter_FlushesOnThreshold(t *testing.T) {
	dir := t.TempDir()
	m := observability.NewMetrics()
	w := New(dir, "host-1", 100, 2, time.Hour, m, nil)

	w.append(Row{Table: "classifications", Fields: map[string]any{"pid": 1}})
	w.append(Row{Table: "classifications", Fields: map[string]any{"pid": 2}})
	w.flushTable("classifications")

	found := false
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() && strings.HasSuffix(path, ".jsonl") {
			found = true
		}
		return nil
	})
	if !found {
		t.Fatal("expected a partitioned jsonl file after flush")
	}
}

func TestWriter_DropsWhenQueueFull(t *testing.T) {
	dir := t.TempDir()
	m := observability.NewMetrics()
	w := New(dir, "host-1", 1, 10, time.Hour, m, nil)

	w.Enqueue(Row{Table: "t", Fields: map[string]any{"a": 1}})
	ok := w.Enqueue(Row{Table: "t", Fields: map[string]any{"a": 2}})
	if ok {
		t.Fatal("expected second enqueue to be dropped once the queue is full")
	}
}

func TestWriter_RunFlushesOnCancel(t *testing.T) {
	dir := t.TempDir()
	m := observability.NewMetrics()
	w := New(dir, "host-1", 100, 1000, time.Hour, m, nil)

	ctx, cancel := context.WithCancel(context.Background())
	doneCh := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(doneCh)
	}()

	w.Enqueue(Row{Table: "scans", Fields: map[string]any{"n": 1}})
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-doneCh:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after cancellation")
	}

	found := false
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() && strings.HasSuffix(path, ".jsonl") {
			found = true
		}
		return nil
	})
	if !found {
		t.Fatal("expected Run to flush buffered rows on cancellation")
	}
}
