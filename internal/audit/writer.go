package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// DefaultMaxSizeBytes is the rotation threshold: once the active file
// reaches this size, the next Append triggers a Checkpoint and rotation.
const DefaultMaxSizeBytes = 64 * 1024 * 1024

// Writer is an append-only, hash-chained JSONL audit log writer. Writes are
// mutex-serialized and fsynced; a background flush loop drains a buffered
// channel the same way the kernel ring-buffer processor drains kernel
// events, so callers on the hot path never block on disk I/O directly.
type Writer struct {
	mu           sync.Mutex
	path         string
	file         *os.File
	w            *bufio.Writer
	prevHash     string
	entryCount   int
	entryHashes  []string
	maxSizeBytes int64
	written      int64

	queue chan Entry
	done  chan struct{}
}

// Open opens (or creates) the audit log at path and restores chain state by
// scanning any existing entries, the same way the reference Go audit
// logger's Open does. A fresh file starts with prevHash = GenesisHash.
func Open(path string, maxSizeBytes int64) (*Writer, error) {
	if maxSizeBytes <= 0 {
		maxSizeBytes = DefaultMaxSizeBytes
	}
	w := &Writer{path: path, prevHash: GenesisHash, maxSizeBytes: maxSizeBytes, queue: make(chan Entry, 256), done: make(chan struct{})}

	if st, err := os.Stat(path); err == nil {
		report, verr := Verify(path)
		if verr != nil {
			return nil, fmt.Errorf("audit: restoring chain state from %q: %w", path, verr)
		}
		if len(report.Entries) > 0 {
			last := report.Entries[len(report.Entries)-1]
			w.prevHash = last.EntryHash
			w.entryCount = len(report.Entries)
			for _, e := range report.Entries {
				w.entryHashes = append(w.entryHashes, e.EntryHash)
			}
		}
		w.written = st.Size()
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open %q: %w", path, err)
	}
	w.file = f
	w.w = bufio.NewWriter(f)
	return w, nil
}

// Append builds the hash chain link for e, writes it, and fsyncs before
// returning — the audit chain must never report success for an entry that
// has not durably hit disk.
func (w *Writer) Append(e Entry) (Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	e.SchemaVersion = SchemaVersion
	e.PrevHash = w.prevHash
	hash, err := e.computeHash()
	if err != nil {
		return Entry{}, fmt.Errorf("audit: hash entry: %w", err)
	}
	e.EntryHash = hash

	data, err := json.Marshal(e)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: marshal entry: %w", err)
	}
	data = append(data, '\n')

	if _, err := w.w.Write(data); err != nil {
		return Entry{}, fmt.Errorf("audit: write entry: %w", err)
	}
	if err := w.w.Flush(); err != nil {
		return Entry{}, fmt.Errorf("audit: flush entry: %w", err)
	}
	if err := w.file.Sync(); err != nil {
		return Entry{}, fmt.Errorf("audit: fsync entry: %w", err)
	}

	w.prevHash = hash
	w.entryCount++
	w.entryHashes = append(w.entryHashes, hash)
	w.written += int64(len(data))

	if w.written >= w.maxSizeBytes {
		if err := w.rotateLocked(e.RunID, e.HostID); err != nil {
			return e, fmt.Errorf("audit: rotate after append: %w", err)
		}
	}

	return e, nil
}

// rotateLocked emits a Checkpoint entry, closes the current file, and
// starts a fresh one whose genesis prev_hash is the checkpoint's own
// entry_hash. Must be called with w.mu held.
func (w *Writer) rotateLocked(runID, hostID string) error {
	checkpoint := Entry{
		EventType: EventCheckpoint,
		RunID:     runID,
		HostID:    hostID,
		Message:   "rotating audit log",
		Details: map[string]any{
			"entry_count": w.entryCount,
			"state_hash":  stateHash(w.entryHashes),
		},
	}
	checkpoint.SchemaVersion = SchemaVersion
	checkpoint.PrevHash = w.prevHash
	hash, err := checkpoint.computeHash()
	if err != nil {
		return err
	}
	checkpoint.EntryHash = hash

	data, err := json.Marshal(checkpoint)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if _, err := w.w.Write(data); err != nil {
		return err
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return err
	}

	nextPath := rotatedPath(w.path, w.entryCount)
	if err := os.Rename(w.path, nextPath); err != nil {
		return fmt.Errorf("audit: rename rotated file: %w", err)
	}

	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w.file = f
	w.w = bufio.NewWriter(f)
	w.prevHash = hash
	w.entryCount = 0
	w.entryHashes = nil
	w.written = 0
	return nil
}

func rotatedPath(path string, n int) string {
	return fmt.Sprintf("%s.%d", path, n)
}

// Enqueue hands an entry to the background flush loop (started by Run)
// instead of blocking the caller on disk I/O; if the queue is full the
// entry is dropped and the caller should fall back to a direct Append.
func (w *Writer) Enqueue(e Entry) bool {
	select {
	case w.queue <- e:
		return true
	default:
		return false
	}
}

// Run drains the enqueue channel on a background goroutine, appending each
// entry in order, until ctx is cancelled — the channel is drained before
// returning, mirroring the kernel ring-buffer processor's shutdown idiom.
func (w *Writer) Run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case e := <-w.queue:
			_, _ = w.Append(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-w.queue:
					_, _ = w.Append(e)
				default:
					return
				}
			}
		}
	}
}

// Close flushes and closes the underlying file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.w.Flush(); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	return w.file.Close()
}
