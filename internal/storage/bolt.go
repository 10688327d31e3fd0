// Package storage — bolt.go
//
// BoltDB-backed persistent storage for pt.
//
// Schema (BoltDB bucket layout):
//
//	/sessions
//	    key:   session_id
//	    value: JSON-encoded SessionRecord (manifest snapshot, for fast
//	           cross-session listing without touching the filesystem store)
//
//	/ledger
//	    key:   RFC3339Nano timestamp + "_" + pid  [monotonic, sortable]
//	    value: JSON-encoded LedgerEntry (queryable index of classifications;
//	           NOT the tamper-evident record — that is internal/audit's
//	           hash-chained JSONL log. This bucket exists purely so an
//	           operator can ask "what did pt think about PID N historically"
//	           without replaying the audit log.)
//
//	/audit_offsets
//	    key:   audit log path
//	    value: JSON-encoded AuditOffset (last verified entry_hash + line
//	           count), a resume cache so a long-running engine does not
//	           re-verify the whole chain on every restart.
//
//	/baselines
//	    key:   sha256(binary_path)  [32 bytes hex-encoded = 64 chars]
//	    value: JSON-encoded BinaryBaseline (per-binary empirical class
//	           frequencies, feeding an adaptive Dirichlet prior for
//	           command_category)
//
//	/meta
//	    key:   "schema_version"
//	    value: "1"
//
// Consistency model:
//   - Single-process, single-writer (BoltDB does not support concurrent writers).
//   - All writes use ACID transactions (bbolt Tx.Commit()).
//   - Reads use read-only transactions (bbolt.View()).
//   - CRC32 integrity check on database open (bbolt built-in).
//
// Retention:
//   - Ledger entries older than RetentionDays are pruned on startup and
//     periodically by the retention goroutine (every 6 hours).
//   - Baselines are never automatically pruned (operator action required).
//
// Failure modes:
//   - BoltDB file corruption: bbolt detects via CRC and returns an error
//     on Open(). The engine logs a fatal event and refuses to start.
//     Recovery: restore from backup at /var/lib/pt/db.bak.
//   - Disk full: bbolt.Update() returns an error. The engine logs the error
//     and continues without persisting (in-memory state preserved).

package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// DefaultDBPath is the default BoltDB file location.
	DefaultDBPath = "/var/lib/pt/pt.db"

	// SchemaVersion is the current database schema version.
	SchemaVersion = "1"

	// DefaultRetentionDays is the default ledger retention period.
	DefaultRetentionDays = 30

	// bucketSessions is the BoltDB bucket name for session snapshots.
	bucketSessions = "sessions"

	// bucketLedger is the BoltDB bucket name for the queryable
	// classification/decision index.
	bucketLedger = "ledger"

	// bucketAuditOffsets is the BoltDB bucket name for audit-log resume
	// offsets.
	bucketAuditOffsets = "audit_offsets"

	// bucketBaselines is the BoltDB bucket name for per-binary baselines.
	bucketBaselines = "baselines"

	// bucketMeta is the BoltDB bucket name for schema metadata.
	bucketMeta = "meta"
)

// SessionRecord is a denormalised snapshot of a session's current status,
// stored alongside the filesystem-backed session.Manifest so an operator
// query can list sessions without opening every manifest file.
type SessionRecord struct {
	SessionID string    `json:"session_id"`
	HostID    string    `json:"host_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LedgerEntry is a single classification/decision record, indexed for
// historical operator queries. Stored as JSON in the ledger bucket.
type LedgerEntry struct {
	// Timestamp is the event time (nanosecond precision).
	Timestamp time.Time `json:"timestamp"`

	// PID is the process ID that was classified.
	PID uint32 `json:"pid"`

	// Class is the winning posterior class (useful, useful_bad, abandoned,
	// zombie).
	Class string `json:"class"`

	// Action is the decision-theoretic action chosen for this process.
	Action string `json:"action"`

	// ExpectedLoss is the expected loss of the chosen action.
	ExpectedLoss float64 `json:"expected_loss"`

	// SessionID links this entry back to the session that produced it.
	SessionID string `json:"session_id"`

	// HostID is the workstation that recorded this entry.
	HostID string `json:"host_id"`
}

// AuditOffset is a resume checkpoint for an audit log file, avoiding a
// full re-verification pass on every engine restart.
type AuditOffset struct {
	Path           string    `json:"path"`
	LastEntryHash  string    `json:"last_entry_hash"`
	EntriesCounted int       `json:"entries_counted"`
	VerifiedAt     time.Time `json:"verified_at"`
}

// BinaryBaseline holds empirical class frequencies observed for one
// binary path, used to adapt the command_category Dirichlet prior over
// time instead of relying solely on the static default.
type BinaryBaseline struct {
	// BinaryPath is the absolute path of the monitored binary.
	BinaryPath string `json:"binary_path"`

	// BinaryHash is sha256(binary_path) used as the BoltDB key.
	BinaryHash string `json:"binary_hash"`

	// ClassCounts maps class name to the number of times a process
	// running this binary was classified into that class.
	ClassCounts map[string]int `json:"class_counts"`

	// SampleCount is the total number of classifications folded into
	// ClassCounts.
	SampleCount int `json:"sample_count"`

	// UpdatedAt is the timestamp of the last baseline update.
	UpdatedAt time.Time `json:"updated_at"`
}

// DB wraps a BoltDB instance with typed accessors for pt data.
type DB struct {
	db            *bolt.DB
	retentionDays int
}

// Open opens (or creates) the BoltDB database at the given path.
// Initialises all required buckets and verifies the schema version.
// Returns an error if the database is corrupt or schema is incompatible.
func Open(path string, retentionDays int) (*DB, error) {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}

	bdb, err := bolt.Open(path, 0o600, &bolt.Options{
		Timeout:      5 * time.Second,
		NoGrowSync:   false,
		FreelistType: bolt.FreelistArrayType,
	})
	if err != nil {
		return nil, fmt.Errorf("bolt.Open(%q): %w", path, err)
	}

	d := &DB{db: bdb, retentionDays: retentionDays}

	// Initialise buckets and schema version in a single write transaction.
	if err := d.db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{bucketSessions, bucketLedger, bucketAuditOffsets, bucketBaselines, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("CreateBucketIfNotExists(%q): %w", name, err)
			}
		}

		// Write schema version if not present.
		meta := tx.Bucket([]byte(bucketMeta))
		if meta.Get([]byte("schema_version")) == nil {
			if err := meta.Put([]byte("schema_version"), []byte(SchemaVersion)); err != nil {
				return fmt.Errorf("write schema_version: %w", err)
			}
		}
		return nil
	}); err != nil {
		_ = bdb.Close()
		return nil, fmt.Errorf("database initialisation failed: %w", err)
	}

	// Verify schema version compatibility.
	if err := d.checkSchemaVersion(); err != nil {
		_ = bdb.Close()
		return nil, err
	}

	return d, nil
}

// checkSchemaVersion reads and validates the stored schema version.
func (d *DB) checkSchemaVersion() error {
	return d.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket([]byte(bucketMeta))
		v := meta.Get([]byte("schema_version"))
		if string(v) != SchemaVersion {
			return fmt.Errorf(
				"schema version mismatch: database has %q, engine requires %q. "+
					"Run migration or restore from backup.",
				string(v), SchemaVersion,
			)
		}
		return nil
	})
}

// Close closes the underlying BoltDB file.
func (d *DB) Close() error {
	return d.db.Close()
}

// ─── Session operations ───────────────────────────────────────────────────────

// PutSession writes or updates a session snapshot.
func (d *DB) PutSession(rec SessionRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("PutSession marshal: %w", err)
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketSessions))
		return b.Put([]byte(rec.SessionID), data)
	})
}

// GetSession retrieves a session snapshot by ID. Returns (nil, nil) if
// absent.
func (d *DB) GetSession(sessionID string) (*SessionRecord, error) {
	var rec SessionRecord
	found := false
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketSessions))
		data := b.Get([]byte(sessionID))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, fmt.Errorf("GetSession(%q): %w", sessionID, err)
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

// ListSessions returns every session snapshot, in bucket (insertion) order.
func (d *DB) ListSessions() ([]SessionRecord, error) {
	var out []SessionRecord
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketSessions))
		return b.ForEach(func(_, v []byte) error {
			var rec SessionRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}

// ─── Baseline operations ──────────────────────────────────────────────────────

// binaryKey computes the BoltDB key for a binary path: sha256(path) hex-encoded.
func binaryKey(binaryPath string) []byte {
	h := sha256.Sum256([]byte(binaryPath))
	key := make([]byte, hex.EncodedLen(len(h)))
	hex.Encode(key, h[:])
	return key
}

// RecordBaselineObservation folds one more classification into a binary's
// baseline, creating the record if it does not already exist.
func (d *DB) RecordBaselineObservation(binaryPath, class string) error {
	key := binaryKey(binaryPath)
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketBaselines))
		var rec BinaryBaseline
		if data := b.Get(key); data != nil {
			if err := json.Unmarshal(data, &rec); err != nil {
				return fmt.Errorf("RecordBaselineObservation unmarshal: %w", err)
			}
		} else {
			rec = BinaryBaseline{
				BinaryPath:  binaryPath,
				BinaryHash:  string(key),
				ClassCounts: map[string]int{},
			}
		}
		if rec.ClassCounts == nil {
			rec.ClassCounts = map[string]int{}
		}
		rec.ClassCounts[class]++
		rec.SampleCount++
		rec.UpdatedAt = time.Now().UTC()

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("RecordBaselineObservation marshal: %w", err)
		}
		return b.Put(key, data)
	})
}

// GetBaseline retrieves the baseline record for a binary path.
// Returns (nil, nil) if no baseline exists for this binary.
func (d *DB) GetBaseline(binaryPath string) (*BinaryBaseline, error) {
	key := binaryKey(binaryPath)
	var rec BinaryBaseline
	found := false

	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketBaselines))
		data := b.Get(key)
		if data == nil {
			return nil // Not found.
		}
		found = true
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, fmt.Errorf("GetBaseline(%q): %w", binaryPath, err)
	}
	if !found {
		return nil, nil
	}
	return &rec, nil
}

// ─── Audit offset operations ───────────────────────────────────────────────────

// PutAuditOffset records the resume checkpoint for an audit log file.
func (d *DB) PutAuditOffset(off AuditOffset) error {
	off.VerifiedAt = time.Now().UTC()
	data, err := json.Marshal(off)
	if err != nil {
		return fmt.Errorf("PutAuditOffset marshal: %w", err)
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketAuditOffsets))
		return b.Put([]byte(off.Path), data)
	})
}

// GetAuditOffset retrieves the resume checkpoint for an audit log file.
// Returns (nil, nil) if none is recorded.
func (d *DB) GetAuditOffset(path string) (*AuditOffset, error) {
	var off AuditOffset
	found := false
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketAuditOffsets))
		data := b.Get([]byte(path))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &off)
	})
	if err != nil {
		return nil, fmt.Errorf("GetAuditOffset(%q): %w", path, err)
	}
	if !found {
		return nil, nil
	}
	return &off, nil
}

// ─── Ledger operations ────────────────────────────────────────────────────────

// ledgerKey constructs a sortable BoltDB key for a ledger entry.
// Format: RFC3339Nano + "_" + PID (zero-padded to 10 digits).
// Lexicographic sort = chronological sort.
func ledgerKey(t time.Time, pid uint32) []byte {
	return []byte(fmt.Sprintf("%s_%010d", t.UTC().Format(time.RFC3339Nano), pid))
}

// AppendLedger writes a new classification/decision index entry.
// Uses a single ACID write transaction.
func (d *DB) AppendLedger(entry LedgerEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("AppendLedger marshal: %w", err)
	}

	key := ledgerKey(entry.Timestamp, entry.PID)

	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketLedger))
		if err := b.Put(key, data); err != nil {
			return fmt.Errorf("AppendLedger bolt.Put: %w", err)
		}
		return nil
	})
}

// PruneOldLedgerEntries deletes ledger entries older than retentionDays.
// Called on startup and periodically by the retention goroutine.
// Returns the number of entries deleted.
func (d *DB) PruneOldLedgerEntries() (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -d.retentionDays)
	cutoffKey := ledgerKey(cutoff, 0)

	var deleted int
	err := d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketLedger))
		c := b.Cursor()

		// Collect keys to delete (cannot delete during iteration in bbolt).
		var toDelete [][]byte
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if string(k) >= string(cutoffKey) {
				break // All remaining keys are newer than cutoff.
			}
			keyCopy := make([]byte, len(k))
			copy(keyCopy, k)
			toDelete = append(toDelete, keyCopy)
		}

		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return fmt.Errorf("PruneOldLedgerEntries delete: %w", err)
			}
			deleted++
		}
		return nil
	})
	return deleted, err
}

// ReadLedger returns all ledger entries in chronological order.
// For operational use (CLI inspection). Not called on the hot path.
func (d *DB) ReadLedger() ([]LedgerEntry, error) {
	var entries []LedgerEntry
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketLedger))
		return b.ForEach(func(_, v []byte) error {
			var entry LedgerEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
			return nil
		})
	})
	return entries, err
}
