package storage

import (
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pt_test.db")
	db, err := Open(path, 1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpen_InitialisesSchemaVersion(t *testing.T) {
	db := openTestDB(t)
	if err := db.checkSchemaVersion(); err != nil {
		t.Fatalf("expected schema version to be initialised, got: %v", err)
	}
}

func TestSession_PutGetList(t *testing.T) {
	db := openTestDB(t)
	rec := SessionRecord{SessionID: "sess-1", HostID: "host-a", Status: "active"}
	if err := db.PutSession(rec); err != nil {
		t.Fatalf("PutSession: %v", err)
	}

	got, err := db.GetSession("sess-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got == nil || got.Status != "active" {
		t.Fatalf("expected session to round-trip, got %+v", got)
	}

	list, err := db.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 session, got %d", len(list))
	}
}

func TestSession_GetMissing(t *testing.T) {
	db := openTestDB(t)
	got, err := db.GetSession("does-not-exist")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing session, got %+v", got)
	}
}

func TestBaseline_AccumulatesObservations(t *testing.T) {
	db := openTestDB(t)
	const binPath = "/usr/bin/example"

	if err := db.RecordBaselineObservation(binPath, "useful"); err != nil {
		t.Fatalf("RecordBaselineObservation: %v", err)
	}
	if err := db.RecordBaselineObservation(binPath, "useful"); err != nil {
		t.Fatalf("RecordBaselineObservation: %v", err)
	}
	if err := db.RecordBaselineObservation(binPath, "abandoned"); err != nil {
		t.Fatalf("RecordBaselineObservation: %v", err)
	}

	rec, err := db.GetBaseline(binPath)
	if err != nil {
		t.Fatalf("GetBaseline: %v", err)
	}
	if rec == nil {
		t.Fatal("expected a baseline record")
	}
	if rec.SampleCount != 3 {
		t.Errorf("expected sample_count 3, got %d", rec.SampleCount)
	}
	if rec.ClassCounts["useful"] != 2 || rec.ClassCounts["abandoned"] != 1 {
		t.Errorf("unexpected class counts: %+v", rec.ClassCounts)
	}
}

func TestAuditOffset_PutGet(t *testing.T) {
	db := openTestDB(t)
	off := AuditOffset{Path: "/var/log/pt/audit.jsonl", LastEntryHash: "abc123", EntriesCounted: 42}
	if err := db.PutAuditOffset(off); err != nil {
		t.Fatalf("PutAuditOffset: %v", err)
	}
	got, err := db.GetAuditOffset(off.Path)
	if err != nil {
		t.Fatalf("GetAuditOffset: %v", err)
	}
	if got == nil || got.EntriesCounted != 42 || got.LastEntryHash != "abc123" {
		t.Fatalf("expected offset to round-trip, got %+v", got)
	}
}

func TestLedger_AppendPruneRead(t *testing.T) {
	db := openTestDB(t)
	if err := db.AppendLedger(LedgerEntry{PID: 100, Class: "useful", Action: "keep"}); err != nil {
		t.Fatalf("AppendLedger: %v", err)
	}
	entries, err := db.ReadLedger()
	if err != nil {
		t.Fatalf("ReadLedger: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 ledger entry, got %d", len(entries))
	}

	deleted, err := db.PruneOldLedgerEntries()
	if err != nil {
		t.Fatalf("PruneOldLedgerEntries: %v", err)
	}
	// A just-written entry is not older than the retention cutoff.
	if deleted != 0 {
		t.Errorf("expected 0 entries pruned, got %d", deleted)
	}
}
