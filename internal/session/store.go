package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Store persists sessions under $DATA/sessions/<session_id>/ following the
// layout in SPEC_FULL.md §6: manifest.json, context.json,
// decision/plan.json, logs/session.jsonl.
type Store struct {
	dataDir string
}

// NewStore roots a Store at dataDir (typically $PROCESS_TRIAGE_DATA).
func NewStore(dataDir string) *Store {
	return &Store{dataDir: dataDir}
}

// Manifest is the small top-level session descriptor, separate from the
// execution plan so callers can discover sessions without parsing the
// (potentially large) plan/log.
type Manifest struct {
	SessionID string         `json:"session_id"`
	HostID    string         `json:"host_id"`
	Status    Status         `json:"status"`
	History   []StatusChange `json:"history"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewSession allocates a fresh session_id and writes its initial manifest
// in StatusNew.
func (s *Store) NewSession(hostID string) (Manifest, error) {
	m := Manifest{
		SessionID: uuid.NewString(),
		HostID:    hostID,
		Status:    StatusNew,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.SaveManifest(m); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

func (s *Store) sessionDir(sessionID string) string {
	return filepath.Join(s.dataDir, "sessions", sessionID)
}

// Transition advances a manifest's status, enforcing CanTransition and
// appending a StatusChange to its history.
func (m *Manifest) Transition(to Status) error {
	if !CanTransition(m.Status, to) {
		return fmt.Errorf("session: illegal transition %s -> %s", m.Status, to)
	}
	m.History = append(m.History, StatusChange{From: m.Status, To: to, Timestamp: time.Now().UTC()})
	m.Status = to
	return nil
}

// SaveManifest writes manifest.json atomically (tmp file + rename), the
// same durability idiom the escalation camouflage engine uses for its hint
// files: readers never observe a partial write.
func (s *Store) SaveManifest(m Manifest) error {
	return writeJSONAtomic(filepath.Join(s.sessionDir(m.SessionID), "manifest.json"), m)
}

// LoadManifest reads a session's manifest.json.
func (s *Store) LoadManifest(sessionID string) (Manifest, error) {
	var m Manifest
	err := readJSON(filepath.Join(s.sessionDir(sessionID), "manifest.json"), &m)
	return m, err
}

// SaveExecutionPlan writes decision/plan.json atomically.
func (s *Store) SaveExecutionPlan(plan ExecutionPlan) error {
	return writeJSONAtomic(filepath.Join(s.sessionDir(plan.SessionID), "decision", "plan.json"), plan)
}

// LoadExecutionPlan reads decision/plan.json.
func (s *Store) LoadExecutionPlan(sessionID string) (ExecutionPlan, error) {
	var plan ExecutionPlan
	err := readJSON(filepath.Join(s.sessionDir(sessionID), "decision", "plan.json"), &plan)
	return plan, err
}

// writeJSONAtomic marshals v and writes it to path via a temp file in the
// same directory followed by an atomic rename, creating parent directories
// as needed.
func writeJSONAtomic(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("session: mkdir %q: %w", dir, err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("session: marshal %q: %w", path, err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("session: write tmp %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("session: rename %q -> %q: %w", tmp, path, err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("session: read %q: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("session: unmarshal %q: %w", path, err)
	}
	return nil
}
