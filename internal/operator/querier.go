package operator

import (
	"errors"
	"fmt"
	"os"

	"github.com/processtriage/pt/internal/session"
	"github.com/processtriage/pt/internal/storage"
)

// StorageQuerier implements SessionQuerier on top of the daemon's own
// storage.DB (for the cross-session sessions index) and session.Store (for
// the per-session execution plan, which lives on disk under the session's
// own directory rather than in BoltDB). It is read-only by construction:
// neither field it touches has a mutating method reachable from here.
type StorageQuerier struct {
	db    *storage.DB
	store *session.Store
}

// NewStorageQuerier builds the operator socket's query adapter.
func NewStorageQuerier(db *storage.DB, store *session.Store) *StorageQuerier {
	return &StorageQuerier{db: db, store: store}
}

func (q *StorageQuerier) ListSessions() ([]SessionSnapshot, error) {
	recs, err := q.db.ListSessions()
	if err != nil {
		return nil, err
	}
	out := make([]SessionSnapshot, 0, len(recs))
	for _, r := range recs {
		out = append(out, SessionSnapshot{SessionID: r.SessionID, HostID: r.HostID, Status: r.Status})
	}
	return out, nil
}

func (q *StorageQuerier) GetSession(sessionID string) (SessionSnapshot, bool, error) {
	rec, err := q.db.GetSession(sessionID)
	if err != nil {
		return SessionSnapshot{}, false, err
	}
	if rec == nil {
		return SessionSnapshot{}, false, nil
	}
	return SessionSnapshot{SessionID: rec.SessionID, HostID: rec.HostID, Status: rec.Status}, true, nil
}

// GetPlan reads the session's plan.json straight from the session store
// rather than BoltDB: the execution plan is the filesystem-resident unit of
// resume state (SPEC_FULL.md §6), and the sessions bucket is only a
// denormalized index over it for cheap listing.
func (q *StorageQuerier) GetPlan(sessionID string) (PlanSnapshot, bool, error) {
	plan, err := q.store.LoadExecutionPlan(sessionID)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return PlanSnapshot{}, false, nil
		}
		return PlanSnapshot{}, false, err
	}

	pending := len(plan.PendingActions())
	applied := len(plan.AppliedSet())
	failed := 0
	latest := make(map[string]session.EntryStatus)
	for _, e := range plan.Log {
		key := fmt.Sprintf("%d/%s", e.Identity.PID, e.Identity.StartID)
		latest[key] = e.Status
	}
	for _, st := range latest {
		if st == session.EntryFailed {
			failed++
		}
	}
	return PlanSnapshot{Pending: pending, Applied: applied, Failed: failed}, true, nil
}
