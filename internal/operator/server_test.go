package operator

import "testing"

type fakeQuerier struct {
	sessions []SessionSnapshot
	plans    map[string]PlanSnapshot
}

func (f *fakeQuerier) ListSessions() ([]SessionSnapshot, error) {
	return f.sessions, nil
}

func (f *fakeQuerier) GetSession(sessionID string) (SessionSnapshot, bool, error) {
	for _, s := range f.sessions {
		if s.SessionID == sessionID {
			return s, true, nil
		}
	}
	return SessionSnapshot{}, false, nil
}

func (f *fakeQuerier) GetPlan(sessionID string) (PlanSnapshot, bool, error) {
	p, ok := f.plans[sessionID]
	return p, ok, nil
}

func newTestServer(q SessionQuerier) *Server {
	return &Server{querier: q, sem: make(chan struct{}, maxConcurrentConns)}
}

func TestDispatch_List(t *testing.T) {
	q := &fakeQuerier{sessions: []SessionSnapshot{{SessionID: "a", HostID: "h", Status: "executing"}}}
	s := newTestServer(q)

	resp := s.dispatch(Request{Cmd: "list"})
	if !resp.OK {
		t.Fatalf("expected ok response, got error: %s", resp.Error)
	}
	if len(resp.Sessions) != 1 || resp.Sessions[0].SessionID != "a" {
		t.Fatalf("unexpected sessions: %+v", resp.Sessions)
	}
}

func TestDispatch_StatusFound(t *testing.T) {
	q := &fakeQuerier{sessions: []SessionSnapshot{{SessionID: "a", Status: "completed"}}}
	s := newTestServer(q)

	resp := s.dispatch(Request{Cmd: "status", SessionID: "a"})
	if !resp.OK || resp.Session == nil || resp.Session.Status != "completed" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestDispatch_StatusMissingSessionID(t *testing.T) {
	s := newTestServer(&fakeQuerier{})
	resp := s.dispatch(Request{Cmd: "status"})
	if resp.OK {
		t.Fatal("expected error for missing session_id")
	}
}

func TestDispatch_StatusUnknownSession(t *testing.T) {
	s := newTestServer(&fakeQuerier{})
	resp := s.dispatch(Request{Cmd: "status", SessionID: "nope"})
	if resp.OK {
		t.Fatal("expected error for unknown session")
	}
}

func TestDispatch_Plan(t *testing.T) {
	q := &fakeQuerier{plans: map[string]PlanSnapshot{"a": {Pending: 1, Applied: 2, Failed: 0}}}
	s := newTestServer(q)

	resp := s.dispatch(Request{Cmd: "plan", SessionID: "a"})
	if !resp.OK || resp.Plan == nil || resp.Plan.Applied != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestDispatch_PlanMissingSessionID(t *testing.T) {
	s := newTestServer(&fakeQuerier{})
	resp := s.dispatch(Request{Cmd: "plan"})
	if resp.OK {
		t.Fatal("expected error for missing session_id")
	}
}

func TestDispatch_PlanNotFound(t *testing.T) {
	s := newTestServer(&fakeQuerier{plans: map[string]PlanSnapshot{}})
	resp := s.dispatch(Request{Cmd: "plan", SessionID: "ghost"})
	if resp.OK {
		t.Fatal("expected error for session with no plan")
	}
}

func TestDispatch_UnknownCommand(t *testing.T) {
	s := newTestServer(&fakeQuerier{})
	resp := s.dispatch(Request{Cmd: "reset"})
	if resp.OK {
		t.Fatal("expected unknown command to be rejected")
	}
}
