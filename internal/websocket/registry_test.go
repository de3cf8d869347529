package websocket

import (
	"testing"
)

// stubConn carries just the identity accessors the registry indexes on.
type stubConn struct {
	id        string
	sessionID string
}

func (s *stubConn) ID() string { return s.id }

func (s *stubConn) SessionID() string { return s.sessionID }

func (s *stubConn) Name() string { return "" }

func (s *stubConn) ClientKind() string { return "board" }

func (s *stubConn) Send(string, interface{}) error { return nil }

func (s *stubConn) Close() error { return nil }

func TestRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	conn := &stubConn{id: "c1", sessionID: "s1"}

	if err := r.Register(conn); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	got, ok := r.Get("c1")
	if !ok || got != conn {
		t.Error("expected registered connection back")
	}
}

func TestRegisterNil(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(nil); err != ErrNilConnection {
		t.Errorf("expected ErrNilConnection, got %v", err)
	}
}

func TestUnregister(t *testing.T) {
	r := NewRegistry()
	conn := &stubConn{id: "c1", sessionID: "s1"}
	_ = r.Register(conn)

	r.Unregister(conn)
	if _, ok := r.Get("c1"); ok {
		t.Error("expected connection removed")
	}

	// Idempotent.
	r.Unregister(conn)

	stats := r.Stats()
	if stats["connections"] != 0 || stats["sessions"] != 0 {
		t.Errorf("expected empty registry, got %v", stats)
	}
}

func TestUnregisterOnlyRemovesSameInstance(t *testing.T) {
	r := NewRegistry()
	old := &stubConn{id: "c1", sessionID: "s1"}
	replacement := &stubConn{id: "c1", sessionID: "s1"}

	_ = r.Register(old)
	_ = r.Register(replacement)

	// A stale cleanup for the old instance must not evict the replacement.
	r.Unregister(old)

	got, ok := r.Get("c1")
	if !ok || got != replacement {
		t.Error("replacement connection must survive stale unregister")
	}
}

func TestSessionConnections(t *testing.T) {
	r := NewRegistry()
	tab1 := &stubConn{id: "c1", sessionID: "s1"}
	tab2 := &stubConn{id: "c2", sessionID: "s1"}
	other := &stubConn{id: "c3", sessionID: "s2"}

	_ = r.Register(tab1)
	_ = r.Register(tab2)
	_ = r.Register(other)

	conns := r.SessionConnections("s1")
	if len(conns) != 2 {
		t.Fatalf("expected 2 connections for s1, got %d", len(conns))
	}
	for _, c := range conns {
		if c.SessionID() != "s1" {
			t.Errorf("wrong session: %s", c.SessionID())
		}
	}

	if got := r.SessionConnections("missing"); len(got) != 0 {
		t.Errorf("expected no connections for unknown session, got %d", len(got))
	}

	stats := r.Stats()
	if stats["connections"] != 3 || stats["sessions"] != 2 {
		t.Errorf("unexpected stats: %v", stats)
	}
}

func TestAll(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(&stubConn{id: "c1", sessionID: "s1"})
	_ = r.Register(&stubConn{id: "c2", sessionID: "s2"})

	if got := len(r.All()); got != 2 {
		t.Errorf("expected 2 connections, got %d", got)
	}
}
