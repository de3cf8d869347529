package session

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// carryCookies copies Set-Cookie headers from a response onto a new request,
// simulating a browser's next visit.
func carryCookies(t *testing.T, w *httptest.ResponseRecorder, r *http.Request) {
	t.Helper()
	for _, cookie := range w.Result().Cookies() {
		r.AddCookie(cookie)
	}
}

func TestSessionIDStableAcrossRequests(t *testing.T) {
	m := NewManager("test-secret")

	first := httptest.NewRequest(http.MethodGet, "/", nil)
	w1 := httptest.NewRecorder()
	id1, err := m.SessionID(w1, first)
	if err != nil {
		t.Fatalf("SessionID failed: %v", err)
	}
	if id1 == "" {
		t.Fatal("expected a session id to be minted")
	}
	if len(w1.Result().Cookies()) == 0 {
		t.Fatal("expected a session cookie to be set")
	}

	second := httptest.NewRequest(http.MethodGet, "/", nil)
	carryCookies(t, w1, second)
	w2 := httptest.NewRecorder()
	id2, err := m.SessionID(w2, second)
	if err != nil {
		t.Fatalf("SessionID failed: %v", err)
	}
	if id2 != id1 {
		t.Errorf("session id changed across requests: %q vs %q", id1, id2)
	}
}

func TestSessionIDDistinctClients(t *testing.T) {
	m := NewManager("test-secret")

	r1 := httptest.NewRequest(http.MethodGet, "/", nil)
	r2 := httptest.NewRequest(http.MethodGet, "/", nil)
	id1, _ := m.SessionID(httptest.NewRecorder(), r1)
	id2, _ := m.SessionID(httptest.NewRecorder(), r2)

	if id1 == id2 {
		t.Error("two cookie-less clients received the same session id")
	}
}

func TestTamperedCookieGetsFreshSession(t *testing.T) {
	m := NewManager("test-secret")

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.AddCookie(&http.Cookie{Name: cookieName, Value: "forged"})
	w := httptest.NewRecorder()

	id, err := m.SessionID(w, r)
	if err != nil {
		t.Fatalf("SessionID failed: %v", err)
	}
	if id == "" {
		t.Error("expected a fresh session id for a tampered cookie")
	}
}

func TestName(t *testing.T) {
	m := NewManager("test-secret")

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	if name := m.Name(r); name != "" {
		t.Errorf("expected empty name for fresh session, got %q", name)
	}

	w := httptest.NewRecorder()
	if err := m.SetName(w, r, "alice"); err != nil {
		t.Fatalf("SetName failed: %v", err)
	}

	next := httptest.NewRequest(http.MethodGet, "/", nil)
	carryCookies(t, w, next)
	if name := m.Name(next); name != "alice" {
		t.Errorf("expected name alice, got %q", name)
	}
}

func TestFlashesDrainOnce(t *testing.T) {
	m := NewManager("test-secret")

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	if err := m.AddFlash(w, r, "Wrong code, please try again"); err != nil {
		t.Fatalf("AddFlash failed: %v", err)
	}

	next := httptest.NewRequest(http.MethodGet, "/", nil)
	carryCookies(t, w, next)
	w2 := httptest.NewRecorder()
	flashes := m.Flashes(w2, next)
	if len(flashes) != 1 || flashes[0] != "Wrong code, please try again" {
		t.Fatalf("unexpected flashes: %v", flashes)
	}

	// Drained: the follow-up request carries the updated cookie and sees none.
	third := httptest.NewRequest(http.MethodGet, "/", nil)
	carryCookies(t, w2, third)
	if flashes := m.Flashes(httptest.NewRecorder(), third); len(flashes) != 0 {
		t.Errorf("expected flashes drained, got %v", flashes)
	}
}
