package session

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/sessions"
)

const (
	cookieName = "tapboard_session"

	keySessionID = "sid"
	keyName      = "name"
)

// Manager hands out stable, cookie-backed session identities. The session id
// survives reconnects and is the unit of authorization; connection ids never
// are. Cookies are signed with the configured secret, so a client cannot
// forge another session's id.
type Manager struct {
	store *sessions.CookieStore
}

// NewManager creates a manager signing cookies with the given secret.
func NewManager(cookieSecret string) *Manager {
	store := sessions.NewCookieStore([]byte(cookieSecret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   30 * 24 * 60 * 60,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
	return &Manager{store: store}
}

// SessionID returns the request's session id, minting and setting one on
// first contact. A tampered cookie decodes to a fresh session rather than an
// error.
func (m *Manager) SessionID(w http.ResponseWriter, r *http.Request) (string, error) {
	sess, _ := m.store.Get(r, cookieName)

	if id, ok := sess.Values[keySessionID].(string); ok && id != "" {
		return id, nil
	}

	id := uuid.NewString()
	sess.Values[keySessionID] = id
	if err := sess.Save(r, w); err != nil {
		return "", err
	}
	return id, nil
}

// Name returns the display name recorded for the session, or "".
func (m *Manager) Name(r *http.Request) string {
	sess, _ := m.store.Get(r, cookieName)
	name, _ := sess.Values[keyName].(string)
	return name
}

// SetName records the display name used as the actor on this session's
// mutations.
func (m *Manager) SetName(w http.ResponseWriter, r *http.Request, name string) error {
	sess, _ := m.store.Get(r, cookieName)
	sess.Values[keyName] = name
	return sess.Save(r, w)
}

// AddFlash queues a one-shot message for the next page load.
func (m *Manager) AddFlash(w http.ResponseWriter, r *http.Request, message string) error {
	sess, _ := m.store.Get(r, cookieName)
	sess.AddFlash(message)
	return sess.Save(r, w)
}

// Flashes drains and returns the queued flash messages.
func (m *Manager) Flashes(w http.ResponseWriter, r *http.Request) []string {
	sess, _ := m.store.Get(r, cookieName)
	raw := sess.Flashes()
	if len(raw) > 0 {
		// Reading flashes mutates the session; persist the drain.
		_ = sess.Save(r, w)
	}

	messages := make([]string, 0, len(raw))
	for _, f := range raw {
		if s, ok := f.(string); ok {
			messages = append(messages, s)
		}
	}
	return messages
}
