package interfaces

// Connection is one live realtime channel. A session may own many
// connections (tabs, devices); the connection identity is ephemeral and a
// reconnect always produces a new one.
type Connection interface {
	// ID returns the ephemeral connection id.
	ID() string

	// SessionID returns the cookie-backed session this connection belongs to.
	SessionID() string

	// Name returns the display name recorded for the session, or "".
	Name() string

	// ClientKind returns the self-declared kind of the originating page
	// (board, history, slideshow, bot).
	ClientKind() string

	// Send writes one named event to the client. Implementations must be safe
	// for concurrent use.
	Send(event string, data interface{}) error

	// Close tears the connection down and releases its resources.
	Close() error
}
