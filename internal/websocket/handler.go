package websocket

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"tapboard/internal/config"
	"tapboard/internal/session"
	"tapboard/pkg/interfaces"
	"tapboard/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Session cookies are SameSite=Strict; cross-origin upgrades carry no
		// session and land as plain unauthorized viewers.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// EventSink receives connection lifecycle and client events. The hub
// implements it; keeping it an interface here avoids a dependency cycle and
// lets handler tests use a recorder.
type EventSink interface {
	Register(conn interfaces.Connection)
	Unregister(conn interfaces.Connection)
	Dispatch(conn interfaces.Connection, frame types.Envelope)
}

// Handler upgrades HTTP requests to realtime connections and pumps their
// inbound frames into the sink, one goroutine per connection, preserving
// per-connection event order.
type Handler struct {
	sink     EventSink
	sessions *session.Manager
	cfg      *config.WebSocketConfig
}

func NewHandler(sink EventSink, sessions *session.Manager, cfg *config.WebSocketConfig) *Handler {
	return &Handler{
		sink:     sink,
		sessions: sessions,
		cfg:      cfg,
	}
}

// handshakeWriter captures headers written while resolving the session, so a
// freshly minted cookie can be carried in the upgrade response. Headers set
// on the real ResponseWriter after the upgrade hijacks the connection would
// be discarded.
type handshakeWriter struct {
	header http.Header
}

func (hw *handshakeWriter) Header() http.Header         { return hw.header }
func (hw *handshakeWriter) Write(b []byte) (int, error) { return len(b), nil }
func (hw *handshakeWriter) WriteHeader(int)             {}

// HandleWebSocket resolves the cookie session, upgrades, and runs the read
// pump until the transport closes. A session minted on first contact is set
// via the handshake response, so the same client reconnects under the same
// session id.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	hw := &handshakeWriter{header: make(http.Header)}
	sessionID, err := h.sessions.SessionID(hw, r)
	if err != nil {
		log.Printf("Failed to resolve session: %v", err)
		http.Error(w, "session error", http.StatusInternalServerError)
		return
	}
	name := h.sessions.Name(r)

	// The originating page self-declares its kind; it is connection metadata,
	// not something inferred from headers.
	kind := r.URL.Query().Get("client")
	switch kind {
	case types.ClientBoard, types.ClientHistory, types.ClientSlideshow, types.ClientBot:
	default:
		kind = types.ClientBoard
	}

	var responseHeader http.Header
	if cookies := hw.header.Values("Set-Cookie"); len(cookies) > 0 {
		responseHeader = http.Header{"Set-Cookie": cookies}
	}

	ws, err := upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	conn := NewConnection(ws, sessionID, name, kind, h.cfg.BufferSize, h.cfg.WriteTimeout)
	log.Printf("Client %s connected (session %s, kind %s)", conn.ID(), sessionID, kind)

	h.sink.Register(conn)
	h.readPump(conn)
}

// readPump reads frames until the transport closes, then deregisters.
// Cleanup is synchronous with the close; there is no grace period.
func (h *Handler) readPump(conn *Connection) {
	defer func() {
		log.Printf("Client %s disconnected", conn.ID())
		h.sink.Unregister(conn)
		_ = conn.Close()
	}()

	if err := conn.ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout)); err != nil {
		return
	}
	conn.ws.SetPongHandler(func(string) error {
		return conn.ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	})

	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				deadline := time.Now().Add(h.cfg.WriteTimeout)
				if err := conn.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket error on %s: %v", conn.ID(), err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var frame types.Envelope
		if err := json.Unmarshal(data, &frame); err != nil {
			// The channel protocol has no error event; malformed frames are
			// dropped.
			log.Printf("Dropping undecodable frame from %s: %v", conn.ID(), err)
			continue
		}

		h.sink.Dispatch(conn, frame)
	}
}
