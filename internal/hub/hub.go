package hub

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"tapboard/internal/auth"
	"tapboard/internal/catalog"
	"tapboard/internal/state"
	"tapboard/internal/websocket"
	"tapboard/pkg/interfaces"
	"tapboard/pkg/types"
)

// Hub is the replication broadcaster: it owns the connection lifecycle,
// pushes the initial snapshot to every new connection, serializes client
// mutation events through one processing loop and fans confirmed changes out
// to every live connection.
//
// Authorization is re-checked against the store on every mutation event; a
// grant observed earlier in the connection's life is never trusted.
type Hub struct {
	registry *websocket.Registry
	board    *state.Board
	gate     *auth.Gate
	store    interfaces.Store
	catalog  *catalog.Catalog

	registerCh   chan interfaces.Connection
	unregisterCh chan interfaces.Connection
	eventCh      chan *clientEvent
	shutdownCh   chan struct{}

	handlers map[string]eventHandler

	running bool
	mu      sync.RWMutex
}

// clientEvent pairs an inbound frame with the connection it arrived on.
type clientEvent struct {
	conn  interfaces.Connection
	frame types.Envelope
}

// eventHandler processes one named client event.
type eventHandler func(ctx context.Context, conn interfaces.Connection, data json.RawMessage)

func NewHub(registry *websocket.Registry, board *state.Board, gate *auth.Gate, store interfaces.Store, cat *catalog.Catalog) *Hub {
	h := &Hub{
		registry:     registry,
		board:        board,
		gate:         gate,
		store:        store,
		catalog:      cat,
		registerCh:   make(chan interfaces.Connection, 100),
		unregisterCh: make(chan interfaces.Connection, 100),
		eventCh:      make(chan *clientEvent, 1000),
		shutdownCh:   make(chan struct{}),
	}

	// Dispatch table keyed by event name. Unknown events are dropped; the
	// channel protocol has no error response.
	h.handlers = map[string]eventHandler{
		types.EventUpdateSingle: h.handleUpdateSingle,
		types.EventReplaceAll:   h.handleReplaceAll,
		types.EventUpdateAll:    h.handleUpdateAll,
		types.EventConfig:       h.handleConfig,
	}

	return h
}

// Start launches the processing loop.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.mu.Unlock()

	log.Println("Starting broadcaster hub...")
	go h.run(ctx)
	return nil
}

// Stop shuts the processing loop down.
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return ErrHubNotRunning
	}
	h.running = false

	select {
	case <-h.shutdownCh:
	default:
		close(h.shutdownCh)
	}
	return nil
}

// Register queues a new connection for snapshot delivery. Implements
// websocket.EventSink.
func (h *Hub) Register(conn interfaces.Connection) {
	select {
	case h.registerCh <- conn:
	default:
		log.Printf("Register queue full, dropping connection %s", conn.ID())
		_ = conn.Close()
	}
}

// Unregister queues a closed connection for cleanup.
func (h *Hub) Unregister(conn interfaces.Connection) {
	select {
	case h.unregisterCh <- conn:
	default:
		// Queue full: clean up inline rather than leak the registration.
		log.Printf("Unregister queue full, cleaning up connection %s inline", conn.ID())
		h.handleUnregister(context.Background(), conn)
	}
}

// Dispatch queues one client frame. Frames from one connection arrive here in
// read order and the single run loop preserves it; there is no ordering
// guarantee across connections.
func (h *Hub) Dispatch(conn interfaces.Connection, frame types.Envelope) {
	select {
	case h.eventCh <- &clientEvent{conn: conn, frame: frame}:
	default:
		log.Printf("Event queue full, dropping %q from %s", frame.Event, conn.ID())
	}
}

func (h *Hub) run(ctx context.Context) {
	defer log.Println("Broadcaster hub stopped")

	for {
		select {
		case conn := <-h.registerCh:
			h.handleRegister(ctx, conn)
		case conn := <-h.unregisterCh:
			h.handleUnregister(ctx, conn)
		case event := <-h.eventCh:
			h.handleEvent(ctx, event.conn, event.frame)
		case <-h.shutdownCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// handleRegister wires a new connection in and sends its initial snapshot:
// authorization status, the full table and config, plus catalog and history
// depending on the declared client kind.
func (h *Hub) handleRegister(ctx context.Context, conn interfaces.Connection) {
	if conn == nil {
		return
	}

	if err := h.registry.Register(conn); err != nil {
		log.Printf("Failed to register connection: %v", err)
		_ = conn.Close()
		return
	}
	if err := h.store.AddConnection(ctx, conn.SessionID(), conn.ID()); err != nil {
		log.Printf("Failed to record connection %s: %v", conn.ID(), err)
	}

	h.send(conn, types.EventAuth, h.gate.IsAuthorized(ctx, conn.SessionID()))
	h.send(conn, types.EventReplaceAll, h.board.Snapshot())
	h.send(conn, types.EventConfig, h.board.Config())

	kind := conn.ClientKind()

	if kind == types.ClientBoard || kind == types.ClientHistory || kind == types.ClientBot {
		if h.catalog != nil && !h.catalog.Empty() {
			h.send(conn, types.EventBeers, h.catalog.Beers())
		}
	}

	// History-page clients and headless bots need the full log in one round
	// trip.
	if kind == types.ClientHistory || kind == types.ClientBot {
		entries, err := h.store.ReadLog(ctx)
		if err != nil {
			log.Printf("Failed to read change log for %s: %v", conn.ID(), err)
		} else {
			h.send(conn, types.EventHistory, entries)
		}
	}
}

// handleUnregister removes a closed connection. The session and its
// authorization persist; only the connection identity dies.
func (h *Hub) handleUnregister(ctx context.Context, conn interfaces.Connection) {
	if conn == nil {
		return
	}

	h.registry.Unregister(conn)
	if err := h.store.RemoveConnection(ctx, conn.SessionID(), conn.ID()); err != nil {
		log.Printf("Failed to remove connection record %s: %v", conn.ID(), err)
	}
}

func (h *Hub) handleEvent(ctx context.Context, conn interfaces.Connection, frame types.Envelope) {
	handler, ok := h.handlers[frame.Event]
	if !ok {
		log.Printf("Dropping unknown event %q from %s", frame.Event, conn.ID())
		return
	}
	handler(ctx, conn, frame.Data)
}

func (h *Hub) handleUpdateSingle(ctx context.Context, conn interfaces.Connection, data json.RawMessage) {
	var update types.SingleUpdate
	if err := json.Unmarshal(data, &update); err != nil {
		log.Printf("Dropping malformed update-single from %s: %v", conn.ID(), err)
		return
	}

	if !h.authorize(ctx, conn, "update-single") {
		h.resync(conn)
		return
	}

	if _, err := h.board.ApplyOne(ctx, actor(conn), update.Number, update.Level); err != nil {
		log.Printf("Rejected update-single from %s: %v", conn.ID(), err)
	}
}

func (h *Hub) handleReplaceAll(ctx context.Context, conn interfaces.Connection, data json.RawMessage) {
	var table types.StockTable
	if err := json.Unmarshal(data, &table); err != nil {
		log.Printf("Dropping malformed replace-all from %s: %v", conn.ID(), err)
		return
	}

	if !h.authorize(ctx, conn, "replace-all") {
		h.resync(conn)
		return
	}

	if err := h.board.ApplyBulk(ctx, actor(conn), table); err != nil {
		log.Printf("Rejected replace-all from %s: %v", conn.ID(), err)
	}
}

func (h *Hub) handleUpdateAll(ctx context.Context, conn interfaces.Connection, data json.RawMessage) {
	var table types.StockTable
	if err := json.Unmarshal(data, &table); err != nil {
		log.Printf("Dropping malformed update-all from %s: %v", conn.ID(), err)
		return
	}

	if !h.authorize(ctx, conn, "update-all") {
		h.resync(conn)
		return
	}

	if err := h.board.ApplyPartial(ctx, actor(conn), table); err != nil {
		log.Printf("Rejected update-all from %s: %v", conn.ID(), err)
	}
}

func (h *Hub) handleConfig(ctx context.Context, conn interfaces.Connection, data json.RawMessage) {
	var cfg types.BoardConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		log.Printf("Dropping malformed config from %s: %v", conn.ID(), err)
		return
	}

	if !h.authorize(ctx, conn, "config") {
		// Self-correct the offender's settings view.
		h.send(conn, types.EventConfig, h.board.Config())
		return
	}

	if err := h.board.UpdateConfig(ctx, actor(conn), cfg); err != nil {
		log.Printf("Rejected config change from %s: %v", conn.ID(), err)
	}
}

// authorize re-checks the session's grant in the store. Failures and
// revocations are logged as attempted trust-boundary violations.
func (h *Hub) authorize(ctx context.Context, conn interfaces.Connection, event string) bool {
	if h.gate.IsAuthorized(ctx, conn.SessionID()) {
		return true
	}
	log.Printf("Unauthorized client %s (session %s) attempted %s", conn.ID(), conn.SessionID(), event)
	return false
}

// resync pushes the canonical table to one connection so a rejected client's
// local view self-corrects.
func (h *Hub) resync(conn interfaces.Connection) {
	h.send(conn, types.EventReplaceAll, h.board.Snapshot())
}

// AuthChanged fans an authorization change out to every live connection of
// the session, so a login or logout reaches all of its tabs at once.
func (h *Hub) AuthChanged(sessionID string, authorized bool) {
	for _, conn := range h.registry.SessionConnections(sessionID) {
		h.send(conn, types.EventAuth, authorized)
	}
}

// BroadcastSingle sends a confirmed single-tap change to every connection,
// the origin included, so every view converges on the server-confirmed
// value. Implements state.Broadcaster.
func (h *Hub) BroadcastSingle(entry types.LogEntry) {
	h.broadcast(types.EventUpdateSingle, entry)
}

// BroadcastTable sends a full-table replacement to every connection.
func (h *Hub) BroadcastTable(table types.StockTable) {
	h.broadcast(types.EventReplaceAll, table)
}

// BroadcastConfig sends a configuration change to every connection.
func (h *Hub) BroadcastConfig(cfg types.BoardConfig) {
	h.broadcast(types.EventConfig, cfg)
}

func (h *Hub) broadcast(event string, data interface{}) {
	for _, conn := range h.registry.All() {
		h.send(conn, event, data)
	}
}

func (h *Hub) send(conn interfaces.Connection, event string, data interface{}) {
	if err := conn.Send(event, data); err != nil {
		log.Printf("Failed to send %s to %s: %v", event, conn.ID(), err)
	}
}

// actor names the session behind a connection for the change log.
func actor(conn interfaces.Connection) string {
	if name := conn.Name(); name != "" {
		return name
	}
	return "unknown"
}
