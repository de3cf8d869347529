package websocket

import (
	"sync"

	"tapboard/pkg/interfaces"
)

// Registry tracks live connections and their session grouping. It is the
// in-process half of the session→connection association; the store's sock:
// sets are the durable half. The session index is what lets a login or
// logout reach every tab the session has open.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]interfaces.Connection            // connID -> Connection
	sessions    map[string]map[string]interfaces.Connection // sessionID -> connID -> Connection
}

func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]interfaces.Connection),
		sessions:    make(map[string]map[string]interfaces.Connection),
	}
}

// Register adds a connection to both indexes.
func (r *Registry) Register(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.connections[conn.ID()] = conn

	sessionID := conn.SessionID()
	if r.sessions[sessionID] == nil {
		r.sessions[sessionID] = make(map[string]interfaces.Connection)
	}
	r.sessions[sessionID][conn.ID()] = conn

	return nil
}

// Unregister removes a connection. Idempotent, and only removes the instance
// that is actually registered under the id.
func (r *Registry) Unregister(conn interfaces.Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	registered, exists := r.connections[conn.ID()]
	if !exists || registered != conn {
		return
	}

	delete(r.connections, conn.ID())

	sessionID := conn.SessionID()
	if conns, ok := r.sessions[sessionID]; ok {
		delete(conns, conn.ID())
		if len(conns) == 0 {
			delete(r.sessions, sessionID)
		}
	}
}

// Get returns a connection by id.
func (r *Registry) Get(connID string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[connID]
	return conn, ok
}

// All returns every live connection, for full fan-out.
func (r *Registry) All() []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]interfaces.Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		conns = append(conns, conn)
	}
	return conns
}

// SessionConnections returns every live connection of one session, for
// auth-change fan-out across tabs.
func (r *Registry) SessionConnections(sessionID string) []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []interfaces.Connection
	for _, conn := range r.sessions[sessionID] {
		conns = append(conns, conn)
	}
	return conns
}

// Stats reports connection counts for the health endpoint.
func (r *Registry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"connections": len(r.connections),
		"sessions":    len(r.sessions),
	}
}
