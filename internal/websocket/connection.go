package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Connection wraps one websocket with a single writer goroutine, so
// concurrent broadcasts never interleave frames. Session identity and client
// kind are fixed at upgrade time; a reconnect always yields a new Connection
// with a new id.
type Connection struct {
	ws *websocket.Conn

	id        string
	sessionID string
	name      string
	kind      string

	writeCh      chan []byte
	writeTimeout time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// envelope is the outbound frame shape.
type envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// NewConnection wraps an upgraded websocket. bufferSize bounds the outbound
// queue; a client that cannot drain it within writeTimeout loses the frame.
func NewConnection(ws *websocket.Conn, sessionID, name, kind string, bufferSize int, writeTimeout time.Duration) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		ws:           ws,
		id:           uuid.NewString(),
		sessionID:    sessionID,
		name:         name,
		kind:         kind,
		writeCh:      make(chan []byte, bufferSize),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()

	return c
}

func (c *Connection) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// Send queues one named event for the client.
func (c *Connection) Send(event string, data interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	frame, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		return err
	}

	select {
	case c.writeCh <- frame:
		return nil
	case <-time.After(c.writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close tears the connection down. Safe to call more than once.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.ws.Close()
	})
	return err
}

func (c *Connection) ID() string         { return c.id }
func (c *Connection) SessionID() string  { return c.sessionID }
func (c *Connection) Name() string       { return c.name }
func (c *Connection) ClientKind() string { return c.kind }
