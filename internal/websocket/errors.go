package websocket

import "errors"

var (
	// ErrConnectionClosed is returned when sending on a closed connection.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrWriteTimeout is returned when the client's write buffer stays full
	// past the write timeout.
	ErrWriteTimeout = errors.New("write timeout")

	// ErrNilConnection is returned when registering a nil connection.
	ErrNilConnection = errors.New("nil connection")
)
