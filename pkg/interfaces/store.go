package interfaces

import (
	"context"

	"tapboard/pkg/types"
)

// Store is the durable state behind the board: the current table,
// configuration, change log, authorization grants and session→connection
// associations. It is the single shared resource across restarts; callers
// must not cache its answers beyond one operation.
type Store interface {
	// LoadLevels returns the persisted stock table, or nil if none has ever
	// been saved (first boot).
	LoadLevels(ctx context.Context) (types.StockTable, error)

	// SaveLevel persists a single tap level.
	SaveLevel(ctx context.Context, number int, level types.Level) error

	// SaveLevels persists every entry of the table.
	SaveLevels(ctx context.Context, table types.StockTable) error

	// LoadConfig returns the persisted board config, or nil if none exists.
	LoadConfig(ctx context.Context) (*types.BoardConfig, error)

	// SaveConfig persists the board config.
	SaveConfig(ctx context.Context, cfg types.BoardConfig) error

	// AppendLog appends one change-log entry, ordered by its epoch time.
	AppendLog(ctx context.Context, entry types.LogEntry) error

	// ReadLog returns the full change log in time order.
	ReadLog(ctx context.Context) ([]types.LogEntry, error)

	// RotateLog renames the current log to a timestamped backup with a
	// retention TTL and leaves an empty log behind. It returns the backup key,
	// or "" if there was no log to rotate.
	RotateLog(ctx context.Context) (string, error)

	// AddAuthorized grants edit rights to a session.
	AddAuthorized(ctx context.Context, sessionID string) error

	// RemoveAuthorized revokes a session's edit rights.
	RemoveAuthorized(ctx context.Context, sessionID string) error

	// IsAuthorized reports whether a session holds edit rights.
	IsAuthorized(ctx context.Context, sessionID string) (bool, error)

	// AddConnection records a live connection under its session.
	AddConnection(ctx context.Context, sessionID, connID string) error

	// RemoveConnection removes a connection from its session's set.
	RemoveConnection(ctx context.Context, sessionID, connID string) error

	// SessionConnections returns the connection ids recorded for a session.
	SessionConnections(ctx context.Context, sessionID string) ([]string, error)

	// Ping checks store reachability.
	Ping(ctx context.Context) error

	// Close releases the store client.
	Close() error
}
