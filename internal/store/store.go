package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"tapboard/pkg/interfaces"
	"tapboard/pkg/types"
)

// Redis key layout. The per-session connection sets live under sock:<id> so a
// login or logout can reach every tab the session has open.
const (
	keyLevels = "stock_levels"
	keyConfig = "config"
	keyLog    = "log"
	keyAuthed = "authed_ids"

	connKeyPrefix   = "sock:"
	logBackupPrefix = "log-backup-"
)

// logBackupTTL bounds how long rotated logs are kept.
const logBackupTTL = 7 * 24 * time.Hour

// Store persists board state in Redis. All methods are single round trips
// (or close to it); callers own retry and fatality decisions.
type Store struct {
	client *redis.Client
}

// New connects to Redis and verifies reachability. The server cannot safely
// begin serving without its baseline state, so callers treat an error here as
// fatal.
func New(addr string, timeout time.Duration) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis at %s: %w: %w", addr, interfaces.ErrStoreUnavailable, err)
	}

	return &Store{client: client}, nil
}

// NewWithClient wraps an existing client. Used by tests running against
// miniredis.
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

func (s *Store) LoadLevels(ctx context.Context) (types.StockTable, error) {
	reply, err := s.client.HGetAll(ctx, keyLevels).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load stock levels: %w", err)
	}
	if len(reply) == 0 {
		return nil, nil
	}

	table := make(types.StockTable, len(reply))
	for field, value := range reply {
		number, err := strconv.Atoi(field)
		if err != nil {
			log.Printf("Skipping non-numeric stock_levels field %q", field)
			continue
		}
		table[number] = types.Level(value)
	}
	return table, nil
}

func (s *Store) SaveLevel(ctx context.Context, number int, level types.Level) error {
	if err := s.client.HSet(ctx, keyLevels, strconv.Itoa(number), string(level)).Err(); err != nil {
		return fmt.Errorf("failed to save level for tap %d: %w", number, err)
	}
	return nil
}

func (s *Store) SaveLevels(ctx context.Context, table types.StockTable) error {
	fields := make(map[string]string, len(table))
	for number, level := range table {
		fields[strconv.Itoa(number)] = string(level)
	}
	if err := s.client.HSet(ctx, keyLevels, fields).Err(); err != nil {
		return fmt.Errorf("failed to save stock levels: %w", err)
	}
	return nil
}

func (s *Store) LoadConfig(ctx context.Context) (*types.BoardConfig, error) {
	reply, err := s.client.HGetAll(ctx, keyConfig).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if len(reply) == 0 {
		return nil, nil
	}

	// Booleans are stored as "true"/"false" strings.
	return &types.BoardConfig{
		Confirm:   reply["confirm"] == "true",
		LowEnable: reply["low_enable"] == "true",
	}, nil
}

func (s *Store) SaveConfig(ctx context.Context, cfg types.BoardConfig) error {
	fields := map[string]string{
		"confirm":    strconv.FormatBool(cfg.Confirm),
		"low_enable": strconv.FormatBool(cfg.LowEnable),
	}
	if err := s.client.HSet(ctx, keyConfig, fields).Err(); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}
	return nil
}

func (s *Store) AppendLog(ctx context.Context, entry types.LogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode log entry: %w", err)
	}
	member := redis.Z{Score: float64(entry.EpochTime), Member: string(data)}
	if err := s.client.ZAdd(ctx, keyLog, member).Err(); err != nil {
		return fmt.Errorf("failed to append log entry: %w", err)
	}
	return nil
}

func (s *Store) ReadLog(ctx context.Context) ([]types.LogEntry, error) {
	members, err := s.client.ZRange(ctx, keyLog, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read log: %w", err)
	}

	entries := make([]types.LogEntry, 0, len(members))
	for _, member := range members {
		var entry types.LogEntry
		if err := json.Unmarshal([]byte(member), &entry); err != nil {
			log.Printf("Skipping undecodable log entry: %v", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// RotateLog renames the current log to a timestamped backup and applies the
// retention TTL. A bulk replace snapshots history this way instead of writing
// one entry per tap.
func (s *Store) RotateLog(ctx context.Context) (string, error) {
	exists, err := s.client.Exists(ctx, keyLog).Result()
	if err != nil {
		return "", fmt.Errorf("failed to check log existence: %w", err)
	}
	if exists == 0 {
		return "", nil
	}

	backup := logBackupPrefix + strconv.FormatInt(time.Now().UnixMilli(), 10)
	if err := s.client.Rename(ctx, keyLog, backup).Err(); err != nil {
		return "", fmt.Errorf("failed to rotate log: %w", err)
	}
	if err := s.client.Expire(ctx, backup, logBackupTTL).Err(); err != nil {
		return backup, fmt.Errorf("failed to set backup expiry on %s: %w", backup, err)
	}
	return backup, nil
}

func (s *Store) AddAuthorized(ctx context.Context, sessionID string) error {
	if err := s.client.SAdd(ctx, keyAuthed, sessionID).Err(); err != nil {
		return fmt.Errorf("failed to record authorization grant: %w", err)
	}
	return nil
}

func (s *Store) RemoveAuthorized(ctx context.Context, sessionID string) error {
	if err := s.client.SRem(ctx, keyAuthed, sessionID).Err(); err != nil {
		return fmt.Errorf("failed to revoke authorization: %w", err)
	}
	return nil
}

func (s *Store) IsAuthorized(ctx context.Context, sessionID string) (bool, error) {
	ok, err := s.client.SIsMember(ctx, keyAuthed, sessionID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check authorization: %w", err)
	}
	return ok, nil
}

func (s *Store) AddConnection(ctx context.Context, sessionID, connID string) error {
	if err := s.client.SAdd(ctx, connKeyPrefix+sessionID, connID).Err(); err != nil {
		return fmt.Errorf("failed to register connection %s: %w", connID, err)
	}
	return nil
}

func (s *Store) RemoveConnection(ctx context.Context, sessionID, connID string) error {
	if err := s.client.SRem(ctx, connKeyPrefix+sessionID, connID).Err(); err != nil {
		return fmt.Errorf("failed to deregister connection %s: %w", connID, err)
	}
	return nil
}

func (s *Store) SessionConnections(ctx context.Context, sessionID string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, connKeyPrefix+sessionID).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list session connections: %w", err)
	}
	return ids, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}
