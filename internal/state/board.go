package state

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"tapboard/pkg/interfaces"
	"tapboard/pkg/types"
)

// Broadcaster receives confirmed state changes for fan-out to every live
// connection. The hub implements it; tests substitute a recorder.
type Broadcaster interface {
	BroadcastSingle(entry types.LogEntry)
	BroadcastTable(table types.StockTable)
	BroadcastConfig(cfg types.BoardConfig)
}

// Board owns the authoritative tap→level table and the global board
// configuration. The in-memory maps are a read cache of the store's hashes;
// every mutation persists before it applies, so memory is never newer than
// the store. All mutations serialize on one mutex, which is the single
// last-write-wins point for racing editors.
type Board struct {
	capacity int
	store    interfaces.Store

	mu          sync.RWMutex
	levels      types.StockTable
	config      types.BoardConfig
	broadcaster Broadcaster
}

// NewBoard creates a board of the given capacity over the store. Call Load
// before serving.
func NewBoard(capacity int, store interfaces.Store) *Board {
	return &Board{
		capacity: capacity,
		store:    store,
		levels:   make(types.StockTable, capacity),
	}
}

// SetBroadcaster wires the fan-out target. A nil broadcaster is allowed;
// mutations then apply without notification.
func (b *Board) SetBroadcaster(broadcaster Broadcaster) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broadcaster = broadcaster
}

// Load hydrates the board from the store, initialising and persisting
// defaults on first boot (every tap full, confirm on, low off). An error
// here means the server must not start.
func (b *Board) Load(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	table, err := b.store.LoadLevels(ctx)
	if err != nil {
		return fmt.Errorf("failed to load stock levels: %w", err)
	}
	if table == nil {
		log.Println("No persisted stock levels, initialising all taps as full")
		table = make(types.StockTable, b.capacity)
		for number := 1; number <= b.capacity; number++ {
			table[number] = types.LevelFull
		}
		if err := b.store.SaveLevels(ctx, table); err != nil {
			return fmt.Errorf("failed to persist initial stock levels: %w", err)
		}
	}
	// Every tap in range has a defined level after initialisation; fill any
	// hole left by a capacity increase.
	for number := 1; number <= b.capacity; number++ {
		if _, ok := table[number]; !ok {
			table[number] = types.LevelFull
			if err := b.store.SaveLevel(ctx, number, types.LevelFull); err != nil {
				return fmt.Errorf("failed to persist level for new tap %d: %w", number, err)
			}
		}
	}
	b.levels = table

	cfg, err := b.store.LoadConfig(ctx)
	if err != nil {
		return fmt.Errorf("failed to load board config: %w", err)
	}
	if cfg == nil {
		log.Println("No persisted board config, initialising defaults")
		cfg = &types.BoardConfig{Confirm: true, LowEnable: false}
	}
	// Write back unconditionally so both fields always exist in the store.
	if err := b.store.SaveConfig(ctx, *cfg); err != nil {
		return fmt.Errorf("failed to persist board config: %w", err)
	}
	b.config = *cfg

	return nil
}

// Capacity returns the configured number of taps.
func (b *Board) Capacity() int {
	return b.capacity
}

// Snapshot returns a copy of the full current table.
func (b *Board) Snapshot() types.StockTable {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.levels.Clone()
}

// Level returns the level of one tap, or false for numbers out of range.
func (b *Board) Level(number int) (types.Level, bool) {
	if number < 1 || number > b.capacity {
		return "", false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.levels[number], true
}

// Config returns the current board configuration.
func (b *Board) Config() types.BoardConfig {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.config
}

// ApplyOne applies a single-tap change. Setting a tap to its current level is
// a silent no-op: no log entry, no persistence, no broadcast. The returned
// bool reports whether anything changed.
func (b *Board) ApplyOne(ctx context.Context, actor string, number int, level types.Level) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.applyOneLocked(ctx, actor, number, level)
}

func (b *Board) applyOneLocked(ctx context.Context, actor string, number int, level types.Level) (bool, error) {
	if err := b.validateLocked(number, level); err != nil {
		return false, err
	}
	if b.levels[number] == level {
		return false, nil
	}

	entry := types.NewLogEntry(time.Now(), actor, number, level)

	// Persist before apply: a broadcast is never emitted for state that could
	// be lost on crash, and a failed write leaves memory untouched.
	if err := b.store.SaveLevel(ctx, number, level); err != nil {
		return false, err
	}
	if err := b.store.AppendLog(ctx, entry); err != nil {
		log.Printf("Failed to append change log entry for tap %d: %v", number, err)
	}

	b.levels[number] = level
	log.Printf("Applied update from %s: tap %d = %s", actor, number, level)

	if b.broadcaster != nil {
		b.broadcaster.BroadcastSingle(entry)
	}
	return true, nil
}

// ApplyBulk atomically replaces the whole table. The change log is rotated to
// a timestamped backup instead of receiving one entry per tap, so a bulk
// replace never floods the history feed.
func (b *Board) ApplyBulk(ctx context.Context, actor string, table types.StockTable) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(table) != b.capacity {
		return ErrTableSize
	}
	for number, level := range table {
		if err := b.validateLocked(number, level); err != nil {
			return err
		}
	}

	backup, err := b.store.RotateLog(ctx)
	if err != nil {
		log.Printf("Failed to rotate change log: %v", err)
	} else if backup != "" {
		log.Printf("Backed up change log to %s", backup)
	}

	if err := b.store.SaveLevels(ctx, table); err != nil {
		return err
	}

	b.levels = table.Clone()
	log.Printf("Applied full table replace from %s", actor)

	if b.broadcaster != nil {
		b.broadcaster.BroadcastTable(b.levels.Clone())
	}
	return nil
}

// ApplyPartial applies a diff-based multi-tap change: each entry that differs
// from the current value goes through the single-tap path in ascending tap
// order, producing individual log entries and broadcasts.
func (b *Board) ApplyPartial(ctx context.Context, actor string, table types.StockTable) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	numbers := make([]int, 0, len(table))
	for number := range table {
		numbers = append(numbers, number)
	}
	sort.Ints(numbers)

	for _, number := range numbers {
		if _, err := b.applyOneLocked(ctx, actor, number, table[number]); err != nil {
			return err
		}
	}
	return nil
}

// UpdateConfig persists and applies a configuration change, then rebroadcasts
// it to every connection.
func (b *Board) UpdateConfig(ctx context.Context, actor string, cfg types.BoardConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.store.SaveConfig(ctx, cfg); err != nil {
		return err
	}
	b.config = cfg
	log.Printf("Applied config change from %s: %+v", actor, cfg)

	if b.broadcaster != nil {
		b.broadcaster.BroadcastConfig(cfg)
	}
	return nil
}

func (b *Board) validateLocked(number int, level types.Level) error {
	if number < 1 || number > b.capacity {
		return ErrOutOfRange
	}
	if !level.Valid() {
		return ErrInvalidLevel
	}
	if level == types.LevelLow && !b.config.LowEnable {
		return ErrLowDisabled
	}
	return nil
}
