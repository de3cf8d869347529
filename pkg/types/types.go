package types

import (
	"encoding/json"
	"time"
)

// Level is the stock level of a single tap.
type Level string

const (
	LevelEmpty Level = "empty"
	LevelLow   Level = "low"
	LevelFull  Level = "full"
)

// Valid reports whether l is one of the three known levels.
func (l Level) Valid() bool {
	switch l {
	case LevelEmpty, LevelLow, LevelFull:
		return true
	}
	return false
}

// StockTable maps tap number to its current level. The server's copy is the
// canonical truth; clients hold read-through caches of it.
//
// encoding/json renders the integer keys as strings ({"1":"full"}), which is
// the wire format the board clients expect.
type StockTable map[int]Level

// Clone returns an independent copy of the table.
func (t StockTable) Clone() StockTable {
	out := make(StockTable, len(t))
	for number, level := range t {
		out[number] = level
	}
	return out
}

// LogEntry records one accepted single-tap change. Entries are immutable once
// written and ordered by EpochTime. Day and Time are pre-formatted display
// fields carried for the history feed.
type LogEntry struct {
	EpochTime int64  `json:"epoch_time"`
	Day       string `json:"day"`
	Time      string `json:"time"`
	Name      string `json:"name"`
	Number    int    `json:"number"`
	Level     Level  `json:"level"`
}

// NewLogEntry builds a log entry for an accepted change at time now.
func NewLogEntry(now time.Time, name string, number int, level Level) LogEntry {
	return LogEntry{
		EpochTime: now.UnixMilli(),
		Day:       now.Format("Monday"),
		Time:      now.Format("15:04"),
		Name:      name,
		Number:    number,
		Level:     level,
	}
}

// BoardConfig is the global board configuration. Mutated only by authorized
// sessions and rebroadcast to every connection on change.
type BoardConfig struct {
	Confirm   bool `json:"confirm"`
	LowEnable bool `json:"low_enable"`
}

// Event names carried in the envelope of every realtime frame.
const (
	EventAuth         = "auth"
	EventConfig       = "config"
	EventReplaceAll   = "replace-all"
	EventUpdateSingle = "update-single"
	EventUpdateAll    = "update-all"
	EventHistory      = "history"
	EventBeers        = "beers"
)

// Client kinds a connection self-declares at upgrade time. The kind decides
// which parts of the initial snapshot the connection receives.
const (
	ClientBoard     = "board"
	ClientHistory   = "history"
	ClientSlideshow = "slideshow"
	ClientBot       = "bot"
)

// APIActor labels mutations arriving over the HTTP API without a named
// session behind them.
const APIActor = "API"

// SingleUpdate is the client→server payload requesting one tap change.
type SingleUpdate struct {
	Number int   `json:"number"`
	Level  Level `json:"level"`
}

// Envelope frames every realtime message: a named event plus its payload.
// Data stays raw on the inbound path so the dispatch table can decode it
// per event.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}
