package hub

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"tapboard/internal/auth"
	"tapboard/internal/state"
	"tapboard/internal/store"
	"tapboard/internal/websocket"
	"tapboard/pkg/types"
)

const testCapacity = 80

// fakeConn records every event sent to it.
type fakeConn struct {
	id        string
	sessionID string
	name      string
	kind      string

	mu     sync.Mutex
	events []sentEvent
	closed bool
}

type sentEvent struct {
	event string
	data  interface{}
}

func newFakeConn(id, sessionID, name, kind string) *fakeConn {
	return &fakeConn{id: id, sessionID: sessionID, name: name, kind: kind}
}

func (f *fakeConn) ID() string         { return f.id }
func (f *fakeConn) SessionID() string  { return f.sessionID }
func (f *fakeConn) Name() string       { return f.name }
func (f *fakeConn) ClientKind() string { return f.kind }

func (f *fakeConn) Send(event string, data interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, sentEvent{event: event, data: data})
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) received(event string) []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentEvent
	for _, e := range f.events {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

func (f *fakeConn) last(event string) (sentEvent, bool) {
	events := f.received(event)
	if len(events) == 0 {
		return sentEvent{}, false
	}
	return events[len(events)-1], true
}

type testEnv struct {
	hub   *Hub
	board *state.Board
	store *store.Store
	gate  *auth.Gate
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	s := store.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = s.Close() })

	board := state.NewBoard(testCapacity, s)
	if err := board.Load(context.Background()); err != nil {
		t.Fatalf("board load failed: %v", err)
	}

	gate := auth.NewGate(s, "$2a$04$unusedhashunusedhashunusedhashun")
	h := NewHub(websocket.NewRegistry(), board, gate, s, nil)
	board.SetBroadcaster(h)

	return &testEnv{hub: h, board: board, store: s, gate: gate}
}

func (env *testEnv) grant(t *testing.T, sessionID string) {
	t.Helper()
	if err := env.store.AddAuthorized(context.Background(), sessionID); err != nil {
		t.Fatalf("failed to grant session %s: %v", sessionID, err)
	}
}

func frame(t *testing.T, event string, data interface{}) types.Envelope {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("failed to marshal frame data: %v", err)
	}
	return types.Envelope{Event: event, Data: raw}
}

func TestStartStop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.hub.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := env.hub.Start(ctx); err != ErrHubAlreadyRunning {
		t.Errorf("expected ErrHubAlreadyRunning, got %v", err)
	}
	if err := env.hub.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := env.hub.Stop(); err != ErrHubNotRunning {
		t.Errorf("expected ErrHubNotRunning, got %v", err)
	}
}

func TestRegisterSendsSnapshot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	conn := newFakeConn("conn-a", "session-1", "", types.ClientBoard)
	env.hub.handleRegister(ctx, conn)

	authEvents := conn.received(types.EventAuth)
	if len(authEvents) != 1 {
		t.Fatalf("expected 1 auth event, got %d", len(authEvents))
	}
	if authEvents[0].data != false {
		t.Errorf("expected auth=false for fresh session, got %v", authEvents[0].data)
	}

	tables := conn.received(types.EventReplaceAll)
	if len(tables) != 1 {
		t.Fatalf("expected 1 replace-all snapshot, got %d", len(tables))
	}
	table, ok := tables[0].data.(types.StockTable)
	if !ok || len(table) != testCapacity {
		t.Errorf("unexpected snapshot payload: %v", tables[0].data)
	}

	if len(conn.received(types.EventConfig)) != 1 {
		t.Error("expected a config snapshot")
	}
	// Board clients do not get the history dump.
	if len(conn.received(types.EventHistory)) != 0 {
		t.Error("board client must not receive history")
	}

	// The connection is recorded under its session in the store.
	ids, err := env.store.SessionConnections(ctx, "session-1")
	if err != nil {
		t.Fatalf("SessionConnections failed: %v", err)
	}
	if len(ids) != 1 || ids[0] != "conn-a" {
		t.Errorf("expected conn-a recorded, got %v", ids)
	}
}

func TestRegisterHistoryClientGetsLog(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.board.ApplyOne(ctx, "alice", 3, types.LevelEmpty); err != nil {
		t.Fatalf("ApplyOne failed: %v", err)
	}

	conn := newFakeConn("conn-h", "session-1", "", types.ClientHistory)
	env.hub.handleRegister(ctx, conn)

	histories := conn.received(types.EventHistory)
	if len(histories) != 1 {
		t.Fatalf("expected 1 history event, got %d", len(histories))
	}
	entries, ok := histories[0].data.([]types.LogEntry)
	if !ok || len(entries) != 1 {
		t.Fatalf("unexpected history payload: %v", histories[0].data)
	}
	if entries[0].Number != 3 || entries[0].Level != types.LevelEmpty {
		t.Errorf("unexpected history entry: %+v", entries[0])
	}
}

func TestAuthIsSessionScoped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Two tabs of the same session, one tab of another.
	tabA := newFakeConn("conn-a", "session-1", "", types.ClientBoard)
	tabB := newFakeConn("conn-b", "session-1", "", types.ClientBoard)
	other := newFakeConn("conn-c", "session-2", "", types.ClientBoard)
	env.hub.handleRegister(ctx, tabA)
	env.hub.handleRegister(ctx, tabB)
	env.hub.handleRegister(ctx, other)

	env.grant(t, "session-1")
	env.hub.AuthChanged("session-1", true)

	for _, tab := range []*fakeConn{tabA, tabB} {
		last, ok := tab.last(types.EventAuth)
		if !ok || last.data != true {
			t.Errorf("%s: expected auth=true after session grant, got %v", tab.id, last.data)
		}
	}
	if last, _ := other.last(types.EventAuth); last.data == true {
		t.Error("grant must not reach other sessions")
	}
}

func TestUnauthorizedUpdateIsNoOp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	offender := newFakeConn("conn-a", "session-1", "", types.ClientBoard)
	bystander := newFakeConn("conn-b", "session-2", "", types.ClientBoard)
	env.hub.handleRegister(ctx, offender)
	env.hub.handleRegister(ctx, bystander)
	before := env.board.Snapshot()

	env.hub.handleEvent(ctx, offender, frame(t, types.EventUpdateSingle, types.SingleUpdate{Number: 5, Level: types.LevelEmpty}))

	// Table unchanged, no log entry written.
	after := env.board.Snapshot()
	for number := 1; number <= testCapacity; number++ {
		if after[number] != before[number] {
			t.Fatalf("tap %d changed despite unauthorized request", number)
		}
	}
	entries, _ := env.store.ReadLog(ctx)
	if len(entries) != 0 {
		t.Errorf("expected no log entries, got %d", len(entries))
	}

	// The offender gets a corrective resync beyond its initial snapshot; the
	// bystander hears nothing new.
	if got := len(offender.received(types.EventReplaceAll)); got != 2 {
		t.Errorf("expected initial snapshot + resync for offender, got %d replace-all events", got)
	}
	if got := len(bystander.received(types.EventReplaceAll)); got != 1 {
		t.Errorf("expected no extra events for bystander, got %d replace-all events", got)
	}
}

func TestAuthorizedUpdateBroadcastsToAll(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	editor := newFakeConn("conn-a", "session-1", "alice", types.ClientBoard)
	viewer := newFakeConn("conn-b", "session-2", "", types.ClientBoard)
	env.hub.handleRegister(ctx, editor)
	env.hub.handleRegister(ctx, viewer)
	env.grant(t, "session-1")

	env.hub.handleEvent(ctx, editor, frame(t, types.EventUpdateSingle, types.SingleUpdate{Number: 5, Level: types.LevelEmpty}))

	if level, _ := env.board.Level(5); level != types.LevelEmpty {
		t.Fatalf("expected tap 5 = empty, got %q", level)
	}

	entries, _ := env.store.ReadLog(ctx)
	if len(entries) != 1 {
		t.Fatalf("expected 1 log entry, got %d", len(entries))
	}
	if entries[0].Name != "alice" {
		t.Errorf("expected actor alice, got %q", entries[0].Name)
	}

	// Origin and bystander both receive the confirmed delta.
	for _, conn := range []*fakeConn{editor, viewer} {
		updates := conn.received(types.EventUpdateSingle)
		if len(updates) != 1 {
			t.Fatalf("%s: expected 1 update-single broadcast, got %d", conn.id, len(updates))
		}
		entry, ok := updates[0].data.(types.LogEntry)
		if !ok || entry.Number != 5 || entry.Level != types.LevelEmpty {
			t.Errorf("%s: unexpected broadcast payload %v", conn.id, updates[0].data)
		}
	}
}

func TestIdempotentUpdateDoesNotRebroadcast(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	editor := newFakeConn("conn-a", "session-1", "alice", types.ClientBoard)
	env.hub.handleRegister(ctx, editor)
	env.grant(t, "session-1")

	update := frame(t, types.EventUpdateSingle, types.SingleUpdate{Number: 5, Level: types.LevelEmpty})
	env.hub.handleEvent(ctx, editor, update)
	env.hub.handleEvent(ctx, editor, update)

	entries, _ := env.store.ReadLog(ctx)
	if len(entries) != 1 {
		t.Errorf("expected exactly 1 log entry, got %d", len(entries))
	}
	if got := len(editor.received(types.EventUpdateSingle)); got != 1 {
		t.Errorf("expected exactly 1 broadcast, got %d", got)
	}
}

func TestReplaceAllRotatesLogAndBroadcasts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	editor := newFakeConn("conn-a", "session-1", "alice", types.ClientBoard)
	viewer := newFakeConn("conn-b", "session-2", "", types.ClientBoard)
	env.hub.handleRegister(ctx, editor)
	env.hub.handleRegister(ctx, viewer)
	env.grant(t, "session-1")

	// Enable low, then seed one log entry so rotation has content.
	if err := env.board.UpdateConfig(ctx, "alice", types.BoardConfig{Confirm: true, LowEnable: true}); err != nil {
		t.Fatalf("UpdateConfig failed: %v", err)
	}
	env.hub.handleEvent(ctx, editor, frame(t, types.EventUpdateSingle, types.SingleUpdate{Number: 1, Level: types.LevelEmpty}))

	table := make(types.StockTable, testCapacity)
	for number := 1; number <= testCapacity; number++ {
		table[number] = types.LevelLow
	}
	env.hub.handleEvent(ctx, editor, frame(t, types.EventReplaceAll, table))

	snapshot := env.board.Snapshot()
	for number := 1; number <= testCapacity; number++ {
		if snapshot[number] != types.LevelLow {
			t.Fatalf("tap %d: expected low, got %q", number, snapshot[number])
		}
	}

	entries, _ := env.store.ReadLog(ctx)
	if len(entries) != 0 {
		t.Errorf("expected rotated (empty) log, got %d entries", len(entries))
	}

	for _, conn := range []*fakeConn{editor, viewer} {
		last, ok := conn.last(types.EventReplaceAll)
		if !ok {
			t.Fatalf("%s: expected replace-all broadcast", conn.id)
		}
		broadcastTable, ok := last.data.(types.StockTable)
		if !ok || broadcastTable[1] != types.LevelLow {
			t.Errorf("%s: unexpected replace-all payload", conn.id)
		}
	}
}

func TestConfigChange(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	editor := newFakeConn("conn-a", "session-1", "alice", types.ClientBoard)
	viewer := newFakeConn("conn-b", "session-2", "", types.ClientBoard)
	env.hub.handleRegister(ctx, editor)
	env.hub.handleRegister(ctx, viewer)
	env.grant(t, "session-1")

	cfg := types.BoardConfig{Confirm: false, LowEnable: true}
	env.hub.handleEvent(ctx, editor, frame(t, types.EventConfig, cfg))

	if env.board.Config() != cfg {
		t.Errorf("expected config applied, got %+v", env.board.Config())
	}
	for _, conn := range []*fakeConn{editor, viewer} {
		last, ok := conn.last(types.EventConfig)
		if !ok || last.data.(types.BoardConfig) != cfg {
			t.Errorf("%s: expected config broadcast %+v", conn.id, cfg)
		}
	}
}

func TestConfigUnauthorizedGetsResync(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	offender := newFakeConn("conn-a", "session-1", "", types.ClientBoard)
	env.hub.handleRegister(ctx, offender)
	current := env.board.Config()

	env.hub.handleEvent(ctx, offender, frame(t, types.EventConfig, types.BoardConfig{Confirm: false, LowEnable: true}))

	if env.board.Config() != current {
		t.Error("unauthorized config change must not apply")
	}
	// Initial snapshot plus the corrective config.
	configs := offender.received(types.EventConfig)
	if len(configs) != 2 {
		t.Fatalf("expected 2 config events, got %d", len(configs))
	}
	if configs[1].data.(types.BoardConfig) != current {
		t.Errorf("expected corrective config %+v, got %v", current, configs[1].data)
	}
}

func TestUpdateAllAppliesDiff(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	editor := newFakeConn("conn-a", "session-1", "alice", types.ClientBoard)
	env.hub.handleRegister(ctx, editor)
	env.grant(t, "session-1")

	// Tap 2 is already full; only taps 1 and 3 differ.
	diff := types.StockTable{1: types.LevelEmpty, 2: types.LevelFull, 3: types.LevelEmpty}
	env.hub.handleEvent(ctx, editor, frame(t, types.EventUpdateAll, diff))

	entries, _ := env.store.ReadLog(ctx)
	if len(entries) != 2 {
		t.Errorf("expected 2 log entries for the 2 real changes, got %d", len(entries))
	}
	if got := len(editor.received(types.EventUpdateSingle)); got != 2 {
		t.Errorf("expected 2 update-single broadcasts, got %d", got)
	}
}

func TestConvergenceUnderRacingEditors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice := newFakeConn("conn-a", "session-1", "alice", types.ClientBoard)
	bob := newFakeConn("conn-b", "session-2", "bob", types.ClientBoard)
	env.hub.handleRegister(ctx, alice)
	env.hub.handleRegister(ctx, bob)
	env.grant(t, "session-1")
	env.grant(t, "session-2")

	// Interleaved writes to the same tap: arrival order at the board decides.
	env.hub.handleEvent(ctx, alice, frame(t, types.EventUpdateSingle, types.SingleUpdate{Number: 5, Level: types.LevelEmpty}))
	env.hub.handleEvent(ctx, bob, frame(t, types.EventUpdateSingle, types.SingleUpdate{Number: 5, Level: types.LevelFull}))

	final, _ := env.board.Level(5)
	if final != types.LevelFull {
		t.Fatalf("expected last applied write to win, got %q", final)
	}

	// Every connection's final update matches the canonical value.
	for _, conn := range []*fakeConn{alice, bob} {
		last, ok := conn.last(types.EventUpdateSingle)
		if !ok {
			t.Fatalf("%s: expected update broadcasts", conn.id)
		}
		if entry := last.data.(types.LogEntry); entry.Level != final {
			t.Errorf("%s: final broadcast %q diverges from canonical %q", conn.id, entry.Level, final)
		}
	}
}

func TestMalformedPayloadDropped(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	editor := newFakeConn("conn-a", "session-1", "alice", types.ClientBoard)
	env.hub.handleRegister(ctx, editor)
	env.grant(t, "session-1")

	env.hub.handleEvent(ctx, editor, types.Envelope{Event: types.EventUpdateSingle, Data: json.RawMessage(`"not an object"`)})
	env.hub.handleEvent(ctx, editor, types.Envelope{Event: "mystery-event", Data: json.RawMessage(`{}`)})

	entries, _ := env.store.ReadLog(ctx)
	if len(entries) != 0 {
		t.Errorf("malformed frames must not mutate, got %d log entries", len(entries))
	}
	if got := len(editor.received(types.EventUpdateSingle)); got != 0 {
		t.Errorf("malformed frames must not broadcast, got %d", got)
	}
}

func TestUnregisterRemovesStoreRecord(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	conn := newFakeConn("conn-a", "session-1", "", types.ClientBoard)
	env.hub.handleRegister(ctx, conn)
	env.hub.handleUnregister(ctx, conn)

	ids, err := env.store.SessionConnections(ctx, "session-1")
	if err != nil {
		t.Fatalf("SessionConnections failed: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("expected connection record removed, got %v", ids)
	}

	// Authorization survives the disconnect; only the connection dies.
	env.grant(t, "session-1")
	if !env.gate.IsAuthorized(ctx, "session-1") {
		t.Error("session authorization must persist across disconnects")
	}
}
