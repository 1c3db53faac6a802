package asyncturn

import (
	"context"
	"testing"
	"time"

	"github.com/wfunc/rpgserver/models"
	"github.com/wfunc/rpgserver/persistence"
)

// MockBroadcaster records every room fan-out for assertions.
type MockBroadcaster struct {
	events []string
}

func (m *MockBroadcaster) BroadcastToRoom(tableID, event string, data interface{}, excludeSessionID string) error {
	m.events = append(m.events, event)
	return nil
}

func (m *MockBroadcaster) BroadcastToUser(userID, event string, data interface{}) error {
	return nil
}

func newTestManager(t *testing.T) (*Manager, *persistence.Memory) {
	t.Helper()
	store := persistence.NewMemory()
	return NewManager(store, &MockBroadcaster{}, 24*time.Hour), store
}

func seedAsyncTable(t *testing.T, store *persistence.Memory, order []string) *models.Table {
	t.Helper()
	members := append([]string{"owner-1"}, order...)
	table := &models.Table{
		ID:        "table-1",
		Name:      "Play By Post",
		OwnerID:   "owner-1",
		PlayStyle: models.PlayAsync,
		Members:   members,
		TurnOrder: order,
		CreatedAt: time.Now(),
	}
	if err := store.CreateTable(context.Background(), table); err != nil {
		t.Fatalf("Failed to seed table: %v", err)
	}
	return table
}

func TestManager_StartTurn(t *testing.T) {
	manager, store := newTestManager(t)
	seedAsyncTable(t, store, []string{"alice", "bob", "carol"})
	ctx := context.Background()

	turn, err := manager.StartTurn(ctx, "table-1", "owner-1")
	if err != nil {
		t.Fatalf("StartTurn failed: %v", err)
	}
	if turn.UserID != "alice" {
		t.Errorf("Expected the turn to open for alice, got %s", turn.UserID)
	}
	if !turn.Open() {
		t.Error("Freshly started turn should be open")
	}
	if turn.Deadline.Before(turn.StartedAt) {
		t.Error("Deadline should be after the turn start")
	}

	// A second start while a turn is open is rejected.
	if _, err := manager.StartTurn(ctx, "table-1", "owner-1"); err != ErrTurnAlreadyOpen {
		t.Fatalf("Expected ErrTurnAlreadyOpen, got %v", err)
	}
}

func TestManager_StartTurn_Authorization(t *testing.T) {
	manager, store := newTestManager(t)
	seedAsyncTable(t, store, []string{"alice"})
	ctx := context.Background()

	if _, err := manager.StartTurn(ctx, "table-1", "alice"); err != ErrForbidden {
		t.Fatalf("Expected ErrForbidden for non-owner, got %v", err)
	}

	syncTable := &models.Table{
		ID:        "table-2",
		OwnerID:   "owner-1",
		PlayStyle: models.PlaySync,
		Members:   []string{"owner-1"},
		TurnOrder: []string{"owner-1"},
	}
	if err := store.CreateTable(ctx, syncTable); err != nil {
		t.Fatalf("Failed to seed sync table: %v", err)
	}
	if _, err := manager.StartTurn(ctx, "table-2", "owner-1"); err != ErrNotAsyncTable {
		t.Fatalf("Expected ErrNotAsyncTable, got %v", err)
	}

	empty := &models.Table{
		ID:        "table-3",
		OwnerID:   "owner-1",
		PlayStyle: models.PlayAsync,
		Members:   []string{"owner-1"},
	}
	if err := store.CreateTable(ctx, empty); err != nil {
		t.Fatalf("Failed to seed empty-order table: %v", err)
	}
	if _, err := manager.StartTurn(ctx, "table-3", "owner-1"); err != ErrEmptyTurnOrder {
		t.Fatalf("Expected ErrEmptyTurnOrder, got %v", err)
	}
}

func TestManager_EndTurn_RotatesWithWrap(t *testing.T) {
	manager, store := newTestManager(t)
	seedAsyncTable(t, store, []string{"alice", "bob", "carol"})
	ctx := context.Background()

	turn, err := manager.StartTurn(ctx, "table-1", "owner-1")
	if err != nil {
		t.Fatalf("StartTurn failed: %v", err)
	}

	// Ending alice's turn opens bob's in the same transition.
	ended, next, err := manager.EndTurn(ctx, "table-1", turn.ID, "owner-1")
	if err != nil {
		t.Fatalf("EndTurn failed: %v", err)
	}
	if ended.Open() {
		t.Error("Ended turn should be closed")
	}
	if next.UserID != "bob" || !next.Open() {
		t.Errorf("Expected an open turn for bob, got %s open=%v", next.UserID, next.Open())
	}

	// Exactly one open turn at any time.
	open, err := store.GetOpenAsyncTurn(ctx, "table-1")
	if err != nil {
		t.Fatalf("GetOpenAsyncTurn failed: %v", err)
	}
	if open.ID != next.ID {
		t.Errorf("Expected the open turn to be %s, got %s", next.ID, open.ID)
	}

	// Rotate through carol and back to alice.
	_, next, err = manager.EndTurn(ctx, "table-1", next.ID, "owner-1")
	if err != nil {
		t.Fatalf("EndTurn failed: %v", err)
	}
	if next.UserID != "carol" {
		t.Errorf("Expected carol's turn, got %s", next.UserID)
	}
	_, next, err = manager.EndTurn(ctx, "table-1", next.ID, "owner-1")
	if err != nil {
		t.Fatalf("EndTurn failed: %v", err)
	}
	if next.UserID != "alice" {
		t.Errorf("Expected the rotation to wrap back to alice, got %s", next.UserID)
	}

	table, err := store.GetTable(ctx, "table-1")
	if err != nil {
		t.Fatalf("GetTable failed: %v", err)
	}
	if table.CurrentTurnIndex != 0 {
		t.Errorf("Expected cursor wrapped to 0, got %d", table.CurrentTurnIndex)
	}
}

func TestManager_EndTurn_RejectsClosedOrForeignTurn(t *testing.T) {
	manager, store := newTestManager(t)
	seedAsyncTable(t, store, []string{"alice", "bob"})
	ctx := context.Background()

	turn, err := manager.StartTurn(ctx, "table-1", "owner-1")
	if err != nil {
		t.Fatalf("StartTurn failed: %v", err)
	}
	if _, _, err := manager.EndTurn(ctx, "table-1", turn.ID, "owner-1"); err != nil {
		t.Fatalf("EndTurn failed: %v", err)
	}

	// Ending the same turn again fails: it is already closed.
	if _, _, err := manager.EndTurn(ctx, "table-1", turn.ID, "owner-1"); err != ErrTurnClosed {
		t.Fatalf("Expected ErrTurnClosed, got %v", err)
	}

	if _, _, err := manager.EndTurn(ctx, "table-1", "no-such-turn", "owner-1"); err != ErrNotFound {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

// hookedStore runs a callback on the first GetTable so a competing
// mutation can be slipped between a manager's authorization read and its
// locked re-read.
type hookedStore struct {
	*persistence.Memory
	fired      bool
	onGetTable func()
}

func (s *hookedStore) GetTable(ctx context.Context, id string) (*models.Table, error) {
	table, err := s.Memory.GetTable(ctx, id)
	if err == nil && s.onGetTable != nil && !s.fired {
		s.fired = true
		s.onGetTable()
	}
	return table, err
}

func TestManager_EndTurn_SeesTurnOrderChangedBeforeLock(t *testing.T) {
	store := &hookedStore{Memory: persistence.NewMemory()}
	manager := NewManager(store, &MockBroadcaster{}, 24*time.Hour)
	seedAsyncTable(t, store.Memory, []string{"alice", "bob", "carol"})
	ctx := context.Background()

	turn, err := manager.StartTurn(ctx, "table-1", "owner-1")
	if err != nil {
		t.Fatalf("StartTurn failed: %v", err)
	}

	// The order shrinks to just carol while EndTurn is between its
	// authorization read and the table lock. The rotation must pick up
	// the new order, not write the old one back.
	store.onGetTable = func() {
		if err := manager.SetTurnOrder(ctx, "table-1", "owner-1", []string{"carol"}); err != nil {
			t.Errorf("SetTurnOrder failed: %v", err)
		}
	}

	_, next, err := manager.EndTurn(ctx, "table-1", turn.ID, "owner-1")
	if err != nil {
		t.Fatalf("EndTurn failed: %v", err)
	}
	if next.UserID != "carol" {
		t.Errorf("Expected the next turn to open for carol, got %s", next.UserID)
	}

	table, err := store.GetTable(ctx, "table-1")
	if err != nil {
		t.Fatalf("GetTable failed: %v", err)
	}
	if len(table.TurnOrder) != 1 || table.TurnOrder[0] != "carol" {
		t.Errorf("Expected the new order [carol] to survive, got %v", table.TurnOrder)
	}
	if table.CurrentTurnIndex != 0 {
		t.Errorf("Expected cursor 0 within the one-member order, got %d", table.CurrentTurnIndex)
	}
}

func TestManager_SetTurnOrder(t *testing.T) {
	manager, store := newTestManager(t)
	seedAsyncTable(t, store, []string{"alice", "bob"})
	ctx := context.Background()

	if err := manager.SetTurnOrder(ctx, "table-1", "owner-1", []string{"bob", "alice"}); err != nil {
		t.Fatalf("SetTurnOrder failed: %v", err)
	}
	table, err := store.GetTable(ctx, "table-1")
	if err != nil {
		t.Fatalf("GetTable failed: %v", err)
	}
	if len(table.TurnOrder) != 2 || table.TurnOrder[0] != "bob" {
		t.Errorf("Expected order [bob alice], got %v", table.TurnOrder)
	}
	if table.CurrentTurnIndex != 0 {
		t.Errorf("Expected cursor reset to 0, got %d", table.CurrentTurnIndex)
	}

	// Non-members are rejected wholesale.
	if err := manager.SetTurnOrder(ctx, "table-1", "owner-1", []string{"alice", "stranger"}); err != ErrInvalidMembers {
		t.Fatalf("Expected ErrInvalidMembers, got %v", err)
	}

	if err := manager.SetTurnOrder(ctx, "table-1", "alice", []string{"alice"}); err != ErrForbidden {
		t.Fatalf("Expected ErrForbidden for non-owner, got %v", err)
	}
}

func TestManager_GetCurrentTurn_ScopesMessages(t *testing.T) {
	manager, store := newTestManager(t)
	seedAsyncTable(t, store, []string{"alice", "bob"})
	ctx := context.Background()

	// A message from before the window must not appear.
	early := &models.Message{
		ID:        "msg-0",
		TableID:   "table-1",
		UserID:    "alice",
		Content:   "before the window",
		CreatedAt: time.Now().Add(-time.Minute),
	}
	if err := store.SaveMessage(ctx, early); err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}

	turn, err := manager.StartTurn(ctx, "table-1", "owner-1")
	if err != nil {
		t.Fatalf("StartTurn failed: %v", err)
	}

	during := &models.Message{
		ID:        "msg-1",
		TableID:   "table-1",
		UserID:    "alice",
		Content:   "my move",
		CreatedAt: time.Now().Add(time.Second),
	}
	if err := store.SaveMessage(ctx, during); err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}

	current, messages, err := manager.GetCurrentTurn(ctx, "table-1")
	if err != nil {
		t.Fatalf("GetCurrentTurn failed: %v", err)
	}
	if current.ID != turn.ID {
		t.Errorf("Expected turn %s, got %s", turn.ID, current.ID)
	}
	if len(messages) != 1 || messages[0].ID != "msg-1" {
		t.Errorf("Expected only the in-window message, got %v", messages)
	}
}

func TestManager_CanPost(t *testing.T) {
	manager, store := newTestManager(t)
	table := seedAsyncTable(t, store, []string{"alice", "bob"})
	ctx := context.Background()

	// No open turn yet: players are locked out, the owner is not.
	if err := manager.CanPost(ctx, table, "alice"); err != ErrNotYourTurn {
		t.Fatalf("Expected ErrNotYourTurn with no open turn, got %v", err)
	}
	if err := manager.CanPost(ctx, table, "owner-1"); err != nil {
		t.Fatalf("Owner should always be allowed to post, got %v", err)
	}

	if _, err := manager.StartTurn(ctx, "table-1", "owner-1"); err != nil {
		t.Fatalf("StartTurn failed: %v", err)
	}

	if err := manager.CanPost(ctx, table, "alice"); err != nil {
		t.Fatalf("Turn holder should be allowed to post, got %v", err)
	}
	if err := manager.CanPost(ctx, table, "bob"); err != ErrNotYourTurn {
		t.Fatalf("Expected ErrNotYourTurn for bob, got %v", err)
	}

	// Sync tables are never gated.
	syncTable := &models.Table{
		ID:        "table-2",
		OwnerID:   "owner-1",
		PlayStyle: models.PlaySync,
		Members:   []string{"owner-1", "alice"},
	}
	if err := manager.CanPost(ctx, syncTable, "alice"); err != nil {
		t.Fatalf("Sync tables should not gate posting, got %v", err)
	}
}
