package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wfunc/rpgserver/asyncturn"
	"github.com/wfunc/rpgserver/dice"
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

func newTestService(t *testing.T) (*TableService, *persistence.Memory, *MockBroadcaster) {
	t.Helper()
	store := persistence.NewMemory()
	broadcaster := &MockBroadcaster{}
	gate := asyncturn.NewManager(store, broadcaster, 24*time.Hour)
	svc := NewTableService(store, broadcaster, gate, dice.NewSeededRoller(1), 5)
	return svc, store, broadcaster
}

func TestTableService_CreateTable(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	table, err := svc.CreateTable(ctx, "owner-1", "Curse of Strahd", models.PlayAsync)
	if err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	if table.OwnerID != "owner-1" {
		t.Errorf("Expected owner owner-1, got %s", table.OwnerID)
	}
	if table.PlayStyle != models.PlayAsync {
		t.Errorf("Expected async play style, got %s", table.PlayStyle)
	}
	if len(table.InviteCode) != 6 {
		t.Errorf("Expected a 6 character invite code, got %q", table.InviteCode)
	}
	if len(table.Members) != 1 || table.Members[0] != "owner-1" {
		t.Errorf("Expected the owner to be the only member, got %v", table.Members)
	}
}

func TestTableService_CreateTable_RejectsUnknownStyle(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.CreateTable(context.Background(), "owner-1", "Bad", models.PlayStyle("speedrun"))
	if err != ErrInvalidPlayStyle {
		t.Fatalf("Expected ErrInvalidPlayStyle, got %v", err)
	}
}

// collidingStore reports every invite code as taken, forcing the retry
// loop to exhaust its attempts.
type collidingStore struct {
	*persistence.Memory
}

func (s *collidingStore) GetTableByInviteCode(ctx context.Context, code string) (*models.Table, error) {
	return &models.Table{ID: "existing", InviteCode: code}, nil
}

func TestTableService_CreateTable_CodeExhaustion(t *testing.T) {
	store := &collidingStore{Memory: persistence.NewMemory()}
	broadcaster := &MockBroadcaster{}
	gate := asyncturn.NewManager(store, broadcaster, 24*time.Hour)
	svc := NewTableService(store, broadcaster, gate, dice.NewRoller(), 3)

	_, err := svc.CreateTable(context.Background(), "owner-1", "Unlucky", models.PlaySync)
	if err != ErrCodeGenerationFailed {
		t.Fatalf("Expected ErrCodeGenerationFailed, got %v", err)
	}
}

func TestTableService_JoinTable(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	created, err := svc.CreateTable(ctx, "owner-1", "Open Table", models.PlaySync)
	if err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}

	joined, err := svc.JoinTable(ctx, "player-1", created.InviteCode)
	if err != nil {
		t.Fatalf("JoinTable failed: %v", err)
	}
	if !joined.HasMember("player-1") {
		t.Error("Expected player-1 to be a member after joining")
	}

	// Joining twice stays idempotent.
	joined, err = svc.JoinTable(ctx, "player-1", created.InviteCode)
	if err != nil {
		t.Fatalf("Second JoinTable failed: %v", err)
	}
	if len(joined.Members) != 2 {
		t.Errorf("Expected 2 members after duplicate join, got %v", joined.Members)
	}

	if _, err := svc.JoinTable(ctx, "player-2", "NOCODE"); err != ErrNotFound {
		t.Fatalf("Expected ErrNotFound for unknown invite code, got %v", err)
	}

	table, _ := store.GetTable(ctx, created.ID)
	if len(table.Members) != 2 {
		t.Errorf("Expected membership persisted, got %v", table.Members)
	}
}

func TestTableService_SendMessage(t *testing.T) {
	svc, _, broadcaster := newTestService(t)
	ctx := context.Background()

	table, err := svc.CreateTable(ctx, "owner-1", "Chat Table", models.PlaySync)
	if err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	if _, err := svc.JoinTable(ctx, "player-1", table.InviteCode); err != nil {
		t.Fatalf("JoinTable failed: %v", err)
	}

	message, err := svc.SendMessage(ctx, table.ID, "player-1", "alice", "hello there", "sender-session")
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if message.Content != "hello there" {
		t.Errorf("Expected content preserved, got %q", message.Content)
	}

	if _, err := svc.SendMessage(ctx, table.ID, "stranger", "eve", "let me in", ""); err != ErrForbidden {
		t.Fatalf("Expected ErrForbidden for non-member, got %v", err)
	}

	found := false
	for _, evt := range broadcaster.events {
		if evt == "message:new" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected a message:new fan-out, got %v", broadcaster.events)
	}
}

func TestTableService_SendMessage_AsyncGate(t *testing.T) {
	svc, store, broadcaster := newTestService(t)
	ctx := context.Background()

	table, err := svc.CreateTable(ctx, "owner-1", "Play By Post", models.PlayAsync)
	if err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	if _, err := svc.JoinTable(ctx, "alice", table.InviteCode); err != nil {
		t.Fatalf("JoinTable failed: %v", err)
	}
	if _, err := svc.JoinTable(ctx, "bob", table.InviteCode); err != nil {
		t.Fatalf("JoinTable failed: %v", err)
	}

	gate := asyncturn.NewManager(store, broadcaster, 24*time.Hour)
	if err := gate.SetTurnOrder(ctx, table.ID, "owner-1", []string{"alice", "bob"}); err != nil {
		t.Fatalf("SetTurnOrder failed: %v", err)
	}
	if _, err := gate.StartTurn(ctx, table.ID, "owner-1"); err != nil {
		t.Fatalf("StartTurn failed: %v", err)
	}

	// It is alice's turn: bob is rejected, alice and the owner are not.
	if _, err := svc.SendMessage(ctx, table.ID, "bob", "bob", "out of turn", ""); err != asyncturn.ErrNotYourTurn {
		t.Fatalf("Expected ErrNotYourTurn for bob, got %v", err)
	}
	if _, err := svc.SendMessage(ctx, table.ID, "alice", "alice", "my move", ""); err != nil {
		t.Fatalf("SendMessage for turn holder failed: %v", err)
	}
	if _, err := svc.SendMessage(ctx, table.ID, "owner-1", "gm", "narration", ""); err != nil {
		t.Fatalf("SendMessage for owner failed: %v", err)
	}
}

func TestTableService_RollDice(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	table, err := svc.CreateTable(ctx, "owner-1", "Dice Table", models.PlaySync)
	if err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}

	record, err := svc.RollDice(ctx, table.ID, "owner-1", "gm", "2d6+3", "attack", false, false, "")
	if err != nil {
		t.Fatalf("RollDice failed: %v", err)
	}
	if record.Notation != "2d6+3" || len(record.Results) != 2 {
		t.Errorf("Expected 2 results for 2d6+3, got %v", record.Results)
	}
	if record.Reason != "attack" {
		t.Errorf("Expected reason preserved, got %q", record.Reason)
	}

	rolls := store.Rolls()
	if len(rolls) != 1 || rolls[0].ID != record.ID {
		t.Errorf("Expected the roll persisted, got %v", rolls)
	}

	if _, err := svc.RollDice(ctx, table.ID, "stranger", "eve", "1d20", "", false, false, ""); err != ErrForbidden {
		t.Fatalf("Expected ErrForbidden for non-member, got %v", err)
	}
	if _, err := svc.RollDice(ctx, table.ID, "owner-1", "gm", "0d6", "", false, false, ""); !errors.Is(err, dice.ErrInvalidNotation) {
		t.Fatalf("Expected ErrInvalidNotation, got %v", err)
	}
}

func TestTableService_RollDice_AdvantageWinsOverDisadvantage(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	table, err := svc.CreateTable(ctx, "owner-1", "Dice Table", models.PlaySync)
	if err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}

	record, err := svc.RollDice(ctx, table.ID, "owner-1", "gm", "1d20+2", "", true, true, "")
	if err != nil {
		t.Fatalf("RollDice failed: %v", err)
	}
	if record.RollType != string(dice.TypeAdvantage) {
		t.Errorf("Expected advantage to take precedence, got %s", record.RollType)
	}
	if len(record.Results) != 2 {
		t.Errorf("Expected 2 candidate dice for advantage, got %v", record.Results)
	}
}
