// Package asyncturn implements the single-writer turn rotation for
// play-by-post tables.
package asyncturn

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wfunc/rpgserver/logger"
	"github.com/wfunc/rpgserver/models"
	"github.com/wfunc/rpgserver/network"
	"github.com/wfunc/rpgserver/persistence"
	"github.com/wfunc/rpgserver/room"
)

var (
	ErrForbidden       = errors.New("only the table owner may manage turns")
	ErrNotAsyncTable   = errors.New("table is not in play-by-post mode")
	ErrEmptyTurnOrder  = errors.New("turn order is empty")
	ErrInvalidMembers  = errors.New("turn order references non-members")
	ErrNotYourTurn     = errors.New("not your turn")
	ErrNotFound        = errors.New("turn not found")
	ErrTurnAlreadyOpen = errors.New("a turn is already open for this table")
	ErrTurnClosed      = errors.New("turn is already closed")
)

// Manager rotates the exclusivity window through the table's turn order.
// Deadlines are advisory metadata; nothing here ends a turn on its own.
type Manager struct {
	store       persistence.Store
	broadcaster room.Broadcaster
	deadline    time.Duration

	locks map[string]*sync.Mutex
	mutex sync.Mutex
}

func NewManager(store persistence.Store, broadcaster room.Broadcaster, deadline time.Duration) *Manager {
	return &Manager{
		store:       store,
		broadcaster: broadcaster,
		deadline:    deadline,
		locks:       make(map[string]*sync.Mutex),
	}
}

func (m *Manager) tableLock(tableID string) *sync.Mutex {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	l, ok := m.locks[tableID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[tableID] = l
	}
	return l
}

// StartTurn opens the first turn window for the user at the current
// cursor. Rejects when a turn is already open.
func (m *Manager) StartTurn(ctx context.Context, tableID, actorID string) (*models.AsyncTurn, error) {
	if _, err := m.authorize(ctx, tableID, actorID); err != nil {
		return nil, err
	}

	lock := m.tableLock(tableID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock so a racing SetTurnOrder linearizes.
	table, err := m.authorize(ctx, tableID, actorID)
	if err != nil {
		return nil, err
	}
	if len(table.TurnOrder) == 0 {
		return nil, ErrEmptyTurnOrder
	}

	if _, err := m.store.GetOpenAsyncTurn(ctx, tableID); err == nil {
		return nil, ErrTurnAlreadyOpen
	} else if !errors.Is(err, persistence.ErrRecordNotFound) {
		return nil, err
	}

	turn, err := m.openTurn(ctx, table, table.CurrentTurnIndex)
	if err != nil {
		return nil, err
	}

	m.fanout(tableID, network.EvtAsyncStarted, map[string]interface{}{"turn": turn})
	return turn, nil
}

// EndTurn closes the given turn, advances the cursor with wrap, and
// immediately opens the next window. Ending and reopening are one logical
// transition: rotation never leaves the table without an open turn.
func (m *Manager) EndTurn(ctx context.Context, tableID, turnID, actorID string) (ended, next *models.AsyncTurn, err error) {
	if _, err := m.authorize(ctx, tableID, actorID); err != nil {
		return nil, nil, err
	}

	lock := m.tableLock(tableID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock: a SetTurnOrder that lands between the
	// authorization read and here must not be clobbered by a stale write.
	table, err := m.authorize(ctx, tableID, actorID)
	if err != nil {
		return nil, nil, err
	}
	if len(table.TurnOrder) == 0 {
		return nil, nil, ErrEmptyTurnOrder
	}

	turn, err := m.store.GetAsyncTurn(ctx, turnID)
	if err != nil {
		return nil, nil, mapStoreErr(err)
	}
	if turn.TableID != tableID {
		return nil, nil, ErrNotFound
	}
	if !turn.Open() {
		return nil, nil, ErrTurnClosed
	}

	now := time.Now()
	turn.EndedAt = &now
	if err := m.store.SaveAsyncTurn(ctx, turn); err != nil {
		return nil, nil, err
	}

	newIndex := (table.CurrentTurnIndex + 1) % len(table.TurnOrder)
	if err := m.store.UpdateTableTurnState(ctx, tableID, table.TurnOrder, newIndex); err != nil {
		return nil, nil, err
	}
	table.CurrentTurnIndex = newIndex

	opened, err := m.openTurn(ctx, table, newIndex)
	if err != nil {
		return nil, nil, err
	}

	m.fanout(tableID, network.EvtAsyncChanged, map[string]interface{}{
		"ended_turn": turn,
		"new_turn":   opened,
	})
	return turn, opened, nil
}

// SetTurnOrder replaces the rotation order. Every id must be an active
// table member. Resets the cursor to 0; it does not auto-start a turn.
func (m *Manager) SetTurnOrder(ctx context.Context, tableID, actorID string, orderedUserIDs []string) error {
	if _, err := m.authorize(ctx, tableID, actorID); err != nil {
		return err
	}

	lock := m.tableLock(tableID)
	lock.Lock()
	defer lock.Unlock()

	// Validate against the membership as of the locked read.
	table, err := m.authorize(ctx, tableID, actorID)
	if err != nil {
		return err
	}
	for _, id := range orderedUserIDs {
		if !table.HasMember(id) {
			return ErrInvalidMembers
		}
	}

	return m.store.UpdateTableTurnState(ctx, tableID, orderedUserIDs, 0)
}

// GetCurrentTurn returns the open turn together with the messages
// authored during its window, oldest first.
func (m *Manager) GetCurrentTurn(ctx context.Context, tableID string) (*models.AsyncTurn, []models.Message, error) {
	turn, err := m.store.GetOpenAsyncTurn(ctx, tableID)
	if err != nil {
		return nil, nil, mapStoreErr(err)
	}

	messages, err := m.store.ListMessagesBetween(ctx, tableID, turn.StartedAt, nil)
	if err != nil {
		return nil, nil, err
	}
	return turn, messages, nil
}

// GetTurnHistory returns every turn for the table in start order.
func (m *Manager) GetTurnHistory(ctx context.Context, tableID string) ([]models.AsyncTurn, error) {
	return m.store.ListAsyncTurns(ctx, tableID)
}

// CanPost is the message gate for async tables: the owner may always
// post, everyone else only during their own open turn. Checked at
// submission time; rejected attempts are not queued.
func (m *Manager) CanPost(ctx context.Context, table *models.Table, userID string) error {
	if table.PlayStyle != models.PlayAsync {
		return nil
	}
	if userID == table.OwnerID {
		return nil
	}

	turn, err := m.store.GetOpenAsyncTurn(ctx, table.ID)
	if err != nil {
		if errors.Is(err, persistence.ErrRecordNotFound) {
			return ErrNotYourTurn
		}
		return err
	}
	if turn.UserID != userID {
		return ErrNotYourTurn
	}
	return nil
}

func (m *Manager) openTurn(ctx context.Context, table *models.Table, index int) (*models.AsyncTurn, error) {
	now := time.Now()
	turn := &models.AsyncTurn{
		ID:        uuid.New().String(),
		TableID:   table.ID,
		UserID:    table.TurnOrder[index],
		StartedAt: now,
		Deadline:  now.Add(m.deadline),
	}
	if err := m.store.SaveAsyncTurn(ctx, turn); err != nil {
		return nil, err
	}
	logger.Log.Infow("async turn opened", "table", table.ID, "user", turn.UserID, "deadline", turn.Deadline)
	return turn, nil
}

func (m *Manager) authorize(ctx context.Context, tableID, actorID string) (*models.Table, error) {
	table, err := m.store.GetTable(ctx, tableID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if table.OwnerID != actorID {
		return nil, ErrForbidden
	}
	if table.PlayStyle != models.PlayAsync {
		return nil, ErrNotAsyncTable
	}
	return table, nil
}

func (m *Manager) fanout(tableID, event string, data interface{}) {
	if err := m.broadcaster.BroadcastToRoom(tableID, event, data, ""); err != nil {
		logger.Log.Warnf("broadcast %s for table %s failed: %v", event, tableID, err)
	}
}

func mapStoreErr(err error) error {
	if errors.Is(err, persistence.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
