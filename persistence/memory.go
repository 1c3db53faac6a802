// persistence/memory.go
package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wfunc/rpgserver/models"
)

// Memory is an in-process Store used by tests and local development. It
// copies records on the way in and out so callers never share state with
// the store.
type Memory struct {
	mutex      sync.RWMutex
	tables     map[string]*models.Table
	encounters map[string]*models.Encounter
	turns      map[string]*models.AsyncTurn
	messages   []models.Message
	rolls      []models.RollRecord
}

func NewMemory() *Memory {
	return &Memory{
		tables:     make(map[string]*models.Table),
		encounters: make(map[string]*models.Encounter),
		turns:      make(map[string]*models.AsyncTurn),
	}
}

func copyTable(t *models.Table) *models.Table {
	c := *t
	c.Members = append([]string(nil), t.Members...)
	c.TurnOrder = append([]string(nil), t.TurnOrder...)
	return &c
}

func copyEncounter(e *models.Encounter) *models.Encounter {
	c := *e
	c.Combatants = append([]models.Combatant(nil), e.Combatants...)
	if e.EndedAt != nil {
		ended := *e.EndedAt
		c.EndedAt = &ended
	}
	return &c
}

func copyTurn(t *models.AsyncTurn) *models.AsyncTurn {
	c := *t
	if t.EndedAt != nil {
		ended := *t.EndedAt
		c.EndedAt = &ended
	}
	return &c
}

func (m *Memory) CreateTable(ctx context.Context, table *models.Table) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.tables[table.ID] = copyTable(table)
	return nil
}

func (m *Memory) GetTable(ctx context.Context, id string) (*models.Table, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	t, ok := m.tables[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return copyTable(t), nil
}

func (m *Memory) GetTableByInviteCode(ctx context.Context, code string) (*models.Table, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	for _, t := range m.tables {
		if t.InviteCode == code {
			return copyTable(t), nil
		}
	}
	return nil, ErrRecordNotFound
}

func (m *Memory) AddTableMember(ctx context.Context, tableID, userID string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	t, ok := m.tables[tableID]
	if !ok {
		return ErrRecordNotFound
	}
	for _, member := range t.Members {
		if member == userID {
			return nil
		}
	}
	t.Members = append(t.Members, userID)
	t.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) UpdateTableTurnState(ctx context.Context, tableID string, turnOrder []string, currentTurnIndex int) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	t, ok := m.tables[tableID]
	if !ok {
		return ErrRecordNotFound
	}
	t.TurnOrder = append([]string(nil), turnOrder...)
	t.CurrentTurnIndex = currentTurnIndex
	t.UpdatedAt = time.Now()
	return nil
}

func (m *Memory) SaveEncounter(ctx context.Context, encounter *models.Encounter) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.encounters[encounter.ID] = copyEncounter(encounter)
	return nil
}

func (m *Memory) GetEncounter(ctx context.Context, id string) (*models.Encounter, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	e, ok := m.encounters[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return copyEncounter(e), nil
}

func (m *Memory) GetActiveEncounter(ctx context.Context, tableID string) (*models.Encounter, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	for _, e := range m.encounters {
		if e.TableID == tableID && e.State == models.StateActive {
			return copyEncounter(e), nil
		}
	}
	return nil, ErrRecordNotFound
}

func (m *Memory) SaveAsyncTurn(ctx context.Context, turn *models.AsyncTurn) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.turns[turn.ID] = copyTurn(turn)
	return nil
}

func (m *Memory) GetAsyncTurn(ctx context.Context, id string) (*models.AsyncTurn, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	t, ok := m.turns[id]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return copyTurn(t), nil
}

func (m *Memory) GetOpenAsyncTurn(ctx context.Context, tableID string) (*models.AsyncTurn, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	for _, t := range m.turns {
		if t.TableID == tableID && t.EndedAt == nil {
			return copyTurn(t), nil
		}
	}
	return nil, ErrRecordNotFound
}

func (m *Memory) ListAsyncTurns(ctx context.Context, tableID string) ([]models.AsyncTurn, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	var turns []models.AsyncTurn
	for _, t := range m.turns {
		if t.TableID == tableID {
			turns = append(turns, *copyTurn(t))
		}
	}
	sort.Slice(turns, func(i, j int) bool {
		return turns[i].StartedAt.Before(turns[j].StartedAt)
	})
	return turns, nil
}

func (m *Memory) SaveMessage(ctx context.Context, message *models.Message) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.messages = append(m.messages, *message)
	return nil
}

func (m *Memory) ListMessagesBetween(ctx context.Context, tableID string, from time.Time, to *time.Time) ([]models.Message, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	var messages []models.Message
	for _, msg := range m.messages {
		if msg.TableID != tableID || msg.CreatedAt.Before(from) {
			continue
		}
		if to != nil && msg.CreatedAt.After(*to) {
			continue
		}
		messages = append(messages, msg)
	}
	sort.Slice(messages, func(i, j int) bool {
		return messages[i].CreatedAt.Before(messages[j].CreatedAt)
	})
	return messages, nil
}

func (m *Memory) SaveRoll(ctx context.Context, roll *models.RollRecord) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.rolls = append(m.rolls, *roll)
	return nil
}

// Rolls returns every persisted roll, oldest first. Test helper.
func (m *Memory) Rolls() []models.RollRecord {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return append([]models.RollRecord(nil), m.rolls...)
}

func (m *Memory) Close() error {
	return nil
}
