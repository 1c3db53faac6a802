// Package combat implements the per-table combat encounter lifecycle:
// initiative ordering, turn advancement, HP tracking.
package combat

import (
	"context"
	"errors"
	"sort"
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
	ErrForbidden         = errors.New("only the table owner may run combat")
	ErrAlreadyActive     = errors.New("an encounter is already active for this table")
	ErrInvalidState      = errors.New("encounter is no longer active")
	ErrNotFound          = errors.New("encounter not found")
	ErrNoCombatants      = errors.New("at least one combatant is required")
	ErrTooManyCombatants = errors.New("too many combatants")
)

// Setup describes one combatant submitted at encounter start.
type Setup struct {
	CharacterID string `json:"character_id,omitempty"`
	Name        string `json:"name"`
	Initiative  int    `json:"initiative"`
	HP          int    `json:"hp"`
	MaxHP       int    `json:"max_hp"`
	IsNPC       bool   `json:"is_npc"`
}

// Manager serializes encounter mutations per table and fans out the
// resulting events after each store write confirms.
type Manager struct {
	store         persistence.Store
	broadcaster   room.Broadcaster
	maxCombatants int

	locks map[string]*sync.Mutex
	mutex sync.Mutex
}

func NewManager(store persistence.Store, broadcaster room.Broadcaster, maxCombatants int) *Manager {
	return &Manager{
		store:         store,
		broadcaster:   broadcaster,
		maxCombatants: maxCombatants,
		locks:         make(map[string]*sync.Mutex),
	}
}

// tableLock returns the mutex that linearizes mutations for one table.
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

// Start opens a new encounter for the table. Combatants get their fixed
// position by stable initiative-descending sort; ties keep submission
// order. Only one encounter per table may be active.
func (m *Manager) Start(ctx context.Context, tableID, actorID, name string, setups []Setup) (*models.Encounter, error) {
	table, err := m.store.GetTable(ctx, tableID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if table.OwnerID != actorID {
		return nil, ErrForbidden
	}
	if len(setups) == 0 {
		return nil, ErrNoCombatants
	}
	if m.maxCombatants > 0 && len(setups) > m.maxCombatants {
		return nil, ErrTooManyCombatants
	}

	lock := m.tableLock(tableID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := m.store.GetActiveEncounter(ctx, tableID); err == nil {
		return nil, ErrAlreadyActive
	} else if !errors.Is(err, persistence.ErrRecordNotFound) {
		return nil, err
	}

	combatants := make([]models.Combatant, len(setups))
	for i, s := range setups {
		combatants[i] = models.Combatant{
			ID:          uuid.New().String(),
			CharacterID: s.CharacterID,
			Name:        s.Name,
			Initiative:  s.Initiative,
			HP:          clamp(s.HP, s.MaxHP),
			MaxHP:       s.MaxHP,
			IsNPC:       s.IsNPC,
		}
	}
	sort.SliceStable(combatants, func(i, j int) bool {
		return combatants[i].Initiative > combatants[j].Initiative
	})
	for i := range combatants {
		combatants[i].Position = i
	}

	encounter := &models.Encounter{
		ID:               uuid.New().String(),
		TableID:          tableID,
		Name:             name,
		State:            models.StateActive,
		Combatants:       combatants,
		CurrentTurnIndex: 0,
		Round:            1,
		CreatedAt:        time.Now(),
	}

	if err := m.store.SaveEncounter(ctx, encounter); err != nil {
		return nil, err
	}

	logger.Log.Infow("combat started", "table", tableID, "encounter", encounter.ID, "combatants", len(combatants))
	m.fanout(tableID, network.EvtCombatStarted, map[string]interface{}{"encounter": encounter})
	return encounter, nil
}

// NextTurn advances to the following combatant, wrapping to position 0 and
// bumping the round when the order overflows.
func (m *Manager) NextTurn(ctx context.Context, encounterID, actorID string) (*models.Encounter, error) {
	encounter, err := m.authorize(ctx, encounterID, actorID)
	if err != nil {
		return nil, err
	}

	lock := m.tableLock(encounter.TableID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock so two racing advances linearize.
	encounter, err = m.activeEncounter(ctx, encounterID)
	if err != nil {
		return nil, err
	}

	next := encounter.CurrentTurnIndex + 1
	if next >= len(encounter.Combatants) {
		next = 0
		encounter.Round++
	}
	encounter.CurrentTurnIndex = next

	if err := m.store.SaveEncounter(ctx, encounter); err != nil {
		return nil, err
	}

	m.fanout(encounter.TableID, network.EvtCombatTurn, map[string]interface{}{
		"encounter_id":       encounter.ID,
		"current_turn_index": encounter.CurrentTurnIndex,
		"round":              encounter.Round,
		"current":            encounter.Current(),
	})
	return encounter, nil
}

// UpdateHP stores the combatant's new HP, clamped to [0, MaxHP]. The raw
// caller value is never trusted beyond that clamp.
func (m *Manager) UpdateHP(ctx context.Context, encounterID, actorID, combatantID string, newHP int) (*models.Encounter, error) {
	encounter, err := m.authorize(ctx, encounterID, actorID)
	if err != nil {
		return nil, err
	}

	lock := m.tableLock(encounter.TableID)
	lock.Lock()
	defer lock.Unlock()

	encounter, err = m.activeEncounter(ctx, encounterID)
	if err != nil {
		return nil, err
	}

	var updated *models.Combatant
	for i := range encounter.Combatants {
		if encounter.Combatants[i].ID == combatantID {
			encounter.Combatants[i].HP = clamp(newHP, encounter.Combatants[i].MaxHP)
			updated = &encounter.Combatants[i]
			break
		}
	}
	if updated == nil {
		return nil, ErrNotFound
	}

	if err := m.store.SaveEncounter(ctx, encounter); err != nil {
		return nil, err
	}

	m.fanout(encounter.TableID, network.EvtCombatHP, map[string]interface{}{
		"encounter_id": encounter.ID,
		"combatant":    updated,
	})
	return encounter, nil
}

// End terminates the encounter. The ended state is terminal: no further
// mutation is accepted afterwards.
func (m *Manager) End(ctx context.Context, encounterID, actorID string) (*models.Encounter, error) {
	encounter, err := m.authorize(ctx, encounterID, actorID)
	if err != nil {
		return nil, err
	}

	lock := m.tableLock(encounter.TableID)
	lock.Lock()
	defer lock.Unlock()

	encounter, err = m.activeEncounter(ctx, encounterID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	encounter.State = models.StateEnded
	encounter.EndedAt = &now

	if err := m.store.SaveEncounter(ctx, encounter); err != nil {
		return nil, err
	}

	logger.Log.Infow("combat ended", "table", encounter.TableID, "encounter", encounter.ID, "rounds", encounter.Round)
	m.fanout(encounter.TableID, network.EvtCombatEnded, map[string]interface{}{
		"encounter_id": encounter.ID,
		"ended_at":     now,
	})
	return encounter, nil
}

// authorize resolves the encounter and verifies the actor owns its table.
func (m *Manager) authorize(ctx context.Context, encounterID, actorID string) (*models.Encounter, error) {
	encounter, err := m.store.GetEncounter(ctx, encounterID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	table, err := m.store.GetTable(ctx, encounter.TableID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if table.OwnerID != actorID {
		return nil, ErrForbidden
	}
	return encounter, nil
}

func (m *Manager) activeEncounter(ctx context.Context, encounterID string) (*models.Encounter, error) {
	encounter, err := m.store.GetEncounter(ctx, encounterID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if encounter.State != models.StateActive {
		return nil, ErrInvalidState
	}
	return encounter, nil
}

func (m *Manager) fanout(tableID, event string, data interface{}) {
	if err := m.broadcaster.BroadcastToRoom(tableID, event, data, ""); err != nil {
		logger.Log.Warnf("broadcast %s for table %s failed: %v", event, tableID, err)
	}
}

func clamp(hp, maxHP int) int {
	if maxHP < 0 {
		maxHP = 0
	}
	if hp < 0 {
		return 0
	}
	if hp > maxHP {
		return maxHP
	}
	return hp
}

func mapStoreErr(err error) error {
	if errors.Is(err, persistence.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
