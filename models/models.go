package models

import (
	"time"
)

// PlayStyle determines the cadence of a table for its whole lifetime.
type PlayStyle string

const (
	PlaySync  PlayStyle = "sync"
	PlayAsync PlayStyle = "async"
	PlaySolo  PlayStyle = "solo"
)

// Table is one RPG session/campaign and the unit of room scoping.
type Table struct {
	ID               string    `json:"id"`
	Name             string    `json:"name"`
	OwnerID          string    `json:"owner_id"`
	InviteCode       string    `json:"invite_code"`
	PlayStyle        PlayStyle `json:"play_style"`
	Members          []string  `json:"members"`
	TurnOrder        []string  `json:"turn_order"`
	CurrentTurnIndex int       `json:"current_turn_index"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// HasMember reports whether userID belongs to the table. The owner is
// always a member.
func (t *Table) HasMember(userID string) bool {
	if userID == t.OwnerID {
		return true
	}
	for _, m := range t.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// PresenceStatus is a user's derived online state.
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceOffline PresenceStatus = "offline"
)

// PresenceRecord is the per-user presence state, shared across all of the
// user's connections.
type PresenceRecord struct {
	UserID     string         `json:"user_id"`
	Status     PresenceStatus `json:"status"`
	LastSeenAt time.Time      `json:"last_seen_at"`
}

// Message is one chat message scoped to a table.
type Message struct {
	ID        string    `json:"id"`
	TableID   string    `json:"table_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// RollRecord is a persisted dice roll together with its table context.
type RollRecord struct {
	ID        string    `json:"id"`
	TableID   string    `json:"table_id"`
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	Reason    string    `json:"reason,omitempty"`
	Notation  string    `json:"notation"`
	Results   []int     `json:"results"`
	Total     int       `json:"total"`
	Modifier  int       `json:"modifier"`
	RollType  string    `json:"roll_type"`
	Breakdown string    `json:"breakdown"`
	CreatedAt time.Time `json:"created_at"`
}

// EncounterState tags the combat encounter lifecycle. Encounters are
// created directly in StateActive; StateEnded is terminal.
type EncounterState string

const (
	StateActive EncounterState = "active"
	StateEnded  EncounterState = "ended"
)

// Combatant is one participant in a combat encounter. Position is fixed at
// encounter creation and never re-sorted, even if Initiative is edited.
type Combatant struct {
	ID          string `json:"id"`
	CharacterID string `json:"character_id,omitempty"`
	Name        string `json:"name"`
	Initiative  int    `json:"initiative"`
	HP          int    `json:"hp"`
	MaxHP       int    `json:"max_hp"`
	IsNPC       bool   `json:"is_npc"`
	Position    int    `json:"position"`
}

// Encounter is a combat encounter. At most one encounter per table may be
// in StateActive.
type Encounter struct {
	ID               string         `json:"id"`
	TableID          string         `json:"table_id"`
	Name             string         `json:"name"`
	State            EncounterState `json:"state"`
	Combatants       []Combatant    `json:"combatants"`
	CurrentTurnIndex int            `json:"current_turn_index"`
	Round            int            `json:"round"`
	CreatedAt        time.Time      `json:"created_at"`
	EndedAt          *time.Time     `json:"ended_at,omitempty"`
}

// Current returns the combatant whose turn it is.
func (e *Encounter) Current() *Combatant {
	if len(e.Combatants) == 0 {
		return nil
	}
	return &e.Combatants[e.CurrentTurnIndex]
}

// AsyncTurn is one exclusivity window on a play-by-post table. EndedAt nil
// means the turn is open; at most one open turn exists per table.
type AsyncTurn struct {
	ID        string     `json:"id"`
	TableID   string     `json:"table_id"`
	UserID    string     `json:"user_id"`
	StartedAt time.Time  `json:"started_at"`
	Deadline  time.Time  `json:"deadline"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// Open reports whether the turn is still the table's current window.
func (t *AsyncTurn) Open() bool {
	return t != nil && t.EndedAt == nil
}
