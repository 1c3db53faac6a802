// persistence/gorm_models.go
package persistence

import (
	"time"

	"github.com/wfunc/rpgserver/models"
)

// TableModel is the GORM row for a table.
type TableModel struct {
	ID               string    `gorm:"primaryKey"`
	Name             string    `gorm:"not null"`
	OwnerID          string    `gorm:"index;not null"`
	InviteCode       string    `gorm:"uniqueIndex;not null"`
	PlayStyle        string    `gorm:"not null"`
	Members          []string  `gorm:"type:jsonb;serializer:json"`
	TurnOrder        []string  `gorm:"type:jsonb;serializer:json"`
	CurrentTurnIndex int       `gorm:"default:0"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (TableModel) TableName() string { return "tables" }

func (m *TableModel) toModel() *models.Table {
	return &models.Table{
		ID:               m.ID,
		Name:             m.Name,
		OwnerID:          m.OwnerID,
		InviteCode:       m.InviteCode,
		PlayStyle:        models.PlayStyle(m.PlayStyle),
		Members:          m.Members,
		TurnOrder:        m.TurnOrder,
		CurrentTurnIndex: m.CurrentTurnIndex,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func tableModelFrom(t *models.Table) *TableModel {
	return &TableModel{
		ID:               t.ID,
		Name:             t.Name,
		OwnerID:          t.OwnerID,
		InviteCode:       t.InviteCode,
		PlayStyle:        string(t.PlayStyle),
		Members:          t.Members,
		TurnOrder:        t.TurnOrder,
		CurrentTurnIndex: t.CurrentTurnIndex,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
	}
}

// EncounterModel is the GORM row for a combat encounter. Combatants are
// stored as a jsonb array in position order.
type EncounterModel struct {
	ID               string             `gorm:"primaryKey"`
	TableID          string             `gorm:"index;not null"`
	Name             string             `gorm:"not null"`
	State            string             `gorm:"index;not null"`
	Combatants       []models.Combatant `gorm:"type:jsonb;serializer:json"`
	CurrentTurnIndex int                `gorm:"default:0"`
	Round            int                `gorm:"default:1"`
	CreatedAt        time.Time
	EndedAt          *time.Time
}

func (EncounterModel) TableName() string { return "combat_encounters" }

func (m *EncounterModel) toModel() *models.Encounter {
	return &models.Encounter{
		ID:               m.ID,
		TableID:          m.TableID,
		Name:             m.Name,
		State:            models.EncounterState(m.State),
		Combatants:       m.Combatants,
		CurrentTurnIndex: m.CurrentTurnIndex,
		Round:            m.Round,
		CreatedAt:        m.CreatedAt,
		EndedAt:          m.EndedAt,
	}
}

func encounterModelFrom(e *models.Encounter) *EncounterModel {
	return &EncounterModel{
		ID:               e.ID,
		TableID:          e.TableID,
		Name:             e.Name,
		State:            string(e.State),
		Combatants:       e.Combatants,
		CurrentTurnIndex: e.CurrentTurnIndex,
		Round:            e.Round,
		CreatedAt:        e.CreatedAt,
		EndedAt:          e.EndedAt,
	}
}

// AsyncTurnModel is the GORM row for one play-by-post turn window.
type AsyncTurnModel struct {
	ID        string    `gorm:"primaryKey"`
	TableID   string    `gorm:"index;not null"`
	UserID    string    `gorm:"index;not null"`
	StartedAt time.Time `gorm:"not null"`
	Deadline  time.Time
	EndedAt   *time.Time `gorm:"index"`
}

func (AsyncTurnModel) TableName() string { return "async_turns" }

func (m *AsyncTurnModel) toModel() *models.AsyncTurn {
	return &models.AsyncTurn{
		ID:        m.ID,
		TableID:   m.TableID,
		UserID:    m.UserID,
		StartedAt: m.StartedAt,
		Deadline:  m.Deadline,
		EndedAt:   m.EndedAt,
	}
}

func asyncTurnModelFrom(t *models.AsyncTurn) *AsyncTurnModel {
	return &AsyncTurnModel{
		ID:        t.ID,
		TableID:   t.TableID,
		UserID:    t.UserID,
		StartedAt: t.StartedAt,
		Deadline:  t.Deadline,
		EndedAt:   t.EndedAt,
	}
}

// MessageModel is the GORM row for a chat message.
type MessageModel struct {
	ID        string    `gorm:"primaryKey"`
	TableID   string    `gorm:"index;not null"`
	UserID    string    `gorm:"index;not null"`
	Username  string    `gorm:"not null"`
	Content   string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"index"`
}

func (MessageModel) TableName() string { return "messages" }

func (m *MessageModel) toModel() models.Message {
	return models.Message{
		ID:        m.ID,
		TableID:   m.TableID,
		UserID:    m.UserID,
		Username:  m.Username,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}

// RollModel is the GORM row for a persisted dice roll.
type RollModel struct {
	ID        string `gorm:"primaryKey"`
	TableID   string `gorm:"index;not null"`
	UserID    string `gorm:"index;not null"`
	Username  string `gorm:"not null"`
	Reason    string
	Notation  string `gorm:"not null"`
	Results   []int  `gorm:"type:jsonb;serializer:json"`
	Total     int
	Modifier  int
	RollType  string
	Breakdown string
	CreatedAt time.Time
}

func (RollModel) TableName() string { return "dice_rolls" }
