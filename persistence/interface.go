// persistence/interface.go
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/wfunc/rpgserver/models"
)

var (
	ErrRecordNotFound = errors.New("record not found")
)

// Store is the relational backing store the session layer depends on. It
// only requires atomic read-modify-write on single records; serialization
// of conflicting mutations happens above it, per table.
type Store interface {
	// Tables.
	CreateTable(ctx context.Context, table *models.Table) error
	GetTable(ctx context.Context, id string) (*models.Table, error)
	GetTableByInviteCode(ctx context.Context, code string) (*models.Table, error)
	AddTableMember(ctx context.Context, tableID, userID string) error
	UpdateTableTurnState(ctx context.Context, tableID string, turnOrder []string, currentTurnIndex int) error

	// Combat encounters.
	SaveEncounter(ctx context.Context, encounter *models.Encounter) error
	GetEncounter(ctx context.Context, id string) (*models.Encounter, error)
	GetActiveEncounter(ctx context.Context, tableID string) (*models.Encounter, error)

	// Async turns.
	SaveAsyncTurn(ctx context.Context, turn *models.AsyncTurn) error
	GetAsyncTurn(ctx context.Context, id string) (*models.AsyncTurn, error)
	GetOpenAsyncTurn(ctx context.Context, tableID string) (*models.AsyncTurn, error)
	ListAsyncTurns(ctx context.Context, tableID string) ([]models.AsyncTurn, error)

	// Messages and rolls.
	SaveMessage(ctx context.Context, message *models.Message) error
	ListMessagesBetween(ctx context.Context, tableID string, from time.Time, to *time.Time) ([]models.Message, error)
	SaveRoll(ctx context.Context, roll *models.RollRecord) error

	Close() error
}
