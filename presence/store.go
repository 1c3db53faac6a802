package presence

import (
	"context"

	"github.com/wfunc/rpgserver/models"
)

// Store persists per-user presence records. Presence is low-value derived
// state, so it lives in a fast store rather than the relational one.
type Store interface {
	SavePresence(ctx context.Context, record *models.PresenceRecord) error
	GetPresence(ctx context.Context, userID string) (*models.PresenceRecord, error)
}
