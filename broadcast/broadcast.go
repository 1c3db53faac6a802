package broadcast

import (
	"github.com/wfunc/rpgserver/logger"
	"github.com/wfunc/rpgserver/room"
	"github.com/wfunc/rpgserver/session"
)

// RoomBroadcaster fans events out to the subscribers of a table's room.
// Sends are fire-and-forget: a dead subscriber is logged and skipped, it
// never fails the triggering action. Durability belongs to the store write
// that precedes every broadcast.
type RoomBroadcaster struct {
	roomManager    *room.Manager
	sessionManager *session.Manager
}

func NewRoomBroadcaster(roomManager *room.Manager, sessionManager *session.Manager) *RoomBroadcaster {
	return &RoomBroadcaster{
		roomManager:    roomManager,
		sessionManager: sessionManager,
	}
}

func (b *RoomBroadcaster) BroadcastToRoom(tableID, event string, data interface{}, excludeSessionID string) error {
	r, exists := b.roomManager.Get(tableID)
	if !exists {
		// Nobody is subscribed; nothing to deliver.
		return nil
	}

	for _, s := range r.Sessions() {
		if s.ID == excludeSessionID {
			continue
		}
		if err := s.Send(event, "", data); err != nil {
			logger.Log.Warnf("broadcast %s to session %s failed: %v", event, s.ID, err)
		}
	}

	return nil
}

func (b *RoomBroadcaster) BroadcastToUser(userID, event string, data interface{}) error {
	for _, s := range b.sessionManager.GetByUserID(userID) {
		if err := s.Send(event, "", data); err != nil {
			logger.Log.Warnf("broadcast %s to user %s failed: %v", event, userID, err)
		}
	}
	return nil
}
