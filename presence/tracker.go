package presence

import (
	"context"
	"time"

	"github.com/wfunc/rpgserver/logger"
	"github.com/wfunc/rpgserver/models"
	"github.com/wfunc/rpgserver/network"
	"github.com/wfunc/rpgserver/room"
	"github.com/wfunc/rpgserver/session"
	"github.com/wfunc/rpgserver/timer"
)

// Tracker drives the per-user offline->online->offline state machine.
// Offline transitions are debounced by a grace window so a page refresh or
// brief network loss never flaps presence. Presence is user-scoped: a user
// with several connections stays online until the last one is gone.
type Tracker struct {
	sessions    *session.Manager
	store       Store
	broadcaster room.Broadcaster
	scheduler   *timer.Scheduler
	grace       time.Duration
}

func NewTracker(sessions *session.Manager, store Store, broadcaster room.Broadcaster, scheduler *timer.Scheduler, grace time.Duration) *Tracker {
	return &Tracker{
		sessions:    sessions,
		store:       store,
		broadcaster: broadcaster,
		scheduler:   scheduler,
		grace:       grace,
	}
}

// Update is the presence:update payload.
type Update struct {
	UserID string                `json:"user_id"`
	Status models.PresenceStatus `json:"status"`
}

// OnConnect registers a fresh connection. No presence change happens until
// the client completes the online handshake.
func (t *Tracker) OnConnect(s *session.Session) {
	logger.Log.Debugf("connection %s registered, awaiting handshake", s.ID)
}

// OnUserOnline binds the connection to a verified user id, cancels any
// pending offline timer for that user, and announces the online state to
// every room the connection belongs to.
func (t *Tracker) OnUserOnline(ctx context.Context, s *session.Session, userID, username string) error {
	s.Bind(userID, username)

	if t.scheduler.Cancel(userID) {
		logger.Log.Debugf("user %s reconnected within grace window", userID)
	}

	record := &models.PresenceRecord{
		UserID:     userID,
		Status:     models.PresenceOnline,
		LastSeenAt: time.Now(),
	}
	if err := t.store.SavePresence(ctx, record); err != nil {
		return err
	}

	t.announce(s.Tables(), userID, models.PresenceOnline)
	return nil
}

// OnDisconnect starts the grace timer for the connection's user. If the
// user does not come back online before it fires, they go offline exactly
// once. Connections that never completed the handshake are a no-op.
func (t *Tracker) OnDisconnect(s *session.Session) {
	userID, _ := s.Identity()
	if userID == "" {
		return
	}

	// Capture memberships now; the session is gone by the time the
	// timer fires.
	tables := s.Tables()

	t.scheduler.Schedule(userID, t.grace, func() {
		// Another tab may still hold a live bound connection.
		if len(t.sessions.GetByUserID(userID)) > 0 {
			return
		}

		record := &models.PresenceRecord{
			UserID:     userID,
			Status:     models.PresenceOffline,
			LastSeenAt: time.Now(),
		}
		if err := t.store.SavePresence(context.Background(), record); err != nil {
			logger.Log.Warnf("persisting offline presence for %s failed: %v", userID, err)
		}

		t.announce(tables, userID, models.PresenceOffline)
	})
}

func (t *Tracker) announce(tables []string, userID string, status models.PresenceStatus) {
	update := Update{UserID: userID, Status: status}
	for _, tableID := range tables {
		if err := t.broadcaster.BroadcastToRoom(tableID, network.EvtPresenceUpdate, update, ""); err != nil {
			logger.Log.Warnf("presence broadcast to table %s failed: %v", tableID, err)
		}
	}
}
