package room

import (
	"sync"
	"time"

	"github.com/wfunc/rpgserver/session"
)

// Room is the broadcast group for one table. It has no identity beyond its
// table id; it exists only while it has subscribers.
type Room struct {
	TableID   string
	CreatedAt time.Time

	members map[string]*session.Session // session id -> session
	mutex   sync.RWMutex
}

func newRoom(tableID string) *Room {
	return &Room{
		TableID:   tableID,
		CreatedAt: time.Now(),
		members:   make(map[string]*session.Session),
	}
}

func (r *Room) add(s *session.Session) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.members[s.ID] = s
}

func (r *Room) remove(sessionID string) int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.members, sessionID)
	return len(r.members)
}

// Sessions returns a snapshot of the current subscribers.
func (r *Room) Sessions() []*session.Session {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	sessions := make([]*session.Session, 0, len(r.members))
	for _, s := range r.members {
		sessions = append(sessions, s)
	}
	return sessions
}

func (r *Room) Size() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.members)
}

// Manager owns every room in the process. Rooms are created on first join
// and dropped as soon as the last subscriber leaves.
type Manager struct {
	rooms map[string]*Room
	mutex sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		rooms: make(map[string]*Room),
	}
}

// Join subscribes the session to the table's room, creating the room if it
// does not exist yet.
func (m *Manager) Join(s *session.Session, tableID string) *Room {
	m.mutex.Lock()
	r, exists := m.rooms[tableID]
	if !exists {
		r = newRoom(tableID)
		m.rooms[tableID] = r
	}
	m.mutex.Unlock()

	r.add(s)
	s.JoinTable(tableID)
	return r
}

// Leave unsubscribes the session and garbage-collects the room when empty.
func (m *Manager) Leave(sessionID, tableID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	r, exists := m.rooms[tableID]
	if !exists {
		return
	}
	if r.remove(sessionID) == 0 {
		delete(m.rooms, tableID)
	}
}

func (m *Manager) Get(tableID string) (*Room, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	r, exists := m.rooms[tableID]
	return r, exists
}

func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.rooms)
}
