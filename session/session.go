package session

import (
	"sync"
	"time"

	"github.com/wfunc/rpgserver/network"
)

// Session is the ephemeral handle for one client socket. UserID stays empty
// until the client completes the user:online handshake.
type Session struct {
	ID         string
	Conn       network.Connection
	UserID     string
	Username   string
	CreatedAt  time.Time
	LastActive time.Time

	tables map[string]struct{}
	mutex  sync.RWMutex
}

func NewSession(id string, conn network.Connection) *Session {
	now := time.Now()
	return &Session{
		ID:         id,
		Conn:       conn,
		CreatedAt:  now,
		LastActive: now,
		tables:     make(map[string]struct{}),
	}
}

func (s *Session) GetID() string {
	return s.ID
}

// Bind attaches the authenticated identity to the connection.
func (s *Session) Bind(userID, username string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.UserID = userID
	s.Username = username
}

// Identity returns the bound user id and username, empty before handshake.
func (s *Session) Identity() (string, string) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.UserID, s.Username
}

func (s *Session) JoinTable(tableID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.tables[tableID] = struct{}{}
}

func (s *Session) LeaveTable(tableID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.tables, tableID)
}

// Tables returns a copy of the table memberships of this connection.
func (s *Session) Tables() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	ids := make([]string, 0, len(s.tables))
	for id := range s.tables {
		ids = append(ids, id)
	}
	return ids
}

func (s *Session) Send(event string, reqID string, data interface{}) error {
	s.mutex.Lock()
	s.LastActive = time.Now()
	s.mutex.Unlock()
	return s.Conn.Send(event, reqID, data)
}

func (s *Session) Close() error {
	return s.Conn.Close()
}

// Manager tracks every live session in the process.
type Manager struct {
	sessions map[string]*Session
	mutex    sync.RWMutex
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
	}
}

func (m *Manager) Add(session *Session) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sessions[session.ID] = session
}

func (m *Manager) Remove(sessionID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.sessions, sessionID)
}

func (m *Manager) Get(sessionID string) (*Session, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	session, exists := m.sessions[sessionID]
	return session, exists
}

// GetByUserID returns every live session bound to userID. A user with
// multiple tabs open holds multiple sessions.
func (m *Manager) GetByUserID(userID string) []*Session {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var result []*Session
	for _, session := range m.sessions {
		if id, _ := session.Identity(); id == userID {
			result = append(result, session)
		}
	}
	return result
}

func (m *Manager) Count() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return len(m.sessions)
}
