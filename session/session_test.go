package session

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/wfunc/rpgserver/network"
)

// MockConnection is a test double for the network.Connection interface.
type MockConnection struct{}

func (m *MockConnection) Send(event string, reqID string, data interface{}) error { return nil }
func (m *MockConnection) ReadEvent() (*network.Event, error)                      { return nil, nil }
func (m *MockConnection) Close() error                                            { return nil }
func (m *MockConnection) RemoteAddr() net.Addr                                    { return &net.TCPAddr{} }
func (m *MockConnection) SetHeartbeat(interval time.Duration)                     {}

func TestNewManager(t *testing.T) {
	manager := NewManager()
	if manager == nil {
		t.Fatal("NewManager should not return nil")
	}
	if manager.sessions == nil {
		t.Fatal("NewManager should initialize the sessions map")
	}
}

func TestManager_Add_Get_Remove(t *testing.T) {
	manager := NewManager()
	sessionID := "test_session_1"
	sess := NewSession(sessionID, &MockConnection{})

	// Test Add
	manager.Add(sess)
	if manager.Count() != 1 {
		t.Fatalf("Expected session count to be 1, got %d", manager.Count())
	}

	// Test Get
	retrievedSess, exists := manager.Get(sessionID)
	if !exists {
		t.Fatal("Get should find the added session")
	}
	if retrievedSess != sess {
		t.Fatal("Get should return the same session instance")
	}

	// Test Remove
	manager.Remove(sessionID)
	if manager.Count() != 0 {
		t.Fatalf("Expected session count to be 0 after removal, got %d", manager.Count())
	}

	_, exists = manager.Get(sessionID)
	if exists {
		t.Fatal("Get should not find the removed session")
	}
}

func TestManager_GetByUserID(t *testing.T) {
	manager := NewManager()

	sess1 := NewSession("session1", &MockConnection{})
	sess1.Bind("user-100", "alice")

	sess2 := NewSession("session2", &MockConnection{})
	sess2.Bind("user-200", "bob")

	sess3 := NewSession("session3", &MockConnection{})
	sess3.Bind("user-100", "alice")

	manager.Add(sess1)
	manager.Add(sess2)
	manager.Add(sess3)

	user100Sessions := manager.GetByUserID("user-100")
	if len(user100Sessions) != 2 {
		t.Errorf("Expected 2 sessions for user-100, got %d", len(user100Sessions))
	}

	user200Sessions := manager.GetByUserID("user-200")
	if len(user200Sessions) != 1 {
		t.Errorf("Expected 1 session for user-200, got %d", len(user200Sessions))
	}

	user300Sessions := manager.GetByUserID("user-300")
	if len(user300Sessions) != 0 {
		t.Errorf("Expected 0 sessions for user-300, got %d", len(user300Sessions))
	}
}

func TestSession_Identity(t *testing.T) {
	sess := NewSession("test_session", &MockConnection{})

	userID, username := sess.Identity()
	if userID != "" || username != "" {
		t.Errorf("Expected empty identity before handshake, got %q/%q", userID, username)
	}

	sess.Bind("user-1", "alice")
	userID, username = sess.Identity()
	if userID != "user-1" || username != "alice" {
		t.Errorf("Expected user-1/alice after Bind, got %q/%q", userID, username)
	}
}

func TestSession_ConcurrentSends(t *testing.T) {
	sess := NewSession("test_session", &MockConnection{})
	before := sess.LastActive

	// Two rooms fanning out to the same subscriber send concurrently.
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := sess.Send("message:new", "", nil); err != nil {
				t.Errorf("Send failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if sess.LastActive.Before(before) {
		t.Error("LastActive should advance after sends")
	}
}

func TestSession_Tables(t *testing.T) {
	sess := NewSession("test_session", &MockConnection{})

	sess.JoinTable("table-1")
	sess.JoinTable("table-2")
	sess.JoinTable("table-1") // joining twice is a no-op

	tables := sess.Tables()
	if len(tables) != 2 {
		t.Fatalf("Expected 2 table memberships, got %d", len(tables))
	}

	sess.LeaveTable("table-1")
	tables = sess.Tables()
	if len(tables) != 1 {
		t.Fatalf("Expected 1 table membership after leave, got %d", len(tables))
	}
	if tables[0] != "table-2" {
		t.Errorf("Expected remaining membership to be table-2, got %s", tables[0])
	}
}
