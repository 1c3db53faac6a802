package room

import (
	"net"
	"testing"
	"time"

	"github.com/wfunc/rpgserver/network"
	"github.com/wfunc/rpgserver/session"
)

// MockConnection is a test double for the network.Connection interface.
type MockConnection struct{}

func (m *MockConnection) Send(event string, reqID string, data interface{}) error { return nil }
func (m *MockConnection) ReadEvent() (*network.Event, error)                      { return nil, nil }
func (m *MockConnection) Close() error                                            { return nil }
func (m *MockConnection) RemoteAddr() net.Addr                                    { return &net.TCPAddr{} }
func (m *MockConnection) SetHeartbeat(interval time.Duration)                     {}

func newTestSession(id string) *session.Session {
	return session.NewSession(id, &MockConnection{})
}

func TestManager_JoinCreatesRoom(t *testing.T) {
	manager := NewManager()
	sess := newTestSession("session1")

	r := manager.Join(sess, "table-1")
	if r == nil {
		t.Fatal("Join should not return nil")
	}
	if r.TableID != "table-1" {
		t.Errorf("Expected room table id table-1, got %s", r.TableID)
	}

	retrieved, exists := manager.Get("table-1")
	if !exists {
		t.Fatal("Get should find the room created by Join")
	}
	if retrieved != r {
		t.Error("Get should return the same room instance")
	}
	if r.Size() != 1 {
		t.Errorf("Expected room size 1, got %d", r.Size())
	}
}

func TestManager_JoinRecordsMembershipOnSession(t *testing.T) {
	manager := NewManager()
	sess := newTestSession("session1")

	manager.Join(sess, "table-1")

	tables := sess.Tables()
	if len(tables) != 1 || tables[0] != "table-1" {
		t.Errorf("Expected the session to carry the table membership, got %v", tables)
	}
}

func TestManager_JoinIsIdempotentPerSession(t *testing.T) {
	manager := NewManager()
	sess := newTestSession("session1")

	manager.Join(sess, "table-1")
	r := manager.Join(sess, "table-1")

	if r.Size() != 1 {
		t.Errorf("Expected room size 1 after duplicate join, got %d", r.Size())
	}
}

func TestManager_LeaveDropsEmptyRoom(t *testing.T) {
	manager := NewManager()
	sess1 := newTestSession("session1")
	sess2 := newTestSession("session2")

	manager.Join(sess1, "table-1")
	manager.Join(sess2, "table-1")

	manager.Leave(sess1.ID, "table-1")
	r, exists := manager.Get("table-1")
	if !exists {
		t.Fatal("Room should survive while it still has a subscriber")
	}
	if r.Size() != 1 {
		t.Errorf("Expected room size 1, got %d", r.Size())
	}

	manager.Leave(sess2.ID, "table-1")
	if _, exists := manager.Get("table-1"); exists {
		t.Fatal("Room should be dropped when the last subscriber leaves")
	}
	if manager.Count() != 0 {
		t.Errorf("Expected room count 0, got %d", manager.Count())
	}
}

func TestManager_LeaveUnknownRoomIsNoop(t *testing.T) {
	manager := NewManager()
	manager.Leave("session1", "no-such-table")
	if manager.Count() != 0 {
		t.Errorf("Expected room count 0, got %d", manager.Count())
	}
}

func TestRoom_SessionsSnapshot(t *testing.T) {
	manager := NewManager()
	sess1 := newTestSession("session1")
	sess2 := newTestSession("session2")

	r := manager.Join(sess1, "table-1")
	manager.Join(sess2, "table-1")

	sessions := r.Sessions()
	if len(sessions) != 2 {
		t.Fatalf("Expected 2 sessions in snapshot, got %d", len(sessions))
	}

	// Mutating the room after taking the snapshot must not affect it.
	manager.Leave(sess1.ID, "table-1")
	if len(sessions) != 2 {
		t.Error("Snapshot should not change when the room does")
	}
}
