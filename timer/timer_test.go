package timer

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduler_Fires(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	var fired int32
	s.Schedule("key1", 50*time.Millisecond, func() {
		atomic.AddInt32(&fired, 1)
	})

	if !s.Pending("key1") {
		t.Fatal("Callback should be pending right after Schedule")
	}

	time.Sleep(300 * time.Millisecond)

	if atomic.LoadInt32(&fired) != 1 {
		t.Fatalf("Expected callback to fire exactly once, fired %d times", fired)
	}
	if s.Pending("key1") {
		t.Error("Key should no longer be pending after firing")
	}
}

func TestScheduler_CancelPreventsFiring(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	var fired int32
	s.Schedule("key1", 50*time.Millisecond, func() {
		atomic.AddInt32(&fired, 1)
	})

	if !s.Cancel("key1") {
		t.Fatal("Cancel should report a pending callback was dropped")
	}
	if s.Cancel("key1") {
		t.Fatal("Second Cancel should report nothing pending")
	}

	time.Sleep(300 * time.Millisecond)

	if atomic.LoadInt32(&fired) != 0 {
		t.Fatalf("Cancelled callback must not fire, fired %d times", fired)
	}
}

func TestScheduler_ScheduleReplacesPending(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	var first, second int32
	s.Schedule("key1", 50*time.Millisecond, func() {
		atomic.AddInt32(&first, 1)
	})
	s.Schedule("key1", 50*time.Millisecond, func() {
		atomic.AddInt32(&second, 1)
	})

	time.Sleep(300 * time.Millisecond)

	if atomic.LoadInt32(&first) != 0 {
		t.Error("Replaced callback must not fire")
	}
	if atomic.LoadInt32(&second) != 1 {
		t.Errorf("Expected replacement callback to fire exactly once, fired %d times", second)
	}
}

func TestScheduler_IndependentKeys(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	var fired int32
	s.Schedule("key1", 50*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })
	s.Schedule("key2", 50*time.Millisecond, func() { atomic.AddInt32(&fired, 1) })

	s.Cancel("key1")

	time.Sleep(300 * time.Millisecond)

	if atomic.LoadInt32(&fired) != 1 {
		t.Fatalf("Expected only key2 to fire, fired %d times", fired)
	}
}

func TestScheduler_StopSuppressesCallbacks(t *testing.T) {
	s := NewScheduler()

	var fired int32
	s.Schedule("key1", 50*time.Millisecond, func() {
		atomic.AddInt32(&fired, 1)
	})
	s.Stop()

	time.Sleep(300 * time.Millisecond)

	if atomic.LoadInt32(&fired) != 0 {
		t.Fatalf("Callback must not fire after Stop, fired %d times", fired)
	}
}
