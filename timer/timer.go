// timer/timer.go
package timer

import (
	"container/heap"
	"sync"
	"time"
)

type task struct {
	key     string
	execute time.Time
	fn      func()
	index   int
}

type taskQueue []*task

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	return q[i].execute.Before(q[j].execute)
}

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskQueue) Push(x interface{}) {
	n := len(*q)
	t := x.(*task)
	t.index = n
	*q = append(*q, t)
}

func (q *taskQueue) Pop() interface{} {
	old := *q
	n := len(old)
	t := old[n-1]
	t.index = -1
	*q = old[0 : n-1]
	return t
}

// Scheduler runs at most one pending single-shot callback per key.
// Scheduling a key that already has a pending callback replaces it, so two
// competing timers for the same key can never coexist.
type Scheduler struct {
	queue    taskQueue
	pending  map[string]*task
	mutex    sync.Mutex
	interval time.Duration
	stop     chan struct{}
	stopOnce sync.Once
}

func NewScheduler() *Scheduler {
	s := &Scheduler{
		pending:  make(map[string]*task),
		interval: 100 * time.Millisecond,
		stop:     make(chan struct{}),
	}
	heap.Init(&s.queue)
	go s.process()
	return s
}

// Schedule registers fn to run after delay, replacing any pending callback
// for the same key.
func (s *Scheduler) Schedule(key string, delay time.Duration, fn func()) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if prev, ok := s.pending[key]; ok {
		heap.Remove(&s.queue, prev.index)
	}

	t := &task{
		key:     key,
		execute: time.Now().Add(delay),
		fn:      fn,
	}
	s.pending[key] = t
	heap.Push(&s.queue, t)
}

// Cancel drops the pending callback for key, if any. It reports whether a
// callback was actually pending.
func (s *Scheduler) Cancel(key string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	t, ok := s.pending[key]
	if !ok {
		return false
	}
	heap.Remove(&s.queue, t.index)
	delete(s.pending, key)
	return true
}

// Pending reports whether key has a callback waiting to fire.
func (s *Scheduler) Pending(key string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	_, ok := s.pending[key]
	return ok
}

// Stop halts the processing loop. Pending callbacks never fire afterwards.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Scheduler) process() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, t := range s.due(time.Now()) {
				go t.fn()
			}
		case <-s.stop:
			return
		}
	}
}

func (s *Scheduler) due(now time.Time) []*task {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	var fired []*task
	for s.queue.Len() > 0 {
		t := s.queue[0]
		if t.execute.After(now) {
			break
		}
		heap.Pop(&s.queue)
		delete(s.pending, t.key)
		fired = append(fired, t)
	}
	return fired
}
