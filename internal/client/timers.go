package client

import (
	"sync"
	"time"
)

// TimerSet tracks at most one pending timer per action id. Re-arming an id
// replaces the previous timer so retry backoff and server-supplied
// remaining times never stack.
type TimerSet struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewTimerSet() *TimerSet {
	return &TimerSet{timers: make(map[string]*time.Timer)}
}

// Arm schedules fn after d, replacing any existing timer for id. A
// non-positive d fires as soon as the runtime allows.
func (ts *TimerSet) Arm(id string, d time.Duration, fn func()) {
	if d < 0 {
		d = 0
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if t, ok := ts.timers[id]; ok {
		t.Stop()
	}
	ts.timers[id] = time.AfterFunc(d, func() {
		ts.mu.Lock()
		delete(ts.timers, id)
		ts.mu.Unlock()
		fn()
	})
}

// Cancel stops and forgets the timer for id, if any.
func (ts *TimerSet) Cancel(id string) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if t, ok := ts.timers[id]; ok {
		t.Stop()
		delete(ts.timers, id)
	}
}

// CancelAll stops every tracked timer.
func (ts *TimerSet) CancelAll() {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	for id, t := range ts.timers {
		t.Stop()
		delete(ts.timers, id)
	}
}

// Len reports how many timers are armed.
func (ts *TimerSet) Len() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.timers)
}
