package scheduler

import (
	"sort"
	"sync"
	"time"
)

// Manual is a deterministic Scheduler. Nothing fires until Advance is called;
// due callbacks then run on the caller goroutine in deadline order.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	seq    int64
	timers map[int64]*manualTimer
}

type manualTimer struct {
	id int64
	at time.Time
	fn func()
}

// NewManual constructs a Manual scheduler starting at the supplied time.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start, timers: make(map[int64]*manualTimer)}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Schedule registers fn to run once the clock has advanced by delay.
func (m *Manual) Schedule(fn func(), delay time.Duration) func() {
	if delay < 0 {
		delay = 0
	}
	m.mu.Lock()
	m.seq++
	id := m.seq
	m.timers[id] = &manualTimer{id: id, at: m.now.Add(delay), fn: fn}
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.timers, id)
		m.mu.Unlock()
	}
}

// Advance moves time forward by d, running every timer that falls due,
// including timers scheduled by callbacks that fire during the advance.
func (m *Manual) Advance(d time.Duration) time.Time {
	if d < 0 {
		d = 0
	}
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()
	for {
		m.mu.Lock()
		next := m.nextDueLocked(target)
		if next == nil {
			m.now = target
			m.mu.Unlock()
			return target
		}
		delete(m.timers, next.id)
		if next.at.After(m.now) {
			m.now = next.at
		}
		m.mu.Unlock()
		next.fn()
	}
}

// Pending returns the number of armed timers.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

func (m *Manual) nextDueLocked(target time.Time) *manualTimer {
	due := make([]*manualTimer, 0, len(m.timers))
	for _, t := range m.timers {
		if !t.at.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].at.Equal(due[j].at) {
			return due[i].id < due[j].id
		}
		return due[i].at.Before(due[j].at)
	})
	return due[0]
}
