package flow

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Timer schedules delayed functions such as the post-confirmation flow exit.
type Timer interface {
	ScheduleAfter(delay time.Duration, fn func()) (string, error)
	Cancel(id string) error
	Stop()
}

// SimpleTimer implements Timer on top of time.AfterFunc.
type SimpleTimer struct {
	timers map[string]*time.Timer
	mu     sync.Mutex
	nextID int64
}

// NewSimpleTimer creates a new SimpleTimer.
func NewSimpleTimer() *SimpleTimer {
	return &SimpleTimer{timers: make(map[string]*time.Timer)}
}

// ScheduleAfter schedules fn to run after delay.
func (t *SimpleTimer) ScheduleAfter(delay time.Duration, fn func()) (string, error) {
	if fn == nil {
		return "", fmt.Errorf("scheduled function must not be nil")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := fmt.Sprintf("timer_%d", t.nextID)

	t.timers[id] = time.AfterFunc(delay, func() {
		slog.Debug("SimpleTimer.ScheduleAfter: executing scheduled function", "id", id)
		t.mu.Lock()
		delete(t.timers, id)
		t.mu.Unlock()
		fn()
	})
	slog.Debug("SimpleTimer.ScheduleAfter: scheduled", "id", id, "delay", delay)
	return id, nil
}

// Cancel cancels a scheduled function by ID. Unknown IDs are ignored.
func (t *SimpleTimer) Cancel(id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.timers[id]; ok {
		timer.Stop()
		delete(t.timers, id)
		slog.Debug("SimpleTimer.Cancel: cancelled", "id", id)
	}
	return nil
}

// Stop cancels all scheduled functions.
func (t *SimpleTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
	slog.Info("SimpleTimer.Stop: stopped all timers")
}

// Active returns the number of pending timers.
func (t *SimpleTimer) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.timers)
}

// MockTimer captures scheduled functions so tests can fire them deterministically.
type MockTimer struct {
	mu        sync.Mutex
	Scheduled map[string]MockScheduled
	order     []string
	nextID    int
}

// MockScheduled is one function captured by MockTimer.
type MockScheduled struct {
	Delay time.Duration
	Fn    func()
}

// NewMockTimer creates an empty MockTimer.
func NewMockTimer() *MockTimer {
	return &MockTimer{Scheduled: make(map[string]MockScheduled)}
}

// ScheduleAfter records fn without running it.
func (m *MockTimer) ScheduleAfter(delay time.Duration, fn func()) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := fmt.Sprintf("mock_%d", m.nextID)
	m.Scheduled[id] = MockScheduled{Delay: delay, Fn: fn}
	m.order = append(m.order, id)
	return id, nil
}

// Cancel drops a recorded function.
func (m *MockTimer) Cancel(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Scheduled, id)
	return nil
}

// Stop drops all recorded functions.
func (m *MockTimer) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Scheduled = make(map[string]MockScheduled)
	m.order = nil
}

// Pending returns the number of recorded functions.
func (m *MockTimer) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Scheduled)
}

// FireAll runs every recorded function in scheduling order and clears them.
func (m *MockTimer) FireAll() {
	m.mu.Lock()
	var fns []func()
	for _, id := range m.order {
		if s, ok := m.Scheduled[id]; ok {
			fns = append(fns, s.Fn)
		}
	}
	m.Scheduled = make(map[string]MockScheduled)
	m.order = nil
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
