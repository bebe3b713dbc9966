package session

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/Paradiso/internal/models"
)

// Timer schedules one-shot callbacks, such as selection expiry.
type Timer interface {
	ScheduleAfter(delay time.Duration, description string, fn func()) string
	Cancel(id string) bool
	ListActive() []models.TimerInfo
	Stop()
}

type timerEntry struct {
	timer       *time.Timer
	scheduledAt time.Time
	expiresAt   time.Time
	description string
}

// SimpleTimer implements Timer with time.AfterFunc.
type SimpleTimer struct {
	mu      sync.Mutex
	timers  map[string]*timerEntry
	nextID  int64
	stopped bool
}

// NewSimpleTimer creates a new SimpleTimer.
func NewSimpleTimer() *SimpleTimer {
	slog.Debug("Creating SimpleTimer")
	return &SimpleTimer{timers: make(map[string]*timerEntry)}
}

// ScheduleAfter runs fn after delay and returns the timer id. After Stop the
// call is a no-op and returns "".
func (t *SimpleTimer) ScheduleAfter(delay time.Duration, description string, fn func()) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		slog.Warn("SimpleTimer.ScheduleAfter: timer stopped, ignoring", "description", description)
		return ""
	}

	t.nextID++
	id := fmt.Sprintf("timer_%d", t.nextID)
	now := time.Now()

	// The entry is registered before the callback can observe the map.
	t.timers[id] = &timerEntry{
		scheduledAt: now,
		expiresAt:   now.Add(delay),
		description: description,
	}
	t.timers[id].timer = time.AfterFunc(delay, func() {
		t.mu.Lock()
		_, live := t.timers[id]
		delete(t.timers, id)
		t.mu.Unlock()
		if !live {
			return
		}
		slog.Debug("SimpleTimer executing scheduled function", "id", id, "description", description)
		fn()
	})

	slog.Debug("SimpleTimer.ScheduleAfter: scheduled", "id", id, "delay", delay, "description", description)
	return id
}

// Cancel stops the timer and reports whether it was still pending.
func (t *SimpleTimer) Cancel(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, exists := t.timers[id]
	if !exists {
		slog.Debug("SimpleTimer.Cancel: timer not found", "id", id)
		return false
	}
	entry.timer.Stop()
	delete(t.timers, id)
	slog.Debug("SimpleTimer.Cancel: cancelled", "id", id)
	return true
}

// Stop cancels all pending timers and rejects new ones.
func (t *SimpleTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for id, entry := range t.timers {
		entry.timer.Stop()
		slog.Debug("SimpleTimer stopped timer", "id", id)
	}
	t.timers = make(map[string]*timerEntry)
	t.stopped = true
	slog.Info("SimpleTimer stopped all timers")
}

// ListActive returns information about all pending timers.
func (t *SimpleTimer) ListActive() []models.TimerInfo {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := make([]models.TimerInfo, 0, len(t.timers))
	now := time.Now()
	for id, entry := range t.timers {
		remaining := entry.expiresAt.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		result = append(result, models.TimerInfo{
			ID:          id,
			ScheduledAt: entry.scheduledAt,
			ExpiresAt:   entry.expiresAt,
			Remaining:   remaining.Round(time.Second).String(),
			Description: entry.description,
		})
	}
	return result
}
