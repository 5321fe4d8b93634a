package cache

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Counter for single-instance deployments and tests.
// Expired windows are swept at most once per sweepInterval.
type Memory struct {
	mu        sync.Mutex
	now       func() time.Time
	windows   map[string]memoryWindow
	nextSweep time.Time
}

const sweepInterval = time.Minute

type memoryWindow struct {
	count     int64
	expiresAt time.Time
}

func NewMemory() *Memory {
	return &Memory{now: time.Now, windows: make(map[string]memoryWindow)}
}

// SetClock replaces the time source.
func (m *Memory) SetClock(now func() time.Time) {
	m.now = now
}

func (m *Memory) IncrWithTTL(_ context.Context, key string, window time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if !now.Before(m.nextSweep) {
		m.sweep(now)
	}
	w, ok := m.windows[key]
	if !ok || !now.Before(w.expiresAt) {
		w = memoryWindow{expiresAt: now.Add(window)}
	}
	w.count++
	m.windows[key] = w
	return w.count, nil
}

func (m *Memory) sweep(now time.Time) {
	for key, w := range m.windows {
		if !now.Before(w.expiresAt) {
			delete(m.windows, key)
		}
	}
	m.nextSweep = now.Add(sweepInterval)
}
