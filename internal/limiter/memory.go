package limiter

import (
	"context"
	"sync"
	"time"
)

// Memory keeps limiter state in process memory. It is only correct when a
// single server instance handles all traffic for a user.
type Memory struct {
	settings Settings
	now      func() time.Time

	mu       sync.Mutex
	requests map[string][]time.Time
	active   map[string]int
}

func NewMemory(settings Settings) *Memory {
	return &Memory{
		settings: settings,
		now:      time.Now,
		requests: make(map[string][]time.Time),
		active:   make(map[string]int),
	}
}

// WithClock replaces the time source; used by tests.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) CheckAndRecordRate(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	recent := m.prune(userID, now)
	if len(recent) >= m.settings.MaxRequests {
		m.requests[userID] = recent
		return ErrRateLimited
	}
	m.requests[userID] = append(recent, now)
	return nil
}

func (m *Memory) TryStartJob(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active[userID] >= m.settings.MaxConcurrent {
		return ErrConcurrencyLimited
	}
	m.active[userID]++
	return nil
}

func (m *Memory) FinishJob(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch n := m.active[userID]; {
	case n > 1:
		m.active[userID] = n - 1
	default:
		delete(m.active, userID)
	}
	return nil
}

// Active returns the in-flight job count for userID.
func (m *Memory) Active(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[userID]
}

// prune drops timestamps that fell out of the window. Caller holds mu.
func (m *Memory) prune(userID string, now time.Time) []time.Time {
	stamps := m.requests[userID]
	kept := stamps[:0]
	for _, ts := range stamps {
		if now.Sub(ts) < m.settings.Window {
			kept = append(kept, ts)
		}
	}
	if len(kept) == 0 {
		delete(m.requests, userID)
		return nil
	}
	return kept
}
