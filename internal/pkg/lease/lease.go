// Package lease hands out short exclusive claims on a key, so that only one
// scheduler tick delivers a given report in a given minute.
package lease

import (
	"context"
	"sync"
	"time"
)

// Lease claims key for ttl. Acquire reports false when someone else holds it.
type Lease interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// Memory is a process-local Lease.
type Memory struct {
	mu      sync.Mutex
	held    map[string]time.Time
	nowFunc func() time.Time
}

func NewMemory() *Memory {
	return &Memory{held: make(map[string]time.Time), nowFunc: time.Now}
}

func (m *Memory) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.nowFunc()
	if until, ok := m.held[key]; ok && now.Before(until) {
		return false, nil
	}
	m.held[key] = now.Add(ttl)

	for k, until := range m.held {
		if !now.Before(until) {
			delete(m.held, k)
		}
	}
	return true, nil
}

func (m *Memory) Release(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.held, key)
	m.mu.Unlock()
	return nil
}
