package keylock

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"posmdesk/internal/pkg/apperr"
)

// Locker hands out in-process mutual exclusion per string key with a bounded
// wait. Multi-key acquisitions always proceed in sorted key order, so two
// callers locking the same pair can never deadlock each other.
type Locker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	sem  *semaphore.Weighted
	refs int
}

func New() *Locker {
	return &Locker{slots: make(map[string]*slot)}
}

// Lock acquires every key or none. On timeout or context cancellation it
// returns a Conflict wrapping apperr.ErrLockContention.
func (l *Locker) Lock(ctx context.Context, wait time.Duration, keys ...string) (func(), error) {
	ordered := normalize(keys)

	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	held := make([]string, 0, len(ordered))
	for _, key := range ordered {
		s := l.ref(key)
		if err := s.sem.Acquire(waitCtx, 1); err != nil {
			l.unref(key)
			l.release(held)
			if ctx.Err() != nil {
				return nil, apperr.Conflict("keylock.Lock", "cancelled waiting for %s", key).Wrap(apperr.ErrLockContention)
			}
			return nil, apperr.Conflict("keylock.Lock", "timed out after %s waiting for %s", wait, key).Wrap(apperr.ErrLockContention)
		}
		held = append(held, key)
	}

	var once sync.Once
	return func() { once.Do(func() { l.release(held) }) }, nil
}

func (l *Locker) ref(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{sem: semaphore.NewWeighted(1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *Locker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s := l.slots[key]
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

func (l *Locker) release(keys []string) {
	for i := len(keys) - 1; i >= 0; i-- {
		l.mu.Lock()
		s := l.slots[keys[i]]
		l.mu.Unlock()
		s.sem.Release(1)
		l.unref(keys[i])
	}
}

func normalize(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
