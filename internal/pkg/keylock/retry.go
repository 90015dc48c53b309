package keylock

import (
	"context"
	"log"
	"time"

	"posmdesk/internal/pkg/apperr"
)

// RetryOnContention runs fn and, if it failed on a bounded lock wait, runs it
// once more after backoff. Any other outcome is returned as is.
func RetryOnContention(ctx context.Context, op string, backoff time.Duration, fn func() error) error {
	err := fn()
	if err == nil || !apperr.IsLockContention(err) {
		return err
	}

	log.Printf("lock_contention_retry op=%s backoff=%s error=%q", op, backoff, err)
	timer := time.NewTimer(backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return err
	case <-timer.C:
	}
	return fn()
}
