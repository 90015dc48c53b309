package notification

import (
	"context"
	"log"
	"time"
)

const (
	DefaultRetention       = 90 * 24 * time.Hour
	DefaultCleanupInterval = 24 * time.Hour
)

// Cleanup removes read notifications older than retention. Unread ones are
// kept however old they are.
func (s *Service) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	start := time.Now()
	deleted, err := s.repo.DeleteReadBefore(ctx, s.now().UTC().Add(-retention))
	if err != nil {
		log.Printf("notification_cleanup_failed error=%q", err)
		return 0, err
	}
	log.Printf("notification_cleanup_done deleted=%d duration=%s", deleted, time.Since(start))
	return deleted, nil
}

// RunCleanup calls Cleanup every interval until ctx is done.
func (s *Service) RunCleanup(ctx context.Context, interval, retention time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("notification_cleanup_started interval=%s retention=%s", interval, retention)
	for {
		select {
		case <-ctx.Done():
			log.Printf("notification_cleanup_stopped")
			return
		case <-ticker.C:
			_, _ = s.Cleanup(ctx, retention)
		}
	}
}
