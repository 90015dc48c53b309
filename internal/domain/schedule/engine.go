package schedule

import (
	"context"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"posmdesk/internal/pkg/lease"
	"posmdesk/internal/pkg/livefeed"
)

const leaseTTL = 2 * time.Minute

// Feed receives report outcomes for the operator room.
type Feed interface {
	Publish(room, eventType string, payload any)
}

type TickFailure struct {
	ReportID int64  `json:"report_id"`
	Name     string `json:"name"`
	Reason   string `json:"reason"`
}

type TickResult struct {
	Fired    []int64       `json:"fired"`
	Skipped  []int64       `json:"skipped"`
	Failures []TickFailure `json:"failures"`
}

// Engine fires due scheduled reports. Each report fires at most once per
// recurrence minute, across ticks and, with a shared lease, across instances.
type Engine struct {
	db       *gorm.DB
	builder  builder
	delivery Delivery
	lease    lease.Lease
	location *time.Location
	feed     Feed
}

func NewEngine(db *gorm.DB, directory Directory, delivery Delivery, l lease.Lease, location *time.Location, feed Feed) *Engine {
	if location == nil {
		location = time.UTC
	}
	return &Engine{
		db:       db,
		builder:  builder{db: db, directory: directory},
		delivery: delivery,
		lease:    l,
		location: location,
		feed:     feed,
	}
}

func (e *Engine) Location() *time.Location {
	return e.location
}

// TickOnce evaluates every active report against now.
func (e *Engine) TickOnce(ctx context.Context, now time.Time) (*TickResult, error) {
	local := now.In(e.location)
	windowStart := minuteStart(local)

	var reports []ScheduledReport
	if err := e.db.WithContext(ctx).Where("active = ?", true).Order("id").Find(&reports).Error; err != nil {
		return nil, fmt.Errorf("schedule: load active reports: %w", err)
	}

	res := &TickResult{Fired: []int64{}, Skipped: []int64{}, Failures: []TickFailure{}}
	for i := range reports {
		r := &reports[i]
		if !r.Recurrence().Matches(local) {
			continue
		}
		if r.LastSentAt != nil && !r.LastSentAt.Before(windowStart) {
			res.Skipped = append(res.Skipped, r.ID)
			continue
		}

		key := fmt.Sprintf("report:%d:%s", r.ID, windowStart.UTC().Format("200601021504"))
		ok, err := e.lease.Acquire(ctx, key, leaseTTL)
		if err != nil {
			e.fail(res, r, fmt.Errorf("acquire lease: %w", err))
			continue
		}
		if !ok {
			res.Skipped = append(res.Skipped, r.ID)
			continue
		}

		if err := e.fire(ctx, r, local, now, windowStart); err != nil {
			if relErr := e.lease.Release(ctx, key); relErr != nil {
				log.Printf("report_lease_release_failed report_id=%d error=%q", r.ID, relErr)
			}
			e.fail(res, r, err)
			continue
		}
		res.Fired = append(res.Fired, r.ID)
	}

	if len(res.Fired) > 0 || len(res.Failures) > 0 {
		log.Printf("report_tick at=%s fired=%d skipped=%d failed=%d",
			local.Format(time.RFC3339), len(res.Fired), len(res.Skipped), len(res.Failures))
	}
	return res, nil
}

func (e *Engine) fire(ctx context.Context, r *ScheduledReport, local, now, windowStart time.Time) error {
	payload, err := e.builder.build(ctx, r, local)
	if err != nil {
		return err
	}
	if err := e.delivery.Deliver(ctx, payload); err != nil {
		return fmt.Errorf("deliver: %w", err)
	}

	sent := now.UTC()
	if err := e.markSent(ctx, r.ID, sent, windowStart); err != nil {
		// The report went out; the next tick in this window is still guarded
		// by the lease.
		log.Printf("report_last_sent_update_failed report_id=%d error=%q", r.ID, err)
	}
	r.LastSentAt = &sent

	if e.feed != nil {
		e.feed.Publish(livefeed.RoomOps, livefeed.EventReportSent, map[string]any{
			"report_id":  r.ID,
			"name":       r.Name,
			"lines":      payload.Total,
			"recipients": len(payload.Recipients),
		})
	}
	return nil
}

// markSent stamps LastSentAt unless a send inside this window already did.
func (e *Engine) markSent(ctx context.Context, id int64, sent, windowStart time.Time) error {
	return e.db.WithContext(ctx).Model(&ScheduledReport{}).
		Where("id = ? AND (last_sent_at IS NULL OR last_sent_at < ?)", id, windowStart.UTC()).
		Update("last_sent_at", sent.UTC()).Error
}

func minuteStart(local time.Time) time.Time {
	return time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), local.Minute(), 0, 0, local.Location())
}

func (e *Engine) fail(res *TickResult, r *ScheduledReport, err error) {
	log.Printf("report_delivery_failed report_id=%d name=%q error=%q", r.ID, r.Name, err)
	res.Failures = append(res.Failures, TickFailure{ReportID: r.ID, Name: r.Name, Reason: err.Error()})
	if e.feed != nil {
		e.feed.Publish(livefeed.RoomOps, livefeed.EventReportFailure, map[string]any{
			"report_id": r.ID,
			"name":      r.Name,
			"reason":    err.Error(),
		})
	}
}

// Run ticks every interval until ctx is cancelled.
func (e *Engine) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Printf("report_scheduler_started interval=%s location=%s", interval, e.location)
	for {
		select {
		case <-ctx.Done():
			log.Printf("report_scheduler_stopped")
			return
		case now := <-ticker.C:
			if _, err := e.TickOnce(ctx, now); err != nil {
				log.Printf("report_tick_failed error=%q", err)
			}
		}
	}
}
