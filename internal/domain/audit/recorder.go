package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"reflect"
	"sync/atomic"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"posmdesk/internal/domain/access"
	"posmdesk/internal/pkg/apperr"
	"posmdesk/internal/pkg/livefeed"
)

const savepointName = "audit_entry"

// Feed receives committed entries and operator alerts. *livefeed.Hub
// satisfies it; nil disables publishing.
type Feed interface {
	Publish(room, eventType string, payload any)
}

// Recorder appends audit entries inside the caller's transaction. A failed
// insert is rolled back to a savepoint so the business change still commits,
// and the failure is reported once the transaction is done.
type Recorder struct {
	db       *gorm.DB
	policy   access.Policy
	feed     Feed
	failures atomic.Int64
}

func NewRecorder(db *gorm.DB, policy access.Policy, feed Feed) *Recorder {
	return &Recorder{db: db, policy: policy, feed: feed}
}

// Trail collects the outcome of audit writes made within one transaction
// attempt. Create a new Trail per attempt.
type Trail struct {
	entries  []Entry
	failures []failure
}

type failure struct {
	record Record
	err    error
}

func (t *Trail) Entries() []Entry { return t.entries }

func (t *Trail) Failed() bool { return len(t.failures) > 0 }

// RecordTx writes rec within tx. Errors never propagate to the caller's
// transaction; they are kept on the trail for Settle.
func (r *Recorder) RecordTx(tx *gorm.DB, trail *Trail, rec Record) {
	entry, err := buildEntry(rec)
	if err != nil {
		trail.failures = append(trail.failures, failure{record: rec, err: err})
		return
	}

	if err := tx.SavePoint(savepointName).Error; err != nil {
		trail.failures = append(trail.failures, failure{record: rec, err: err})
		return
	}
	if err := tx.Create(entry).Error; err != nil {
		if rbErr := tx.RollbackTo(savepointName).Error; rbErr != nil {
			err = fmt.Errorf("%w (rollback to savepoint: %v)", err, rbErr)
		}
		trail.failures = append(trail.failures, failure{record: rec, err: err})
		return
	}
	trail.entries = append(trail.entries, *entry)
}

// Settle runs after the business transaction committed: entries go to the
// live feed, failures to the operator channel.
func (r *Recorder) Settle(trail *Trail) {
	for _, e := range trail.entries {
		r.publish(e)
	}
	for _, f := range trail.failures {
		r.ReportFailure(f.record, f.err)
	}
}

// Record appends a standalone entry, e.g. for login and logout.
func (r *Recorder) Record(ctx context.Context, rec Record) error {
	var trail Trail
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r.RecordTx(tx, &trail, rec)
		return nil
	})
	if err != nil {
		trail.failures = append(trail.failures, failure{record: rec, err: err})
	}
	r.Settle(&trail)
	if trail.Failed() {
		return fmt.Errorf("audit: record %s %s: %w", rec.Action, rec.EntityType, trail.failures[0].err)
	}
	return nil
}

// ReportFailure logs a lost audit write, counts it for health telemetry and
// alerts the operator room.
func (r *Recorder) ReportFailure(rec Record, err error) {
	total := r.failures.Add(1)
	log.Printf("audit_write_failed action=%s entity_type=%s entity_id=%v actor_id=%d failures_total=%d error=%q",
		rec.Action, rec.EntityType, rec.EntityID, rec.Actor.UserID, total, err)
	if r.feed != nil {
		r.feed.Publish(livefeed.RoomOps, livefeed.EventAuditFailure, map[string]any{
			"action":      rec.Action,
			"entity_type": rec.EntityType,
			"entity_id":   fmt.Sprint(rec.EntityID),
			"actor_id":    rec.Actor.UserID,
			"error":       err.Error(),
		})
	}
}

// Failures is the number of audit writes lost since start.
func (r *Recorder) Failures() int64 {
	return r.failures.Load()
}

func (r *Recorder) publish(e Entry) {
	if r.feed == nil {
		return
	}
	r.feed.Publish(livefeed.RoomOps, livefeed.EventAuditEntry, e)
	if e.DepotID != nil {
		r.feed.Publish(livefeed.DepotRoom(*e.DepotID), livefeed.EventAuditEntry, e)
	}
}

type Filter struct {
	Action     Action
	EntityType string
	EntityID   string
	ActorID    *int64
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

type Page struct {
	Items  []Entry `json:"items"`
	Total  int64   `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Query returns matching entries newest first plus the total match count.
func (r *Recorder) Query(ctx context.Context, actor access.Actor, f Filter) (*Page, error) {
	if err := r.policy.Check(actor, access.ActionAuditRead, access.Everywhere()); err != nil {
		return nil, err
	}
	if f.Action != "" && !f.Action.Valid() {
		return nil, apperr.Validation("audit.Query", "unknown action %q", f.Action)
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, apperr.Validation("audit.Query", "date range end is before start")
	}
	if f.Limit <= 0 {
		f.Limit = defaultPageSize
	}
	if f.Limit > maxPageSize {
		f.Limit = maxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	q := r.db.WithContext(ctx).Model(&Entry{})
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	if f.EntityType != "" {
		q = q.Where("entity_type = ?", f.EntityType)
	}
	if f.EntityID != "" {
		q = q.Where("entity_id = ?", f.EntityID)
	}
	if f.ActorID != nil {
		q = q.Where("actor_id = ?", *f.ActorID)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", f.From.UTC())
	}
	if f.To != nil {
		q = q.Where("created_at <= ?", f.To.UTC())
	}

	page := &Page{Limit: f.Limit, Offset: f.Offset}
	if err := q.Count(&page.Total).Error; err != nil {
		return nil, apperr.FromDB("audit.Query", err)
	}
	if err := q.Order("created_at desc, id desc").Limit(f.Limit).Offset(f.Offset).Find(&page.Items).Error; err != nil {
		return nil, apperr.FromDB("audit.Query", err)
	}
	return page, nil
}

// Stats summarises the log inside an optional date range.
type Stats struct {
	Total    int64            `json:"total"`
	ByAction map[string]int64 `json:"by_action"`
	ByEntity map[string]int64 `json:"by_entity"`
	ByActor  map[int64]int64  `json:"by_actor"`
}

type bucketCount struct {
	Bucket string
	Count  int64
}

// Stats counts entries per action, entity type and actor. Entries with no
// actor count toward the total and the first two groupings only.
func (r *Recorder) Stats(ctx context.Context, actor access.Actor, from, to *time.Time) (*Stats, error) {
	if err := r.policy.Check(actor, access.ActionAuditRead, access.Everywhere()); err != nil {
		return nil, err
	}
	if from != nil && to != nil && to.Before(*from) {
		return nil, apperr.Validation("audit.Stats", "date range end is before start")
	}

	scoped := func() *gorm.DB {
		q := r.db.WithContext(ctx).Model(&Entry{})
		if from != nil {
			q = q.Where("created_at >= ?", from.UTC())
		}
		if to != nil {
			q = q.Where("created_at <= ?", to.UTC())
		}
		return q
	}

	out := &Stats{
		ByAction: map[string]int64{},
		ByEntity: map[string]int64{},
		ByActor:  map[int64]int64{},
	}
	if err := scoped().Count(&out.Total).Error; err != nil {
		return nil, apperr.FromDB("audit.Stats", err)
	}

	var buckets []bucketCount
	if err := scoped().Select("action AS bucket, COUNT(*) AS count").Group("action").Scan(&buckets).Error; err != nil {
		return nil, apperr.FromDB("audit.Stats", err)
	}
	for _, b := range buckets {
		out.ByAction[b.Bucket] = b.Count
	}

	buckets = nil
	if err := scoped().Select("entity_type AS bucket, COUNT(*) AS count").Group("entity_type").Scan(&buckets).Error; err != nil {
		return nil, apperr.FromDB("audit.Stats", err)
	}
	for _, b := range buckets {
		out.ByEntity[b.Bucket] = b.Count
	}

	var actors []struct {
		ActorID int64
		Count   int64
	}
	if err := scoped().Select("actor_id, COUNT(*) AS count").Where("actor_id IS NOT NULL").Group("actor_id").Scan(&actors).Error; err != nil {
		return nil, apperr.FromDB("audit.Stats", err)
	}
	for _, a := range actors {
		out.ByActor[a.ActorID] = a.Count
	}
	return out, nil
}

// Changes reduces two field snapshots to the fields whose values differ.
func Changes(before, after map[string]any) (map[string]any, map[string]any) {
	b := make(map[string]any)
	a := make(map[string]any)
	for k, av := range after {
		bv, ok := before[k]
		if ok && reflect.DeepEqual(bv, av) {
			continue
		}
		if ok {
			b[k] = bv
		}
		a[k] = av
	}
	for k, bv := range before {
		if _, ok := after[k]; !ok {
			b[k] = bv
		}
	}
	return b, a
}

func buildEntry(rec Record) (*Entry, error) {
	if !rec.Action.Valid() {
		return nil, fmt.Errorf("unknown audit action %q", rec.Action)
	}
	before, err := snapshot(rec.Before)
	if err != nil {
		return nil, fmt.Errorf("marshal before snapshot: %w", err)
	}
	after, err := snapshot(rec.After)
	if err != nil {
		return nil, fmt.Errorf("marshal after snapshot: %w", err)
	}

	e := &Entry{
		CreatedAt:   time.Now().UTC(),
		ActorID:     rec.Actor.AuditID(),
		Action:      rec.Action,
		EntityType:  rec.EntityType,
		Before:      before,
		After:       after,
		Description: rec.Description,
		Origin:      rec.Actor.Origin,
		UserAgent:   rec.Actor.UserAgent,
	}
	if rec.EntityID != nil {
		e.EntityID = fmt.Sprint(rec.EntityID)
	}
	if rec.DepotID != 0 {
		depotID := rec.DepotID
		e.DepotID = &depotID
	}
	return e, nil
}

func snapshot(v any) (datatypes.JSON, error) {
	if v == nil {
		return nil, nil
	}
	if m, ok := v.(map[string]any); ok && len(m) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}
