package schedule

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"gorm.io/gorm"

	"posmdesk/internal/domain/access"
	"posmdesk/internal/domain/audit"
	"posmdesk/internal/domain/request"
	"posmdesk/internal/pkg/apperr"
)

type DepotChecker interface {
	DepotsExist(ctx context.Context, ids ...int64) error
}

// ReportService manages scheduled report definitions. Admin only.
type ReportService struct {
	db       *gorm.DB
	policy   access.Policy
	audit    *audit.Recorder
	depots   DepotChecker
	engine   *Engine
	delivery Delivery
	now      func() time.Time
}

func NewReportService(db *gorm.DB, policy access.Policy, recorder *audit.Recorder, depots DepotChecker, engine *Engine, delivery Delivery) *ReportService {
	return &ReportService{
		db:       db,
		policy:   policy,
		audit:    recorder,
		depots:   depots,
		engine:   engine,
		delivery: delivery,
		now:      time.Now,
	}
}

type ReportInput struct {
	Name             string
	Kind             Kind
	Recurrence       Recurrence
	Active           bool
	DepotIDs         []int64
	RecipientUserIDs []int64
	StatusFilter     []string
	JobTypeFilter    []string
	RangeDays        int
}

func (s *ReportService) Create(ctx context.Context, actor access.Actor, in ReportInput) (*ScheduledReport, error) {
	const op = "schedule.CreateReport"
	if err := s.policy.Check(actor, access.ActionReportManage, access.Everywhere()); err != nil {
		return nil, err
	}
	if err := s.validate(ctx, op, in); err != nil {
		return nil, err
	}
	r := &ScheduledReport{CreatedBy: actor.UserID}
	assign(r, in)

	var trail audit.Trail
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(r).Error; err != nil {
			return err
		}
		s.audit.RecordTx(tx, &trail, audit.Record{
			Actor:       actor,
			Action:      audit.ActionCreate,
			EntityType:  audit.EntityScheduledReport,
			EntityID:    r.ID,
			After:       r.fields(),
			Description: fmt.Sprintf("scheduled report %q created", r.Name),
		})
		return nil
	})
	if err != nil {
		return nil, apperr.FromDB(op, err)
	}
	s.audit.Settle(&trail)
	return r, nil
}

// Update replaces the definition. LastSentAt is kept.
func (s *ReportService) Update(ctx context.Context, actor access.Actor, id int64, in ReportInput) (*ScheduledReport, error) {
	const op = "schedule.UpdateReport"
	if err := s.policy.Check(actor, access.ActionReportManage, access.Everywhere()); err != nil {
		return nil, err
	}
	if err := s.validate(ctx, op, in); err != nil {
		return nil, err
	}

	var (
		trail  audit.Trail
		result ScheduledReport
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&result, id).Error; err != nil {
			return notFound(op, id, err)
		}
		before := result.fields()
		assign(&result, in)
		result.UpdatedAt = time.Now().UTC()
		err := tx.Model(&ScheduledReport{}).Where("id = ?", id).Updates(map[string]any{
			"name":               result.Name,
			"kind":               result.Kind,
			"weekday":            result.Weekday,
			"hour":               result.Hour,
			"minute":             result.Minute,
			"active":             result.Active,
			"depot_ids":          result.DepotIDs,
			"recipient_user_ids": result.RecipientUserIDs,
			"status_filter":      result.StatusFilter,
			"job_type_filter":    result.JobTypeFilter,
			"range_days":         result.RangeDays,
			"updated_at":         result.UpdatedAt,
		}).Error
		if err != nil {
			return err
		}
		b, a := audit.Changes(before, result.fields())
		s.audit.RecordTx(tx, &trail, audit.Record{
			Actor:       actor,
			Action:      audit.ActionUpdate,
			EntityType:  audit.EntityScheduledReport,
			EntityID:    id,
			Before:      b,
			After:       a,
			Description: fmt.Sprintf("scheduled report %q updated", result.Name),
		})
		return nil
	})
	if err != nil {
		return nil, apperr.FromDB(op, err)
	}
	s.audit.Settle(&trail)
	return &result, nil
}

func (s *ReportService) Delete(ctx context.Context, actor access.Actor, id int64) error {
	const op = "schedule.DeleteReport"
	if err := s.policy.Check(actor, access.ActionReportManage, access.Everywhere()); err != nil {
		return err
	}

	var trail audit.Trail
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var r ScheduledReport
		if err := tx.First(&r, id).Error; err != nil {
			return notFound(op, id, err)
		}
		if err := tx.Delete(&ScheduledReport{}, id).Error; err != nil {
			return err
		}
		s.audit.RecordTx(tx, &trail, audit.Record{
			Actor:       actor,
			Action:      audit.ActionDelete,
			EntityType:  audit.EntityScheduledReport,
			EntityID:    id,
			Before:      r.fields(),
			Description: fmt.Sprintf("scheduled report %q deleted", r.Name),
		})
		return nil
	})
	if err != nil {
		return apperr.FromDB(op, err)
	}
	s.audit.Settle(&trail)
	return nil
}

func (s *ReportService) Get(ctx context.Context, actor access.Actor, id int64) (*ScheduledReport, error) {
	const op = "schedule.GetReport"
	if err := s.policy.Check(actor, access.ActionReportManage, access.Everywhere()); err != nil {
		return nil, err
	}
	var r ScheduledReport
	if err := s.db.WithContext(ctx).First(&r, id).Error; err != nil {
		return nil, notFound(op, id, err)
	}
	return &r, nil
}

func (s *ReportService) List(ctx context.Context, actor access.Actor) ([]ScheduledReport, error) {
	if err := s.policy.Check(actor, access.ActionReportManage, access.Everywhere()); err != nil {
		return nil, err
	}
	reports := []ScheduledReport{}
	if err := s.db.WithContext(ctx).Order("created_at desc, id desc").Find(&reports).Error; err != nil {
		return nil, apperr.FromDB("schedule.ListReports", err)
	}
	return reports, nil
}

// TestSend builds and delivers the report now. A successful send counts for
// the current minute, so a tick retrying the same window is skipped.
func (s *ReportService) TestSend(ctx context.Context, actor access.Actor, id int64) (*Payload, error) {
	const op = "schedule.TestSend"
	if err := s.policy.Check(actor, access.ActionReportSend, access.Everywhere()); err != nil {
		return nil, err
	}
	r, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	now := s.now()
	local := now.In(s.engine.Location())
	p, err := s.engine.builder.build(ctx, r, local)
	if err != nil {
		return nil, apperr.Precondition(op, "report cannot be built").On("scheduled_report", id).Wrap(err)
	}
	p.Test = true
	if err := s.delivery.Deliver(ctx, p); err != nil {
		return nil, fmt.Errorf("%s: deliver report %d: %w", op, id, err)
	}
	if err := s.engine.markSent(ctx, id, now, minuteStart(local)); err != nil {
		log.Printf("report_last_sent_update_failed report_id=%d error=%q", id, err)
	}
	return p, nil
}

// validate runs before any transaction is opened; the depot lookup uses its
// own connection.
func (s *ReportService) validate(ctx context.Context, op string, in ReportInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return apperr.Validation(op, "name is required")
	}
	if !in.Kind.Valid() {
		return apperr.Validation(op, "unknown report kind %q", in.Kind)
	}
	if err := in.Recurrence.Validate(); err != nil {
		return apperr.Validation(op, "%v", err)
	}
	if len(in.RecipientUserIDs) == 0 {
		return apperr.Validation(op, "at least one recipient is required")
	}
	if in.RangeDays < 0 {
		return apperr.Validation(op, "range_days must not be negative")
	}
	for _, st := range in.StatusFilter {
		if _, ok := request.ParseStatus(st); !ok {
			return apperr.Validation(op, "unknown status %q in filter", st)
		}
	}
	for _, jt := range in.JobTypeFilter {
		if _, ok := request.ParseJobType(jt); !ok {
			return apperr.Validation(op, "unknown job type %q in filter", jt)
		}
	}
	if len(in.DepotIDs) > 0 {
		if err := s.depots.DepotsExist(ctx, in.DepotIDs...); err != nil {
			return err
		}
	}
	return nil
}

func assign(r *ScheduledReport, in ReportInput) {
	r.Name = strings.TrimSpace(in.Name)
	r.Kind = in.Kind
	r.Weekday, r.Hour, r.Minute = in.Recurrence.Weekday, in.Recurrence.Hour, in.Recurrence.Minute
	r.Active = in.Active
	r.DepotIDs = in.DepotIDs
	r.RecipientUserIDs = in.RecipientUserIDs
	r.StatusFilter = in.StatusFilter
	r.JobTypeFilter = in.JobTypeFilter
	r.RangeDays = in.RangeDays
}

func notFound(op string, id int64, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(op, "scheduled report not found").On("scheduled_report", id)
	}
	return apperr.FromDB(op, err)
}
