package schedule

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"posmdesk/internal/domain/request"
)

// Recipient is a resolved report addressee.
type Recipient struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
}

// Directory resolves recipient user ids. Unknown ids are dropped.
type Directory interface {
	Recipients(ctx context.Context, ids []int64) ([]Recipient, error)
}

// Line is one request in a report snapshot.
type Line struct {
	RequestID     int64      `json:"request_id"`
	DealerID      int64      `json:"dealer_id"`
	DepotID       int64      `json:"depot_id"`
	JobType       string     `json:"job_type"`
	PosmType      string     `json:"posm_type,omitempty"`
	Priority      string     `json:"priority"`
	Status        string     `json:"status"`
	RequestedDate time.Time  `json:"requested_date"`
	PlannedDate   *time.Time `json:"planned_date,omitempty"`
	CompletedDate *time.Time `json:"completed_date,omitempty"`
	CreatedBy     int64      `json:"created_by"`
	CompletedBy   *int64     `json:"completed_by,omitempty"`
}

// Payload is what a Delivery sends out.
type Payload struct {
	ReportID    int64       `json:"report_id"`
	Name        string      `json:"name"`
	Kind        Kind        `json:"kind"`
	GeneratedAt time.Time   `json:"generated_at"`
	PeriodFrom  *time.Time  `json:"period_from,omitempty"`
	PeriodTo    *time.Time  `json:"period_to,omitempty"`
	Recipients  []Recipient `json:"recipients"`
	Total       int         `json:"total"`
	Lines       []Line      `json:"lines"`
	Test        bool        `json:"test,omitempty"`
}

// WeekEnding returns the Monday..Sunday week that ends on the latest Sunday
// on or before local. A Sunday run covers the week that ends that day.
func WeekEnding(local time.Time) (monday, sunday time.Time) {
	day := request.CivilDate(local)
	sunday = day.AddDate(0, 0, -((MondayIndex(local) + 1) % 7))
	monday = sunday.AddDate(0, 0, -6)
	return monday, sunday
}

type builder struct {
	db        *gorm.DB
	directory Directory
}

// build snapshots the requests matching r as of local.
func (b builder) build(ctx context.Context, r *ScheduledReport, local time.Time) (*Payload, error) {
	p := &Payload{
		ReportID:    r.ID,
		Name:        r.Name,
		Kind:        r.Kind,
		GeneratedAt: local,
		Lines:       []Line{},
	}

	q := b.db.WithContext(ctx).Model(&request.Request{})
	if len(r.DepotIDs) > 0 {
		q = q.Where("depot_id IN ?", []int64(r.DepotIDs))
	}
	if len(r.JobTypeFilter) > 0 {
		q = q.Where("job_type IN ?", []string(r.JobTypeFilter))
	}

	switch r.Kind {
	case KindWeeklyCompleted:
		from, to := WeekEnding(local)
		p.PeriodFrom, p.PeriodTo = &from, &to
		q = q.Where("status = ? AND completed_date >= ? AND completed_date <= ?", request.StatusCompleted, from, to)
	case KindPendingRequests:
		statuses := []string{string(request.StatusPending), string(request.StatusScheduled)}
		if len(r.StatusFilter) > 0 {
			statuses = intersect(statuses, r.StatusFilter)
		}
		q = q.Where("status IN ?", statuses)
	case KindCustom:
		if len(r.StatusFilter) > 0 {
			q = q.Where("status IN ?", []string(r.StatusFilter))
		}
		if r.RangeDays > 0 {
			to := request.CivilDate(local)
			from := to.AddDate(0, 0, -(r.RangeDays - 1))
			p.PeriodFrom, p.PeriodTo = &from, &to
			q = q.Where("requested_date >= ? AND requested_date <= ?", from, to)
		}
	default:
		return nil, fmt.Errorf("unknown report kind %q", r.Kind)
	}

	var rows []request.Request
	if err := q.Order("depot_id, requested_date, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load requests: %w", err)
	}
	for _, row := range rows {
		p.Lines = append(p.Lines, Line{
			RequestID:     row.ID,
			DealerID:      row.DealerID,
			DepotID:       row.DepotID,
			JobType:       string(row.JobType),
			PosmType:      row.PosmType,
			Priority:      string(row.Priority),
			Status:        string(row.Status),
			RequestedDate: row.RequestedDate,
			PlannedDate:   row.PlannedDate,
			CompletedDate: row.CompletedDate,
			CreatedBy:     row.CreatedBy,
			CompletedBy:   row.CompletedBy,
		})
	}
	p.Total = len(p.Lines)

	recipients, err := b.directory.Recipients(ctx, r.RecipientUserIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve recipients: %w", err)
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("no recipient of report %d could be resolved", r.ID)
	}
	p.Recipients = recipients
	return p, nil
}

func intersect(base []string, filter []string) []string {
	out := []string{}
	for _, s := range base {
		for _, f := range filter {
			if s == f {
				out = append(out, s)
				break
			}
		}
	}
	return out
}
