package request

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending   Status = "Pending"
	StatusScheduled Status = "Scheduled"
	StatusCompleted Status = "Completed"
	StatusCancelled Status = "Cancelled"
)

func ParseStatus(s string) (Status, bool) {
	switch st := Status(strings.TrimSpace(s)); st {
	case StatusPending, StatusScheduled, StatusCompleted, StatusCancelled:
		return st, true
	}
	return "", false
}

// Terminal statuses accept no further transitions or field edits.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

var transitions = map[Status][]Status{
	StatusPending:   {StatusScheduled, StatusCancelled},
	StatusScheduled: {StatusCompleted, StatusCancelled},
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type JobType string

const (
	JobInstall     JobType = "Install"
	JobDeinstall   JobType = "Deinstall"
	JobMaintenance JobType = "Maintenance"
)

func ParseJobType(s string) (JobType, bool) {
	switch j := JobType(strings.TrimSpace(s)); j {
	case JobInstall, JobDeinstall, JobMaintenance:
		return j, true
	}
	return "", false
}

// RequiresPosm reports whether the job must name the POSM it moves.
func (j JobType) RequiresPosm() bool {
	return j == JobInstall || j == JobDeinstall
}

type Priority string

const (
	PriorityLow    Priority = "Low"
	PriorityMedium Priority = "Medium"
	PriorityHigh   Priority = "High"
	PriorityUrgent Priority = "Urgent"
)

func ParsePriority(s string) (Priority, bool) {
	switch p := Priority(strings.TrimSpace(s)); p {
	case "":
		return PriorityMedium, true
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return p, true
	}
	return "", false
}

// Request is a field-service job raised for a dealer. Requests are never
// deleted; Cancelled is the terminal state for abandoned work.
type Request struct {
	ID              int64               `gorm:"primaryKey" json:"id"`
	DealerID        int64               `gorm:"not null;index" json:"dealer_id"`
	TerritoryID     *int64              `gorm:"index" json:"territory_id,omitempty"`
	DepotID         int64               `gorm:"not null;index" json:"depot_id"`
	JobType         JobType             `gorm:"size:20;not null;index" json:"job_type"`
	JobDetail       string              `gorm:"size:2000" json:"job_detail,omitempty"`
	PosmType        string              `gorm:"size:100" json:"posm_type,omitempty"`
	CurrentPosm     string              `gorm:"size:200" json:"current_posm,omitempty"`
	Priority        Priority            `gorm:"size:10;not null;default:Medium" json:"priority"`
	RequestedDate   time.Time           `gorm:"not null;index" json:"requested_date"`
	Status          Status              `gorm:"size:20;not null;index" json:"status"`
	PlannedDate     *time.Time          `gorm:"index" json:"planned_date,omitempty"`
	CompletedDate   *time.Time          `json:"completed_date,omitempty"`
	CompletionNotes string              `gorm:"size:2000" json:"completion_notes,omitempty"`
	Photos          []Photo             `gorm:"foreignKey:RequestID" json:"photos"`
	CreatedBy       int64               `gorm:"not null;index" json:"created_by"`
	UpdatedBy       *int64              `json:"updated_by,omitempty"`
	CompletedBy     *int64              `json:"completed_by,omitempty"`
	Latitude        decimal.NullDecimal `gorm:"type:decimal(10,8)" json:"latitude"`
	Longitude       decimal.NullDecimal `gorm:"type:decimal(11,8)" json:"longitude"`
	Version         int64               `gorm:"not null;default:1" json:"version"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

func (Request) TableName() string {
	return "requests"
}

// Photo is an opaque reference handed out by the blob store. Position keeps
// insertion order.
type Photo struct {
	ID        int64     `gorm:"primaryKey" json:"-"`
	RequestID int64     `gorm:"not null;uniqueIndex:idx_request_photo_position" json:"-"`
	Position  int       `gorm:"not null;uniqueIndex:idx_request_photo_position" json:"position"`
	Ref       string    `gorm:"size:500;not null" json:"ref"`
	CreatedAt time.Time `json:"created_at"`
}

func (Photo) TableName() string {
	return "request_photos"
}

func (r *Request) PhotoRefs() []string {
	refs := make([]string, 0, len(r.Photos))
	for _, p := range r.Photos {
		refs = append(refs, p.Ref)
	}
	return refs
}

// Consistent reports whether the completion invariant holds: a request is
// Completed exactly when it has a completed date and at least one photo.
func (r *Request) Consistent() bool {
	complete := r.CompletedDate != nil && len(r.Photos) > 0
	if r.Status == StatusCompleted {
		return complete
	}
	return r.CompletedDate == nil
}

// fields is the audited view of the mutable part of a request.
func (r *Request) fields() map[string]any {
	return map[string]any{
		"status":           string(r.Status),
		"priority":         string(r.Priority),
		"job_detail":       r.JobDetail,
		"planned_date":     dateString(r.PlannedDate),
		"completed_date":   dateString(r.CompletedDate),
		"completion_notes": r.CompletionNotes,
		"photos":           r.PhotoRefs(),
	}
}

// Models lists the tables owned by this package.
func Models() []any {
	return []any{&Request{}, &Photo{}}
}

const dateLayout = "2006-01-02"

// CivilDate drops the clock part, keeping the calendar day in UTC.
func CivilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

func dateString(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dateLayout)
}

func civilPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := CivilDate(*t)
	return &c
}
