package schedule

import (
	"time"

	"gorm.io/datatypes"
)

type Kind string

const (
	KindWeeklyCompleted Kind = "weekly_completed"
	KindPendingRequests Kind = "pending_requests"
	KindCustom          Kind = "custom"
)

func (k Kind) Valid() bool {
	switch k {
	case KindWeeklyCompleted, KindPendingRequests, KindCustom:
		return true
	}
	return false
}

// ScheduledReport is a recurring request digest. An empty DepotIDs list means
// every depot.
type ScheduledReport struct {
	ID               int64                      `gorm:"primaryKey" json:"id"`
	Name             string                     `gorm:"size:100;not null" json:"name"`
	Kind             Kind                       `gorm:"size:50;not null" json:"kind"`
	Weekday          int                        `gorm:"not null" json:"weekday"`
	Hour             int                        `gorm:"not null" json:"hour"`
	Minute           int                        `gorm:"not null" json:"minute"`
	Active           bool                       `gorm:"not null;index" json:"active"`
	DepotIDs         datatypes.JSONSlice[int64]  `json:"depot_ids"`
	RecipientUserIDs datatypes.JSONSlice[int64]  `gorm:"not null" json:"recipient_user_ids"`
	StatusFilter     datatypes.JSONSlice[string] `json:"status_filter"`
	JobTypeFilter    datatypes.JSONSlice[string] `json:"job_type_filter"`
	RangeDays        int                        `gorm:"not null;default:0" json:"range_days"`
	LastSentAt       *time.Time                 `json:"last_sent_at,omitempty"`
	CreatedBy        int64                      `gorm:"not null" json:"created_by"`
	CreatedAt        time.Time                  `json:"created_at"`
	UpdatedAt        time.Time                  `json:"updated_at"`
}

func (ScheduledReport) TableName() string {
	return "scheduled_reports"
}

func (r *ScheduledReport) Recurrence() Recurrence {
	return Recurrence{Weekday: r.Weekday, Hour: r.Hour, Minute: r.Minute}
}

func (r *ScheduledReport) fields() map[string]any {
	return map[string]any{
		"name":               r.Name,
		"kind":               string(r.Kind),
		"recurrence":         r.Recurrence().String(),
		"active":             r.Active,
		"depot_ids":          []int64(r.DepotIDs),
		"recipient_user_ids": []int64(r.RecipientUserIDs),
		"status_filter":      []string(r.StatusFilter),
		"job_type_filter":    []string(r.JobTypeFilter),
		"range_days":         r.RangeDays,
	}
}

func Models() []any {
	return []any{&ScheduledReport{}}
}
