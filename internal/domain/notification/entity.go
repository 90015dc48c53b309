package notification

import (
	"time"

	"gorm.io/datatypes"
)

type Type string

const (
	TypeRequestCreated   Type = "request_created"   // depot techs: new work in their depot
	TypeRequestPlanned   Type = "request_planned"   // owner: visit date set
	TypeRequestCompleted Type = "request_completed" // owner: job done
)

// Notification is an in-app message for one user.
type Notification struct {
	ID        int64          `gorm:"primaryKey" json:"id"`
	UserID    int64          `gorm:"not null;index:idx_notifications_user_unread" json:"user_id"`
	Type      Type           `gorm:"size:32;not null" json:"type"`
	Title     string         `gorm:"size:200;not null" json:"title"`
	Body      string         `gorm:"size:1000" json:"body,omitempty"`
	RequestID *int64         `gorm:"index" json:"request_id,omitempty"`
	Data      datatypes.JSON `json:"data,omitempty"`
	IsRead    bool           `gorm:"not null;default:false;index:idx_notifications_user_unread" json:"is_read"`
	ReadAt    *time.Time     `json:"read_at,omitempty"`
	CreatedAt time.Time      `gorm:"not null;index" json:"created_at"`
}

func (Notification) TableName() string {
	return "notifications"
}

// Data links a notification back to the request it is about.
type Data struct {
	RequestID     int64  `json:"request_id"`
	DepotID       int64  `json:"depot_id"`
	DealerID      int64  `json:"dealer_id"`
	Status        string `json:"status"`
	PlannedDate   string `json:"planned_date,omitempty"`
	CompletedDate string `json:"completed_date,omitempty"`
}

func Models() []any {
	return []any{&Notification{}}
}
