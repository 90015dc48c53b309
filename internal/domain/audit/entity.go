package audit

import (
	"time"

	"gorm.io/datatypes"

	"posmdesk/internal/domain/access"
)

type Action string

const (
	ActionCreate Action = "CREATE"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
	ActionLogin  Action = "LOGIN"
	ActionLogout Action = "LOGOUT"
)

func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete, ActionLogin, ActionLogout:
		return true
	}
	return false
}

// Entity types written by the core services.
const (
	EntityRequest         = "Request"
	EntityLedgerRow       = "PosmStock"
	EntityTransfer        = "PosmTransfer"
	EntityScheduledReport = "ScheduledReport"
	EntityUser            = "User"
)

// Entry is one immutable audit log row.
type Entry struct {
	ID          int64          `gorm:"primaryKey" json:"id"`
	CreatedAt   time.Time      `gorm:"not null;index" json:"created_at"`
	ActorID     *int64         `gorm:"index" json:"actor_id"`
	Action      Action         `gorm:"size:16;not null;index" json:"action"`
	EntityType  string         `gorm:"size:50;not null;index:idx_audit_entity" json:"entity_type"`
	EntityID    string         `gorm:"size:64;index:idx_audit_entity" json:"entity_id"`
	DepotID     *int64         `gorm:"index" json:"depot_id,omitempty"`
	Before      datatypes.JSON `json:"before,omitempty"`
	After       datatypes.JSON `json:"after,omitempty"`
	Description string         `gorm:"size:500" json:"description,omitempty"`
	Origin      string         `gorm:"size:64" json:"origin,omitempty"`
	UserAgent   string         `gorm:"size:255" json:"user_agent,omitempty"`
}

func (Entry) TableName() string {
	return "audit_logs"
}

// Record is what a service hands to the recorder.
type Record struct {
	Actor       access.Actor
	Action      Action
	EntityType  string
	EntityID    any
	DepotID     int64
	Before      any
	After       any
	Description string
}

func Models() []any {
	return []any{&Entry{}}
}
