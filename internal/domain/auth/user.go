package auth

import (
	"time"

	"posmdesk/internal/domain/access"
	"posmdesk/internal/domain/reference"
)

type User struct {
	ID                  int64             `gorm:"primaryKey" json:"id"`
	Email               string            `gorm:"size:255;not null;uniqueIndex" json:"email"`
	PasswordHash        string            `gorm:"size:255;not null" json:"-"`
	Name                string            `gorm:"size:100;not null" json:"name"`
	Role                access.Role       `gorm:"size:16;not null;index" json:"role"`
	Active              bool              `gorm:"not null" json:"active"`
	FailedLoginAttempts int               `gorm:"not null;default:0" json:"-"`
	LockedUntil         *time.Time        `json:"-"`
	LastLoginAt         *time.Time        `json:"last_login_at,omitempty"`
	Depots              []reference.Depot `gorm:"many2many:user_depots;" json:"depots"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}

func (u *User) DepotIDs() []int64 {
	ids := make([]int64, 0, len(u.Depots))
	for _, d := range u.Depots {
		ids = append(ids, d.ID)
	}
	return ids
}

// Actor is the caller identity this user acts under.
func (u *User) Actor(origin, userAgent string) access.Actor {
	return access.Actor{
		UserID:    u.ID,
		Role:      u.Role,
		DepotIDs:  u.DepotIDs(),
		Origin:    origin,
		UserAgent: userAgent,
	}
}

func (u *User) fields() map[string]any {
	return map[string]any{
		"email":     u.Email,
		"name":      u.Name,
		"role":      string(u.Role),
		"active":    u.Active,
		"depot_ids": u.DepotIDs(),
	}
}

func Models() []any {
	return []any{&User{}}
}
