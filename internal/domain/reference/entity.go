package reference

import (
	"time"

	"github.com/shopspring/decimal"
)

type Depot struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:100;not null;uniqueIndex" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func (Depot) TableName() string {
	return "depots"
}

type Territory struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:100;not null;uniqueIndex" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

func (Territory) TableName() string {
	return "territories"
}

// Dealer is a point of sale that requests are raised for. Its depot decides
// which depot's technicians and stock serve it.
type Dealer struct {
	ID          int64               `gorm:"primaryKey" json:"id"`
	Code        string              `gorm:"size:50;not null;uniqueIndex" json:"code"`
	Name        string              `gorm:"size:200;not null" json:"name"`
	TerritoryID *int64              `gorm:"index" json:"territory_id,omitempty"`
	DepotID     int64               `gorm:"not null;index" json:"depot_id"`
	Latitude    decimal.NullDecimal `gorm:"type:decimal(10,8)" json:"latitude"`
	Longitude   decimal.NullDecimal `gorm:"type:decimal(11,8)" json:"longitude"`
	CreatedAt   time.Time           `json:"created_at"`
}

func (Dealer) TableName() string {
	return "dealers"
}

// Models lists the tables owned by this package.
func Models() []any {
	return []any{&Depot{}, &Territory{}, &Dealer{}}
}
