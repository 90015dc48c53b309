package transfer

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"posmdesk/internal/domain/inventory"
)

// Transfer is an immutable record of stock moved between two depots.
type Transfer struct {
	ID            string           `gorm:"type:varchar(36);primaryKey" json:"id"`
	PosmType      string           `gorm:"size:100;not null;index" json:"posm_type"`
	SourceDepotID int64            `gorm:"not null;index;check:chk_transfer_depots,source_depot_id <> dest_depot_id" json:"source_depot_id"`
	DestDepotID   int64            `gorm:"not null;index" json:"dest_depot_id"`
	Bucket        inventory.Bucket `gorm:"size:20;not null" json:"bucket"`
	Quantity      int              `gorm:"not null;check:chk_transfer_quantity,quantity > 0" json:"quantity"`
	Note          string           `gorm:"size:500" json:"note,omitempty"`
	TransferredBy int64            `gorm:"not null;index" json:"transferred_by"`
	CreatedAt     time.Time        `gorm:"not null;index" json:"created_at"`
}

func (Transfer) TableName() string {
	return "posm_transfers"
}

func (t *Transfer) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

func Models() []any {
	return []any{&Transfer{}}
}
