package inventory

import (
	"fmt"
	"strings"
	"time"
)

// Bucket is one of the two stock counters kept per ledger row.
type Bucket string

const (
	BucketReady         Bucket = "ready"
	BucketRepairPending Bucket = "repair_pending"
)

func ParseBucket(s string) (Bucket, bool) {
	switch Bucket(strings.TrimSpace(s)) {
	case BucketReady:
		return BucketReady, true
	case BucketRepairPending:
		return BucketRepairPending, true
	}
	return "", false
}

func (b Bucket) column() string {
	if b == BucketRepairPending {
		return "repair_pending_count"
	}
	return "ready_count"
}

// Row holds the stock of one POSM type at one depot.
type Row struct {
	ID                 int64     `gorm:"primaryKey"`
	DepotID            int64     `gorm:"not null;uniqueIndex:idx_ledger_depot_posm"`
	PosmType           string    `gorm:"size:100;not null;uniqueIndex:idx_ledger_depot_posm"`
	ReadyCount         int       `gorm:"not null;default:0;check:chk_ledger_ready,ready_count >= 0"`
	RepairPendingCount int       `gorm:"not null;default:0;check:chk_ledger_repair,repair_pending_count >= 0"`
	CreatedAt          time.Time `gorm:"not null"`
	UpdatedAt          time.Time `gorm:"not null"`
}

func (Row) TableName() string {
	return "posm_ledger"
}

func (r *Row) Count(b Bucket) int {
	if b == BucketRepairPending {
		return r.RepairPendingCount
	}
	return r.ReadyCount
}

func (r *Row) set(b Bucket, v int) {
	if b == BucketRepairPending {
		r.RepairPendingCount = v
		return
	}
	r.ReadyCount = v
}

func (r *Row) Snapshot() Snapshot {
	return Snapshot{
		DepotID:       r.DepotID,
		PosmType:      r.PosmType,
		Ready:         r.ReadyCount,
		RepairPending: r.RepairPendingCount,
		UpdatedAt:     r.UpdatedAt,
	}
}

// Snapshot is a committed view of a ledger row.
type Snapshot struct {
	DepotID       int64     `json:"depot_id"`
	PosmType      string    `json:"posm_type"`
	Ready         int       `json:"ready"`
	RepairPending int       `json:"repair_pending"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (s Snapshot) Count(b Bucket) int {
	if b == BucketRepairPending {
		return s.RepairPending
	}
	return s.Ready
}

// Key identifies a ledger row for in-process locking.
func Key(depotID int64, posmType string) string {
	return fmt.Sprintf("ledger:%d:%s", depotID, posmType)
}

func rowID(depotID int64, posmType string) string {
	return fmt.Sprintf("%d/%s", depotID, posmType)
}

func NormalizePosmType(s string) string {
	return strings.TrimSpace(s)
}

// Models lists the tables owned by this package.
func Models() []any {
	return []any{&Row{}}
}
