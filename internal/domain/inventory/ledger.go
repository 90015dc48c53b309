package inventory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"posmdesk/internal/database"
	"posmdesk/internal/domain/access"
	"posmdesk/internal/domain/audit"
	"posmdesk/internal/pkg/apperr"
	"posmdesk/internal/pkg/keylock"
)

const retryBackoff = 150 * time.Millisecond

// DepotChecker confirms depots exist before rows are created for them.
type DepotChecker interface {
	DepotsExist(ctx context.Context, ids ...int64) error
}

// Ledger is the source of truth for depot stock levels. Every change goes
// through Adjust or a transfer built on ApplyTx.
type Ledger struct {
	db       *gorm.DB
	policy   access.Policy
	audit    *audit.Recorder
	locks    *keylock.Locker
	lockWait time.Duration
	depots   DepotChecker
}

func NewLedger(db *gorm.DB, policy access.Policy, recorder *audit.Recorder, locks *keylock.Locker, lockWait time.Duration, depots DepotChecker) *Ledger {
	return &Ledger{db: db, policy: policy, audit: recorder, locks: locks, lockWait: lockWait, depots: depots}
}

type AdjustInput struct {
	DepotID  int64  `json:"depot_id" validate:"required,gt=0"`
	PosmType string `json:"posm_type" validate:"required"`
	Bucket   Bucket `json:"bucket" validate:"required"`
	Delta    int    `json:"delta" validate:"required"`
	Note     string `json:"note"`
}

// Adjust moves one counter by delta and returns the committed row.
func (l *Ledger) Adjust(ctx context.Context, actor access.Actor, in AdjustInput) (*Snapshot, error) {
	const op = "inventory.Adjust"

	in.PosmType = NormalizePosmType(in.PosmType)
	if _, ok := ParseBucket(string(in.Bucket)); !ok {
		return nil, apperr.Validation(op, "unknown bucket %q", in.Bucket)
	}
	if in.Delta == 0 {
		return nil, apperr.Validation(op, "delta must not be zero")
	}
	if in.DepotID <= 0 || in.PosmType == "" {
		return nil, apperr.Validation(op, "depot and posm type are required")
	}
	if err := l.policy.Check(actor, access.ActionInventoryAdjust, access.Depots(in.DepotID)); err != nil {
		return nil, err
	}

	var result Snapshot
	err := keylock.RetryOnContention(ctx, op, retryBackoff, func() error {
		unlock, err := l.locks.Lock(ctx, l.lockWait, Key(in.DepotID, in.PosmType))
		if err != nil {
			return err
		}
		defer unlock()

		var trail audit.Trail
		err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := database.SetLockTimeout(tx, l.lockWait); err != nil {
				return err
			}
			row, err := LockRow(tx, in.DepotID, in.PosmType)
			if err != nil {
				return err
			}
			before := row.Snapshot()
			if err := ApplyTx(tx, row, in.Bucket, in.Delta); err != nil {
				return err
			}
			result = row.Snapshot()

			l.audit.RecordTx(tx, &trail, audit.Record{
				Actor:      actor,
				Action:     audit.ActionUpdate,
				EntityType: audit.EntityLedgerRow,
				EntityID:   rowID(in.DepotID, in.PosmType),
				DepotID:    in.DepotID,
				Before:     map[string]any{"ready": before.Ready, "repair_pending": before.RepairPending},
				After: map[string]any{
					"ready":          result.Ready,
					"repair_pending": result.RepairPending,
					"bucket":         in.Bucket,
					"delta":          in.Delta,
				},
				Description: adjustDescription(in),
			})
			return nil
		})
		if err != nil {
			return apperr.FromDB(op, err)
		}
		l.audit.Settle(&trail)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Read returns the committed counters of one row.
func (l *Ledger) Read(ctx context.Context, actor access.Actor, depotID int64, posmType string) (*Snapshot, error) {
	const op = "inventory.Read"
	posmType = NormalizePosmType(posmType)
	if err := l.policy.Check(actor, access.ActionInventoryRead, access.Depots(depotID)); err != nil {
		return nil, err
	}

	var row Row
	err := l.db.WithContext(ctx).Where("depot_id = ? AND posm_type = ?", depotID, posmType).First(&row).Error
	if err != nil {
		return nil, rowError(op, depotID, posmType, err)
	}
	s := row.Snapshot()
	return &s, nil
}

// EnsureRow creates a zero row when absent. Only a creation is audited.
func (l *Ledger) EnsureRow(ctx context.Context, actor access.Actor, depotID int64, posmType string) (*Snapshot, error) {
	const op = "inventory.EnsureRow"
	posmType = NormalizePosmType(posmType)
	if depotID <= 0 || posmType == "" {
		return nil, apperr.Validation(op, "depot and posm type are required")
	}
	if err := l.policy.Check(actor, access.ActionInventoryRegister, access.Depots(depotID)); err != nil {
		return nil, err
	}
	if err := l.depots.DepotsExist(ctx, depotID); err != nil {
		return nil, err
	}

	unlock, err := l.locks.Lock(ctx, l.lockWait, Key(depotID, posmType))
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		result Snapshot
		trail  audit.Trail
	)
	err = l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row, created, err := EnsureRowTx(tx, depotID, posmType)
		if err != nil {
			return err
		}
		result = row.Snapshot()
		if created {
			l.audit.RecordTx(tx, &trail, audit.Record{
				Actor:       actor,
				Action:      audit.ActionCreate,
				EntityType:  audit.EntityLedgerRow,
				EntityID:    rowID(depotID, posmType),
				DepotID:     depotID,
				After:       map[string]any{"ready": 0, "repair_pending": 0},
				Description: fmt.Sprintf("registered %s at depot %d", posmType, depotID),
			})
		}
		return nil
	})
	if err != nil {
		return nil, apperr.FromDB(op, err)
	}
	l.audit.Settle(&trail)
	return &result, nil
}

func (l *Ledger) ListByDepot(ctx context.Context, actor access.Actor, depotID int64) ([]Snapshot, error) {
	if err := l.policy.Check(actor, access.ActionInventoryRead, access.Depots(depotID)); err != nil {
		return nil, err
	}

	var rows []Row
	if err := l.db.WithContext(ctx).Where("depot_id = ?", depotID).Order("posm_type").Find(&rows).Error; err != nil {
		return nil, apperr.FromDB("inventory.ListByDepot", err)
	}
	out := make([]Snapshot, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].Snapshot())
	}
	return out, nil
}

// LockRow loads a row FOR UPDATE. SQLite ignores the locking clause; there
// the single-connection pool and the in-process key lock serialize writers.
func LockRow(tx *gorm.DB, depotID int64, posmType string) (*Row, error) {
	var row Row
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("depot_id = ? AND posm_type = ?", depotID, posmType).
		First(&row).Error
	if err != nil {
		return nil, rowError("inventory.LockRow", depotID, posmType, err)
	}
	return &row, nil
}

// EnsureRowTx returns the locked row, creating a zero row when missing.
func EnsureRowTx(tx *gorm.DB, depotID int64, posmType string) (*Row, bool, error) {
	row, err := LockRow(tx, depotID, posmType)
	if err == nil {
		return row, false, nil
	}
	if !errors.Is(err, ErrRowNotFound) {
		return nil, false, err
	}
	return insertRowTx(tx, depotID, posmType)
}

// insertRowTx inserts a zero row, or locks the one another writer inserted
// first. A plain INSERT hitting the unique index would abort a postgres
// transaction, so the conflict is skipped instead.
func insertRowTx(tx *gorm.DB, depotID int64, posmType string) (*Row, bool, error) {
	now := time.Now().UTC()
	row := &Row{DepotID: depotID, PosmType: posmType, CreatedAt: now, UpdatedAt: now}
	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "depot_id"}, {Name: "posm_type"}},
		DoNothing: true,
	}).Create(row)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 0 {
		existing, err := LockRow(tx, depotID, posmType)
		return existing, false, err
	}
	return row, true, nil
}

// ApplyTx changes one counter of a locked row. A negative result is refused
// with a Conflict and a counter above MaxInt32 with a Validation; nothing is
// written in either case.
func ApplyTx(tx *gorm.DB, row *Row, bucket Bucket, delta int) error {
	current := row.Count(bucket)
	if delta < -math.MaxInt32 || (delta > 0 && current > math.MaxInt32-delta) {
		return apperr.Validation("inventory.Apply", "delta %d is out of range for %s", delta, bucket).
			On("ledger_row", rowID(row.DepotID, row.PosmType))
	}
	next := current + delta
	if next < 0 {
		return apperr.Conflict("inventory.Apply", "insufficient stock: %s has %d, requested %d", bucket, current, -delta).
			On("ledger_row", rowID(row.DepotID, row.PosmType)).
			Wrap(ErrInsufficientStock)
	}

	now := time.Now().UTC()
	err := tx.Model(&Row{}).Where("id = ?", row.ID).Updates(map[string]any{
		bucket.column(): next,
		"updated_at":    now,
	}).Error
	if err != nil {
		return err
	}
	row.set(bucket, next)
	row.UpdatedAt = now
	return nil
}

func rowError(op string, depotID int64, posmType string, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(op, "no ledger row for %s at depot %d", posmType, depotID).
			On("ledger_row", rowID(depotID, posmType)).
			Wrap(ErrRowNotFound)
	}
	return apperr.FromDB(op, err)
}

func adjustDescription(in AdjustInput) string {
	desc := fmt.Sprintf("%s %+d %s at depot %d", in.PosmType, in.Delta, in.Bucket, in.DepotID)
	if in.Note != "" {
		desc += ": " + in.Note
	}
	return desc
}
