package transfer

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"posmdesk/internal/database"
	"posmdesk/internal/domain/access"
	"posmdesk/internal/domain/audit"
	"posmdesk/internal/domain/inventory"
	"posmdesk/internal/pkg/apperr"
	"posmdesk/internal/pkg/keylock"
)

const retryBackoff = 150 * time.Millisecond

type DepotChecker interface {
	DepotsExist(ctx context.Context, ids ...int64) error
}

// Coordinator moves stock between two ledger rows as one unit of work.
type Coordinator struct {
	db       *gorm.DB
	policy   access.Policy
	audit    *audit.Recorder
	locks    *keylock.Locker
	lockWait time.Duration
	depots   DepotChecker
}

func NewCoordinator(db *gorm.DB, policy access.Policy, recorder *audit.Recorder, locks *keylock.Locker, lockWait time.Duration, depots DepotChecker) *Coordinator {
	return &Coordinator{db: db, policy: policy, audit: recorder, locks: locks, lockWait: lockWait, depots: depots}
}

type Input struct {
	PosmType      string           `json:"posm_type" validate:"required"`
	SourceDepotID int64            `json:"source_depot_id" validate:"required,gt=0"`
	DestDepotID   int64            `json:"dest_depot_id" validate:"required,gt=0"`
	Bucket        inventory.Bucket `json:"bucket" validate:"required"`
	Quantity      int              `json:"quantity" validate:"required,gt=0"`
	Note          string           `json:"note" validate:"max=500"`
}

type Result struct {
	Transfer Transfer           `json:"transfer"`
	Source   inventory.Snapshot `json:"source"`
	Dest     inventory.Snapshot `json:"dest"`
}

// Transfer debits the source row and credits the destination row, creating
// the destination row when the depot has never held this POSM type.
func (c *Coordinator) Transfer(ctx context.Context, actor access.Actor, in Input) (*Result, error) {
	const op = "transfer.Transfer"

	in.PosmType = inventory.NormalizePosmType(in.PosmType)
	if in.SourceDepotID == in.DestDepotID {
		return nil, apperr.Validation(op, "source and destination depot must differ").Wrap(ErrSameDepot)
	}
	if in.Quantity <= 0 {
		return nil, apperr.Validation(op, "quantity must be positive, got %d", in.Quantity)
	}
	if _, ok := inventory.ParseBucket(string(in.Bucket)); !ok {
		return nil, apperr.Validation(op, "unknown bucket %q", in.Bucket)
	}
	if in.PosmType == "" {
		return nil, apperr.Validation(op, "posm type is required")
	}
	if err := c.policy.Check(actor, access.ActionTransfer, access.Depots(in.SourceDepotID, in.DestDepotID)); err != nil {
		return nil, err
	}
	if err := c.depots.DepotsExist(ctx, in.SourceDepotID, in.DestDepotID); err != nil {
		return nil, err
	}

	var result Result
	err := keylock.RetryOnContention(ctx, op, retryBackoff, func() error {
		unlock, err := c.locks.Lock(ctx, c.lockWait,
			inventory.Key(in.SourceDepotID, in.PosmType),
			inventory.Key(in.DestDepotID, in.PosmType),
		)
		if err != nil {
			return err
		}
		defer unlock()

		var trail audit.Trail
		err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return c.apply(tx, &trail, actor, in, &result)
		})
		if err != nil {
			return apperr.FromDB(op, err)
		}
		c.audit.Settle(&trail)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (c *Coordinator) apply(tx *gorm.DB, trail *audit.Trail, actor access.Actor, in Input, result *Result) error {
	if err := database.SetLockTimeout(tx, c.lockWait); err != nil {
		return err
	}

	// Row locks follow ascending depot id, the same order for every caller.
	var source, dest *inventory.Row
	lockSource := func() error {
		row, err := inventory.LockRow(tx, in.SourceDepotID, in.PosmType)
		source = row
		return err
	}
	lockDest := func() error {
		row, _, err := inventory.EnsureRowTx(tx, in.DestDepotID, in.PosmType)
		dest = row
		return err
	}
	first, second := lockSource, lockDest
	if in.DestDepotID < in.SourceDepotID {
		first, second = lockDest, lockSource
	}
	if err := first(); err != nil {
		return err
	}
	if err := second(); err != nil {
		return err
	}

	sourceBefore, destBefore := source.Snapshot(), dest.Snapshot()
	if err := inventory.ApplyTx(tx, source, in.Bucket, -in.Quantity); err != nil {
		return err
	}
	if err := inventory.ApplyTx(tx, dest, in.Bucket, in.Quantity); err != nil {
		return err
	}

	t := Transfer{
		PosmType:      in.PosmType,
		SourceDepotID: in.SourceDepotID,
		DestDepotID:   in.DestDepotID,
		Bucket:        in.Bucket,
		Quantity:      in.Quantity,
		Note:          in.Note,
		TransferredBy: actor.UserID,
		CreatedAt:     time.Now().UTC(),
	}
	if err := tx.Create(&t).Error; err != nil {
		return err
	}

	result.Transfer = t
	result.Source = source.Snapshot()
	result.Dest = dest.Snapshot()

	c.audit.RecordTx(tx, trail, audit.Record{
		Actor:      actor,
		Action:     audit.ActionCreate,
		EntityType: audit.EntityTransfer,
		EntityID:   t.ID,
		DepotID:    in.SourceDepotID,
		Before: map[string]any{
			"source": sourceBefore.Count(in.Bucket),
			"dest":   destBefore.Count(in.Bucket),
		},
		After: map[string]any{
			"posm_type":       t.PosmType,
			"source_depot_id": t.SourceDepotID,
			"dest_depot_id":   t.DestDepotID,
			"bucket":          t.Bucket,
			"quantity":        t.Quantity,
			"source":          result.Source.Count(in.Bucket),
			"dest":            result.Dest.Count(in.Bucket),
		},
		Description: fmt.Sprintf("moved %d %s (%s) from depot %d to depot %d", t.Quantity, t.PosmType, t.Bucket, t.SourceDepotID, t.DestDepotID),
	})
	return nil
}

type Filter struct {
	DepotID  int64
	PosmType string
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}

type Page struct {
	Items []Transfer `json:"items"`
	Total int64      `json:"total"`
}

// ListTransfers returns transfers touching the depot (either side), newest
// first. Non-admins without a depot filter see their assigned depots.
func (c *Coordinator) ListTransfers(ctx context.Context, actor access.Actor, f Filter) (*Page, error) {
	const op = "transfer.ListTransfers"

	var depots []int64
	scope := access.Everywhere()
	switch {
	case f.DepotID > 0:
		depots = []int64{f.DepotID}
		scope = access.Depots(f.DepotID)
	case actor.Role != access.RoleAdmin:
		depots = actor.DepotIDs
		scope = access.Depots(actor.DepotIDs...)
	}
	if err := c.policy.Check(actor, access.ActionTransferRead, scope); err != nil {
		return nil, err
	}
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}

	q := c.db.WithContext(ctx).Model(&Transfer{})
	if len(depots) > 0 {
		q = q.Where("source_depot_id IN ? OR dest_depot_id IN ?", depots, depots)
	}
	if posm := inventory.NormalizePosmType(f.PosmType); posm != "" {
		q = q.Where("posm_type = ?", posm)
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", f.From.UTC())
	}
	if f.To != nil {
		q = q.Where("created_at <= ?", f.To.UTC())
	}

	var page Page
	if err := q.Count(&page.Total).Error; err != nil {
		return nil, apperr.FromDB(op, err)
	}
	if err := q.Order("created_at desc").Limit(f.Limit).Offset(f.Offset).Find(&page.Items).Error; err != nil {
		return nil, apperr.FromDB(op, err)
	}
	return &page, nil
}
