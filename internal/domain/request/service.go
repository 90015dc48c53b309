package request

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"posmdesk/internal/database"
	"posmdesk/internal/domain/access"
	"posmdesk/internal/domain/audit"
	"posmdesk/internal/domain/reference"
	"posmdesk/internal/pkg/apperr"
	"posmdesk/internal/pkg/keylock"
)

const retryBackoff = 150 * time.Millisecond

// DealerResolver resolves the reference data a request points at.
type DealerResolver interface {
	GetDealer(ctx context.Context, id int64) (*reference.Dealer, error)
	GetDealerByCode(ctx context.Context, code string) (*reference.Dealer, error)
	GetTerritory(ctx context.Context, id int64) (*reference.Territory, error)
}

// Notifier hears about committed changes. It runs after the transaction, so
// a failing notifier never undoes the change it reports.
type Notifier interface {
	RequestCreated(ctx context.Context, actor access.Actor, r *Request)
	RequestStatusChanged(ctx context.Context, actor access.Actor, r *Request, from Status)
}

type noopNotifier struct{}

func (noopNotifier) RequestCreated(context.Context, access.Actor, *Request) {}

func (noopNotifier) RequestStatusChanged(context.Context, access.Actor, *Request, Status) {}

// Service owns the request state machine. Mutations on one request are
// serialized by a key lock plus a row lock, and every mutation bumps Version.
type Service struct {
	db       *gorm.DB
	policy   access.Policy
	audit    *audit.Recorder
	dealers  DealerResolver
	locks    *keylock.Locker
	lockWait time.Duration
	notifier Notifier
	now      func() time.Time
}

func NewService(db *gorm.DB, policy access.Policy, recorder *audit.Recorder, dealers DealerResolver, locks *keylock.Locker, lockWait time.Duration) *Service {
	return &Service{
		db:       db,
		policy:   policy,
		audit:    recorder,
		dealers:  dealers,
		locks:    locks,
		lockWait: lockWait,
		notifier: noopNotifier{},
		now:      time.Now,
	}
}

// SetNotifier routes committed creations and status changes to n.
func (s *Service) SetNotifier(n Notifier) {
	if n == nil {
		n = noopNotifier{}
	}
	s.notifier = n
}

type CreateInput struct {
	DealerID      int64
	DealerCode    string
	TerritoryID   *int64
	JobType       JobType
	JobDetail     string
	PosmType      string
	CurrentPosm   string
	Priority      Priority
	RequestedDate time.Time
	Photos        []string
}

// Create opens a Pending request. Photos are mandatory at creation.
func (s *Service) Create(ctx context.Context, actor access.Actor, in CreateInput) (*Request, error) {
	const op = "request.Create"

	photos := cleanRefs(in.Photos)
	if len(photos) == 0 {
		return nil, apperr.Validation(op, "at least one photo is required").Wrap(ErrPhotosRequired)
	}
	r, err := s.build(ctx, op, in)
	if err != nil {
		return nil, err
	}
	if err := s.policy.Check(actor, access.ActionRequestCreate, access.Owned(actor.UserID, r.DepotID)); err != nil {
		return nil, err
	}

	r.Status = StatusPending
	r.CreatedBy = actor.UserID
	if err := s.insert(ctx, actor, r, photos, "created"); err != nil {
		return nil, apperr.FromDB(op, err)
	}
	s.notifier.RequestCreated(ctx, actor, r)
	return r, nil
}

// build validates the common create fields and resolves dealer and territory.
func (s *Service) build(ctx context.Context, op string, in CreateInput) (*Request, error) {
	jobType, ok := ParseJobType(string(in.JobType))
	if !ok {
		return nil, apperr.Validation(op, "unknown job type %q", in.JobType)
	}
	priority, ok := ParsePriority(string(in.Priority))
	if !ok {
		return nil, apperr.Validation(op, "unknown priority %q", in.Priority)
	}
	posm := strings.TrimSpace(in.PosmType)
	if jobType.RequiresPosm() && posm == "" {
		return nil, apperr.Validation(op, "%s requires a posm selection", jobType).Wrap(ErrPosmRequired)
	}

	dealer, err := s.resolveDealer(ctx, in)
	if err != nil {
		return nil, apperr.Validation(op, "dealer cannot be resolved").Wrap(ErrUnknownDealer)
	}
	territoryID := dealer.TerritoryID
	if in.TerritoryID != nil {
		if _, err := s.dealers.GetTerritory(ctx, *in.TerritoryID); err != nil {
			return nil, apperr.Validation(op, "territory %d cannot be resolved", *in.TerritoryID).Wrap(ErrUnknownTerritory)
		}
		territoryID = in.TerritoryID
	}

	requested := in.RequestedDate
	if requested.IsZero() {
		requested = s.now()
	}

	return &Request{
		DealerID:      dealer.ID,
		TerritoryID:   territoryID,
		DepotID:       dealer.DepotID,
		JobType:       jobType,
		JobDetail:     strings.TrimSpace(in.JobDetail),
		PosmType:      posm,
		CurrentPosm:   strings.TrimSpace(in.CurrentPosm),
		Priority:      priority,
		RequestedDate: CivilDate(requested),
		Latitude:      dealer.Latitude,
		Longitude:     dealer.Longitude,
		Version:       1,
	}, nil
}

func (s *Service) resolveDealer(ctx context.Context, in CreateInput) (*reference.Dealer, error) {
	if in.DealerID > 0 {
		return s.dealers.GetDealer(ctx, in.DealerID)
	}
	if code := strings.TrimSpace(in.DealerCode); code != "" {
		return s.dealers.GetDealerByCode(ctx, code)
	}
	return nil, ErrUnknownDealer
}

func (s *Service) insert(ctx context.Context, actor access.Actor, r *Request, photos []string, verb string) error {
	var trail audit.Trail
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Photos").Create(r).Error; err != nil {
			return err
		}
		if err := appendPhotosTx(tx, r, photos, s.now()); err != nil {
			return err
		}
		s.audit.RecordTx(tx, &trail, audit.Record{
			Actor:       actor,
			Action:      audit.ActionCreate,
			EntityType:  audit.EntityRequest,
			EntityID:    r.ID,
			DepotID:     r.DepotID,
			After:       r.fields(),
			Description: fmt.Sprintf("request %d %s for dealer %d (%s)", r.ID, verb, r.DealerID, r.JobType),
		})
		return nil
	})
	if err != nil {
		return err
	}
	s.audit.Settle(&trail)
	return nil
}

// StatusFields carries the data a transition may need. Revision, when
// non-zero, must match the request's current Version.
type StatusFields struct {
	PlannedDate     *time.Time
	CompletedDate   *time.Time
	CompletionNotes *string
	Photos          []string
	Revision        int64
}

// UpdateStatus applies one state-machine transition.
func (s *Service) UpdateStatus(ctx context.Context, actor access.Actor, id int64, next Status, f StatusFields) (*Request, error) {
	const op = "request.UpdateStatus"
	if _, ok := ParseStatus(string(next)); !ok {
		return nil, apperr.Validation(op, "unknown status %q", next)
	}

	var from Status
	r, err := s.mutate(ctx, actor, id, access.ActionRequestTransition, f.Revision, op, func(tx *gorm.DB, r *Request) (string, error) {
		from = r.Status
		if from.Terminal() {
			return "", apperr.Conflict(op, "request is %s and cannot move to %s", from, next).On("request", id).Wrap(ErrTerminalStatus)
		}
		if !from.CanTransitionTo(next) {
			return "", apperr.Precondition(op, "cannot move from %s to %s", from, next).On("request", id).Wrap(ErrInvalidTransition)
		}

		photos := cleanRefs(f.Photos)
		switch next {
		case StatusScheduled:
			if f.PlannedDate == nil {
				return "", apperr.Precondition(op, "planned date is required to schedule").On("request", id).Wrap(ErrPlannedDateRequired)
			}
			r.PlannedDate = civilPtr(f.PlannedDate)
		case StatusCompleted:
			if len(r.Photos)+len(photos) == 0 {
				return "", apperr.Precondition(op, "at least one photo is required to complete").On("request", id).Wrap(ErrPhotosRequired)
			}
			if f.CompletedDate == nil {
				return "", apperr.Precondition(op, "completed date is required to complete").On("request", id).Wrap(ErrCompletedDateRequired)
			}
			r.CompletedDate = civilPtr(f.CompletedDate)
			completer := actor.UserID
			r.CompletedBy = &completer
			if f.CompletionNotes != nil {
				r.CompletionNotes = strings.TrimSpace(*f.CompletionNotes)
			}
		}

		if err := appendPhotosTx(tx, r, photos, s.now()); err != nil {
			return "", err
		}
		r.Status = next
		return fmt.Sprintf("request %d %s -> %s", id, from, next), nil
	})
	if err != nil {
		return nil, err
	}
	s.notifier.RequestStatusChanged(ctx, actor, r, from)
	return r, nil
}

func (s *Service) SetPriority(ctx context.Context, actor access.Actor, id int64, p Priority, revision int64) (*Request, error) {
	const op = "request.SetPriority"
	priority, ok := ParsePriority(string(p))
	if !ok || p == "" {
		return nil, apperr.Validation(op, "unknown priority %q", p)
	}
	return s.mutate(ctx, actor, id, access.ActionRequestUpdate, revision, op, func(tx *gorm.DB, r *Request) (string, error) {
		if err := editable(op, r); err != nil {
			return "", err
		}
		r.Priority = priority
		return fmt.Sprintf("request %d priority %s", id, priority), nil
	})
}

func (s *Service) AppendPhotos(ctx context.Context, actor access.Actor, id int64, refs []string, revision int64) (*Request, error) {
	const op = "request.AppendPhotos"
	photos := cleanRefs(refs)
	if len(photos) == 0 {
		return nil, apperr.Validation(op, "no photo references given").Wrap(ErrPhotosRequired)
	}
	return s.mutate(ctx, actor, id, access.ActionRequestUpdate, revision, op, func(tx *gorm.DB, r *Request) (string, error) {
		if err := editable(op, r); err != nil {
			return "", err
		}
		if err := appendPhotosTx(tx, r, photos, s.now()); err != nil {
			return "", err
		}
		return fmt.Sprintf("request %d +%d photos", id, len(photos)), nil
	})
}

func (s *Service) SetJobDetail(ctx context.Context, actor access.Actor, id int64, detail string, revision int64) (*Request, error) {
	const op = "request.SetJobDetail"
	return s.mutate(ctx, actor, id, access.ActionRequestUpdate, revision, op, func(tx *gorm.DB, r *Request) (string, error) {
		if err := editable(op, r); err != nil {
			return "", err
		}
		r.JobDetail = strings.TrimSpace(detail)
		return fmt.Sprintf("request %d job detail updated", id), nil
	})
}

type mutation func(tx *gorm.DB, r *Request) (description string, err error)

// mutate runs fn on the locked request and persists the result with one
// audit entry. The key lock bounds the wait; on postgres the row lock and
// lock_timeout do the same across processes.
func (s *Service) mutate(ctx context.Context, actor access.Actor, id int64, action access.Action, revision int64, op string, fn mutation) (*Request, error) {
	var result *Request
	err := keylock.RetryOnContention(ctx, op, retryBackoff, func() error {
		unlock, err := s.locks.Lock(ctx, s.lockWait, fmt.Sprintf("request:%d", id))
		if err != nil {
			return err
		}
		defer unlock()

		var trail audit.Trail
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := database.SetLockTimeout(tx, s.lockWait); err != nil {
				return err
			}
			r, err := loadForUpdate(tx, id)
			if err != nil {
				return err
			}
			if err := s.policy.Check(actor, action, access.Owned(r.CreatedBy, r.DepotID)); err != nil {
				return err
			}
			if revision != 0 && revision != r.Version {
				return apperr.Conflict(op, "revision %d is stale, current is %d", revision, r.Version).On("request", id).Wrap(ErrStaleRevision)
			}

			before := r.fields()
			desc, err := fn(tx, r)
			if err != nil {
				return err
			}
			if !r.Consistent() {
				return apperr.Precondition(op, "completion requires a completed date and at least one photo").On("request", id)
			}

			prevVersion := r.Version
			modifier := actor.UserID
			r.UpdatedBy = &modifier
			r.Version++
			r.UpdatedAt = s.now().UTC()

			res := tx.Model(&Request{}).Where("id = ? AND version = ?", r.ID, prevVersion).Updates(map[string]any{
				"status":           r.Status,
				"priority":         r.Priority,
				"job_detail":       r.JobDetail,
				"planned_date":     r.PlannedDate,
				"completed_date":   r.CompletedDate,
				"completion_notes": r.CompletionNotes,
				"completed_by":     r.CompletedBy,
				"updated_by":       r.UpdatedBy,
				"version":          r.Version,
				"updated_at":       r.UpdatedAt,
			})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return apperr.Conflict(op, "request changed concurrently").On("request", id).Wrap(ErrStaleRevision)
			}

			b, a := audit.Changes(before, r.fields())
			s.audit.RecordTx(tx, &trail, audit.Record{
				Actor:       actor,
				Action:      audit.ActionUpdate,
				EntityType:  audit.EntityRequest,
				EntityID:    r.ID,
				DepotID:     r.DepotID,
				Before:      b,
				After:       a,
				Description: desc,
			})
			result = r
			return nil
		})
		if err != nil {
			return apperr.FromDB(op, err)
		}
		s.audit.Settle(&trail)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Get returns one request with its photos in order.
func (s *Service) Get(ctx context.Context, actor access.Actor, id int64) (*Request, error) {
	var r Request
	err := s.db.WithContext(ctx).
		Preload("Photos", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		First(&r, id).Error
	if err != nil {
		return nil, notFound("request.Get", id, err)
	}
	if err := s.policy.Check(actor, access.ActionRequestRead, access.Owned(r.CreatedBy, r.DepotID)); err != nil {
		return nil, err
	}
	return &r, nil
}

func loadForUpdate(tx *gorm.DB, id int64) (*Request, error) {
	var r Request
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&r, id).Error; err != nil {
		return nil, notFound("request.load", id, err)
	}
	if err := tx.Where("request_id = ?", id).Order("position").Find(&r.Photos).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

func appendPhotosTx(tx *gorm.DB, r *Request, refs []string, now time.Time) error {
	if len(refs) == 0 {
		return nil
	}
	next := 0
	for _, p := range r.Photos {
		if p.Position >= next {
			next = p.Position + 1
		}
	}
	added := make([]Photo, 0, len(refs))
	for i, ref := range refs {
		added = append(added, Photo{RequestID: r.ID, Position: next + i, Ref: ref, CreatedAt: now.UTC()})
	}
	if err := tx.Create(&added).Error; err != nil {
		return err
	}
	r.Photos = append(r.Photos, added...)
	return nil
}

func editable(op string, r *Request) error {
	if r.Status.Terminal() {
		return apperr.Conflict(op, "request is %s", r.Status).On("request", r.ID).Wrap(ErrTerminalStatus)
	}
	return nil
}

func cleanRefs(refs []string) []string {
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref = strings.TrimSpace(ref); ref != "" {
			out = append(out, ref)
		}
	}
	return out
}

func notFound(op string, id int64, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(op, "request not found").On("request", id)
	}
	return apperr.FromDB(op, err)
}
