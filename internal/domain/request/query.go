package request

import (
	"context"
	"time"

	"gorm.io/gorm"

	"posmdesk/internal/domain/access"
	"posmdesk/internal/pkg/apperr"
)

// Query filters requests. Zero values mean "no filter"; the service narrows
// the result to what the actor may see before any filter applies.
type Query struct {
	OwnerID  int64
	DepotIDs []int64
	DealerID int64
	Statuses []Status
	JobTypes []JobType
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}

type Page struct {
	Items  []Request `json:"items"`
	Total  int64     `json:"total"`
	Limit  int       `json:"limit"`
	Offset int       `json:"offset"`
}

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// List returns matching requests, most recently requested first.
func (s *Service) List(ctx context.Context, actor access.Actor, q Query) (*Page, error) {
	const op = "request.List"
	if q.From != nil && q.To != nil && q.To.Before(*q.From) {
		return nil, apperr.Validation(op, "date range end is before start")
	}

	db, err := s.scoped(ctx, actor, op, q)
	if err != nil {
		return nil, err
	}
	if q.Limit <= 0 {
		q.Limit = defaultPageSize
	}
	if q.Limit > maxPageSize {
		q.Limit = maxPageSize
	}
	if q.Offset < 0 {
		q.Offset = 0
	}

	page := &Page{Limit: q.Limit, Offset: q.Offset}
	if err := db.Count(&page.Total).Error; err != nil {
		return nil, apperr.FromDB(op, err)
	}
	err = db.Preload("Photos", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Order("requested_date desc, id desc").
		Limit(q.Limit).Offset(q.Offset).
		Find(&page.Items).Error
	if err != nil {
		return nil, apperr.FromDB(op, err)
	}
	return page, nil
}

// Stats counts requests per status within the actor's visibility.
func (s *Service) Stats(ctx context.Context, actor access.Actor, q Query) (map[Status]int64, error) {
	const op = "request.Stats"
	q.Statuses = nil
	db, err := s.scoped(ctx, actor, op, q)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		Status Status
		Count  int64
	}
	if err := db.Select("status, COUNT(*) AS count").Group("status").Scan(&rows).Error; err != nil {
		return nil, apperr.FromDB(op, err)
	}
	out := map[Status]int64{
		StatusPending:   0,
		StatusScheduled: 0,
		StatusCompleted: 0,
		StatusCancelled: 0,
	}
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}

func (s *Service) scoped(ctx context.Context, actor access.Actor, op string, q Query) (*gorm.DB, error) {
	ownerID := q.OwnerID
	depots := q.DepotIDs

	var scope access.Scope
	switch actor.Role {
	case access.RoleAdmin:
		scope = access.Everywhere()
	case access.RoleUser:
		if ownerID != 0 && ownerID != actor.UserID {
			return nil, apperr.Authorization(op, "users may only list their own requests")
		}
		ownerID = actor.UserID
		scope = access.Owned(actor.UserID)
	default:
		if len(depots) == 0 {
			depots = actor.DepotIDs
		}
		scope = access.Depots(depots...)
	}
	if err := s.policy.Check(actor, access.ActionRequestRead, scope); err != nil {
		return nil, err
	}

	db := s.db.WithContext(ctx).Model(&Request{})
	if ownerID != 0 {
		db = db.Where("created_by = ?", ownerID)
	}
	if len(depots) > 0 {
		db = db.Where("depot_id IN ?", depots)
	}
	if q.DealerID > 0 {
		db = db.Where("dealer_id = ?", q.DealerID)
	}
	if len(q.Statuses) > 0 {
		db = db.Where("status IN ?", q.Statuses)
	}
	if len(q.JobTypes) > 0 {
		db = db.Where("job_type IN ?", q.JobTypes)
	}
	if q.From != nil {
		db = db.Where("requested_date >= ?", CivilDate(*q.From))
	}
	if q.To != nil {
		db = db.Where("requested_date <= ?", CivilDate(*q.To))
	}
	return db, nil
}

// ImportRow is one already-parsed legacy record.
type ImportRow struct {
	DealerCode      string
	JobType         JobType
	JobDetail       string
	PosmType        string
	CurrentPosm     string
	Priority        Priority
	Status          Status
	RequestedDate   time.Time
	PlannedDate     *time.Time
	CompletedDate   *time.Time
	CompletionNotes string
	Photos          []string
}

type ImportFailure struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

type ImportResult struct {
	Created  int             `json:"created"`
	IDs      []int64         `json:"ids"`
	Failures []ImportFailure `json:"failures"`
}

// Import loads legacy requests row by row. Legacy rows may lack photos, but
// a row claiming Completed must still satisfy the completion rule.
func (s *Service) Import(ctx context.Context, actor access.Actor, rows []ImportRow) (*ImportResult, error) {
	const op = "request.Import"
	if err := s.policy.Check(actor, access.ActionRequestImport, access.Everywhere()); err != nil {
		return nil, err
	}

	res := &ImportResult{IDs: []int64{}, Failures: []ImportFailure{}}
	for i, row := range rows {
		id, err := s.importRow(ctx, actor, op, row)
		if err != nil {
			res.Failures = append(res.Failures, ImportFailure{Row: i + 1, Reason: err.Error()})
			continue
		}
		res.Created++
		res.IDs = append(res.IDs, id)
	}
	return res, nil
}

func (s *Service) importRow(ctx context.Context, actor access.Actor, op string, row ImportRow) (int64, error) {
	r, err := s.build(ctx, op, CreateInput{
		DealerCode:    row.DealerCode,
		JobType:       row.JobType,
		JobDetail:     row.JobDetail,
		PosmType:      row.PosmType,
		CurrentPosm:   row.CurrentPosm,
		Priority:      row.Priority,
		RequestedDate: row.RequestedDate,
	})
	if err != nil {
		return 0, err
	}

	status := row.Status
	if status == "" {
		status = StatusPending
	}
	if _, ok := ParseStatus(string(status)); !ok {
		return 0, apperr.Validation(op, "unknown status %q", row.Status)
	}
	photos := cleanRefs(row.Photos)
	if status == StatusScheduled && row.PlannedDate == nil {
		return 0, apperr.Precondition(op, "scheduled row has no planned date").Wrap(ErrPlannedDateRequired)
	}
	if status == StatusCompleted && (row.CompletedDate == nil || len(photos) == 0) {
		return 0, apperr.Precondition(op, "completed row needs a completed date and a photo").Wrap(ErrPhotosRequired)
	}

	r.Status = status
	r.PlannedDate = civilPtr(row.PlannedDate)
	r.CreatedBy = actor.UserID
	if status == StatusCompleted {
		r.CompletedDate = civilPtr(row.CompletedDate)
		r.CompletionNotes = row.CompletionNotes
		completer := actor.UserID
		r.CompletedBy = &completer
	}

	if err := s.insert(ctx, actor, r, photos, "imported"); err != nil {
		return 0, apperr.FromDB(op, err)
	}
	return r.ID, nil
}
