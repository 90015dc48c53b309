package reference

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"strings"

	"gorm.io/gorm"

	"posmdesk/internal/pkg/apperr"
)

// Repository reads the reference data the core resolves against. Full CRUD
// of depots, dealers and territories lives outside this service.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) GetDepot(ctx context.Context, id int64) (*Depot, error) {
	var d Depot
	if err := r.db.WithContext(ctx).First(&d, id).Error; err != nil {
		return nil, notFound("reference.GetDepot", "depot", id, err)
	}
	return &d, nil
}

func (r *Repository) ListDepots(ctx context.Context) ([]Depot, error) {
	var depots []Depot
	if err := r.db.WithContext(ctx).Order("name").Find(&depots).Error; err != nil {
		return nil, apperr.FromDB("reference.ListDepots", err)
	}
	return depots, nil
}

func (r *Repository) GetTerritory(ctx context.Context, id int64) (*Territory, error) {
	var t Territory
	if err := r.db.WithContext(ctx).First(&t, id).Error; err != nil {
		return nil, notFound("reference.GetTerritory", "territory", id, err)
	}
	return &t, nil
}

func (r *Repository) GetDealer(ctx context.Context, id int64) (*Dealer, error) {
	var d Dealer
	if err := r.db.WithContext(ctx).First(&d, id).Error; err != nil {
		return nil, notFound("reference.GetDealer", "dealer", id, err)
	}
	return &d, nil
}

func (r *Repository) GetDealerByCode(ctx context.Context, code string) (*Dealer, error) {
	var d Dealer
	if err := r.db.WithContext(ctx).Where("code = ?", strings.TrimSpace(code)).First(&d).Error; err != nil {
		return nil, notFound("reference.GetDealerByCode", "dealer", code, err)
	}
	return &d, nil
}

// SearchDealers matches code or name, optionally within depots.
func (r *Repository) SearchDealers(ctx context.Context, term string, depotIDs []int64, limit int) ([]Dealer, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	q := r.db.WithContext(ctx).Model(&Dealer{})
	if term = strings.TrimSpace(term); term != "" {
		like := "%" + strings.ToLower(term) + "%"
		q = q.Where("LOWER(code) LIKE ? OR LOWER(name) LIKE ?", like, like)
	}
	if len(depotIDs) > 0 {
		q = q.Where("depot_id IN ?", depotIDs)
	}
	var dealers []Dealer
	if err := q.Order("code").Limit(limit).Find(&dealers).Error; err != nil {
		return nil, apperr.FromDB("reference.SearchDealers", err)
	}
	return dealers, nil
}

// DepotsExist fails with NotFound naming every unknown depot.
func (r *Repository) DepotsExist(ctx context.Context, ids ...int64) error {
	const op = "reference.DepotsExist"
	want := slices.Clone(ids)
	slices.Sort(want)
	want = slices.Compact(want)
	if len(want) == 0 {
		return nil
	}

	var found []int64
	if err := r.db.WithContext(ctx).Model(&Depot{}).Where("id IN ?", want).Pluck("id", &found).Error; err != nil {
		return apperr.FromDB(op, err)
	}
	var missing []string
	for _, id := range want {
		if !slices.Contains(found, id) {
			missing = append(missing, strconv.FormatInt(id, 10))
		}
	}
	if len(missing) > 0 {
		return apperr.NotFound(op, "unknown depots %s", strings.Join(missing, ", ")).On("depot", strings.Join(missing, ","))
	}
	return nil
}

func notFound(op, entity string, id any, err error) error {
	classified := apperr.FromDB(op, err)
	if e, ok := classified.(*apperr.Error); ok && errors.Is(e, apperr.ErrNotFound) {
		e.On(entity, id)
		e.Reason = entity + " not found"
	}
	return classified
}
