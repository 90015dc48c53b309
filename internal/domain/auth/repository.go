package auth

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"posmdesk/internal/domain/access"
	"posmdesk/internal/domain/reference"
	"posmdesk/internal/domain/schedule"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) DB() *gorm.DB {
	return r.db
}

func (r *Repository) GetByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := r.db.WithContext(ctx).Preload("Depots").
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&u).Error
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *Repository) GetByID(ctx context.Context, id int64) (*User, error) {
	var u User
	if err := r.db.WithContext(ctx).Preload("Depots").First(&u, id).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *Repository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&User{}).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		Count(&count).Error
	return count > 0, err
}

func (r *Repository) List(ctx context.Context) ([]User, error) {
	var users []User
	err := r.db.WithContext(ctx).Preload("Depots").Order("id").Find(&users).Error
	return users, err
}

// Recipients resolves active users for report delivery.
func (r *Repository) Recipients(ctx context.Context, ids []int64) ([]schedule.Recipient, error) {
	if len(ids) == 0 {
		return []schedule.Recipient{}, nil
	}
	var users []User
	if err := r.db.WithContext(ctx).Where("id IN ? AND active = ?", ids, true).Order("id").Find(&users).Error; err != nil {
		return nil, err
	}
	out := make([]schedule.Recipient, 0, len(users))
	for _, u := range users {
		out = append(out, schedule.Recipient{UserID: u.ID, Name: u.Name, Email: u.Email})
	}
	return out, nil
}

// DepotTechs lists the active technicians assigned to a depot.
func (r *Repository) DepotTechs(ctx context.Context, depotID int64) ([]int64, error) {
	ids := []int64{}
	err := r.db.WithContext(ctx).Model(&User{}).
		Joins("JOIN user_depots ON user_depots.user_id = users.id").
		Where("user_depots.depot_id = ? AND users.role = ? AND users.active = ?", depotID, access.RoleTech, true).
		Order("users.id").
		Pluck("users.id", &ids).Error
	return ids, err
}

func depotRefs(ids []int64) []reference.Depot {
	depots := make([]reference.Depot, 0, len(ids))
	for _, id := range ids {
		depots = append(depots, reference.Depot{ID: id})
	}
	return depots
}
