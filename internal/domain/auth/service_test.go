package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"posmdesk/internal/database/dbtest"
	"posmdesk/internal/domain/access"
	"posmdesk/internal/domain/audit"
	"posmdesk/internal/domain/reference"
	"posmdesk/internal/pkg/apperr"
	"posmdesk/internal/pkg/jwt"
)

var admin = access.Actor{UserID: 100, Role: access.RoleAdmin, Origin: "10.0.0.1"}

func setupService(t *testing.T) (*Service, *gorm.DB, *jwt.Service) {
	t.Helper()
	models := append(reference.Models(), Models()...)
	models = append(models, &audit.Entry{})
	db := dbtest.Open(t, models...)
	require.NoError(t, db.Create(&[]reference.Depot{{ID: 1, Name: "DepotA"}, {ID: 2, Name: "DepotB"}}).Error)

	policy := access.NewPolicy()
	tokens := jwt.New("test-secret", time.Hour)
	svc := NewService(NewRepository(db), tokens, policy, audit.NewRecorder(db, policy, nil), reference.NewRepository(db))
	return svc, db, tokens
}

func createTech(t *testing.T, svc *Service) *User {
	t.Helper()
	u, err := svc.CreateUser(context.Background(), admin, CreateUserRequest{
		Email:    "Tech@Example.com",
		Name:     "Field Tech",
		Password: "password123",
		Role:     "tech",
		DepotIDs: []int64{1},
	})
	require.NoError(t, err)
	return u
}

func TestLoginIssuesTokenWithDepots(t *testing.T) {
	svc, db, tokens := setupService(t)
	u := createTech(t, svc)
	assert.Equal(t, "tech@example.com", u.Email)

	res, err := svc.Login(context.Background(), LoginRequest{Email: "tech@example.com", Password: "password123"}, "field-app", "10.1.1.1")
	require.NoError(t, err)
	require.NotNil(t, res.User.LastLoginAt)

	claims, err := tokens.ValidateToken(res.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.UserID)
	assert.Equal(t, "tech", claims.Role)
	assert.Equal(t, []int64{1}, claims.DepotIDs)

	var entry audit.Entry
	require.NoError(t, db.Where("action = ?", audit.ActionLogin).First(&entry).Error)
	require.NotNil(t, entry.ActorID)
	assert.Equal(t, u.ID, *entry.ActorID)
	assert.Equal(t, "10.1.1.1", entry.Origin)
	assert.Equal(t, "field-app", entry.UserAgent)
}

func TestLoginLocksAfterRepeatedFailures(t *testing.T) {
	svc, db, _ := setupService(t)
	u := createTech(t, svc)
	ctx := context.Background()

	for i := 0; i < maxFailedLoginAttempts-1; i++ {
		_, err := svc.Login(ctx, LoginRequest{Email: u.Email, Password: "wrong-password"}, "", "")
		assert.ErrorIs(t, err, ErrInvalidCredentials)
	}
	_, err := svc.Login(ctx, LoginRequest{Email: u.Email, Password: "wrong-password"}, "", "")
	assert.ErrorIs(t, err, ErrAccountLocked)

	_, err = svc.Login(ctx, LoginRequest{Email: u.Email, Password: "password123"}, "", "")
	assert.ErrorIs(t, err, ErrAccountLocked, "correct password is refused while locked")

	svc.now = func() time.Time { return time.Now().Add(lockoutDuration + time.Minute) }
	_, err = svc.Login(ctx, LoginRequest{Email: u.Email, Password: "password123"}, "", "")
	require.NoError(t, err)

	var stored User
	require.NoError(t, db.First(&stored, u.ID).Error)
	assert.Zero(t, stored.FailedLoginAttempts)
	assert.Nil(t, stored.LockedUntil)
}

func TestLoginRejectsUnknownAndInactive(t *testing.T) {
	svc, db, _ := setupService(t)
	u := createTech(t, svc)
	ctx := context.Background()

	_, err := svc.Login(ctx, LoginRequest{Email: "nobody@example.com", Password: "password123"}, "", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	require.NoError(t, db.Model(&User{}).Where("id = ?", u.ID).Update("active", false).Error)
	_, err = svc.Login(ctx, LoginRequest{Email: u.Email, Password: "password123"}, "", "")
	assert.ErrorIs(t, err, ErrAccountInactive)
}

func TestCreateUserRules(t *testing.T) {
	svc, db, _ := setupService(t)
	ctx := context.Background()
	u := createTech(t, svc)

	tech := u.Actor("", "")
	_, err := svc.CreateUser(ctx, tech, CreateUserRequest{Email: "x@example.com", Name: "X", Password: "password123", Role: "user"})
	assert.ErrorIs(t, err, apperr.ErrAuthorization)

	_, err = svc.CreateUser(ctx, admin, CreateUserRequest{Email: "TECH@example.com", Name: "Dup", Password: "password123", Role: "user"})
	assert.ErrorIs(t, err, apperr.ErrConflict)
	assert.ErrorIs(t, err, ErrEmailAlreadyExists)

	_, err = svc.CreateUser(ctx, admin, CreateUserRequest{Email: "r@example.com", Name: "R", Password: "password123", Role: "owner"})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = svc.CreateUser(ctx, admin, CreateUserRequest{Email: "r@example.com", Name: "R", Password: "password123", Role: "tech", DepotIDs: []int64{9}})
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	var created audit.Entry
	require.NoError(t, db.Where("action = ? AND entity_type = ?", audit.ActionCreate, audit.EntityUser).First(&created).Error)
	assert.Contains(t, string(created.After), `"role":"tech"`)
	assert.NotContains(t, string(created.After), "password")
}

func TestSetDepotsReplacesAssignments(t *testing.T) {
	svc, db, _ := setupService(t)
	ctx := context.Background()
	u := createTech(t, svc)

	updated, err := svc.SetDepots(ctx, admin, u.ID, []int64{2})
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, updated.DepotIDs())

	var links int64
	require.NoError(t, db.Table("user_depots").Where("user_id = ?", u.ID).Count(&links).Error)
	assert.EqualValues(t, 1, links)

	var entry audit.Entry
	require.NoError(t, db.Where("action = ? AND entity_type = ?", audit.ActionUpdate, audit.EntityUser).First(&entry).Error)
	assert.JSONEq(t, `{"depot_ids":[1]}`, string(entry.Before))
	assert.JSONEq(t, `{"depot_ids":[2]}`, string(entry.After))

	_, err = svc.SetDepots(ctx, admin, 999, []int64{1})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestEnsureAdminIsIdempotent(t *testing.T) {
	svc, _, _ := setupService(t)
	ctx := context.Background()

	first, created, err := svc.EnsureAdmin(ctx, "root@example.com", "Root", "password123")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, access.RoleAdmin, first.Role)

	again, created, err := svc.EnsureAdmin(ctx, "root@example.com", "Root", "other-password")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)
}

func TestRecipientsSkipsInactive(t *testing.T) {
	svc, db, _ := setupService(t)
	ctx := context.Background()
	u := createTech(t, svc)
	other, err := svc.CreateUser(ctx, admin, CreateUserRequest{Email: "ops@example.com", Name: "Ops", Password: "password123", Role: "user"})
	require.NoError(t, err)
	require.NoError(t, db.Model(&User{}).Where("id = ?", other.ID).Update("active", false).Error)

	recipients, err := NewRepository(db).Recipients(ctx, []int64{u.ID, other.ID, 404})
	require.NoError(t, err)
	require.Len(t, recipients, 1)
	assert.Equal(t, "tech@example.com", recipients[0].Email)
}

func TestDepotTechsListsActiveTechsOfDepot(t *testing.T) {
	svc, db, _ := setupService(t)
	ctx := context.Background()
	tech := createTech(t, svc)
	_, err := svc.CreateUser(ctx, admin, CreateUserRequest{
		Email: "north@example.com", Name: "North Tech", Password: "password123", Role: "tech", DepotIDs: []int64{2},
	})
	require.NoError(t, err)

	repo := NewRepository(db)
	ids, err := repo.DepotTechs(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{tech.ID}, ids)

	require.NoError(t, db.Model(&User{}).Where("id = ?", tech.ID).Update("active", false).Error)
	ids, err = repo.DepotTechs(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, ids)
}
