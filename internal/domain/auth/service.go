package auth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"posmdesk/internal/domain/access"
	"posmdesk/internal/domain/audit"
	"posmdesk/internal/pkg/apperr"
)

const (
	maxFailedLoginAttempts = 5
	lockoutDuration        = 15 * time.Minute
)

type tokenIssuer interface {
	GenerateToken(userID int64, role string, depotIDs []int64) (string, error)
}

type DepotChecker interface {
	DepotsExist(ctx context.Context, ids ...int64) error
}

// Service handles login, logout and user administration.
type Service struct {
	users  *Repository
	jwt    tokenIssuer
	policy access.Policy
	audit  *audit.Recorder
	depots DepotChecker
	now    func() time.Time
}

type LoginResult struct {
	User        *User
	AccessToken string
}

func NewService(users *Repository, jwt tokenIssuer, policy access.Policy, recorder *audit.Recorder, depots DepotChecker) *Service {
	return &Service{
		users:  users,
		jwt:    jwt,
		policy: policy,
		audit:  recorder,
		depots: depots,
		now:    time.Now,
	}
}

func (s *Service) Login(ctx context.Context, req LoginRequest, userAgent, ip string) (*LoginResult, error) {
	user, err := s.users.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	now := s.now()
	if !user.Active {
		return nil, ErrAccountInactive
	}
	if user.LockedUntil != nil && user.LockedUntil.After(now) {
		return nil, ErrAccountLocked
	}

	db := s.users.DB().WithContext(ctx).Model(&User{}).Where("id = ?", user.ID)
	if err := CheckPassword(req.Password, user.PasswordHash); err != nil {
		failedAttempts := user.FailedLoginAttempts + 1
		updates := map[string]any{"failed_login_attempts": failedAttempts}
		if failedAttempts >= maxFailedLoginAttempts {
			updates["locked_until"] = now.Add(lockoutDuration)
		}
		if updateErr := db.Updates(updates).Error; updateErr != nil {
			return nil, updateErr
		}
		if failedAttempts >= maxFailedLoginAttempts {
			log.Printf("login_locked user_id=%d ip=%s attempts=%d", user.ID, ip, failedAttempts)
			return nil, ErrAccountLocked
		}
		return nil, ErrInvalidCredentials
	}

	if err := db.Updates(map[string]any{
		"failed_login_attempts": 0,
		"locked_until":          nil,
		"last_login_at":         now,
	}).Error; err != nil {
		return nil, err
	}
	user.FailedLoginAttempts = 0
	user.LockedUntil = nil
	user.LastLoginAt = &now

	token, err := s.jwt.GenerateToken(user.ID, string(user.Role), user.DepotIDs())
	if err != nil {
		return nil, err
	}

	_ = s.audit.Record(ctx, audit.Record{
		Actor:       user.Actor(ip, userAgent),
		Action:      audit.ActionLogin,
		EntityType:  audit.EntityUser,
		EntityID:    user.ID,
		Description: fmt.Sprintf("user %s logged in", user.Email),
	})
	return &LoginResult{User: user, AccessToken: token}, nil
}

// Logout records the session end. Tokens are stateless and simply expire.
func (s *Service) Logout(ctx context.Context, actor access.Actor) error {
	if actor.UserID == 0 {
		return apperr.Authorization("auth.Logout", "no authenticated user")
	}
	_ = s.audit.Record(ctx, audit.Record{
		Actor:       actor,
		Action:      audit.ActionLogout,
		EntityType:  audit.EntityUser,
		EntityID:    actor.UserID,
		Description: fmt.Sprintf("user %d logged out", actor.UserID),
	})
	return nil
}

func (s *Service) GetCurrentUser(ctx context.Context, userID int64) (*User, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, userNotFound("auth.GetCurrentUser", userID, err)
	}
	return u, nil
}

func (s *Service) ListUsers(ctx context.Context, actor access.Actor) ([]User, error) {
	if err := s.policy.Check(actor, access.ActionUserManage, access.Everywhere()); err != nil {
		return nil, err
	}
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, apperr.FromDB("auth.ListUsers", err)
	}
	return users, nil
}

func (s *Service) CreateUser(ctx context.Context, actor access.Actor, req CreateUserRequest) (*User, error) {
	const op = "auth.CreateUser"
	if err := s.policy.Check(actor, access.ActionUserManage, access.Everywhere()); err != nil {
		return nil, err
	}
	u, err := s.newUser(ctx, op, req)
	if err != nil {
		return nil, err
	}
	if err := s.insert(ctx, actor, u); err != nil {
		return nil, err
	}
	return u, nil
}

// EnsureAdmin creates the bootstrap admin when no user has that email yet.
// It runs without an actor, from the ops CLI.
func (s *Service) EnsureAdmin(ctx context.Context, email, name, password string) (*User, bool, error) {
	const op = "auth.EnsureAdmin"
	existing, err := s.users.GetByEmail(ctx, email)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, apperr.FromDB(op, err)
	}

	u, err := s.newUser(ctx, op, CreateUserRequest{Email: email, Name: name, Password: password, Role: string(access.RoleAdmin)})
	if err != nil {
		return nil, false, err
	}
	if err := s.insert(ctx, access.Actor{Origin: "posmctl"}, u); err != nil {
		return nil, false, err
	}
	return u, true, nil
}

// SetDepots replaces a user's depot assignments. Existing tokens keep the
// old assignment until they expire.
func (s *Service) SetDepots(ctx context.Context, actor access.Actor, userID int64, depotIDs []int64) (*User, error) {
	const op = "auth.SetDepots"
	if err := s.policy.Check(actor, access.ActionUserManage, access.Everywhere()); err != nil {
		return nil, err
	}
	if err := s.depots.DepotsExist(ctx, depotIDs...); err != nil {
		return nil, err
	}
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, userNotFound(op, userID, err)
	}

	before := u.fields()
	var trail audit.Trail
	err = s.users.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM user_depots WHERE user_id = ?", u.ID).Error; err != nil {
			return err
		}
		if err := linkDepots(tx, u.ID, depotIDs); err != nil {
			return err
		}
		u.Depots = depotRefs(depotIDs)
		b, a := audit.Changes(before, u.fields())
		s.audit.RecordTx(tx, &trail, audit.Record{
			Actor:       actor,
			Action:      audit.ActionUpdate,
			EntityType:  audit.EntityUser,
			EntityID:    u.ID,
			Before:      b,
			After:       a,
			Description: fmt.Sprintf("user %s depots set to %v", u.Email, depotIDs),
		})
		return nil
	})
	if err != nil {
		return nil, apperr.FromDB(op, err)
	}
	s.audit.Settle(&trail)
	return s.users.GetByID(ctx, userID)
}

func (s *Service) newUser(ctx context.Context, op string, req CreateUserRequest) (*User, error) {
	role, ok := access.ParseRole(req.Role)
	if !ok {
		return nil, apperr.Validation(op, "unknown role %q", req.Role)
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || len(req.Password) < 8 {
		return nil, apperr.Validation(op, "email and a password of at least 8 characters are required")
	}
	exists, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, apperr.FromDB(op, err)
	}
	if exists {
		return nil, apperr.Conflict(op, "email already registered").Wrap(ErrEmailAlreadyExists)
	}
	if len(req.DepotIDs) > 0 {
		if err := s.depots.DepotsExist(ctx, req.DepotIDs...); err != nil {
			return nil, err
		}
	}
	hash, err := HashPassword(req.Password)
	if err != nil {
		return nil, err
	}
	return &User{
		Email:        email,
		PasswordHash: hash,
		Name:         strings.TrimSpace(req.Name),
		Role:         role,
		Active:       true,
		Depots:       depotRefs(req.DepotIDs),
	}, nil
}

func (s *Service) insert(ctx context.Context, actor access.Actor, u *User) error {
	depotIDs := u.DepotIDs()
	var trail audit.Trail
	err := s.users.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Depots").Create(u).Error; err != nil {
			return err
		}
		if err := linkDepots(tx, u.ID, depotIDs); err != nil {
			return err
		}
		s.audit.RecordTx(tx, &trail, audit.Record{
			Actor:       actor,
			Action:      audit.ActionCreate,
			EntityType:  audit.EntityUser,
			EntityID:    u.ID,
			After:       u.fields(),
			Description: fmt.Sprintf("user %s created as %s", u.Email, u.Role),
		})
		return nil
	})
	if err != nil {
		return apperr.FromDB("auth.insert", err)
	}
	s.audit.Settle(&trail)
	return nil
}

func linkDepots(tx *gorm.DB, userID int64, depotIDs []int64) error {
	if len(depotIDs) == 0 {
		return nil
	}
	rows := make([]map[string]any, 0, len(depotIDs))
	for _, id := range depotIDs {
		rows = append(rows, map[string]any{"user_id": userID, "depot_id": id})
	}
	return tx.Table("user_depots").Create(&rows).Error
}

func userNotFound(op string, id int64, err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(op, "user not found").On("user", id)
	}
	return apperr.FromDB(op, err)
}

// HashPassword hashes a plain password string
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword compares a plain password with a hash
func CheckPassword(password, hash string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
