package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"posmdesk/internal/database/dbtest"
	"posmdesk/internal/domain/access"
	"posmdesk/internal/domain/audit"
	"posmdesk/internal/domain/reference"
	"posmdesk/internal/domain/request"
	"posmdesk/internal/pkg/keylock"
	"posmdesk/internal/pkg/lease"
)

var (
	admin = access.Actor{UserID: 1, Role: access.RoleAdmin}
	tech  = access.Actor{UserID: 2, Role: access.RoleTech, DepotIDs: []int64{1}}
)

type MockDelivery struct {
	mock.Mock
}

func (m *MockDelivery) Deliver(ctx context.Context, p *Payload) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

type staticDirectory map[int64]Recipient

func (d staticDirectory) Recipients(_ context.Context, ids []int64) ([]Recipient, error) {
	out := []Recipient{}
	for _, id := range ids {
		if r, ok := d[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

type recordingFeed struct {
	mu     sync.Mutex
	events []string
}

func (f *recordingFeed) Publish(_ string, eventType string, _ any) {
	f.mu.Lock()
	f.events = append(f.events, eventType)
	f.mu.Unlock()
}

func (f *recordingFeed) count(eventType string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e == eventType {
			n++
		}
	}
	return n
}

var directory = staticDirectory{
	1: {UserID: 1, Name: "Admin", Email: "admin@example.com"},
	5: {UserID: 5, Name: "Depot Lead", Email: "lead@example.com"},
}

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	models := append(reference.Models(), request.Models()...)
	models = append(models, Models()...)
	models = append(models, &audit.Entry{})
	db := dbtest.Open(t, models...)

	require.NoError(t, db.Create(&[]reference.Depot{{ID: 1, Name: "DepotA"}, {ID: 2, Name: "DepotB"}}).Error)
	require.NoError(t, db.Create(&[]reference.Dealer{
		{ID: 10, Code: "D-10", Name: "Corner Shop", DepotID: 1},
		{ID: 20, Code: "D-20", Name: "Market", DepotID: 2},
	}).Error)
	return db
}

func newEngine(db *gorm.DB, delivery Delivery, l lease.Lease, loc *time.Location, feed Feed) *Engine {
	return NewEngine(db, directory, delivery, l, loc, feed)
}

func newRequestService(db *gorm.DB) *request.Service {
	policy := access.NewPolicy()
	return request.NewService(db, policy, audit.NewRecorder(db, policy, nil), reference.NewRepository(db), keylock.New(), 2*time.Second)
}

func insertReport(t *testing.T, db *gorm.DB, r ScheduledReport) *ScheduledReport {
	t.Helper()
	if r.Name == "" {
		r.Name = "weekly"
	}
	if r.Kind == "" {
		r.Kind = KindWeeklyCompleted
	}
	if len(r.RecipientUserIDs) == 0 {
		r.RecipientUserIDs = []int64{1}
	}
	r.Active = true
	r.CreatedBy = admin.UserID
	require.NoError(t, db.Create(&r).Error)
	return &r
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr[T any](v T) *T { return &v }
