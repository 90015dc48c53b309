package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"posmdesk/internal/database/dbtest"
	"posmdesk/internal/domain/access"
	"posmdesk/internal/domain/audit"
	"posmdesk/internal/domain/reference"
	"posmdesk/internal/domain/request"
	"posmdesk/internal/domain/schedule"
	"posmdesk/internal/pkg/apperr"
	"posmdesk/internal/pkg/keylock"
	"posmdesk/internal/pkg/livefeed"
)

var (
	admin     = access.Actor{UserID: 1, Role: access.RoleAdmin}
	techA     = access.Actor{UserID: 2, Role: access.RoleTech, DepotIDs: []int64{1}}
	requester = access.Actor{UserID: 3, Role: access.RoleUser}
	day       = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
)

type staticStaff map[int64][]int64

func (s staticStaff) DepotTechs(_ context.Context, depotID int64) ([]int64, error) {
	return append([]int64(nil), s[depotID]...), nil
}

type recordingFeed struct {
	mu    sync.Mutex
	rooms []string
}

func (f *recordingFeed) Publish(room, eventType string, _ any) {
	if eventType != livefeed.EventNotification {
		return
	}
	f.mu.Lock()
	f.rooms = append(f.rooms, room)
	f.mu.Unlock()
}

type MockOutbox struct {
	mock.Mock
}

func (m *MockOutbox) PublishNotification(ctx context.Context, n *Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

type fixture struct {
	db       *gorm.DB
	requests *request.Service
	notes    *Service
	feed     *recordingFeed
}

func setup(t *testing.T, outbox Outbox) *fixture {
	t.Helper()
	models := append(reference.Models(), request.Models()...)
	models = append(models, &audit.Entry{}, &Notification{})
	db := dbtest.Open(t, models...)
	require.NoError(t, db.Create(&reference.Depot{ID: 1, Name: "DepotA"}).Error)
	require.NoError(t, db.Create(&reference.Dealer{ID: 10, Code: "D-10", Name: "Corner Shop", DepotID: 1}).Error)

	policy := access.NewPolicy()
	requests := request.NewService(db, policy, audit.NewRecorder(db, policy, nil), reference.NewRepository(db), keylock.New(), 2*time.Second)
	feed := &recordingFeed{}
	notes := NewService(NewRepository(db), staticStaff{1: {2, 5}}, feed, outbox)
	notes.now = func() time.Time { return day.Add(9 * time.Hour) }
	requests.SetNotifier(notes)
	return &fixture{db: db, requests: requests, notes: notes, feed: feed}
}

func (f *fixture) create(t *testing.T, actor access.Actor) *request.Request {
	t.Helper()
	r, err := f.requests.Create(context.Background(), actor, request.CreateInput{
		DealerID: 10,
		JobType:  request.JobInstall,
		PosmType: "Banner",
		Photos:   []string{"blob://p0"},
	})
	require.NoError(t, err)
	return r
}

func (f *fixture) inbox(t *testing.T, userID int64) []Notification {
	t.Helper()
	var items []Notification
	require.NoError(t, f.db.Where("user_id = ?", userID).Order("id").Find(&items).Error)
	return items
}

func TestCreateNotifiesDepotTechs(t *testing.T) {
	f := setup(t, nil)
	r := f.create(t, techA)

	assert.Empty(t, f.inbox(t, techA.UserID), "the creator is not told about their own request")
	items := f.inbox(t, 5)
	require.Len(t, items, 1)
	assert.Equal(t, TypeRequestCreated, items[0].Type)
	require.NotNil(t, items[0].RequestID)
	assert.Equal(t, r.ID, *items[0].RequestID)
	assert.False(t, items[0].IsRead)
	assert.Equal(t, []string{livefeed.UserRoom(5)}, f.feed.rooms)
}

func TestPlanningAndCompletionNotifyOwner(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	r := f.create(t, requester)

	planner := schedule.NewPlanner(access.NewPolicy(), f.requests)
	res, err := planner.PlanBatch(ctx, admin, []int64{r.ID}, day.AddDate(0, 0, 3))
	require.NoError(t, err)
	require.Equal(t, []int64{r.ID}, res.Planned)

	items := f.inbox(t, requester.UserID)
	require.Len(t, items, 1)
	assert.Equal(t, TypeRequestPlanned, items[0].Type)
	assert.Contains(t, items[0].Body, "2026-03-05")
	assert.JSONEq(t, `{"request_id":1,"depot_id":1,"dealer_id":10,"status":"Scheduled","planned_date":"2026-03-05"}`, string(items[0].Data))

	done := day.AddDate(0, 0, 3)
	_, err = f.requests.UpdateStatus(ctx, techA, r.ID, request.StatusCompleted, request.StatusFields{CompletedDate: &done})
	require.NoError(t, err)

	items = f.inbox(t, requester.UserID)
	require.Len(t, items, 2)
	assert.Equal(t, TypeRequestCompleted, items[1].Type)
	assert.Contains(t, f.feed.rooms, livefeed.UserRoom(requester.UserID))
}

func TestCancellationAndOwnActionsStayQuiet(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	own := f.create(t, admin)
	date := day.AddDate(0, 0, 1)
	_, err := f.requests.UpdateStatus(ctx, admin, own.ID, request.StatusScheduled, request.StatusFields{PlannedDate: &date})
	require.NoError(t, err)
	assert.Empty(t, f.inbox(t, admin.UserID))

	r := f.create(t, requester)
	_, err = f.requests.UpdateStatus(ctx, admin, r.ID, request.StatusCancelled, request.StatusFields{})
	require.NoError(t, err)
	assert.Empty(t, f.inbox(t, requester.UserID))
}

func TestFailedTransitionSendsNothing(t *testing.T) {
	f := setup(t, nil)
	r := f.create(t, requester)

	_, err := f.requests.UpdateStatus(context.Background(), admin, r.ID, request.StatusScheduled, request.StatusFields{})
	require.Error(t, err)
	assert.Empty(t, f.inbox(t, requester.UserID))
}

func TestOutboxFailureKeepsInAppCopy(t *testing.T) {
	outbox := &MockOutbox{}
	outbox.On("PublishNotification", mock.Anything, mock.MatchedBy(func(n *Notification) bool {
		return n.UserID == requester.UserID && n.ID > 0
	})).Return(errors.New("rabbitmq: dial: connection refused")).Once()
	outbox.On("PublishNotification", mock.Anything, mock.Anything).Return(nil)

	f := setup(t, outbox)
	r := f.create(t, requester)
	date := day.AddDate(0, 0, 1)
	_, err := f.requests.UpdateStatus(context.Background(), admin, r.ID, request.StatusScheduled, request.StatusFields{PlannedDate: &date})
	require.NoError(t, err, "a notification failure never fails the transition")

	assert.Len(t, f.inbox(t, requester.UserID), 1)
	outbox.AssertExpectations(t)
}

func TestListAndMarkRead(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	tech5 := access.Actor{UserID: 5, Role: access.RoleTech, DepotIDs: []int64{1}}
	f.create(t, requester)
	f.create(t, requester)

	page, err := f.notes.List(ctx, tech5, false, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Total)
	assert.Equal(t, int64(2), page.UnreadCount)
	assert.Equal(t, defaultPageSize, page.Limit)
	require.Len(t, page.Items, 2)
	newest := page.Items[0]
	assert.Greater(t, newest.ID, page.Items[1].ID)

	err = f.notes.MarkRead(ctx, requester, newest.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound, "someone else's notification looks missing")

	require.NoError(t, f.notes.MarkRead(ctx, tech5, newest.ID))
	require.NoError(t, f.notes.MarkRead(ctx, tech5, newest.ID))
	unread, err := f.notes.UnreadCount(ctx, tech5)
	require.NoError(t, err)
	assert.Equal(t, int64(1), unread)

	page, err = f.notes.List(ctx, tech5, true, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)

	n, err := f.notes.MarkAllRead(ctx, tech5)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestCleanupDropsOldReadOnly(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	old := day.AddDate(0, 0, -100)
	readAt := old.Add(time.Hour)
	require.NoError(t, f.db.Create(&[]Notification{
		{UserID: 3, Type: TypeRequestPlanned, Title: "old read", IsRead: true, ReadAt: &readAt, CreatedAt: old},
		{UserID: 3, Type: TypeRequestPlanned, Title: "old unread", CreatedAt: old},
		{UserID: 3, Type: TypeRequestPlanned, Title: "fresh read", IsRead: true, ReadAt: &readAt, CreatedAt: day},
	}).Error)

	deleted, err := f.notes.Cleanup(ctx, DefaultRetention)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	var titles []string
	require.NoError(t, f.db.Model(&Notification{}).Order("id").Pluck("title", &titles).Error)
	assert.Equal(t, []string{"old unread", "fresh read"}, titles)
}
