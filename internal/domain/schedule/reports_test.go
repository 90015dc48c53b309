package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"posmdesk/internal/domain/access"
	"posmdesk/internal/domain/audit"
	"posmdesk/internal/domain/reference"
	"posmdesk/internal/pkg/apperr"
	"posmdesk/internal/pkg/lease"
)

func newReportService(t *testing.T, delivery Delivery) (*ReportService, *gorm.DB) {
	t.Helper()
	db := openDB(t)
	policy := access.NewPolicy()
	engine := newEngine(db, delivery, lease.NewMemory(), time.UTC, nil)
	return NewReportService(db, policy, audit.NewRecorder(db, policy, nil), reference.NewRepository(db), engine, delivery), db
}

func weeklyInput() ReportInput {
	return ReportInput{
		Name:             "Weekly completed",
		Kind:             KindWeeklyCompleted,
		Recurrence:       Recurrence{Weekday: 6, Hour: 23, Minute: 59},
		Active:           true,
		DepotIDs:         []int64{1},
		RecipientUserIDs: []int64{1, 5},
	}
}

func TestReportLifecycleIsAudited(t *testing.T) {
	svc, db := newReportService(t, LogDelivery{})
	ctx := context.Background()

	r, err := svc.Create(ctx, admin, weeklyInput())
	require.NoError(t, err)
	assert.True(t, r.Active)
	assert.Equal(t, []int64{1, 5}, []int64(r.RecipientUserIDs))

	in := weeklyInput()
	in.Active = false
	in.Recurrence = Recurrence{Weekday: 0, Hour: 8, Minute: 30}
	updated, err := svc.Update(ctx, admin, r.ID, in)
	require.NoError(t, err)
	assert.False(t, updated.Active)
	assert.Equal(t, 0, updated.Weekday)

	got, err := svc.Get(ctx, admin, r.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
	assert.Equal(t, 8, got.Hour)

	list, err := svc.List(ctx, admin)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, svc.Delete(ctx, admin, r.ID))
	_, err = svc.Get(ctx, admin, r.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, admin, r.ID), apperr.ErrNotFound)

	var actions []audit.Action
	require.NoError(t, db.Model(&audit.Entry{}).Where("entity_type = ?", audit.EntityScheduledReport).Order("id").Pluck("action", &actions).Error)
	assert.Equal(t, []audit.Action{audit.ActionCreate, audit.ActionUpdate, audit.ActionDelete}, actions)
}

func TestReportValidation(t *testing.T) {
	svc, _ := newReportService(t, LogDelivery{})
	ctx := context.Background()

	cases := map[string]func(*ReportInput){
		"no name":        func(in *ReportInput) { in.Name = " " },
		"bad kind":       func(in *ReportInput) { in.Kind = "monthly" },
		"weekday 7":      func(in *ReportInput) { in.Recurrence.Weekday = 7 },
		"no recipients":  func(in *ReportInput) { in.RecipientUserIDs = nil },
		"bad status":     func(in *ReportInput) { in.StatusFilter = []string{"Done"} },
		"bad job type":   func(in *ReportInput) { in.JobTypeFilter = []string{"Paint"} },
		"negative range": func(in *ReportInput) { in.RangeDays = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			in := weeklyInput()
			mutate(&in)
			_, err := svc.Create(ctx, admin, in)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}

	in := weeklyInput()
	in.DepotIDs = []int64{42}
	_, err := svc.Create(ctx, admin, in)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = svc.Create(ctx, tech, weeklyInput())
	assert.ErrorIs(t, err, apperr.ErrAuthorization)
}

func TestTestSendStampsLastSentAt(t *testing.T) {
	delivery := new(MockDelivery)
	delivery.On("Deliver", mock.Anything, mock.MatchedBy(func(p *Payload) bool { return p.Test })).Return(nil).Once()
	svc, db := newReportService(t, delivery)
	svc.now = func() time.Time { return sundayLate }
	ctx := context.Background()

	r, err := svc.Create(ctx, admin, weeklyInput())
	require.NoError(t, err)

	p, err := svc.TestSend(ctx, admin, r.ID)
	require.NoError(t, err)
	assert.True(t, p.Test)
	assert.Len(t, p.Recipients, 2)
	delivery.AssertExpectations(t)

	var stored ScheduledReport
	require.NoError(t, db.First(&stored, r.ID).Error)
	require.NotNil(t, stored.LastSentAt)
	assert.True(t, stored.LastSentAt.Equal(sundayLate))

	_, err = svc.TestSend(ctx, tech, r.ID)
	assert.ErrorIs(t, err, apperr.ErrAuthorization)
}

func TestTickAfterManualRetryIsSkipped(t *testing.T) {
	delivery := new(MockDelivery)
	delivery.On("Deliver", mock.Anything, mock.Anything).Return(errors.New("broker unreachable")).Once()
	delivery.On("Deliver", mock.Anything, mock.Anything).Return(nil).Twice()
	svc, _ := newReportService(t, delivery)
	ctx := context.Background()

	r, err := svc.Create(ctx, admin, weeklyInput())
	require.NoError(t, err)

	res, err := svc.engine.TickOnce(ctx, sundayLate)
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)

	svc.now = func() time.Time { return sundayLate.Add(10 * time.Second) }
	_, err = svc.TestSend(ctx, admin, r.ID)
	require.NoError(t, err)

	res, err = svc.engine.TickOnce(ctx, sundayLate.Add(30*time.Second))
	require.NoError(t, err)
	assert.Empty(t, res.Fired)
	assert.Equal(t, []int64{r.ID}, res.Skipped)
	delivery.AssertNumberOfCalls(t, "Deliver", 2)

	res, err = svc.engine.TickOnce(ctx, sundayLate.AddDate(0, 0, 7))
	require.NoError(t, err)
	assert.Equal(t, []int64{r.ID}, res.Fired, "next week's window is unaffected")
	delivery.AssertExpectations(t)
}
