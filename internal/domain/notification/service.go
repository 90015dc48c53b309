// Package notification tells people about request changes that concern them:
// depot technicians hear about new work, owners hear when their request is
// planned or completed.
package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"slices"
	"time"

	"gorm.io/gorm"

	"posmdesk/internal/domain/access"
	"posmdesk/internal/domain/request"
	"posmdesk/internal/pkg/apperr"
	"posmdesk/internal/pkg/livefeed"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	outboxTimeout   = 5 * time.Second
)

// Staff finds the technicians who work a depot.
type Staff interface {
	DepotTechs(ctx context.Context, depotID int64) ([]int64, error)
}

type Feed interface {
	Publish(room, eventType string, payload any)
}

// Outbox forwards stored notifications to an external channel such as a
// mail or push worker.
type Outbox interface {
	PublishNotification(ctx context.Context, n *Notification) error
}

type Service struct {
	repo   *Repository
	staff  Staff
	feed   Feed
	outbox Outbox
	now    func() time.Time
}

// NewService stores notifications in-app. feed and outbox may be nil.
func NewService(repo *Repository, staff Staff, feed Feed, outbox Outbox) *Service {
	return &Service{repo: repo, staff: staff, feed: feed, outbox: outbox, now: time.Now}
}

// RequestCreated tells the depot's technicians about new work.
func (s *Service) RequestCreated(ctx context.Context, actor access.Actor, r *request.Request) {
	techs, err := s.staff.DepotTechs(ctx, r.DepotID)
	if err != nil {
		log.Printf("notification_recipients_failed request_id=%d depot_id=%d error=%q", r.ID, r.DepotID, err)
		return
	}
	techs = slices.DeleteFunc(techs, func(id int64) bool { return id == actor.UserID })

	s.send(ctx, r, techs, TypeRequestCreated,
		"New request",
		fmt.Sprintf("Request #%d (%s) was raised for dealer %d.", r.ID, r.JobType, r.DealerID))
}

// RequestStatusChanged tells the owner their request was planned or
// completed. Owners acting on their own request are not told.
func (s *Service) RequestStatusChanged(ctx context.Context, actor access.Actor, r *request.Request, from request.Status) {
	if r.CreatedBy == 0 || r.CreatedBy == actor.UserID || from == r.Status {
		return
	}

	switch r.Status {
	case request.StatusScheduled:
		s.send(ctx, r, []int64{r.CreatedBy}, TypeRequestPlanned,
			"Request planned",
			fmt.Sprintf("Request #%d is planned for %s.", r.ID, dateString(r.PlannedDate)))
	case request.StatusCompleted:
		s.send(ctx, r, []int64{r.CreatedBy}, TypeRequestCompleted,
			"Request completed",
			fmt.Sprintf("Request #%d was completed on %s.", r.ID, dateString(r.CompletedDate)))
	}
}

// send stores one notification per recipient and then fans them out. The
// request change has already committed, so failures are logged only.
func (s *Service) send(ctx context.Context, r *request.Request, recipients []int64, t Type, title, body string) {
	if len(recipients) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)

	data, err := json.Marshal(Data{
		RequestID:     r.ID,
		DepotID:       r.DepotID,
		DealerID:      r.DealerID,
		Status:        string(r.Status),
		PlannedDate:   dateString(r.PlannedDate),
		CompletedDate: dateString(r.CompletedDate),
	})
	if err != nil {
		log.Printf("notification_encode_failed request_id=%d type=%s error=%q", r.ID, t, err)
		return
	}

	now := s.now().UTC()
	requestID := r.ID
	items := make([]Notification, 0, len(recipients))
	for _, uid := range recipients {
		items = append(items, Notification{
			UserID:    uid,
			Type:      t,
			Title:     title,
			Body:      body,
			RequestID: &requestID,
			Data:      data,
			CreatedAt: now,
		})
	}
	if err := s.repo.Create(ctx, items); err != nil {
		log.Printf("notification_store_failed request_id=%d type=%s recipients=%d error=%q", r.ID, t, len(items), err)
		return
	}

	for i := range items {
		n := &items[i]
		if s.feed != nil {
			s.feed.Publish(livefeed.UserRoom(n.UserID), livefeed.EventNotification, n)
		}
		if s.outbox != nil {
			octx, cancel := context.WithTimeout(ctx, outboxTimeout)
			if err := s.outbox.PublishNotification(octx, n); err != nil {
				log.Printf("notification_outbox_failed id=%d user_id=%d error=%q", n.ID, n.UserID, err)
			}
			cancel()
		}
	}
	log.Printf("notification_sent request_id=%d type=%s recipients=%d", r.ID, t, len(items))
}

type Page struct {
	Items       []Notification `json:"items"`
	Total       int64          `json:"total"`
	UnreadCount int64          `json:"unread_count"`
	Limit       int            `json:"limit"`
	Offset      int            `json:"offset"`
}

// List returns the caller's notifications newest first.
func (s *Service) List(ctx context.Context, actor access.Actor, unreadOnly bool, limit, offset int) (*Page, error) {
	const op = "notification.List"
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}

	items, total, err := s.repo.ListByUser(ctx, actor.UserID, unreadOnly, limit, offset)
	if err != nil {
		return nil, apperr.FromDB(op, err)
	}
	unread, err := s.repo.CountUnread(ctx, actor.UserID)
	if err != nil {
		return nil, apperr.FromDB(op, err)
	}
	return &Page{Items: items, Total: total, UnreadCount: unread, Limit: limit, Offset: offset}, nil
}

func (s *Service) UnreadCount(ctx context.Context, actor access.Actor) (int64, error) {
	n, err := s.repo.CountUnread(ctx, actor.UserID)
	if err != nil {
		return 0, apperr.FromDB("notification.UnreadCount", err)
	}
	return n, nil
}

// MarkRead only touches the caller's own notifications; anyone else's look
// missing.
func (s *Service) MarkRead(ctx context.Context, actor access.Actor, id int64) error {
	const op = "notification.MarkRead"
	err := s.repo.MarkAsRead(ctx, id, actor.UserID, s.now().UTC())
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound(op, "notification %d not found", id).On("notification", id)
	}
	return apperr.FromDB(op, err)
}

func (s *Service) MarkAllRead(ctx context.Context, actor access.Actor) (int64, error) {
	n, err := s.repo.MarkAllAsRead(ctx, actor.UserID, s.now().UTC())
	if err != nil {
		return 0, apperr.FromDB("notification.MarkAllRead", err)
	}
	return n, nil
}

func dateString(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}
