package schedule

import (
	"context"
	"time"

	"posmdesk/internal/domain/access"
	"posmdesk/internal/domain/request"
	"posmdesk/internal/pkg/apperr"
)

// Scheduler is the part of the request service the planner drives.
type Scheduler interface {
	UpdateStatus(ctx context.Context, actor access.Actor, id int64, next request.Status, f request.StatusFields) (*request.Request, error)
}

type PlanFailure struct {
	RequestID int64  `json:"request_id"`
	Kind      string `json:"kind"`
	Reason    string `json:"reason"`
}

type PlanResult struct {
	Planned  []int64       `json:"planned"`
	Failures []PlanFailure `json:"failures"`
}

// Planner schedules batches of requests. Each request is an independent
// transition, so one failure never undoes the others.
type Planner struct {
	policy   access.Policy
	requests Scheduler
}

func NewPlanner(policy access.Policy, requests Scheduler) *Planner {
	return &Planner{policy: policy, requests: requests}
}

func (p *Planner) PlanBatch(ctx context.Context, actor access.Actor, ids []int64, plannedDate time.Time) (*PlanResult, error) {
	const op = "schedule.PlanBatch"
	scope := access.Everywhere()
	if actor.Role != access.RoleAdmin {
		scope = access.Depots(actor.DepotIDs...)
	}
	if err := p.policy.Check(actor, access.ActionPlanBatch, scope); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, apperr.Validation(op, "no request ids given")
	}
	if plannedDate.IsZero() {
		return nil, apperr.Validation(op, "planned date is required").Wrap(request.ErrPlannedDateRequired)
	}

	res := &PlanResult{Planned: []int64{}, Failures: []PlanFailure{}}
	seen := make(map[int64]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		if err := ctx.Err(); err != nil {
			res.Failures = append(res.Failures, PlanFailure{RequestID: id, Kind: apperr.Name(err), Reason: err.Error()})
			continue
		}
		date := plannedDate
		_, err := p.requests.UpdateStatus(ctx, actor, id, request.StatusScheduled, request.StatusFields{PlannedDate: &date})
		if err != nil {
			res.Failures = append(res.Failures, PlanFailure{RequestID: id, Kind: apperr.Name(err), Reason: err.Error()})
			continue
		}
		res.Planned = append(res.Planned, id)
	}
	return res, nil
}
