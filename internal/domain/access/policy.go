package access

import (
	"fmt"
	"slices"

	"posmdesk/internal/pkg/apperr"
)

type Role string

const (
	RoleAdmin Role = "admin"
	RoleTech  Role = "tech"
	RoleUser  Role = "user"
)

func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleAdmin, RoleTech, RoleUser:
		return Role(s), true
	}
	return "", false
}

type Action string

const (
	ActionRequestCreate     Action = "request.create"
	ActionRequestRead       Action = "request.read"
	ActionRequestUpdate     Action = "request.update"
	ActionRequestTransition Action = "request.transition"
	ActionRequestImport     Action = "request.import"
	ActionInventoryRead     Action = "inventory.read"
	ActionInventoryAdjust   Action = "inventory.adjust"
	ActionInventoryRegister Action = "inventory.register"
	ActionTransfer          Action = "transfer.create"
	ActionTransferRead      Action = "transfer.read"
	ActionPlanBatch         Action = "schedule.plan"
	ActionReportManage      Action = "report.manage"
	ActionReportSend        Action = "report.send"
	ActionAuditRead         Action = "audit.read"
	ActionUserManage        Action = "user.manage"
	ActionBackupManage      Action = "backup.manage"
)

// Actor is the resolved caller of a core operation. It is threaded through
// every service call; nothing in the core reads a global session.
type Actor struct {
	UserID    int64
	Role      Role
	DepotIDs  []int64
	Origin    string
	UserAgent string
}

func (a Actor) HasDepot(depotID int64) bool {
	return slices.Contains(a.DepotIDs, depotID)
}

// AuditID is the actor id as stored in audit entries; nil for system work.
func (a Actor) AuditID() *int64 {
	if a.UserID == 0 {
		return nil
	}
	id := a.UserID
	return &id
}

// Scope is the target of an operation: the depots it touches and, for
// request-level actions, the request owner.
type Scope struct {
	DepotIDs  []int64
	AllDepots bool
	OwnerID   int64
}

func Depots(ids ...int64) Scope { return Scope{DepotIDs: ids} }

func Everywhere() Scope { return Scope{AllDepots: true} }

func Owned(ownerID int64, depotIDs ...int64) Scope {
	return Scope{OwnerID: ownerID, DepotIDs: depotIDs}
}

type grant int

const (
	anyDepot grant = iota + 1
	assignedDepots
	ownRecords
)

var capabilities = map[Role]map[Action]grant{
	RoleTech: {
		ActionRequestCreate:     assignedDepots,
		ActionRequestRead:       assignedDepots,
		ActionRequestUpdate:     assignedDepots,
		ActionRequestTransition: assignedDepots,
		ActionInventoryRead:     assignedDepots,
		ActionInventoryAdjust:   assignedDepots,
		ActionInventoryRegister: assignedDepots,
		ActionTransferRead:      assignedDepots,
		ActionPlanBatch:         assignedDepots,
	},
	RoleUser: {
		ActionRequestCreate: ownRecords,
		ActionRequestRead:   ownRecords,
		ActionRequestUpdate: ownRecords,
	},
}

type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(format string, args ...any) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}

// Policy is the single capability table consulted before every core
// operation. It has no state and no side effects.
type Policy struct{}

func NewPolicy() Policy { return Policy{} }

func (Policy) Allows(actor Actor, action Action, scope Scope) Decision {
	if actor.Role == RoleAdmin {
		return allow()
	}

	table, ok := capabilities[actor.Role]
	if !ok {
		return deny("unknown role %q", actor.Role)
	}
	g, ok := table[action]
	if !ok {
		return deny("role %s may not perform %s", actor.Role, action)
	}

	switch g {
	case anyDepot:
		return allow()
	case assignedDepots:
		if scope.AllDepots {
			return deny("role %s is limited to assigned depots", actor.Role)
		}
		if len(scope.DepotIDs) == 0 {
			return deny("no depot scope for %s", action)
		}
		for _, id := range scope.DepotIDs {
			if !actor.HasDepot(id) {
				return deny("depot %d is outside the assigned depots", id)
			}
		}
		return allow()
	case ownRecords:
		if actor.UserID == 0 || scope.OwnerID != actor.UserID {
			return deny("role %s may only act on own requests", actor.Role)
		}
		return allow()
	}
	return deny("no grant for %s", action)
}

// Check is Allows turned into an AuthorizationError on denial.
func (p Policy) Check(actor Actor, action Action, scope Scope) error {
	d := p.Allows(actor, action, scope)
	if d.Allowed {
		return nil
	}
	return apperr.Authorization(string(action), "%s", d.Reason)
}
