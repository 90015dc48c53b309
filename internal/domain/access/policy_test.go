package access

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"posmdesk/internal/pkg/apperr"
)

func TestPolicyTable(t *testing.T) {
	admin := Actor{UserID: 1, Role: RoleAdmin}
	tech := Actor{UserID: 2, Role: RoleTech, DepotIDs: []int64{10, 11}}
	user := Actor{UserID: 3, Role: RoleUser}

	p := NewPolicy()

	cases := []struct {
		name    string
		actor   Actor
		action  Action
		scope   Scope
		allowed bool
	}{
		{"admin transfers across depots", admin, ActionTransfer, Depots(10, 99), true},
		{"admin manages reports", admin, ActionReportManage, Everywhere(), true},
		{"admin manages backups", admin, ActionBackupManage, Scope{}, true},
		{"admin reads audit", admin, ActionAuditRead, Everywhere(), true},

		{"tech transitions in own depot", tech, ActionRequestTransition, Depots(10), true},
		{"tech transitions in other depot", tech, ActionRequestTransition, Depots(12), false},
		{"tech adjusts own depot", tech, ActionInventoryAdjust, Depots(11), true},
		{"tech reads all depots", tech, ActionInventoryRead, Everywhere(), false},
		{"tech plans batch", tech, ActionPlanBatch, Depots(10, 11), true},
		{"tech cannot transfer", tech, ActionTransfer, Depots(10, 11), false},
		{"tech cannot manage reports", tech, ActionReportManage, Depots(10), false},
		{"tech cannot manage users", tech, ActionUserManage, Depots(10), false},
		{"tech cannot read audit", tech, ActionAuditRead, Depots(10), false},
		{"tech needs a depot scope", tech, ActionInventoryRead, Scope{}, false},

		{"user creates own request", user, ActionRequestCreate, Owned(3, 10), true},
		{"user reads own request", user, ActionRequestRead, Owned(3, 12), true},
		{"user updates other request", user, ActionRequestUpdate, Owned(4, 12), false},
		{"user cannot transition", user, ActionRequestTransition, Owned(3, 10), false},
		{"user cannot read inventory", user, ActionInventoryRead, Depots(10), false},
		{"user cannot import", user, ActionRequestImport, Owned(3), false},

		{"unknown role", Actor{UserID: 9, Role: "guest"}, ActionRequestRead, Owned(9), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := p.Allows(tc.actor, tc.action, tc.scope)
			assert.Equal(t, tc.allowed, d.Allowed, d.Reason)
			if !tc.allowed {
				assert.NotEmpty(t, d.Reason)
			}
		})
	}
}

func TestCheckReturnsAuthorizationError(t *testing.T) {
	p := NewPolicy()
	err := p.Check(Actor{UserID: 2, Role: RoleTech, DepotIDs: []int64{1}}, ActionTransfer, Depots(1, 2))
	assert.ErrorIs(t, err, apperr.ErrAuthorization)
	assert.Contains(t, err.Error(), "transfer.create")

	assert.NoError(t, p.Check(Actor{UserID: 1, Role: RoleAdmin}, ActionTransfer, Depots(1, 2)))
}

func TestActorAuditID(t *testing.T) {
	assert.Nil(t, Actor{}.AuditID())
	id := Actor{UserID: 5}.AuditID()
	if assert.NotNil(t, id) {
		assert.Equal(t, int64(5), *id)
	}
}

func TestParseRole(t *testing.T) {
	r, ok := ParseRole("tech")
	assert.True(t, ok)
	assert.Equal(t, RoleTech, r)
	_, ok = ParseRole("root")
	assert.False(t, ok)
}
