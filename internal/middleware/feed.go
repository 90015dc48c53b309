package middleware

import (
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"posmdesk/internal/domain/access"
	"posmdesk/internal/pkg/jwt"
	"posmdesk/internal/pkg/livefeed"
)

var errFeedToken = errors.New("token is required")

// FeedResolver authenticates websocket upgrades. Browsers cannot set headers
// on the upgrade, so the token may also come from ?token=.
// Everyone starts in their own user room. Admins also start in the ops room
// and may join any depot. Technicians also start in their depot rooms.
func FeedResolver(jwtService *jwt.Service) livefeed.Resolver {
	return func(c *gin.Context) (livefeed.Subscriber, error) {
		token := strings.TrimSpace(c.Query("token"))
		if token == "" {
			if h := c.GetHeader("Authorization"); strings.HasPrefix(strings.ToLower(h), "bearer ") {
				token = strings.TrimSpace(h[len("bearer "):])
			}
		}
		if token == "" {
			return livefeed.Subscriber{}, errFeedToken
		}

		actor, err := ActorFromToken(jwtService, token)
		if err != nil {
			return livefeed.Subscriber{}, err
		}
		return subscriberFor(actor), nil
	}
}

func subscriberFor(actor access.Actor) livefeed.Subscriber {
	sub := livefeed.Subscriber{UserID: actor.UserID}
	switch actor.Role {
	case access.RoleAdmin:
		sub.Rooms = []string{livefeed.RoomOps}
		sub.CanJoin = func(room string) bool {
			return room == livefeed.RoomOps || strings.HasPrefix(room, "depot:")
		}
	case access.RoleTech:
		allowed := make(map[string]bool, len(actor.DepotIDs))
		for _, id := range actor.DepotIDs {
			room := livefeed.DepotRoom(id)
			sub.Rooms = append(sub.Rooms, room)
			allowed[room] = true
		}
		sub.CanJoin = func(room string) bool { return allowed[room] }
	}
	if actor.UserID > 0 {
		sub.Rooms = append(sub.Rooms, livefeed.UserRoom(actor.UserID))
	}
	return sub
}
