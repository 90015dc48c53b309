package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"posmdesk/internal/domain/access"
	"posmdesk/internal/pkg/jwt"
	"posmdesk/internal/pkg/response"
)

const actorKey = "actor"

// JWTAuth validates the bearer token and stores the caller as an
// access.Actor on the context. user_id and role are set too for the loggers.
func JWTAuth(jwtService *jwt.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			response.CustomError(c, http.StatusUnauthorized, "AUTH_HEADER_MISSING", "Authorization header is required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			response.CustomError(c, http.StatusUnauthorized, "INVALID_AUTH_FORMAT", "Authorization header must be 'Bearer <token>'")
			return
		}

		actor, err := ActorFromToken(jwtService, strings.TrimSpace(parts[1]))
		if err != nil {
			response.CustomError(c, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid or expired token")
			return
		}
		actor.Origin = c.ClientIP()
		actor.UserAgent = c.Request.UserAgent()

		c.Set(actorKey, actor)
		c.Set("user_id", actor.UserID)
		c.Set("role", string(actor.Role))
		c.Next()
	}
}

// ActorFromToken turns a token into an actor. Unknown roles are rejected.
func ActorFromToken(jwtService *jwt.Service, token string) (access.Actor, error) {
	claims, err := jwtService.ValidateToken(token)
	if err != nil {
		return access.Actor{}, err
	}
	role, ok := access.ParseRole(claims.Role)
	if !ok || claims.UserID <= 0 {
		return access.Actor{}, errInvalidClaims
	}
	return access.Actor{UserID: claims.UserID, Role: role, DepotIDs: claims.DepotIDs}, nil
}

// Actor returns the authenticated caller set by JWTAuth.
func Actor(c *gin.Context) (access.Actor, bool) {
	v, ok := c.Get(actorKey)
	if !ok {
		return access.Actor{}, false
	}
	actor, ok := v.(access.Actor)
	return actor, ok
}

// MustActor writes a 401 and returns false when no actor is present.
func MustActor(c *gin.Context) (access.Actor, bool) {
	actor, ok := Actor(c)
	if !ok {
		response.CustomError(c, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication required")
	}
	return actor, ok
}
