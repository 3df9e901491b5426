package server

import (
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/carepayhq/carepay/internal/actor"
	"github.com/gin-gonic/gin"
)

const actorContextKey = "carepay.actor"

// ActorMiddleware reads the authenticated caller from X-Actor-Id and
// X-Actor-Role. The fronting auth layer sets these after verifying the
// session; this engine never inspects credentials itself.
func ActorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		rawID := strings.TrimSpace(c.GetHeader("X-Actor-Id"))
		rawRole := strings.TrimSpace(c.GetHeader("X-Actor-Role"))
		if rawID == "" || rawRole == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		id, err := snowflake.ParseString(rawID)
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		role := actor.Role(rawRole)
		switch role {
		case actor.RoleClient, actor.RoleProvider, actor.RoleMarketing, actor.RoleAdmin:
		default:
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(actorContextKey, actor.Actor{ID: id, Role: role})
		c.Next()
	}
}

// RequireAdmin gates the admin route group.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		who, ok := actorFrom(c)
		if !ok || !who.IsAdmin() {
			AbortWithError(c, ErrForbidden)
			return
		}
		c.Next()
	}
}

func actorFrom(c *gin.Context) (actor.Actor, bool) {
	value, exists := c.Get(actorContextKey)
	if !exists {
		return actor.Actor{}, false
	}
	who, ok := value.(actor.Actor)
	return who, ok
}
