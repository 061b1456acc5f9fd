package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	obscontext "github.com/smallbiznis/tillpoint/internal/observability/context"
)

// Identity is established by the gateway in front of this service and
// forwarded in these headers.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"

	contextActorIDKey   = "actor_id"
	contextActorRoleKey = "actor_role"
)

// ActorContext copies the forwarded identity into the request context so
// services can stamp processed_by and audit rows.
func ActorContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID := strings.TrimSpace(c.GetHeader(HeaderActorID))
		role := strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderActorRole)))
		if actorID != "" || role != "" {
			c.Set(contextActorIDKey, actorID)
			c.Set(contextActorRoleKey, role)
			c.Request = c.Request.WithContext(obscontext.WithActor(c.Request.Context(), role, actorID))
		}
		c.Next()
	}
}

// RequireActor rejects requests that carry no identity.
func RequireActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.TrimSpace(c.GetString(contextActorIDKey)) == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

func actorFromGin(c *gin.Context) (string, string) {
	return c.GetString(contextActorIDKey), c.GetString(contextActorRoleKey)
}
