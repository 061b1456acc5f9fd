package server

import (
	"strings"

	"github.com/gin-gonic/gin"
)

func (s *Server) authorizeAction(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := s.authorizeActionWithContext(c, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func (s *Server) authorizeActionWithContext(c *gin.Context, object string, action string) error {
	if !s.cfg.AuthzEnabled {
		return nil
	}
	actorID, role := actorFromGin(c)
	if strings.TrimSpace(actorID) == "" {
		return ErrUnauthorized
	}
	if s.authzSvc == nil {
		return ErrForbidden
	}
	return s.authzSvc.Authorize(c.Request.Context(), actorID, role, strings.TrimSpace(object), strings.TrimSpace(action))
}
