package server

import (
	"strings"

	"github.com/EF-corp/AgroBotTg/internal/authorization"
	"github.com/gin-gonic/gin"
)

type ActorType string

const (
	ActorUser   ActorType = "user"
	ActorAPIKey ActorType = authorization.ActorAPIKey
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
	actor := strings.TrimSpace(c.GetString(contextAdminActor))
	if actor == "" {
		return ErrUnauthorized
	}
	if s.authzSvc == nil {
		return ErrForbidden
	}
	return s.authzSvc.Authorize(c.Request.Context(), actor, strings.TrimSpace(object), strings.TrimSpace(action))
}
