package server

import (
	obscontext "github.com/EF-corp/AgroBotTg/internal/observability/context"
	"github.com/gin-gonic/gin"
)

const contextUserIDKey = "user_id"

// UserContext resolves the :id path parameter into the telegram user id.
func (s *Server) UserContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := parseUserID(c)
		if !ok {
			return
		}

		c.Set(contextUserIDKey, userID)
		c.Request = c.Request.WithContext(obscontext.WithUserID(c.Request.Context(), userID))
		c.Next()
	}
}

func userIDFromContext(c *gin.Context) int64 {
	return c.GetInt64(contextUserIDKey)
}
