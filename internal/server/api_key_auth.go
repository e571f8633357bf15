package server

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

const (
	HeaderActingUser   = "X-Acting-User"
	contextAdminActor  = "admin_actor"
	bearerPrefixScheme = "Bearer"
)

func newAdminKeyCheck(hash string) func(key string) bool {
	hash = strings.TrimSpace(hash)
	return func(key string) bool {
		if hash == "" || key == "" {
			return false
		}
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
	}
}

// AdminRequired authenticates the console bearer key. When the bot relays a
// command from a telegram admin it names that user in X-Acting-User and the
// request is authorized with the user's role instead of the key's.
func (s *Server) AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		if header == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		parts := strings.Fields(header)
		if len(parts) != 2 || parts[0] != bearerPrefixScheme || strings.TrimSpace(parts[1]) == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if !s.adminKeyCheck(parts[1]) {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		actor := string(ActorAPIKey)
		if acting := strings.TrimSpace(c.GetHeader(HeaderActingUser)); acting != "" {
			userID, err := strconv.ParseInt(acting, 10, 64)
			if err != nil || userID <= 0 {
				AbortWithError(c, ErrUnauthorized)
				return
			}
			actor = string(ActorUser) + ":" + strconv.FormatInt(userID, 10)
		}

		c.Set(contextAdminActor, actor)
		c.Next()
	}
}
