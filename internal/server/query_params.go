package server

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

func parseUserID(c *gin.Context) (int64, bool) {
	userID, err := strconv.ParseInt(strings.TrimSpace(c.Param("id")), 10, 64)
	if err != nil || userID <= 0 {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid user id"))
		return 0, false
	}
	return userID, true
}

func pathName(c *gin.Context, key string) (string, bool) {
	value := strings.TrimSpace(c.Param(key))
	if value == "" {
		AbortWithError(c, newValidationError(key, "invalid_"+key, "invalid "+key))
		return "", false
	}
	return value, true
}
