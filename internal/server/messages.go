package server

import (
	"net/http"

	"github.com/EF-corp/AgroBotTg/internal/interaction"
	"github.com/gin-gonic/gin"
)

func (s *Server) PostMessage(c *gin.Context) {
	var req interaction.MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.interactions.HandleMessage(c.Request.Context(), userIDFromContext(c), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}
