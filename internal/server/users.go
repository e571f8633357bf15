package server

import (
	"net/http"
	"strings"

	"github.com/EF-corp/AgroBotTg/internal/interaction"
	userdomain "github.com/EF-corp/AgroBotTg/internal/user/domain"
	"github.com/gin-gonic/gin"
)

type ensureUserRequest struct {
	ID        int64  `json:"id"`
	ChatID    int64  `json:"chat_id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type setPhoneRequest struct {
	Phone string `json:"phone"`
}

func (s *Server) EnsureUser(c *gin.Context) {
	var req ensureUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	user, created, err := s.userSvc.Ensure(c.Request.Context(), userdomain.EnsureUserRequest{
		ID:        req.ID,
		ChatID:    req.ChatID,
		Username:  strings.TrimSpace(req.Username),
		FirstName: strings.TrimSpace(req.FirstName),
		LastName:  strings.TrimSpace(req.LastName),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": user, "created": created})
}

func (s *Server) SetPhone(c *gin.Context) {
	var req setPhoneRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.userSvc.SetPhone(c.Request.Context(), userIDFromContext(c), req.Phone); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// GetBalance brings the subscription up to date before reporting the balance.
func (s *Server) GetBalance(c *gin.Context) {
	ctx := c.Request.Context()
	userID := userIDFromContext(c)

	if _, err := s.renewalSvc.Check(ctx, userID); err != nil {
		AbortWithError(c, err)
		return
	}

	balance, err := s.ledgerSvc.Balance(ctx, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": balance, "text": interaction.FormatBalance(balance)})
}

func (s *Server) GetUser(c *gin.Context) {
	userID, ok := parseUserID(c)
	if !ok {
		return
	}

	user, err := s.userSvc.Get(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": user})
}
