package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type startPurchaseRequest struct {
	Rate string `json:"rate"`
}

// StartPurchase returns the checkout link; settlement continues in the
// background and its result reaches the user through the notifier.
func (s *Server) StartPurchase(c *gin.Context) {
	var req startPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	rate := strings.TrimSpace(req.Rate)
	if rate == "" {
		AbortWithError(c, newValidationError("rate", "invalid_rate_name", "rate is required"))
		return
	}

	payURL, err := s.interactions.StartPurchase(c.Request.Context(), userIDFromContext(c), rate)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"data": gin.H{"pay_url": payURL, "rate": rate}})
}

func (s *Server) CancelPurchase(c *gin.Context) {
	cancelled, err := s.paymentSvc.CancelPending(c.Request.Context(), userIDFromContext(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"cancelled": cancelled}})
}
