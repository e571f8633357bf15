package server

import (
	"errors"
	"io"
	"net/http"

	paymentdomain "github.com/EF-corp/AgroBotTg/internal/payment/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxNotificationBytes = 64 << 10

// HandlePaymentNotification settles PAYED notifications from the provider.
// Unknown or already settled payments are acknowledged so the provider stops
// retrying; an amount mismatch is acknowledged and logged, never granted.
func (s *Server) HandlePaymentNotification(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxNotificationBytes))
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	outcome, handled, err := s.webhookSvc.Ingest(c.Request.Context(), payload)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrAmountMismatch) {
			s.log.Warn("notification amount rejected", zap.String("reg_pay_num", outcome.RegPayNum), zap.Error(err))
			c.JSON(http.StatusOK, gin.H{"status": "rejected"})
			return
		}
		AbortWithError(c, err)
		return
	}

	status := "ignored"
	switch {
	case outcome.Granted:
		status = "settled"
	case handled:
		status = "already_settled"
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}
