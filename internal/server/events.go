package server

import (
	"net/http"
	"strings"

	"github.com/EF-corp/AgroBotTg/internal/interaction"
	"github.com/gin-gonic/gin"
)

const (
	eventTypeCommand = "command"
	eventTypeButton  = "button"
)

type eventRequest struct {
	Type   string `json:"type"`
	ChatID int64  `json:"chat_id"`
	Name   string `json:"name"`
	Args   string `json:"args"`
	Data   string `json:"data"`
}

// DispatchEvent runs a bot command or button press and returns the texts the
// handler produced, including when the handler fails.
func (s *Server) DispatchEvent(c *gin.Context) {
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	userID := userIDFromContext(c)
	chatID := req.ChatID
	if chatID == 0 {
		chatID = userID
	}

	transcript := &interaction.Transcript{}
	var ev interaction.InboundEvent
	switch strings.ToLower(strings.TrimSpace(req.Type)) {
	case eventTypeCommand:
		ev = interaction.DirectCommand{User: userID, Chat: chatID, Name: req.Name, Arguments: req.Args, Out: transcript}
	case eventTypeButton:
		ev = interaction.ButtonPress{User: userID, Chat: chatID, Data: req.Data, Out: transcript}
	default:
		AbortWithError(c, newValidationError("type", "invalid_type", "type must be command or button"))
		return
	}

	if err := s.interactions.Dispatch(c.Request.Context(), ev); err != nil {
		abortWithReplies(c, err, transcript.Lines())
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"route": ev.Route(), "replies": transcript.Lines()}})
}

func (s *Server) RedeemPromo(c *gin.Context) {
	var req struct {
		Code string `json:"code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	userID := userIDFromContext(c)
	transcript := &interaction.Transcript{}
	ev := interaction.DirectCommand{User: userID, Chat: userID, Name: "promo", Arguments: req.Code, Out: transcript}
	if err := s.interactions.Dispatch(c.Request.Context(), ev); err != nil {
		abortWithReplies(c, err, transcript.Lines())
		return
	}

	balance, err := s.ledgerSvc.Balance(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": balance, "replies": transcript.Lines()})
}

// abortWithReplies writes the mapped error and keeps any chat replies the
// handler produced before failing.
func abortWithReplies(c *gin.Context, err error, replies []string) {
	if len(replies) == 0 {
		AbortWithError(c, err)
		return
	}
	_ = c.Error(err)
	status, payload := mapError(err)
	c.AbortWithStatusJSON(status, gin.H{"error": payload, "replies": replies})
}
