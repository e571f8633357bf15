package interaction

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/EF-corp/AgroBotTg/internal/assistant"
	entitlementdomain "github.com/EF-corp/AgroBotTg/internal/entitlement/domain"
	"github.com/EF-corp/AgroBotTg/pkg/modelset"
	"go.uber.org/zap"
)

const AttachmentVoice = "voice"

var ErrModelNotAllowed = errors.New("model_not_allowed")

type MessageRequest struct {
	Text        string                 `json:"text"`
	Model       string                 `json:"model"`
	History     []assistant.Message    `json:"history"`
	Attachments []assistant.Attachment `json:"attachments"`
}

type MessageResult struct {
	Reply        string                  `json:"reply"`
	Voice        bool                    `json:"voice"`
	VoiceSeconds float64                 `json:"voice_seconds"`
	Usage        entitlementdomain.Usage `json:"usage"`
	NTokens      int64                   `json:"n_tokens"`
}

// HandleMessage runs one chat turn: quota gate, assistant call, then debit.
// A user has at most one message in flight.
func (d *Dispatcher) HandleMessage(ctx context.Context, userID int64, req MessageRequest) (MessageResult, error) {
	if err := d.checkSubscription(ctx, userID); err != nil {
		return MessageResult{}, err
	}

	h, err := d.messages.Acquire(ctx, userID)
	if err != nil {
		return MessageResult{}, err
	}
	defer d.messages.Release(h)
	ctx = h.Context()

	user, err := d.users.Get(ctx, userID)
	if err != nil {
		return MessageResult{}, err
	}
	if err := entitlementdomain.HasSufficient(user.NTokens, 0, 0); err != nil {
		d.metrics.RecordQuotaDenied(ctx, "messages")
		return MessageResult{}, err
	}
	model := strings.TrimSpace(req.Model)
	if model != "" && !modelset.Contains(user.Models, model) {
		return MessageResult{}, fmt.Errorf("%w: %s", ErrModelNotAllowed, model)
	}

	var transcribe float64
	for _, a := range req.Attachments {
		if a.Kind == AttachmentVoice {
			transcribe += a.Duration
		}
	}
	if transcribe > 0 && user.NTranscribedSeconds < transcribe {
		d.metrics.RecordQuotaDenied(ctx, "transcription")
		return MessageResult{}, fmt.Errorf("%w: transcription", entitlementdomain.ErrInsufficientQuota)
	}

	reply, err := d.backend.Submit(ctx, assistant.Request{
		UserID:      userID,
		Model:       model,
		History:     req.History,
		Text:        req.Text,
		Attachments: req.Attachments,
	})
	if err != nil {
		return MessageResult{}, err
	}

	usage := entitlementdomain.Usage{
		Tokens:            reply.InputTokens + reply.OutputTokens,
		TranscribeSeconds: transcribe,
	}
	voice := reply.WantsVoice && user.NGenerateSeconds > 0
	if voice {
		usage.GenerateSeconds = reply.VoiceSeconds
	}

	// A produced reply is always charged, even if the caller disconnected.
	debited, err := d.ledger.Debit(context.WithoutCancel(ctx), userID, usage)
	if err != nil {
		d.log.Error("debit after reply", zap.Int64("user_id", userID), zap.Error(err))
		return MessageResult{}, err
	}

	result := MessageResult{
		Reply:   reply.Text,
		Voice:   voice,
		Usage:   usage,
		NTokens: debited.NTokens,
	}
	if voice {
		result.VoiceSeconds = reply.VoiceSeconds
	}
	return result, nil
}

// QuotaMessage is the text shown when a request is refused for lack of balance.
func QuotaMessage() string {
	return textQuotaExhausted
}
