package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/EF-corp/AgroBotTg/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// StatePayed is the provider state that settles a charge.
const StatePayed = "PAYED"

var ErrInvalidPayload = errors.New("invalid_notification_payload")

// Notification is the provider callback body. Amount is in minor units.
type Notification struct {
	RegPayNum    string          `json:"regPayNum"`
	Amount       int64           `json:"amount"`
	State        string          `json:"state"`
	ApprovalCode string          `json:"approvalCode"`
	CardPan      *string         `json:"cardPan"`
	RRN          *string         `json:"rrn"`
	Created      *string         `json:"created"`
	Result       json.RawMessage `json:"result"`
}

type Service interface {
	Ingest(ctx context.Context, payload []byte) (domain.Outcome, bool, error)
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Payments domain.Service
}

type service struct {
	log      *zap.Logger
	payments domain.Service
}

func NewService(p Params) Service {
	return &service{
		log:      p.Log.Named("payment.webhook"),
		payments: p.Payments,
	}
}

// Ingest settles PAYED notifications. The bool reports whether the
// notification was acted on; other states are acknowledged and ignored.
func (s *service) Ingest(ctx context.Context, payload []byte) (domain.Outcome, bool, error) {
	var n Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return domain.Outcome{}, false, ErrInvalidPayload
	}
	n.RegPayNum = strings.TrimSpace(n.RegPayNum)
	if n.RegPayNum == "" {
		return domain.Outcome{}, false, ErrInvalidPayload
	}
	if !strings.EqualFold(strings.TrimSpace(n.State), StatePayed) {
		s.log.Debug("notification ignored", zap.String("reg_pay_num", n.RegPayNum), zap.String("state", n.State))
		return domain.Outcome{}, false, nil
	}

	outcome, err := s.payments.SettleByRegPayNum(ctx, n.RegPayNum, n.Amount)
	if err != nil {
		s.log.Warn("notification settlement failed", zap.String("reg_pay_num", n.RegPayNum), zap.Error(err))
		return outcome, true, err
	}
	if outcome.Granted {
		s.log.Info("notification settled payment",
			zap.String("reg_pay_num", n.RegPayNum),
			zap.Int64("user_id", outcome.UserID),
			zap.String("rate", outcome.Rate),
		)
	}
	return outcome, true, nil
}
