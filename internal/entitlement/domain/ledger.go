package domain

import (
	"context"
	"errors"
	"time"

	ratedomain "github.com/EF-corp/AgroBotTg/internal/rate/domain"
	userdomain "github.com/EF-corp/AgroBotTg/internal/user/domain"
	"github.com/EF-corp/AgroBotTg/pkg/modelset"
	"gorm.io/gorm"
)

// Window periods in whole days.
const (
	DayPeriod   = 1
	WeekPeriod  = 7
	MonthPeriod = 30
)

// Usage is the consumption of a single assistant request.
type Usage struct {
	Tokens            int64   `json:"tokens"`
	TranscribeSeconds float64 `json:"transcribe_seconds"`
	GenerateSeconds   float64 `json:"generate_seconds"`
}

func (u Usage) Validate() error {
	if u.Tokens < 0 || u.TranscribeSeconds < 0 || u.GenerateSeconds < 0 {
		return ErrInvalidUsage
	}
	return nil
}

func (u Usage) IsZero() bool {
	return u.Tokens == 0 && u.TranscribeSeconds == 0 && u.GenerateSeconds == 0
}

// Balance is a read-only snapshot of a user's entitlements.
type Balance struct {
	UserID              int64             `json:"user_id"`
	Rate                string            `json:"rate"`
	NTokens             int64             `json:"n_tokens"`
	NTranscribedSeconds float64           `json:"n_transcribed_seconds"`
	NGenerateSeconds    float64           `json:"n_generate_seconds"`
	Models              []string          `json:"models"`
	LastPay             *time.Time        `json:"last_pay,omitempty"`
	ExpiresAt           *time.Time        `json:"expires_at,omitempty"`
	SpendDay            userdomain.Window `json:"spend_day"`
	SpendWeek           userdomain.Window `json:"spend_week"`
	SpendMonth          userdomain.Window `json:"spend_month"`
	SpendAll            userdomain.Spend  `json:"spend_all"`
}

type Service interface {
	Debit(ctx context.Context, userID int64, usage Usage) (userdomain.User, error)
	Grant(ctx context.Context, tx *gorm.DB, user *userdomain.User, rate ratedomain.Rate) error
	GrantReplace(ctx context.Context, tx *gorm.DB, user *userdomain.User, rate ratedomain.Rate) error
	Balance(ctx context.Context, userID int64) (Balance, error)
}

var (
	ErrInsufficientQuota = errors.New("insufficient_quota")
	ErrInvalidUsage      = errors.New("invalid_usage")
)

// HasSufficient fails when the request would leave nothing of the balance.
func HasSufficient(available, inputCost, outputCost int64) error {
	if available-(inputCost+outputCost) <= 0 {
		return ErrInsufficientQuota
	}
	return nil
}

// Sufficient is HasSufficient without the error.
func Sufficient(available, inputCost, outputCost int64) bool {
	return HasSufficient(available, inputCost, outputCost) == nil
}

// ApplyGrant credits the rate to the user. Tokens top up the current balance
// unless replaceTokens is set; seconds are always replaced and models merged.
func ApplyGrant(user *userdomain.User, rate ratedomain.Rate, replaceTokens bool) {
	if replaceTokens {
		user.NTokens = rate.NTokens
	} else {
		user.NTokens += rate.NTokens
	}
	user.NTranscribedSeconds = rate.NTranscribedSeconds
	user.NGenerateSeconds = rate.NGeneratedSeconds
	user.Models = modelset.Encode(modelset.Union(modelset.Decode(rate.Models), modelset.Decode(user.Models)))
}

// ResetExpiredWindows zeroes every rolling window older than its period.
func ResetExpiredWindows(user *userdomain.User, now time.Time) {
	resetIfExpired(&user.SpendDay, now, DayPeriod)
	resetIfExpired(&user.SpendWeek, now, WeekPeriod)
	resetIfExpired(&user.SpendMonth, now, MonthPeriod)
}

func resetIfExpired(w *userdomain.Window, now time.Time, period int) {
	if w.ResetAt.IsZero() || WholeDays(w.ResetAt, now) > period {
		w.Reset(now)
	}
}

// WholeDays counts complete days between from and to.
func WholeDays(from, to time.Time) int {
	if to.Before(from) {
		return 0
	}
	return int(to.Sub(from) / (24 * time.Hour))
}
