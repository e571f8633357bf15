package domain

import (
	"time"

	"gorm.io/datatypes"
)

const FreeRate = "free"

// User is a Telegram account and its remaining entitlements.
type User struct {
	ID                  int64          `gorm:"primaryKey;autoIncrement:false" json:"id"`
	ChatID              int64          `gorm:"not null" json:"chat_id"`
	Username            string         `gorm:"size:64" json:"username"`
	FirstName           string         `gorm:"size:128" json:"first_name"`
	LastName            string         `gorm:"size:128" json:"last_name"`
	Phone               *string        `gorm:"size:32" json:"phone,omitempty"`
	PayerToken          *string        `gorm:"size:128" json:"-"`
	NTokens             int64          `gorm:"column:n_tokens;not null;default:0" json:"n_tokens"`
	NTranscribedSeconds float64        `gorm:"column:n_transcribed_seconds;not null;default:0" json:"n_transcribed_seconds"`
	NGenerateSeconds    float64        `gorm:"column:n_generate_seconds;not null;default:0" json:"n_generate_seconds"`
	Models              datatypes.JSON `json:"models"`
	Rate                string         `gorm:"size:64;not null;index" json:"rate"`
	IsAdmin             bool           `gorm:"not null;default:false" json:"is_admin"`
	LastPay             *time.Time     `json:"last_pay,omitempty"`
	LastUpdate          *time.Time     `json:"last_update,omitempty"`
	LastInteraction     time.Time      `json:"last_interaction"`
	FirstSeen           time.Time      `json:"first_seen"`

	SpendDay   Window `gorm:"embedded;embeddedPrefix:spend_day_" json:"spend_day"`
	SpendWeek  Window `gorm:"embedded;embeddedPrefix:spend_week_" json:"spend_week"`
	SpendMonth Window `gorm:"embedded;embeddedPrefix:spend_month_" json:"spend_month"`
	SpendAll   Spend  `gorm:"embedded;embeddedPrefix:spend_all_" json:"spend_all"`
}

// Spend accumulates consumption of each resource.
type Spend struct {
	Tokens      int64   `gorm:"not null;default:0" json:"tokens"`
	Transcribed float64 `gorm:"not null;default:0" json:"transcribed"`
	Generated   float64 `gorm:"not null;default:0" json:"generated"`
}

// Window is a rolling Spend that is zeroed once ResetAt is older than its period.
type Window struct {
	Tokens      int64     `gorm:"not null;default:0" json:"tokens"`
	Transcribed float64   `gorm:"not null;default:0" json:"transcribed"`
	Generated   float64   `gorm:"not null;default:0" json:"generated"`
	ResetAt     time.Time `json:"reset_at"`
}

// Add accumulates the usage into the window counters.
func (w *Window) Add(tokens int64, transcribed, generated float64) {
	w.Tokens += tokens
	w.Transcribed += transcribed
	w.Generated += generated
}

// Reset zeroes the counters and restarts the window at now.
func (w *Window) Reset(now time.Time) {
	*w = Window{ResetAt: now}
}

// Add accumulates the usage into the spend counters.
func (s *Spend) Add(tokens int64, transcribed, generated float64) {
	s.Tokens += tokens
	s.Transcribed += transcribed
	s.Generated += generated
}

func (u User) HasPayerToken() bool {
	return u.PayerToken != nil && *u.PayerToken != ""
}

func (u User) HasPhone() bool {
	return u.Phone != nil && *u.Phone != ""
}
