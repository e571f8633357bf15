package domain

import (
	"time"

	"gorm.io/datatypes"
)

const (
	TypeMonthly = "monthly"
	TypeYearly  = "yearly"

	FreeRate = "free"
)

// Rate is a subscription tier and the balances it grants.
type Rate struct {
	Name                string         `gorm:"primaryKey;size:64" json:"name"`
	Type                string         `gorm:"size:16;not null" json:"type"`
	NTokens             int64          `gorm:"column:n_tokens;not null;default:0" json:"n_tokens"`
	NTranscribedSeconds float64        `gorm:"column:n_transcribed_seconds;not null;default:0" json:"n_transcribed_seconds"`
	NGeneratedSeconds   float64        `gorm:"column:n_generated_seconds;not null;default:0" json:"n_generated_seconds"`
	Models              datatypes.JSON `json:"models"`
	Price               int64          `gorm:"not null;default:0" json:"price"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// AmountMinor is the charge in minor currency units.
func (r Rate) AmountMinor() int64 {
	return r.Price * 100
}

// PeriodDays is the subscription length used by renewal checks.
func (r Rate) PeriodDays() int {
	if r.Type == TypeYearly {
		return 365
	}
	return 30
}

func ValidType(t string) bool {
	return t == TypeMonthly || t == TypeYearly
}
