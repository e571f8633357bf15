package domain

import "time"

// Promo grants a rate's allowance without payment.
type Promo struct {
	Code      string    `json:"code" gorm:"primaryKey;type:varchar(64)"`
	RateName  string    `json:"rate_name" gorm:"type:varchar(64);not null;index"`
	CreatedAt time.Time `json:"created_at" gorm:"not null"`
}

func (Promo) TableName() string { return "promos" }

// Redemption records that a user already used a code.
type Redemption struct {
	Code       string    `json:"code" gorm:"primaryKey;type:varchar(64)"`
	UserID     int64     `json:"user_id" gorm:"primaryKey;autoIncrement:false"`
	RedeemedAt time.Time `json:"redeemed_at" gorm:"not null"`
}

func (Redemption) TableName() string { return "promo_redemptions" }
