package domain

import (
	"time"

	"github.com/EF-corp/AgroBotTg/internal/gateway"
	"github.com/bwmarrin/snowflake"
)

type Kind string

const (
	KindPurchase Kind = "purchase"
	KindRenewal  Kind = "renewal"
)

// PendingPayment is the transient outbox row of a charge being tracked.
// user_id as primary key allows one in-flight charge per user.
type PendingPayment struct {
	UserID    int64        `json:"user_id" gorm:"primaryKey;autoIncrement:false"`
	RegPayNum string       `json:"reg_pay_num" gorm:"type:varchar(64);not null;uniqueIndex"`
	OrderID   snowflake.ID `json:"order_id" gorm:"not null"`
	Amount    int64        `json:"amount" gorm:"not null"`
	RateName  string       `json:"rate_name" gorm:"type:varchar(64);not null;index"`
	Kind      Kind         `json:"kind" gorm:"type:varchar(16);not null"`
	CreatedAt time.Time    `json:"created_at" gorm:"not null"`
}

func (PendingPayment) TableName() string { return "pending_payments" }

// PollPolicy drives the status poll loop. A failed status request ends the
// charge as failed unless RetryErrors is set, in which case the loop keeps
// polling until the budget runs out.
type PollPolicy struct {
	Interval    time.Duration
	Budget      time.Duration
	Terminal    func(gateway.Status) bool
	RetryErrors bool
}

func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		Interval: 500 * time.Millisecond,
		Budget:   time.Hour,
		Terminal: gateway.Status.Terminal,
	}
}

func (p PollPolicy) IsTerminal(status gateway.Status) bool {
	if p.Terminal == nil {
		return status.Terminal()
	}
	return p.Terminal(status)
}

// Outcome reports how a tracked charge ended.
type Outcome struct {
	UserID         int64          `json:"user_id"`
	RegPayNum      string         `json:"reg_pay_num"`
	Rate           string         `json:"rate"`
	Kind           Kind           `json:"kind"`
	Status         gateway.Status `json:"status"`
	Amount         int64          `json:"amount"`
	Granted        bool           `json:"granted"`
	AlreadySettled bool           `json:"already_settled"`
}

const (
	OutcomeCaptured       = "captured"
	OutcomeAlreadySettled = "already_settled"
	OutcomeFailed         = "failed"
	OutcomeAmountMismatch = "amount_mismatch"
	OutcomeTimedOut       = "timed_out"
	OutcomeCancelled      = "cancelled"
)
