package domain

import (
	"context"
	"errors"
)

type Service interface {
	// Purchase charges a new card for the rate and tracks it to a terminal state.
	// onCheckout receives the payment page URL once the charge exists.
	Purchase(ctx context.Context, userID int64, rateName string, onCheckout func(payURL string)) (Outcome, error)
	// Renew charges the last active stored card for the user's current rate.
	Renew(ctx context.Context, userID int64) (Outcome, error)
	// SettleByRegPayNum grants a captured charge. Safe to call repeatedly.
	SettleByRegPayNum(ctx context.Context, regPayNum string, capturedAmount int64) (Outcome, error)
	CancelPending(ctx context.Context, userID int64) (bool, error)
	Pending(ctx context.Context, userID int64) (*PendingPayment, error)
}

// Canceler aborts a user's in-flight operation.
type Canceler interface {
	Cancel(userID int64) bool
}

var (
	ErrPaymentCreation   = errors.New("payment_creation_failed")
	ErrPaymentTimeout    = errors.New("payment_timeout")
	ErrPaymentFailed     = errors.New("payment_failed")
	ErrAmountMismatch    = errors.New("payment_amount_mismatch")
	ErrPaymentInFlight   = errors.New("payment_in_flight")
	ErrNoRenewalPossible = errors.New("no_renewal_possible")
	ErrAlreadySettled    = errors.New("payment_already_settled")
	ErrPhoneRequired     = errors.New("phone_required")
	ErrRateNotPayable    = errors.New("rate_not_payable")
	ErrInvalidRegPayNum  = errors.New("invalid_reg_pay_num")
)
