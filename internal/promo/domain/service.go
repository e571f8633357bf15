package domain

import (
	"context"
	"errors"

	userdomain "github.com/EF-corp/AgroBotTg/internal/user/domain"
)

type CreatePromoRequest struct {
	Code     string `json:"code"`
	RateName string `json:"rate_name"`
}

type Service interface {
	Add(ctx context.Context, req CreatePromoRequest) (Promo, error)
	List(ctx context.Context) ([]Promo, error)
	Delete(ctx context.Context, code string) error
	Redeem(ctx context.Context, userID int64, code string) (userdomain.User, error)
}

var (
	ErrInvalidCode     = errors.New("invalid_promo_code")
	ErrPromoNotFound   = errors.New("promo_not_found")
	ErrDuplicatePromo  = errors.New("duplicate_promo")
	ErrAlreadyRedeemed = errors.New("promo_already_redeemed")
)
