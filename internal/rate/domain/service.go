package domain

import (
	"context"
	"errors"
)

type CreateRateRequest struct {
	Name                string   `json:"name"`
	Type                string   `json:"type"`
	NTokens             int64    `json:"n_tokens"`
	NTranscribedSeconds float64  `json:"n_transcribed_seconds"`
	NGeneratedSeconds   float64  `json:"n_generated_seconds"`
	Models              []string `json:"models"`
	Price               int64    `json:"price"`
}

// UpdateRateRequest patches only the fields that are set.
type UpdateRateRequest struct {
	Type                *string   `json:"type"`
	NTokens             *int64    `json:"n_tokens"`
	NTranscribedSeconds *float64  `json:"n_transcribed_seconds"`
	NGeneratedSeconds   *float64  `json:"n_generated_seconds"`
	Models              *[]string `json:"models"`
	Price               *int64    `json:"price"`
}

type Service interface {
	Get(ctx context.Context, name string) (Rate, error)
	List(ctx context.Context) ([]Rate, error)
	Add(ctx context.Context, req CreateRateRequest) (Rate, error)
	Update(ctx context.Context, name string, req UpdateRateRequest) (Rate, error)
	Delete(ctx context.Context, name string) error
	EnsureFree(ctx context.Context) (Rate, error)
}

var (
	ErrInvalidName   = errors.New("invalid_rate_name")
	ErrInvalidType   = errors.New("invalid_rate_type")
	ErrInvalidPrice  = errors.New("invalid_rate_price")
	ErrInvalidGrant  = errors.New("invalid_rate_grant")
	ErrRateNotFound  = errors.New("rate_not_found")
	ErrDuplicateRate = errors.New("duplicate_rate")
	ErrRateInUse     = errors.New("rate_in_use")
	ErrRateInFlight  = errors.New("rate_in_flight")
	ErrReservedRate  = errors.New("reserved_rate")
)
