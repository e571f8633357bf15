package gateway

import "errors"

var (
	ErrRegistration   = errors.New("payer_registration_failed")
	ErrCardQuery      = errors.New("card_query_failed")
	ErrChargeCreation = errors.New("charge_creation_failed")
	ErrStatusCheck    = errors.New("status_check_failed")
	ErrSettlement     = errors.New("hold_settlement_failed")
	ErrNotConfigured  = errors.New("gateway_not_configured")
)
