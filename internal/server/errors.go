package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/EF-corp/AgroBotTg/internal/assistant"
	"github.com/EF-corp/AgroBotTg/internal/authorization"
	entitlementdomain "github.com/EF-corp/AgroBotTg/internal/entitlement/domain"
	"github.com/EF-corp/AgroBotTg/internal/gateway"
	"github.com/EF-corp/AgroBotTg/internal/interaction"
	paymentdomain "github.com/EF-corp/AgroBotTg/internal/payment/domain"
	"github.com/EF-corp/AgroBotTg/internal/payment/webhook"
	promodomain "github.com/EF-corp/AgroBotTg/internal/promo/domain"
	ratedomain "github.com/EF-corp/AgroBotTg/internal/rate/domain"
	userdomain "github.com/EF-corp/AgroBotTg/internal/user/domain"
	"github.com/EF-corp/AgroBotTg/internal/userlock"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden")
	ErrConflict           = errors.New("conflict")
	ErrInternal           = errors.New("internal_error")
	ErrNotFound           = errors.New("not_found")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrRateLimited        = errors.New("rate_limited")
	ErrServiceUnavailable = errors.New("service_unavailable")
)

var validationErrors = []error{
	ErrInvalidRequest,
	userdomain.ErrInvalidID,
	userdomain.ErrInvalidPhone,
	ratedomain.ErrInvalidName,
	ratedomain.ErrInvalidType,
	ratedomain.ErrInvalidPrice,
	ratedomain.ErrInvalidGrant,
	promodomain.ErrInvalidCode,
	entitlementdomain.ErrInvalidUsage,
	assistant.ErrEmptyRequest,
	paymentdomain.ErrPhoneRequired,
	paymentdomain.ErrRateNotPayable,
	paymentdomain.ErrInvalidRegPayNum,
	webhook.ErrInvalidPayload,
}

var notFoundErrors = []error{
	ErrNotFound,
	userdomain.ErrUserNotFound,
	ratedomain.ErrRateNotFound,
	promodomain.ErrPromoNotFound,
	interaction.ErrUnknownRoute,
	gorm.ErrRecordNotFound,
}

var conflictErrors = []error{
	ErrConflict,
	userlock.ErrBusy,
	paymentdomain.ErrPaymentInFlight,
	paymentdomain.ErrNoRenewalPossible,
	ratedomain.ErrDuplicateRate,
	ratedomain.ErrRateInUse,
	ratedomain.ErrRateInFlight,
	ratedomain.ErrReservedRate,
	promodomain.ErrDuplicatePromo,
	promodomain.ErrAlreadyRedeemed,
}

var upstreamErrors = []error{
	paymentdomain.ErrPaymentCreation,
	paymentdomain.ErrPaymentFailed,
	paymentdomain.ErrAmountMismatch,
	gateway.ErrRegistration,
	gateway.ErrCardQuery,
	gateway.ErrChargeCreation,
	gateway.ErrStatusCheck,
	gateway.ErrSettlement,
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	if code, ok := validationErrorCode(err); ok {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors: []ValidationError{
				{
					Field:   validationErrorField(code),
					Code:    code,
					Message: validationErrorMessage(code),
				},
			},
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden),
		errors.Is(err, interaction.ErrModelNotAllowed):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, entitlementdomain.ErrInsufficientQuota):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "quota_exhausted",
			Message: interaction.QuotaMessage(),
		}
	case matchesAny(err, notFoundErrors):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case matchesAny(err, conflictErrors):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: conflictMessage(err),
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, paymentdomain.ErrPaymentTimeout):
		return http.StatusGatewayTimeout, errorPayload{
			Type:    "payment_timeout",
			Message: "payment was not completed in time",
		}
	case matchesAny(err, upstreamErrors):
		return http.StatusBadGateway, errorPayload{
			Type:    "payment_error",
			Message: "payment provider error",
		}
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, assistant.ErrUnavailable),
		errors.Is(err, assistant.ErrNotConfigured),
		errors.Is(err, gateway.ErrNotConfigured):
		return http.StatusServiceUnavailable, errorPayload{
			Type:    "service_unavailable",
			Message: "service unavailable",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the request logger's error_type/error_code fields.
func classifyErrorForLog(err error) (string, string) {
	_, payload := mapError(err)
	code := payload.Type
	if len(payload.Errors) > 0 {
		code = payload.Errors[0].Code
	}
	return payload.Type, code
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func validationErrorCode(err error) (string, bool) {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return target.Error(), true
		}
	}
	return "", false
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	if strings.HasSuffix(code, "_required") {
		return strings.TrimSuffix(code, "_required")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "phone_required":
		return "phone number is required for payments"
	case "rate_not_payable":
		return "rate cannot be purchased"
	default:
		return "invalid value"
	}
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, userlock.ErrBusy):
		return "another operation is in progress"
	case errors.Is(err, paymentdomain.ErrPaymentInFlight):
		return "a payment is already in progress"
	default:
		return "conflict"
	}
}

func matchesAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
