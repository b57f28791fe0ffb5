package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/subhub/internal/audit/domain"
	cashbackdomain "github.com/smallbiznis/subhub/internal/cashback/domain"
	catalogdomain "github.com/smallbiznis/subhub/internal/catalog/domain"
	favoritedomain "github.com/smallbiznis/subhub/internal/favorite/domain"
	ledgerdomain "github.com/smallbiznis/subhub/internal/ledger/domain"
	orderdomain "github.com/smallbiznis/subhub/internal/order/domain"
	"github.com/smallbiznis/subhub/internal/pricing"
	userdomain "github.com/smallbiznis/subhub/internal/user/domain"
	"github.com/smallbiznis/subhub/pkg/db/pagination"
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

	if isValidationError(err) {
		code := validationErrorCode(err)
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
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, userdomain.ErrInsufficientFunds):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "insufficient_funds",
			Message: "balance does not cover the charge",
		}
	case isConflictError(err):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: conflictMessage(err),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case errors.Is(err, ErrServiceUnavailable):
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

// classifyErrorForLog feeds the request logger the same classification clients see.
func classifyErrorForLog(err error) (string, string) {
	if err == nil {
		return "", ""
	}
	status, payload := mapError(err)
	if status >= http.StatusInternalServerError {
		return payload.Type, "internal"
	}
	if len(payload.Errors) > 0 {
		return payload.Type, payload.Errors[0].Code
	}
	return payload.Type, err.Error()
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, pagination.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidTimeRange),
		errors.Is(err, auditdomain.ErrInvalidAction):
		return true
	case isUserValidationError(err),
		isCatalogValidationError(err),
		isOrderValidationError(err),
		isLedgerValidationError(err):
		return true
	default:
		return false
	}
}

func isUserValidationError(err error) bool {
	return errors.Is(err, userdomain.ErrInvalidAmount) ||
		errors.Is(err, userdomain.ErrInvalidUsername) ||
		errors.Is(err, userdomain.ErrInvalidEmail)
}

func isCatalogValidationError(err error) bool {
	return errors.Is(err, catalogdomain.ErrInvalidName) ||
		errors.Is(err, pricing.ErrInvalidBasePrice) ||
		errors.Is(err, pricing.ErrInvalidDiscount) ||
		errors.Is(err, pricing.ErrInvalidPeriod) ||
		errors.Is(err, pricing.ErrInvalidCashback)
}

func isOrderValidationError(err error) bool {
	return errors.Is(err, orderdomain.ErrTariffMismatch) ||
		errors.Is(err, orderdomain.ErrInvalidContact)
}

func isLedgerValidationError(err error) bool {
	return errors.Is(err, ledgerdomain.ErrInvalidAmount) ||
		errors.Is(err, ledgerdomain.ErrInvalidStatus)
}

func isConflictError(err error) bool {
	switch {
	case errors.Is(err, ErrConflict),
		errors.Is(err, userdomain.ErrUsernameTaken),
		errors.Is(err, catalogdomain.ErrSlugTaken),
		errors.Is(err, orderdomain.ErrOrderExists),
		errors.Is(err, orderdomain.ErrAlreadyCancelled),
		errors.Is(err, orderdomain.ErrAlreadyActive),
		errors.Is(err, orderdomain.ErrNotActive),
		errors.Is(err, favoritedomain.ErrAlreadyFavorite),
		errors.Is(err, cashbackdomain.ErrAlreadySettled):
		return true
	default:
		return false
	}
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, orderdomain.ErrOrderExists):
		return "an order for this subscription already exists"
	case errors.Is(err, orderdomain.ErrAlreadyCancelled):
		return "order is already cancelled"
	case errors.Is(err, orderdomain.ErrAlreadyActive):
		return "order is already active"
	case errors.Is(err, orderdomain.ErrNotActive):
		return "order is not active"
	case errors.Is(err, favoritedomain.ErrAlreadyFavorite):
		return "subscription is already a favorite"
	default:
		return "conflict"
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, userdomain.ErrUserNotFound),
		errors.Is(err, catalogdomain.ErrSubscriptionNotFound),
		errors.Is(err, catalogdomain.ErrTariffNotFound),
		errors.Is(err, orderdomain.ErrOrderNotFound),
		errors.Is(err, favoritedomain.ErrNotFavorite),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func validationErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, orderdomain.ErrTariffMismatch):
		return "invalid_tariff"
	default:
		return err.Error()
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

func validationErrorMessage(code string) string {
	switch code {
	case "invalid_request":
		return "invalid request"
	case "invalid_tariff":
		return "tariff does not belong to the subscription"
	case "invalid_amount":
		return "amount must be positive"
	default:
		return "invalid value"
	}
}
