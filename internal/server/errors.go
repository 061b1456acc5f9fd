package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/tillpoint/internal/audit/domain"
	"github.com/smallbiznis/tillpoint/internal/authorization"
	inventorydomain "github.com/smallbiznis/tillpoint/internal/inventory/domain"
	orderdomain "github.com/smallbiznis/tillpoint/internal/order/domain"
	paymentdomain "github.com/smallbiznis/tillpoint/internal/payment/domain"
	productdomain "github.com/smallbiznis/tillpoint/internal/product/domain"
	"github.com/smallbiznis/tillpoint/internal/ratelimit"
	reportdomain "github.com/smallbiznis/tillpoint/internal/report/domain"
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
	Type   string            `json:"type"`
	Code   string            `json:"code,omitempty"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message"`
	Error   errorPayload `json:"error"`
}

var (
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrInternal       = errors.New("internal_error")
	ErrNotFound       = errors.New("not_found")
	ErrInvalidRequest = errors.New("invalid_request")
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

		status, resp := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, resp)
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

func mapError(err error) (int, errorResponse) {
	if err == nil {
		return http.StatusInternalServerError, failure("internal server error", "internal_error", "")
	}

	if vErr := asValidationErrors(err); vErr != nil {
		resp := failure("validation error", "validation_error", "")
		resp.Error.Errors = vErr.Errors
		return http.StatusBadRequest, resp
	}

	code := errorCode(err)
	switch {
	case isUnauthorizedError(err):
		return http.StatusUnauthorized, failure("unauthorized", "unauthorized", code)
	case isForbiddenError(err):
		return http.StatusForbidden, failure("forbidden", "forbidden", code)
	case isNotFoundError(err):
		return http.StatusNotFound, failure(err.Error(), "not_found", code)
	case errors.Is(err, ratelimit.ErrSettlementThrottled):
		return http.StatusTooManyRequests, failure("too many settlement attempts for this order", "rate_limited", code)
	case isConflictError(err):
		return http.StatusConflict, failure(err.Error(), "conflict", code)
	case isDomainRuleError(err):
		return http.StatusBadRequest, failure(err.Error(), "domain_error", code)
	case isValidationError(err):
		resp := failure("validation error", "validation_error", code)
		resp.Error.Errors = []ValidationError{
			{
				Field:   validationErrorField(code),
				Code:    code,
				Message: err.Error(),
			},
		}
		return http.StatusBadRequest, resp
	default:
		return http.StatusInternalServerError, failure("internal server error", "internal_error", "")
	}
}

func failure(message, errType, code string) errorResponse {
	return errorResponse{
		Success: false,
		Message: message,
		Error:   errorPayload{Type: errType, Code: code},
	}
}

// errorCode returns the code of the first known sentinel in the chain.
func errorCode(err error) string {
	for _, sentinel := range knownErrors {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return ""
}

var knownErrors = []error{
	inventorydomain.ErrInsufficientStock,
	productdomain.ErrProductUnavailable,
	orderdomain.ErrNotSettled,
	orderdomain.ErrInvalidTransition,
	paymentdomain.ErrAlreadySettled,
	paymentdomain.ErrUnderPayment,
	paymentdomain.ErrNotRefundable,
	paymentdomain.ErrIdempotencyConflict,
	paymentdomain.ErrNoReceipt,
	ratelimit.ErrSettlementThrottled,
	ratelimit.ErrSettlementInProgress,
	orderdomain.ErrNotFound,
	paymentdomain.ErrNotFound,
	productdomain.ErrNotFound,
	inventorydomain.ErrNotFound,
	orderdomain.ErrInvalidID,
	orderdomain.ErrInvalidStatus,
	orderdomain.ErrInvalidOrderType,
	orderdomain.ErrEmptyOrder,
	orderdomain.ErrInvalidQuantity,
	orderdomain.ErrInvalidProduct,
	orderdomain.ErrInvalidDiscount,
	orderdomain.ErrInvalidPageToken,
	orderdomain.ErrInvalidTimeRange,
	inventorydomain.ErrInvalidQuantity,
	paymentdomain.ErrInvalidID,
	paymentdomain.ErrInvalidMethod,
	paymentdomain.ErrInvalidStatus,
	paymentdomain.ErrInvalidAmount,
	paymentdomain.ErrInvalidPageToken,
	paymentdomain.ErrInvalidTimeRange,
	reportdomain.ErrInvalidTimeRange,
	reportdomain.ErrRangeTooLarge,
	auditdomain.ErrInvalidPageToken,
	auditdomain.ErrInvalidTimeRange,
	auditdomain.ErrInvalidAction,
	authorization.ErrInvalidActor,
	authorization.ErrInvalidRole,
	authorization.ErrForbidden,
	ErrInvalidRequest,
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isUnauthorizedError(err error) bool {
	switch {
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, authorization.ErrInvalidActor),
		errors.Is(err, authorization.ErrInvalidRole):
		return true
	default:
		return false
	}
}

func isForbiddenError(err error) bool {
	return errors.Is(err, ErrForbidden) || errors.Is(err, authorization.ErrForbidden)
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, orderdomain.ErrNotFound),
		errors.Is(err, paymentdomain.ErrNotFound),
		errors.Is(err, productdomain.ErrNotFound),
		errors.Is(err, inventorydomain.ErrNotFound),
		errors.Is(err, paymentdomain.ErrNoReceipt),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}

func isConflictError(err error) bool {
	return errors.Is(err, paymentdomain.ErrIdempotencyConflict) ||
		errors.Is(err, ratelimit.ErrSettlementInProgress)
}

// isDomainRuleError covers requests that were well formed but broke a
// business rule. They answer 400 with the rule in the message.
func isDomainRuleError(err error) bool {
	switch {
	case errors.Is(err, inventorydomain.ErrInsufficientStock),
		errors.Is(err, productdomain.ErrProductUnavailable),
		errors.Is(err, orderdomain.ErrInvalidTransition),
		errors.Is(err, orderdomain.ErrNotSettled),
		errors.Is(err, paymentdomain.ErrAlreadySettled),
		errors.Is(err, paymentdomain.ErrUnderPayment),
		errors.Is(err, paymentdomain.ErrNotRefundable):
		return true
	default:
		return false
	}
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, orderdomain.ErrInvalidID),
		errors.Is(err, orderdomain.ErrInvalidStatus),
		errors.Is(err, orderdomain.ErrInvalidOrderType),
		errors.Is(err, orderdomain.ErrEmptyOrder),
		errors.Is(err, orderdomain.ErrInvalidQuantity),
		errors.Is(err, orderdomain.ErrInvalidProduct),
		errors.Is(err, orderdomain.ErrInvalidDiscount),
		errors.Is(err, orderdomain.ErrInvalidPageToken),
		errors.Is(err, orderdomain.ErrInvalidTimeRange),
		errors.Is(err, inventorydomain.ErrInvalidQuantity),
		errors.Is(err, paymentdomain.ErrInvalidID),
		errors.Is(err, paymentdomain.ErrInvalidMethod),
		errors.Is(err, paymentdomain.ErrInvalidStatus),
		errors.Is(err, paymentdomain.ErrInvalidAmount),
		errors.Is(err, paymentdomain.ErrInvalidPageToken),
		errors.Is(err, paymentdomain.ErrInvalidTimeRange),
		errors.Is(err, reportdomain.ErrInvalidTimeRange),
		errors.Is(err, reportdomain.ErrRangeTooLarge),
		errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidTimeRange),
		errors.Is(err, auditdomain.ErrInvalidAction):
		return true
	default:
		return false
	}
}

func validationErrorField(code string) string {
	if code == "invalid_request" || code == "" {
		return "request"
	}
	if strings.HasPrefix(code, "invalid_") {
		return strings.TrimPrefix(code, "invalid_")
	}
	return ""
}

// classifyErrorForLog feeds error_type and error_code to the request log.
func classifyErrorForLog(err error) (string, string) {
	_, resp := mapError(err)
	return resp.Error.Type, resp.Error.Code
}
