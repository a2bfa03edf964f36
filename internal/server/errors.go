package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/smallbiznis/scanledger/internal/account/domain"
	"github.com/smallbiznis/scanledger/internal/account/password"
	"github.com/smallbiznis/scanledger/internal/authorization"
	exportdomain "github.com/smallbiznis/scanledger/internal/export/domain"
	"github.com/smallbiznis/scanledger/internal/identity"
	ledgerdomain "github.com/smallbiznis/scanledger/internal/ledger/domain"
	obstracing "github.com/smallbiznis/scanledger/internal/observability/tracing"
	passwordresetdomain "github.com/smallbiznis/scanledger/internal/passwordreset/domain"
	paymentdomain "github.com/smallbiznis/scanledger/internal/payment/domain"
	scandomain "github.com/smallbiznis/scanledger/internal/scan/domain"
	"github.com/smallbiznis/scanledger/pkg/db/pagination"
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
	ErrPayloadTooLarge    = errors.New("payload_too_large")
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
	case errors.Is(err, ErrUnauthorized),
		errors.Is(err, accountdomain.ErrInvalidCredentials),
		errors.Is(err, identity.ErrInvalidToken),
		errors.Is(err, identity.ErrUnresolved):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, ErrConflict),
		errors.Is(err, accountdomain.ErrUsernameTaken),
		errors.Is(err, scandomain.ErrDuplicateScan):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "conflict",
		}
	case errors.Is(err, ledgerdomain.ErrInsufficientBalance):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "insufficient_balance",
			Message: "insufficient tokens",
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, errorPayload{
			Type:    "payload_too_large",
			Message: "payload too large",
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

// classifyErrorForLog feeds the request logger's error_type and error_code
// fields.
func classifyErrorForLog(err error) (string, string) {
	if se, ok := exportdomain.AsStageError(err); ok {
		return se.Kind.String(), string(se.Stage)
	}
	status, payload := mapError(err)
	if status >= http.StatusInternalServerError {
		return payload.Type, err.Error()
	}
	return payload.Type, validationErrorCode(err)
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
		errors.Is(err, password.ErrWeakPassword),
		errors.Is(err, pagination.ErrInvalidPageToken),
		errors.Is(err, accountdomain.ErrInvalidUsername),
		errors.Is(err, accountdomain.ErrInvalidEmail),
		errors.Is(err, accountdomain.ErrInvalidVerificationCode),
		errors.Is(err, accountdomain.ErrNoVerifiedEmail),
		errors.Is(err, ledgerdomain.ErrInvalidAmount),
		errors.Is(err, passwordresetdomain.ErrInvalidToken),
		errors.Is(err, paymentdomain.ErrInvalidSignature),
		errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, scandomain.ErrMissingFields),
		errors.Is(err, scandomain.ErrInvalidScanID):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, accountdomain.ErrAccountNotFound),
		errors.Is(err, accountdomain.ErrEmailNotFound),
		errors.Is(err, ledgerdomain.ErrAccountNotFound),
		errors.Is(err, exportdomain.ErrNotFound),
		errors.Is(err, paymentdomain.ErrProviderNotFound),
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
	case errors.Is(err, password.ErrWeakPassword):
		return "invalid_password"
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
	case "invalid_password":
		return password.ErrWeakPassword.Error()
	case "no_verified_email":
		return "no verified email address on file"
	case "missing_scan_fields":
		return "Missing one of required fields: formId, data, key"
	default:
		return "invalid value"
	}
}

// exportError is the flat body used by the export endpoints.
type exportError struct {
	Error string `json:"error"`
}

// abortExportError writes {"error": message} with the status for err. The
// error is still attached to the context for request logging.
func abortExportError(c *gin.Context, err error) {
	status, message := mapExportError(err)
	if se, ok := exportdomain.AsStageError(err); ok {
		c.Set(obstracing.ContextKeyExportStage, string(se.Stage))
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, exportError{Error: message})
}

func mapExportError(err error) (int, string) {
	if se, ok := exportdomain.AsStageError(err); ok {
		switch se.Kind {
		case exportdomain.KindValidation:
			return http.StatusBadRequest, se.Message
		default:
			return http.StatusInternalServerError, se.Message
		}
	}

	switch {
	case errors.Is(err, exportdomain.ErrInsufficientBalance),
		errors.Is(err, ledgerdomain.ErrInsufficientBalance):
		return http.StatusPaymentRequired, "insufficient tokens"
	case errors.Is(err, exportdomain.ErrNotFound):
		return http.StatusNotFound, "export not found"
	case errors.Is(err, ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, "payload too large"
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, "too many requests"
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable, "service unavailable"
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest, "invalid request body"
	case errors.Is(err, pagination.ErrInvalidPageToken):
		return http.StatusBadRequest, "invalid page token"
	default:
		return http.StatusInternalServerError, "export failed"
	}
}
