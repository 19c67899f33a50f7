package errors

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"
	"github.com/gin-gonic/gin"
)

// ErrorCategory defines the type of error for proper handling.
type ErrorCategory string

const (
	CategoryValidation           ErrorCategory = "validation"
	CategorySourceUnavailable    ErrorCategory = "source_unavailable"
	CategorySourceTimeout        ErrorCategory = "source_timeout"
	CategorySourceMalformed      ErrorCategory = "source_malformed_response"
	CategoryInsufficientEvidence ErrorCategory = "insufficient_evidence"
	CategoryNoEvidence           ErrorCategory = "no_evidence"
	CategorySandbox              ErrorCategory = "sandbox_error"
	CategoryRateLimit            ErrorCategory = "rate_limit"
	CategoryInternal             ErrorCategory = "internal"
)

// AppError wraps an errbuilder error with the category and HTTP status the
// transport layer needs.
type AppError struct {
	*errbuilder.ErrBuilder
	Category   ErrorCategory `json:"category"`
	HTTPStatus int           `json:"http_status"`
	Timestamp  time.Time     `json:"timestamp"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("[%s] %s", strings.ToUpper(string(e.Category)), e.ErrBuilder.Msg)
}

// Unwrap returns the underlying cause.
func (e *AppError) Unwrap() error {
	return e.ErrBuilder.Unwrap()
}

// NewAppError creates an AppError from an errbuilder with additional context.
func NewAppError(builder *errbuilder.ErrBuilder, category ErrorCategory, httpStatus int) *AppError {
	return &AppError{
		ErrBuilder: builder,
		Category:   category,
		HTTPStatus: httpStatus,
		Timestamp:  time.Now(),
	}
}

// NewValidationError creates a validation error.
func NewValidationError(message string) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeInvalidArgument).
		WithMsg(message)

	return NewAppError(builder, CategoryValidation, http.StatusBadRequest)
}

// NewSourceUnavailableError marks a source that could not be reached. The
// collector recovers from these locally; they never abort a round.
func NewSourceUnavailableError(sourceID string, cause error) *AppError {
	errorMap := errbuilder.ErrorMap{}
	errorMap.Set("source_id", errors.New(sourceID))

	builder := errbuilder.New().
		WithCode(errbuilder.CodeUnavailable).
		WithMsg(fmt.Sprintf("source %s unavailable", sourceID)).
		WithDetails(errbuilder.NewErrDetails(errorMap))

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return NewAppError(builder, CategorySourceUnavailable, http.StatusBadGateway)
}

// NewSourceTimeoutError marks a source fetch that blew its ceiling.
func NewSourceTimeoutError(sourceID string, ceiling time.Duration, cause error) *AppError {
	errorMap := errbuilder.ErrorMap{}
	errorMap.Set("source_id", errors.New(sourceID))
	errorMap.Set("ceiling", errors.New(ceiling.String()))

	builder := errbuilder.New().
		WithCode(errbuilder.CodeDeadlineExceeded).
		WithMsg(fmt.Sprintf("source %s exceeded fetch ceiling", sourceID)).
		WithDetails(errbuilder.NewErrDetails(errorMap))

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return NewAppError(builder, CategorySourceTimeout, http.StatusGatewayTimeout)
}

// NewSourceMalformedError marks a source response that could not be mapped to
// an evidence record.
func NewSourceMalformedError(sourceID string, cause error) *AppError {
	errorMap := errbuilder.ErrorMap{}
	errorMap.Set("source_id", errors.New(sourceID))

	builder := errbuilder.New().
		WithCode(errbuilder.CodeInternal).
		WithMsg(fmt.Sprintf("source %s returned a malformed response", sourceID)).
		WithDetails(errbuilder.NewErrDetails(errorMap))

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return NewAppError(builder, CategorySourceMalformed, http.StatusBadGateway)
}

// NewInsufficientEvidenceError is surfaced when a round completes below the
// minimum-evidence floor. Scoring a sparse set would produce a falsely
// confident score.
func NewInsufficientEvidenceError(obtained, expected int, floor float64) *AppError {
	errorMap := errbuilder.ErrorMap{}
	errorMap.Set("coverage", fmt.Errorf("%d/%d records below floor %.2f", obtained, expected, floor))

	builder := errbuilder.New().
		WithCode(errbuilder.CodeFailedPrecondition).
		WithMsg("insufficient evidence collected").
		WithDetails(errbuilder.NewErrDetails(errorMap))

	return NewAppError(builder, CategoryInsufficientEvidence, http.StatusUnprocessableEntity)
}

// NewNoEvidenceError is surfaced when scoring is attempted on an empty set.
// The engine never fabricates a score from nothing.
func NewNoEvidenceError(subject string) *AppError {
	errorMap := errbuilder.ErrorMap{}
	errorMap.Set("subject", errors.New(subject))

	builder := errbuilder.New().
		WithCode(errbuilder.CodeFailedPrecondition).
		WithMsg("no evidence records to score").
		WithDetails(errbuilder.NewErrDetails(errorMap))

	return NewAppError(builder, CategoryNoEvidence, http.StatusUnprocessableEntity)
}

// NewSandboxError marks a failure of the sandbox itself, as opposed to the
// code running inside it.
func NewSandboxError(message string, cause error) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeInternal).
		WithMsg(message)

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return NewAppError(builder, CategorySandbox, http.StatusInternalServerError)
}

// NewRateLimitError creates a rate limit error.
func NewRateLimitError(retryAfter time.Duration) *AppError {
	errorMap := errbuilder.ErrorMap{}
	errorMap.Set("retry_after", errors.New(retryAfter.String()))

	builder := errbuilder.New().
		WithCode(errbuilder.CodeResourceExhausted).
		WithMsg("rate limit exceeded").
		WithDetails(errbuilder.NewErrDetails(errorMap))

	return NewAppError(builder, CategoryRateLimit, http.StatusTooManyRequests)
}

// NewInternalError creates an internal server error.
func NewInternalError(message string, cause error) *AppError {
	builder := errbuilder.New().
		WithCode(errbuilder.CodeInternal).
		WithMsg(message)

	if cause != nil {
		builder = builder.WithCause(cause)
	}

	return NewAppError(builder, CategoryInternal, http.StatusInternalServerError)
}

// ErrorHandler is a gin middleware that provides centralized error handling.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			err := c.Errors.Last().Err
			appErr := ToAppError(err)
			LogError(c, appErr)
			c.JSON(appErr.HTTPStatus, gin.H{
				"error":    appErr.ErrBuilder.Msg,
				"category": appErr.Category,
			})
		}
	}
}

// RecoveryHandler provides panic recovery with structured error responses.
func RecoveryHandler() gin.HandlerFunc {
	return gin.RecoveryWithWriter(nil, func(c *gin.Context, err interface{}) {
		appErr := NewInternalError(
			fmt.Sprintf("panic recovered: %v", err),
			fmt.Errorf("%v", err),
		)

		LogError(c, appErr)
		c.JSON(appErr.HTTPStatus, gin.H{
			"error":    appErr.ErrBuilder.Msg,
			"category": appErr.Category,
		})
	})
}

// ToAppError converts any error to an AppError.
func ToAppError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	if ebErr, ok := err.(*errbuilder.ErrBuilder); ok {
		return NewAppError(ebErr, CategoryInternal, http.StatusInternalServerError)
	}

	if errors.Is(err, context.Canceled) {
		return NewAppError(
			errbuilder.New().WithCode(errbuilder.CodeUnavailable).WithMsg("request cancelled").WithCause(err),
			CategoryInternal, http.StatusServiceUnavailable)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return NewAppError(
			errbuilder.New().WithCode(errbuilder.CodeDeadlineExceeded).WithMsg("request deadline exceeded").WithCause(err),
			CategoryInternal, http.StatusGatewayTimeout)
	}

	return NewInternalError("an unexpected error occurred", err)
}

// IsCategory reports whether err carries the given category.
func IsCategory(err error, category ErrorCategory) bool {
	var appErr *AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Category == category
}

// IsRetryableError reports whether an error should trigger a retry. Only
// transient source failures qualify; evidence-policy and sandbox outcomes
// are final.
func IsRetryableError(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		switch appErr.Category {
		case CategorySourceUnavailable, CategorySourceTimeout, CategoryRateLimit:
			return true
		default:
			return false
		}
	}

	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "timeout")
}

// LogError logs an error with the request context attached.
func LogError(c *gin.Context, err *AppError) {
	logEntry := slog.With(
		"error_category", err.Category,
		"error_code", err.ErrBuilder.ErrCode(),
		"http_status", err.HTTPStatus,
		"ip", c.ClientIP(),
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
	)

	switch err.Category {
	case CategoryValidation, CategoryRateLimit, CategoryInsufficientEvidence, CategoryNoEvidence:
		logEntry.Warn(err.ErrBuilder.Msg)
	case CategorySourceUnavailable, CategorySourceTimeout, CategorySourceMalformed:
		logEntry.Info(err.ErrBuilder.Msg, "cause", err.ErrBuilder.Unwrap())
	default:
		logEntry.Error(err.ErrBuilder.Msg, "cause", err.ErrBuilder.Unwrap())
	}
}

// WrapError wraps an error with additional context.
func WrapError(err error, message string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(message, args...), err)
}

// SafeClose closes a resource and logs any error instead of returning it.
func SafeClose(closer interface{ Close() error }, resourceName string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		slog.Warn("Failed to close resource", "resource", resourceName, "error", err)
	}
}
