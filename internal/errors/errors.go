package errors

import (
	"errors"
	"fmt"

	"github.com/kurihiro0119/runghost/internal/domain"
)

// ErrCode represents an error code
type ErrCode string

const (
	ErrCodeNotFound     ErrCode = "NOT_FOUND"
	ErrCodeUnauthorized ErrCode = "UNAUTHORIZED"
	ErrCodeRateLimited  ErrCode = "RATE_LIMITED"
	ErrCodeInternal     ErrCode = "INTERNAL_ERROR"
	ErrCodeBadRequest   ErrCode = "BAD_REQUEST"
	ErrCodeForbidden    ErrCode = "FORBIDDEN"
	ErrCodeConfig       ErrCode = "CONFIG_ERROR"
	ErrCodeUpstream     ErrCode = "UPSTREAM_ERROR"
	ErrCodeStore        ErrCode = "STORE_ERROR"
	ErrCodeValidation   ErrCode = "VALIDATION_ERROR"
)

// AppError represents an application error
type AppError struct {
	Code    ErrCode
	Message string
	Err     error
	// Status is the upstream HTTP status, when the error came from one
	Status int
	// Rate is the upstream rate-limit state observed with the error
	Rate *domain.RateLimitInfo
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// RateLimit implements domain.RateLimited
func (e *AppError) RateLimit() (domain.RateLimitInfo, bool) {
	if e.Rate == nil {
		return domain.RateLimitInfo{}, false
	}
	return *e.Rate, true
}

// Detailed renders the code, message and cause, for logs
func (e *AppError) Detailed() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// NewUnauthorizedError creates a new unauthorized error
func NewUnauthorizedError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeUnauthorized,
		Message: message,
	}
}

// NewRateLimitedError creates a new rate limited error
func NewRateLimitedError(message string, rate *domain.RateLimitInfo) *AppError {
	return &AppError{
		Code:    ErrCodeRateLimited,
		Message: message,
		Status:  403,
		Rate:    rate,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeInternal,
		Message: message,
		Err:     err,
	}
}

// NewBadRequestError creates a new bad request error
func NewBadRequestError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeBadRequest,
		Message: message,
	}
}

// NewForbiddenError creates a new forbidden error
func NewForbiddenError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeForbidden,
		Message: message,
	}
}

// NewConfigError creates a configuration error (missing identity, missing config directory)
func NewConfigError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeConfig,
		Message: message,
	}
}

// NewUpstreamError creates an upstream transport error
func NewUpstreamError(message string, status int, rate *domain.RateLimitInfo, err error) *AppError {
	return &AppError{
		Code:    ErrCodeUpstream,
		Message: message,
		Err:     err,
		Status:  status,
		Rate:    rate,
	}
}

// NewStoreError creates a store error
func NewStoreError(message string, err error) *AppError {
	msg := message
	if err != nil {
		msg = fmt.Sprintf("%s: %v", message, err)
	}
	return &AppError{
		Code:    ErrCodeStore,
		Message: msg,
		Err:     err,
	}
}

// NewValidationError creates an input validation error
func NewValidationError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeValidation,
		Message: message,
	}
}

// CodeOf returns the code of the first AppError in err's chain
func CodeOf(err error) (ErrCode, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code, true
	}
	return "", false
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == ErrCodeNotFound
}

// IsRateLimited checks if the error is a rate limited error
func IsRateLimited(err error) bool {
	code, ok := CodeOf(err)
	return ok && code == ErrCodeRateLimited
}

// IsValidation checks if the error is an input validation error
func IsValidation(err error) bool {
	code, ok := CodeOf(err)
	return ok && (code == ErrCodeValidation || code == ErrCodeBadRequest)
}
