// Package errors provides categorized errors that carry an HTTP status.
//
// Repositories and services return these so the API layer can map any
// failure to a status and a stable code without inspecting messages.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/insta-extractor/internal/types"
)

// ErrorCategory groups errors by who is at fault
type ErrorCategory string

const (
	CategorySystem        ErrorCategory = "system"
	CategoryProvider      ErrorCategory = "provider" // upstream extraction API
	CategoryDatabase      ErrorCategory = "database"
	CategoryValidation    ErrorCategory = "validation"
	CategoryAuthorization ErrorCategory = "authorization"
	CategoryNotFound      ErrorCategory = "not_found"
	CategoryConflict      ErrorCategory = "conflict"
	CategoryBilling       ErrorCategory = "billing" // coin balance
)

// Error codes shared with the API layer
const (
	CodeNotFound          = "NOT_FOUND"
	CodeUpdateFailed      = "UPDATE_FAILED"
	CodeInsufficientCoins = "INSUFFICIENT_COINS"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeInvalidParameter  = "INVALID_PARAMETER"
	CodeConflict          = "CONFLICT"
	CodeProviderError     = "PROVIDER_ERROR"
	CodeProviderRateLimit = "PROVIDER_RATE_LIMIT"
	CodeDatabaseError     = "DATABASE_ERROR"
	CodeInternalError     = "INTERNAL_ERROR"
)

// CategorizedError is an error with a category, a stable code and the HTTP
// status the API answers with
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

func (e *CategorizedError) Error() string {
	if e.Cause == nil {
		return e.Code + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
}

func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// ToServiceError drops the category and cause for the response body
func (e *CategorizedError) ToServiceError() *types.ServiceError {
	return &types.ServiceError{Code: e.Code, Message: e.Message, Details: e.Details}
}

func newError(category ErrorCategory, status int, code, message string) *CategorizedError {
	return &CategorizedError{Category: category, StatusCode: status, Code: code, Message: message}
}

// with adds detail pairs: key, value, key, value...
func (e *CategorizedError) with(kv ...interface{}) *CategorizedError {
	if e.Details == nil {
		e.Details = make(map[string]interface{}, len(kv)/2)
	}
	for i := 0; i+1 < len(kv); i += 2 {
		e.Details[kv[i].(string)] = kv[i+1]
	}
	return e
}

// NewInvalidParameterError reports a rejected request field
func NewInvalidParameterError(param string, reason string) *CategorizedError {
	return newError(CategoryValidation, http.StatusBadRequest, CodeInvalidParameter,
		fmt.Sprintf("invalid parameter '%s': %s", param, reason)).
		with("parameter", param, "reason", reason)
}

// NewInsufficientCoinsError is returned when a job costs more than the balance
func NewInsufficientCoinsError(required, available int64) *CategorizedError {
	return newError(CategoryBilling, http.StatusBadRequest, CodeInsufficientCoins,
		fmt.Sprintf("insufficient coins: job costs %d, balance is %d", required, available)).
		with("required", required, "available", available)
}

func NewUnauthorizedError(message string) *CategorizedError {
	return newError(CategoryAuthorization, http.StatusUnauthorized, CodeUnauthorized, message)
}

func NewForbiddenError(message string) *CategorizedError {
	return newError(CategoryAuthorization, http.StatusForbidden, CodeForbidden, message)
}

// NewNotFoundError reports a missing user or job
func NewNotFoundError(resource string, id string) *CategorizedError {
	return newError(CategoryNotFound, http.StatusNotFound, CodeNotFound,
		fmt.Sprintf("%s not found: %s", resource, id)).
		with("resource", resource, "id", id)
}

func NewConflictError(message string) *CategorizedError {
	return newError(CategoryConflict, http.StatusConflict, CodeConflict, message)
}

func NewInternalError(message string, cause error) *CategorizedError {
	e := newError(CategorySystem, http.StatusInternalServerError, CodeInternalError, message)
	e.Cause = cause
	return e
}

// NewDatabaseError wraps a failed query; operation names it in logs
func NewDatabaseError(operation string, cause error) *CategorizedError {
	e := newError(CategoryDatabase, http.StatusInternalServerError, CodeDatabaseError,
		"database error during "+operation).with("operation", operation)
	e.Cause = cause
	return e
}

// NewUpdateFailedError is returned when a write reports no affected row
func NewUpdateFailedError(resource string, id string) *CategorizedError {
	return newError(CategoryDatabase, http.StatusInternalServerError, CodeUpdateFailed,
		fmt.Sprintf("failed to update %s: %s", resource, id)).
		with("resource", resource, "id", id)
}

// NewProviderError wraps a failure of the upstream API after retries
func NewProviderError(provider string, cause error) *CategorizedError {
	e := newError(CategoryProvider, http.StatusBadGateway, CodeProviderError,
		"upstream provider error: "+provider).with("provider", provider)
	e.Cause = cause
	return e
}

// NewProviderRateLimitError is a 429 from the upstream API that outlived retries
func NewProviderRateLimitError(provider string) *CategorizedError {
	return newError(CategoryProvider, http.StatusTooManyRequests, CodeProviderRateLimit,
		"upstream provider rate limit exceeded: "+provider).with("provider", provider)
}

// Categorize returns the CategorizedError in err's chain, or wraps err as an
// internal error. A nil err stays nil.
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	var svcErr *types.ServiceError
	if stderrors.As(err, &svcErr) {
		e := newError(CategorySystem, http.StatusInternalServerError, svcErr.Code, svcErr.Message)
		e.Details = svcErr.Details
		return e
	}

	return NewInternalError("unexpected error", err)
}

// HasCode reports whether err, or anything it wraps, is a CategorizedError with code
func HasCode(err error, code string) bool {
	var catErr *CategorizedError
	return stderrors.As(err, &catErr) && catErr.Code == code
}

func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable reports whether repeating the operation may succeed: provider
// and database failures are, user errors are not.
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}
	switch catErr.Category {
	case CategoryProvider, CategoryDatabase:
		return true
	case CategorySystem:
		return catErr.StatusCode == http.StatusServiceUnavailable ||
			catErr.StatusCode == http.StatusGatewayTimeout
	}
	return false
}

// IsUserError reports a 4xx error
func IsUserError(err error) bool {
	catErr := Categorize(err)
	return catErr != nil && catErr.StatusCode >= 400 && catErr.StatusCode < 500
}
