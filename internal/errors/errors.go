package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorCategory represents the category of an error
type ErrorCategory string

const (
	// CategoryValidation represents caller data failing structural constraints
	CategoryValidation ErrorCategory = "validation"
	// CategoryInvalidState represents a transition illegal for the current lifecycle state
	CategoryInvalidState ErrorCategory = "invalid_state"
	// CategoryNotFound represents not found errors
	CategoryNotFound ErrorCategory = "not_found"
	// CategoryAuthorization represents permission errors
	CategoryAuthorization ErrorCategory = "authorization"
	// CategoryConflict represents uniqueness conflicts
	CategoryConflict ErrorCategory = "conflict"
	// CategoryDispatch represents a failed notification delivery
	CategoryDispatch ErrorCategory = "dispatch"
	// CategorySystem represents system errors (5xx)
	CategorySystem ErrorCategory = "system"
	// CategoryDatabase represents database errors
	CategoryDatabase ErrorCategory = "database"
	// CategoryCache represents cache errors
	CategoryCache ErrorCategory = "cache"
)

// Error codes surfaced to callers
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeInvalidState       = "INVALID_STATE"
	CodeRecruitingCooldown = "RECRUITING_COOLDOWN"
	CodeEmailCooldown      = "EMAIL_RESEND_COOLDOWN"
	CodeNotFound           = "NOT_FOUND"
	CodePermission         = "PERMISSION_DENIED"
	CodeConflict           = "CONFLICT"
	CodeDispatchFailure    = "DISPATCH_FAILURE"
	CodeInternal           = "INTERNAL_ERROR"
	CodeDatabase           = "DATABASE_ERROR"
	CodeCache              = "CACHE_ERROR"
)

// CategorizedError represents an error with category and HTTP status code
type CategorizedError struct {
	Category   ErrorCategory
	StatusCode int
	Code       string
	Message    string
	Details    map[string]interface{}
	Cause      error
}

// Error implements the error interface
func (e *CategorizedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *CategorizedError) Unwrap() error {
	return e.Cause
}

// NewValidationError creates a validation error for a single field
func NewValidationError(field string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Code:       CodeValidation,
		Message:    fmt.Sprintf("invalid %s: %s", field, reason),
		Details: map[string]interface{}{
			"field":  field,
			"reason": reason,
		},
	}
}

// NewInvalidStateError creates an error for an illegal lifecycle transition
func NewInvalidStateError(resource string, reason string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryInvalidState,
		StatusCode: http.StatusConflict,
		Code:       CodeInvalidState,
		Message:    fmt.Sprintf("%s: %s", resource, reason),
		Details: map[string]interface{}{
			"resource": resource,
		},
	}
}

// NewRecruitingCooldownError is raised when recruiting is toggled again too soon
func NewRecruitingCooldownError(path string, retryAfter time.Duration) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryInvalidState,
		StatusCode: http.StatusTooManyRequests,
		Code:       CodeRecruitingCooldown,
		Message:    fmt.Sprintf("recruiting for study %s can be changed again in %s", path, retryAfter.Round(time.Second)),
		Details: map[string]interface{}{
			"path":       path,
			"retryAfter": retryAfter.Seconds(),
		},
	}
}

// NewEmailCooldownError is raised when a verification email is requested too soon
func NewEmailCooldownError(retryAfter time.Duration) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryInvalidState,
		StatusCode: http.StatusTooManyRequests,
		Code:       CodeEmailCooldown,
		Message:    fmt.Sprintf("verification email can be resent in %s", retryAfter.Round(time.Second)),
		Details: map[string]interface{}{
			"retryAfter": retryAfter.Seconds(),
		},
	}
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string, id string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryNotFound,
		StatusCode: http.StatusNotFound,
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found: %s", resource, id),
		Details: map[string]interface{}{
			"resource": resource,
			"id":       id,
		},
	}
}

// NewPermissionError creates an error for an actor lacking manager rights
func NewPermissionError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryAuthorization,
		StatusCode: http.StatusForbidden,
		Code:       CodePermission,
		Message:    message,
	}
}

// NewConflictError creates a conflict error
func NewConflictError(message string) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryConflict,
		StatusCode: http.StatusConflict,
		Code:       CodeConflict,
		Message:    message,
	}
}

// NewDispatchFailure records one recipient's failed delivery
func NewDispatchFailure(channel string, recipient string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDispatch,
		StatusCode: http.StatusBadGateway,
		Code:       CodeDispatchFailure,
		Message:    fmt.Sprintf("%s delivery to %s failed", channel, recipient),
		Cause:      cause,
		Details: map[string]interface{}{
			"channel":   channel,
			"recipient": recipient,
		},
	}
}

// NewInternalError creates an internal server error
func NewInternalError(message string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategorySystem,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeInternal,
		Message:    message,
		Cause:      cause,
	}
}

// NewDatabaseError creates a database error
func NewDatabaseError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryDatabase,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeDatabase,
		Message:    fmt.Sprintf("database error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// NewCacheError creates a cache error
func NewCacheError(operation string, cause error) *CategorizedError {
	return &CategorizedError{
		Category:   CategoryCache,
		StatusCode: http.StatusInternalServerError,
		Code:       CodeCache,
		Message:    fmt.Sprintf("cache error during %s", operation),
		Cause:      cause,
		Details: map[string]interface{}{
			"operation": operation,
		},
	}
}

// Categorize categorizes an existing error
func Categorize(err error) *CategorizedError {
	if err == nil {
		return nil
	}

	var catErr *CategorizedError
	if stderrors.As(err, &catErr) {
		return catErr
	}

	return NewInternalError("unexpected error", err)
}

func hasCategory(err error, category ErrorCategory) bool {
	var catErr *CategorizedError
	return stderrors.As(err, &catErr) && catErr.Category == category
}

func hasCode(err error, code string) bool {
	var catErr *CategorizedError
	return stderrors.As(err, &catErr) && catErr.Code == code
}

// IsValidation reports whether err is a validation error
func IsValidation(err error) bool { return hasCategory(err, CategoryValidation) }

// IsInvalidState reports whether err is an illegal-transition error, cooldowns included
func IsInvalidState(err error) bool { return hasCategory(err, CategoryInvalidState) }

// IsRecruitingCooldown reports whether err is a recruiting cooldown error
func IsRecruitingCooldown(err error) bool { return hasCode(err, CodeRecruitingCooldown) }

// IsEmailCooldown reports whether err is a verification email cooldown error
func IsEmailCooldown(err error) bool { return hasCode(err, CodeEmailCooldown) }

// IsNotFound reports whether err is a not found error
func IsNotFound(err error) bool { return hasCategory(err, CategoryNotFound) }

// IsPermission reports whether err is a permission error
func IsPermission(err error) bool { return hasCategory(err, CategoryAuthorization) }

// IsConflict reports whether err is a uniqueness conflict
func IsConflict(err error) bool { return hasCategory(err, CategoryConflict) }

// IsDispatchFailure reports whether err is a delivery failure
func IsDispatchFailure(err error) bool { return hasCategory(err, CategoryDispatch) }

// GetHTTPStatusCode returns the HTTP status code for an error
func GetHTTPStatusCode(err error) int {
	if catErr := Categorize(err); catErr != nil {
		return catErr.StatusCode
	}
	return http.StatusInternalServerError
}

// IsRetryable determines if an error is retryable
func IsRetryable(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	switch catErr.Category {
	case CategoryDatabase, CategoryCache, CategoryDispatch:
		return true
	case CategorySystem:
		return catErr.StatusCode == http.StatusServiceUnavailable ||
			catErr.StatusCode == http.StatusGatewayTimeout
	default:
		return false
	}
}

// IsUserError determines if an error is a user error (4xx)
func IsUserError(err error) bool {
	catErr := Categorize(err)
	if catErr == nil {
		return false
	}

	return catErr.StatusCode >= 400 && catErr.StatusCode < 500
}
