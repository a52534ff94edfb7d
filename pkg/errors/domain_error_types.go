package errors

import (
	"errors"
	"fmt"
)

// DomainErrorType represents the category of domain error
type DomainErrorType string

const (
	// DomainValidationError indicates input validation failure
	DomainValidationError DomainErrorType = "VALIDATION_ERROR"

	// DomainBusinessRuleError indicates a business rule violation
	DomainBusinessRuleError DomainErrorType = "BUSINESS_RULE_ERROR"

	// DomainNotFoundError indicates a resource was not found
	DomainNotFoundError DomainErrorType = "NOT_FOUND"

	// DomainConflictError indicates a conflict with existing state
	DomainConflictError DomainErrorType = "CONFLICT"

	// DomainInfrastructureError indicates an infrastructure-level failure
	DomainInfrastructureError DomainErrorType = "INFRASTRUCTURE_ERROR"

	// DomainAuthorizationError indicates insufficient permissions
	DomainAuthorizationError DomainErrorType = "AUTHORIZATION_ERROR"

	// DomainAuthenticationError indicates authentication failure
	DomainAuthenticationError DomainErrorType = "AUTHENTICATION_ERROR"

	// DomainRateLimitError indicates rate limit exceeded
	DomainRateLimitError DomainErrorType = "RATE_LIMIT_ERROR"

	// DomainTimeoutError indicates operation timeout
	DomainTimeoutError DomainErrorType = "TIMEOUT_ERROR"
)

// DomainError represents a domain-specific error with rich context
type DomainError struct {
	Type       DomainErrorType        `json:"type"`
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Cause      error                  `json:"-"`
	Retryable  bool                   `json:"retryable"`
	StatusCode int                    `json:"status_code"`
}

// NewDomainError creates a new domain error
func NewDomainError(errorType DomainErrorType, code string, message string) *DomainError {
	return &DomainError{
		Type:       errorType,
		Code:       code,
		Message:    message,
		Details:    make(map[string]interface{}),
		Retryable:  false,
		StatusCode: domainErrorTypeToStatusCode(errorType),
	}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Type, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

// WithCause adds a cause to the error
func (e *DomainError) WithCause(cause error) *DomainError {
	e.Cause = cause
	return e
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	e.Details[key] = value
	return e
}

// WithDetails adds multiple details to the error
func (e *DomainError) WithDetails(details map[string]interface{}) *DomainError {
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithRetryable sets whether the error is retryable
func (e *DomainError) WithRetryable(retryable bool) *DomainError {
	e.Retryable = retryable
	return e
}

// WithStatusCode sets a custom HTTP status code
func (e *DomainError) WithStatusCode(code int) *DomainError {
	e.StatusCode = code
	return e
}

// Is checks if the error is of a specific type
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// Unwrap returns the underlying cause
func (e *DomainError) Unwrap() error {
	return e.Cause
}

func (e *DomainError) clone() *DomainError {
	c := *e
	c.Details = make(map[string]interface{}, len(e.Details))
	for k, v := range e.Details {
		c.Details[k] = v
	}
	return &c
}

// domainErrorTypeToStatusCode maps error types to HTTP status codes
func domainErrorTypeToStatusCode(errorType DomainErrorType) int {
	switch errorType {
	case DomainValidationError:
		return 400 // Bad Request
	case DomainBusinessRuleError:
		return 422 // Unprocessable Entity
	case DomainNotFoundError:
		return 404 // Not Found
	case DomainConflictError:
		return 409 // Conflict
	case DomainAuthenticationError:
		return 401 // Unauthorized
	case DomainAuthorizationError:
		return 403 // Forbidden
	case DomainRateLimitError:
		return 429 // Too Many Requests
	case DomainTimeoutError:
		return 504 // Gateway Timeout
	case DomainInfrastructureError:
		return 500 // Internal Server Error
	default:
		return 500 // Internal Server Error
	}
}

// Error codes surfaced by reconciliation and saving
const (
	CodeMissingKey         = "MISSING_KEY"
	CodeAmbiguousKey       = "AMBIGUOUS_KEY"
	CodeAmbiguousMatch     = "AMBIGUOUS_MATCH"
	CodeEditConflict       = "EDIT_CONFLICT"
	CodePermissionDenied   = "PERMISSION_DENIED"
	CodeStoreUnavailable   = "STORE_UNAVAILABLE"
	CodeValidationRejected = "VALIDATION_REJECTED"
	CodeEntityNotFound     = "ENTITY_NOT_FOUND"
)

// Sentinels for errors.Is. Use the New* constructors to build errors that
// carry details; the sentinels themselves are never mutated.
var (
	// Reconciliation errors are caused by the caller's input and are never retried
	ErrMissingKey = NewDomainError(
		DomainValidationError,
		CodeMissingKey,
		"Entity has no value for the reconciliation property",
	)

	ErrAmbiguousKey = NewDomainError(
		DomainValidationError,
		CodeAmbiguousKey,
		"Entity has more than one value for the reconciliation property",
	)

	ErrAmbiguousMatch = NewDomainError(
		DomainValidationError,
		CodeAmbiguousMatch,
		"More than one stored entity matches the reconciliation value",
	)

	// Save errors
	ErrEditConflict = NewDomainError(
		DomainConflictError,
		CodeEditConflict,
		"The entity was modified since it was reconciled",
	).WithRetryable(true)

	ErrPermissionDenied = NewDomainError(
		DomainAuthorizationError,
		CodePermissionDenied,
		"The session is not allowed to edit entities",
	)

	ErrStoreUnavailable = NewDomainError(
		DomainInfrastructureError,
		CodeStoreUnavailable,
		"The entity store is unavailable",
	).WithRetryable(true).WithStatusCode(503)

	ErrValidationRejected = NewDomainError(
		DomainBusinessRuleError,
		CodeValidationRejected,
		"The entity store rejected the entity",
	)

	ErrEntityNotFound = NewDomainError(
		DomainNotFoundError,
		CodeEntityNotFound,
		"The requested entity does not exist",
	)
)

// NewMissingKeyError reports an input entity without a reconciliation value
func NewMissingKeyError(property string) *DomainError {
	return ErrMissingKey.clone().WithDetail("property", property)
}

// NewAmbiguousKeyError reports an input entity with several reconciliation values
func NewAmbiguousKeyError(property string, values []string) *DomainError {
	return ErrAmbiguousKey.clone().
		WithDetail("property", property).
		WithDetail("values", values)
}

// NewAmbiguousMatchError reports a reconciliation value held by several entities
func NewAmbiguousMatchError(property, value string, matches []string) *DomainError {
	return ErrAmbiguousMatch.clone().
		WithDetail("property", property).
		WithDetail("value", value).
		WithDetail("matches", matches)
}

// NewEditConflictError reports a stale base revision
func NewEditConflictError(entityID string, baseRevision int64) *DomainError {
	return ErrEditConflict.clone().
		WithDetail("entity_id", entityID).
		WithDetail("base_revision", baseRevision)
}

// NewPermissionDeniedError reports a session that may not write
func NewPermissionDeniedError(reason string) *DomainError {
	return ErrPermissionDenied.clone().WithDetail("reason", reason)
}

// NewStoreUnavailableError wraps an I/O failure of the entity store
func NewStoreUnavailableError(operation string, cause error) *DomainError {
	return ErrStoreUnavailable.clone().
		WithDetail("operation", operation).
		WithCause(cause)
}

// NewValidationRejectedError reports a store-side rejection of an entity
func NewValidationRejectedError(reason string) *DomainError {
	return ErrValidationRejected.clone().WithDetail("reason", reason)
}

// NewEntityNotFoundError reports a missing entity
func NewEntityNotFoundError(entityID string) *DomainError {
	return ErrEntityNotFound.clone().WithDetail("entity_id", entityID)
}

// IsReconciliationError reports whether err is caused by reconciliation input
func IsReconciliationError(err error) bool {
	de := GetDomainError(err)
	if de == nil {
		return false
	}
	switch de.Code {
	case CodeMissingKey, CodeAmbiguousKey, CodeAmbiguousMatch:
		return true
	}
	return false
}

// IsRetryable reports whether the whole operation may be retried
func IsRetryable(err error) bool {
	de := GetDomainError(err)
	return de != nil && de.Retryable
}

// GetDomainError extracts a DomainError from an error chain
func GetDomainError(err error) *DomainError {
	var de *DomainError
	if errors.As(err, &de) {
		return de
	}
	return nil
}
