package errors

import (
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

// Error categories
const (
	// Template configuration errors (TMPL-001 to TMPL-099)
	ErrCodeTemplateNotFound  ErrorCode = "TMPL-001"
	ErrCodeTemplateDuplicate ErrorCode = "TMPL-002"
	ErrCodeTemplateParent    ErrorCode = "TMPL-003"
	ErrCodeTemplateType      ErrorCode = "TMPL-004"
	ErrCodeTemplateInvalid   ErrorCode = "TMPL-005"

	// Output reference errors (REF-001 to REF-099)
	ErrCodeOutputNotFound      ErrorCode = "REF-001"
	ErrCodeOutputFieldNotFound ErrorCode = "REF-002"
	ErrCodeUserFieldNotFound   ErrorCode = "REF-003"

	// Routing errors (ROUTE-001 to ROUTE-099)
	ErrCodeNoProcessorForEnvironment ErrorCode = "ROUTE-001"
	ErrCodeNoProcessorsAllocated     ErrorCode = "ROUTE-002"
	ErrCodeNoEnvironments            ErrorCode = "ROUTE-003"
	ErrCodeProcessorNotFound         ErrorCode = "ROUTE-004"

	// Concurrency errors (LOCK-001 to LOCK-099)
	ErrCodeLockConflict ErrorCode = "LOCK-001"

	// Capacity errors (RATE-001 to RATE-099)
	ErrCodeRateExceeded         ErrorCode = "RATE-001"
	ErrCodeRequestCountExceeded ErrorCode = "RATE-002"
	ErrCodeErrorRateExceeded    ErrorCode = "RATE-003"

	// Authorization errors (AUTH-001 to AUTH-099)
	ErrCodeUserNotInGroup    ErrorCode = "AUTH-001"
	ErrCodeTaskNotAuthorized ErrorCode = "AUTH-002"
	ErrCodeGroupNotFound     ErrorCode = "AUTH-003"
	ErrCodeUserNotFound      ErrorCode = "AUTH-004"

	// Store errors (STORE-001 to STORE-099)
	ErrCodeStoreGet           ErrorCode = "STORE-001"
	ErrCodeStoreSet           ErrorCode = "STORE-002"
	ErrCodeStoreDelete        ErrorCode = "STORE-003"
	ErrCodeActiveTaskMissing  ErrorCode = "STORE-004"
	ErrCodeInstanceNotFound   ErrorCode = "STORE-005"
	ErrCodeStoreUnmarshal     ErrorCode = "STORE-006"
	ErrCodeStoreMarshal       ErrorCode = "STORE-007"
	ErrCodeSessionNotFound    ErrorCode = "STORE-008"
	ErrCodeFamilyNotFound     ErrorCode = "STORE-009"
	ErrCodeStoreKeyConflict   ErrorCode = "STORE-010"
	ErrCodeStoreNotConfigured ErrorCode = "STORE-011"

	// Hub protocol errors (HUB-001 to HUB-099)
	ErrCodeUnknownCommand   ErrorCode = "HUB-001"
	ErrCodeMissingProcessor ErrorCode = "HUB-002"
	ErrCodeMissingInstance  ErrorCode = "HUB-003"
	ErrCodeTaskNotDone      ErrorCode = "HUB-004"
	ErrCodeHubInternal      ErrorCode = "HUB-005"
)

// HubError represents an error with a stable code and an optional cause
type HubError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface
func (e *HubError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements error unwrapping for errors.Is and errors.As
func (e *HubError) Unwrap() error {
	return e.Cause
}

// New creates a new HubError
func New(code ErrorCode, message string) *HubError {
	return &HubError{Code: code, Message: message}
}

// Newf creates a new HubError with a formatted message
func Newf(code ErrorCode, format string, args ...any) *HubError {
	return &HubError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a new HubError wrapping a cause
func Wrap(code ErrorCode, message string, cause error) *HubError {
	return &HubError{Code: code, Message: message, Cause: cause}
}

// CodeOf extracts the error code from an error chain.
// Returns an empty code when the error carries no HubError.
func CodeOf(err error) ErrorCode {
	for err != nil {
		if he, ok := err.(*HubError); ok {
			return he.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}

// HTTPStatus maps an error code to the HTTP status the hub surfaces it with.
// Lock conflicts map to 423 so callers know to retry; soft per-task errors
// never reach this mapping because they travel inside the task itself.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeLockConflict:
		return http.StatusLocked
	case ErrCodeUserNotInGroup, ErrCodeTaskNotAuthorized:
		return http.StatusForbidden
	case ErrCodeTemplateNotFound, ErrCodeInstanceNotFound, ErrCodeActiveTaskMissing,
		ErrCodeSessionNotFound, ErrCodeFamilyNotFound, ErrCodeProcessorNotFound:
		return http.StatusNotFound
	case ErrCodeRateExceeded, ErrCodeRequestCountExceeded, ErrCodeErrorRateExceeded:
		return http.StatusTooManyRequests
	case ErrCodeUnknownCommand, ErrCodeMissingProcessor, ErrCodeMissingInstance:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
