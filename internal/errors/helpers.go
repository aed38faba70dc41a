package errors

import (
	"fmt"
)

// Common error creators for frequent use cases

// NewValidationError creates a validation error with field context
func NewValidationError(field, value, message string) *AppError {
	return New(ErrCodeValidationFailed, message).
		WithContext("field", field).
		WithContext("value", value).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message))
}

// NewAlreadyExistsError creates a duplicate-identifier error
func NewAlreadyExistsError(resource, identifier string) *AppError {
	return New(ErrCodeAlreadyExists, fmt.Sprintf("%s already exists", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier).
		WithUserMessage(fmt.Sprintf("%s already exists", resource))
}

// NewNotFoundError creates a not found error with resource context
func NewNotFoundError(resource, identifier string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource)).
		WithContext("resource", resource).
		WithContext("identifier", identifier).
		WithUserMessage(fmt.Sprintf("%s not found", resource))
}

// NewSendError wraps a transport failure from the messaging client
func NewSendError(identifier string, err error) *AppError {
	return Wrap(err, ErrCodeSendFailed, "message send failed").
		WithContext("identifier", identifier).
		WithUserMessage("Failed to send message")
}

// NewDispatchError wraps a webhook delivery failure; callers always swallow it
func NewDispatchError(identifier, url string, err error) *AppError {
	return WrapRetryable(err, ErrCodeDispatchFailed, "webhook delivery failed").
		WithContext("identifier", identifier).
		WithContext("url", url)
}

// NewConfigError creates a configuration error
func NewConfigError(key, message string) *AppError {
	return New(ErrCodeInvalidConfig, message).
		WithContext("config_key", key).
		WithUserMessage("Configuration error")
}

// NewDatabaseError creates a database error with operation context
func NewDatabaseError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeDatabaseQuery, fmt.Sprintf("database %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Database operation failed")
}

// NewAPIError creates an API error for external messaging-service calls
func NewAPIError(endpoint string, statusCode int, err error) *AppError {
	appErr := Wrap(err, ErrCodeWhatsAppAPI, "WhatsApp API call failed").
		WithContext("endpoint", endpoint).
		WithContext("status_code", statusCode)

	// 5xx, throttling and request timeouts are worth retrying
	if statusCode >= 500 || statusCode == 429 || statusCode == 408 {
		appErr.Retryable = true
	}

	return appErr
}

// NewTimeoutError creates a timeout error with context
func NewTimeoutError(operation string, duration string) *AppError {
	return New(ErrCodeTimeout, fmt.Sprintf("%s timed out after %s", operation, duration)).
		WithContext("operation", operation).
		WithContext("timeout", duration).
		WithUserMessage("Operation timed out, please try again")
}

// HTTP helpers

// HTTPStatusCode maps error codes to appropriate HTTP status codes.
// The control-surface contract pins duplicate and unknown-client
// failures to 400, so registry errors map there rather than 404/409.
func HTTPStatusCode(err error) int {
	code := GetCode(err)

	switch code {
	case ErrCodeValidationFailed, ErrCodeInvalidInput, ErrCodeInvalidConfig:
		return 400
	case ErrCodeAlreadyExists, ErrCodeNotFound, ErrCodeSendFailed:
		return 400
	case ErrCodeTimeout:
		return 408
	case ErrCodeWhatsAppAPI:
		if IsRetryable(err) {
			return 502
		}
		return 500
	case ErrCodeDatabaseConnection, ErrCodeDatabaseQuery:
		return 503
	default:
		return 500
	}
}
