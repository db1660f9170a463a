package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory says how far a settlement network call got before it failed
type ErrorCategory string

const (
	// CategoryNotSent means no byte of the request reached the network (dial failure, open circuit)
	CategoryNotSent ErrorCategory = "not_sent"
	// CategoryUnknownOutcome means the request may have been received but no definitive answer arrived
	CategoryUnknownOutcome ErrorCategory = "unknown_outcome"
	// CategoryInvalidResponse means an answer arrived that could not be understood
	CategoryInvalidResponse ErrorCategory = "invalid_response"
	// CategoryInvalidRequest means the network refused the call before processing it (4xx)
	CategoryInvalidRequest ErrorCategory = "invalid_request"
)

// GatewayError represents a settlement network failure with its delivery classification
type GatewayError struct {
	Err            error
	Details        map[string]interface{}
	Code           string
	Message        string
	GatewayMessage string
	Category       ErrorCategory
	StatusCode     int
}

func (e *GatewayError) Error() string {
	if e.GatewayMessage != "" {
		return fmt.Sprintf("%s: %s (gateway: %s)", e.Code, e.Message, e.GatewayMessage)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the transport error, if any
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// IsRetriable is true only when repeating the call cannot double-submit
func (e *GatewayError) IsRetriable() bool {
	return e.Category == CategoryNotSent
}

// NewGatewayError creates a new gateway error
func NewGatewayError(code, message string, category ErrorCategory, err error) *GatewayError {
	return &GatewayError{
		Code:     code,
		Message:  message,
		Category: category,
		Err:      err,
		Details:  make(map[string]interface{}),
	}
}

// CategoryOf returns the category of a GatewayError in err's chain.
// Errors that are not classified are treated as an unknown outcome.
func CategoryOf(err error) ErrorCategory {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		return gwErr.Category
	}
	return CategoryUnknownOutcome
}

// IsNotSent reports whether err proves the request never reached the network
func IsNotSent(err error) bool {
	return err != nil && CategoryOf(err) == CategoryNotSent
}

// ValidationError represents input validation errors
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
