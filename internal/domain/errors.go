package domain

import (
	"errors"
	"fmt"
)

// ErrorCode represents a machine-readable error code
type ErrorCode string

const (
	// Pricing Errors (PRICING_*)
	ErrorCodePricingInvalidInput ErrorCode = "PRICING_INVALID_INPUT"

	// Harvest Record Errors (RECORD_*)
	ErrorCodeRecordNotFound   ErrorCode = "RECORD_NOT_FOUND"
	ErrorCodeRecordIneligible ErrorCode = "RECORD_INELIGIBLE"
	ErrorCodeRecordImmutable  ErrorCode = "RECORD_IMMUTABLE"

	// Settlement Batch Errors (BATCH_*)
	ErrorCodeBatchNotFound        ErrorCode = "BATCH_NOT_FOUND"
	ErrorCodeBatchInvalidState    ErrorCode = "BATCH_INVALID_STATE"
	ErrorCodeBatchAlreadyInFlight ErrorCode = "BATCH_ALREADY_IN_FLIGHT"

	// Payee Errors (PAYEE_*)
	ErrorCodePayeeNotFound        ErrorCode = "PAYEE_NOT_FOUND"
	ErrorCodePayeeNoPayoutAccount ErrorCode = "PAYEE_NO_PAYOUT_ACCOUNT"

	// Reconciliation Errors (RECONCILIATION_*)
	ErrorCodeReconciliationConflict ErrorCode = "RECONCILIATION_CONFLICT"

	// Validation Errors (VALIDATION_*)
	ErrorCodeValidationFailed       ErrorCode = "VALIDATION_FAILED"
	ErrorCodeValidationMissingField ErrorCode = "VALIDATION_MISSING_FIELD"

	// Settlement Network Errors (GATEWAY_*)
	ErrorCodeGatewayError       ErrorCode = "GATEWAY_ERROR"
	ErrorCodeGatewayTimeout     ErrorCode = "GATEWAY_TIMEOUT"
	ErrorCodeGatewayUnavailable ErrorCode = "GATEWAY_UNAVAILABLE"

	// Internal Errors (INTERNAL_*)
	ErrorCodeInternalError ErrorCode = "INTERNAL_ERROR"
	ErrorCodeDatabaseError ErrorCode = "INTERNAL_DATABASE_ERROR"
)

// DomainError represents a structured domain error with error code and context
type DomainError struct {
	Err     error
	Details map[string]interface{}
	Code    ErrorCode
	Message string
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *DomainError) Unwrap() error {
	return e.Err
}

// WithDetail adds a detail field to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(code ErrorCode, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with a domain error code
func WrapError(code ErrorCode, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
		Err:     err,
	}
}

// IsDomainError checks if an error is a DomainError with the given code
func IsDomainError(err error, code ErrorCode) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code == code
	}
	return false
}

// GetErrorCode extracts the error code from an error, returns empty string if not a DomainError
func GetErrorCode(err error) ErrorCode {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return ""
}

// IsNotFoundError checks if an error represents a "not found" condition
func IsNotFoundError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeRecordNotFound ||
		code == ErrorCodeBatchNotFound ||
		code == ErrorCodePayeeNotFound
}

// IsValidationError checks if an error is a caller error that must not be retried
func IsValidationError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeValidationFailed ||
		code == ErrorCodeValidationMissingField ||
		code == ErrorCodePricingInvalidInput ||
		code == ErrorCodeRecordIneligible ||
		code == ErrorCodeRecordImmutable ||
		code == ErrorCodePayeeNoPayoutAccount
}

// IsConflictError checks if an error reports a state conflict with stored data
func IsConflictError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeBatchAlreadyInFlight ||
		code == ErrorCodeBatchInvalidState ||
		code == ErrorCodeReconciliationConflict
}

// IsGatewayError checks if an error is a settlement network error
func IsGatewayError(err error) bool {
	code := GetErrorCode(err)
	return code == ErrorCodeGatewayError ||
		code == ErrorCodeGatewayTimeout ||
		code == ErrorCodeGatewayUnavailable
}

// InvalidPricingInput reports a quantity or unit price the calculator cannot accept.
func InvalidPricingInput(reason string) *DomainError {
	return NewDomainError(ErrorCodePricingInvalidInput, reason)
}

// IneligibleRecordError names the harvest record that cannot join a batch.
func IneligibleRecordError(recordID, reason string) *DomainError {
	return NewDomainError(ErrorCodeRecordIneligible, fmt.Sprintf("harvest record %s is not eligible: %s", recordID, reason)).
		WithDetail("record_id", recordID)
}

// AlreadyInFlightError reports that a batch for the same idempotency key is not yet resolved.
func AlreadyInFlightError(key, batchID string) *DomainError {
	return NewDomainError(ErrorCodeBatchAlreadyInFlight, "a settlement batch for this selection is already in flight").
		WithDetail("idempotency_key", key).
		WithDetail("batch_id", batchID)
}

// GatewayTimeoutError reports a submission whose outcome at the network is unknown.
func GatewayTimeoutError(batchID string, err error) *DomainError {
	return WrapError(ErrorCodeGatewayTimeout, "settlement network outcome unknown, batch left for manual follow-up", err).
		WithDetail("batch_id", batchID)
}

// GatewayUnavailableError reports a submission that never reached the network.
func GatewayUnavailableError(batchID string, err error) *DomainError {
	return WrapError(ErrorCodeGatewayUnavailable, "settlement network unavailable, request not sent", err).
		WithDetail("batch_id", batchID)
}

// ReconciliationConflictError reports a terminal outcome that disagrees with the stored one.
func ReconciliationConflictError(batchID string, stored BatchStatus, reported SettlementOutcome) *DomainError {
	return NewDomainError(ErrorCodeReconciliationConflict,
		fmt.Sprintf("batch %s already %s, network reported %s", batchID, stored, reported)).
		WithDetail("batch_id", batchID).
		WithDetail("stored_status", string(stored)).
		WithDetail("reported_outcome", string(reported))
}

// InvalidBatchStateError reports an operation that the batch's current status does not allow.
func InvalidBatchStateError(batchID string, status BatchStatus, op string) *DomainError {
	return NewDomainError(ErrorCodeBatchInvalidState,
		fmt.Sprintf("cannot %s batch %s in status %s", op, batchID, status)).
		WithDetail("batch_id", batchID).
		WithDetail("status", string(status))
}

// Sentinel errors returned by storage adapters
var (
	ErrRecordNotFound = NewDomainError(ErrorCodeRecordNotFound, "harvest record not found")
	ErrBatchNotFound  = NewDomainError(ErrorCodeBatchNotFound, "settlement batch not found")
	ErrPayeeNotFound  = NewDomainError(ErrorCodePayeeNotFound, "payee not found")

	// ErrStateConflict is returned when a compare-and-swap finds a different stored state.
	ErrStateConflict = errors.New("stored state does not match expected state")

	// ErrLockNotFound is returned when no idempotency lock row exists.
	ErrLockNotFound = errors.New("idempotency lock not found")

	// ErrKeyExists is returned when an idempotency key row is already present.
	ErrKeyExists = errors.New("idempotency key already exists")

	// ErrLeaseActive is returned when a lease renewal finds the current lease still live.
	ErrLeaseActive = errors.New("idempotency lease still active")
)
