package services

import (
	"errors"
	"fmt"
)

// NotFoundError indicates a missing tenant, setup code or session.
// Always recoverable by the caller.
type NotFoundError struct {
	Resource string `json:"resource"`
	Key      string `json:"key"`
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.Key)
}

// NewNotFoundError creates a new not-found error
func NewNotFoundError(resource, key string) *NotFoundError {
	return &NotFoundError{Resource: resource, Key: key}
}

// IsNotFoundError checks if an error is a NotFoundError
func IsNotFoundError(err error) (*NotFoundError, bool) {
	var notFoundErr *NotFoundError
	if errors.As(err, &notFoundErr) {
		return notFoundErr, true
	}
	return nil, false
}

// AlreadyClaimedError indicates a setup code whose tenant already holds a
// phone-number identifier. Surfaced to the caller, never retried.
type AlreadyClaimedError struct {
	TenantID string `json:"tenant_id"`
}

func (e *AlreadyClaimedError) Error() string {
	return fmt.Sprintf("tenant %s already has a phone number attached", e.TenantID)
}

// IsAlreadyClaimedError checks if an error is an AlreadyClaimedError
func IsAlreadyClaimedError(err error) (*AlreadyClaimedError, bool) {
	var claimedErr *AlreadyClaimedError
	if errors.As(err, &claimedErr) {
		return claimedErr, true
	}
	return nil, false
}

// QuotaExceededError indicates the tenant's monthly free-message allowance
// is exhausted. The message was not sent.
type QuotaExceededError struct {
	TenantID  string `json:"tenant_id"`
	Allowance int    `json:"allowance"`
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("tenant %s exceeded monthly quota of %d messages", e.TenantID, e.Allowance)
}

// IsQuotaExceededError checks if an error is a QuotaExceededError
func IsQuotaExceededError(err error) (*QuotaExceededError, bool) {
	var quotaErr *QuotaExceededError
	if errors.As(err, &quotaErr) {
		return quotaErr, true
	}
	return nil, false
}

// TransportError indicates the outbound provider call failed. Transient;
// the gateway does not retry, the caller may.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("outbound transport failure: %v", e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// IsTransportError checks if an error is a TransportError
func IsTransportError(err error) (*TransportError, bool) {
	var transportErr *TransportError
	if errors.As(err, &transportErr) {
		return transportErr, true
	}
	return nil, false
}

// ErrInvalidTransition is returned when a session operation is not valid
// from the session's current state.
var ErrInvalidTransition = errors.New("invalid session state transition")

// ErrPairingRejected is returned when a pairing confirmation carries an
// unknown or stale nonce.
var ErrPairingRejected = errors.New("pairing confirmation rejected")
