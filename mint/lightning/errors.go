package lightning

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidAmount is returned by CreateInvoice for amount <= 0
	// before any network activity.
	ErrInvalidAmount = errors.New("amount must be greater than 0")

	// ErrInsufficientBalance is returned before submission when the
	// ledger cannot cover amount + fee reserve.
	ErrInsufficientBalance = errors.New("insufficient balance for payment and fee reserve")

	// ErrDuplicatePayment is returned when a submission is attempted for
	// a payment hash that is already pending, settled or unresolved.
	ErrDuplicatePayment = errors.New("payment for this hash was already submitted")
)

// ConfigError is a fatal startup-time error: missing or invalid credentials,
// or an unknown backend kind. Never retried.
type ConfigError struct {
	msg string
}

func (e *ConfigError) Error() string {
	return "invalid lightning config: " + e.msg
}

func configErrorf(format string, args ...any) *ConfigError {
	return &ConfigError{msg: fmt.Sprintf(format, args...)}
}

// AuthError means the backend rejected the configured credentials. It is
// fatal for the client instance: the credential is presumed invalid until
// reconfigured, so it is never retried.
type AuthError struct {
	Backend string
	// http status line or error body returned by the backend
	Detail string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s rejected credentials: %s", e.Backend, e.Detail)
}

// TransportError is a network-level failure (connection refused, TLS
// handshake, timeout) on an otherwise well-formed request. Retryable.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport error: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ProtocolError means the backend's response did not match the expected
// shape. It signals a backend incompatibility that must be surfaced to an
// operator, never silently retried.
type ProtocolError struct {
	Backend string
	Op      string
	Err     error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s: unexpected response: %v", e.Backend, e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// PaymentUnknownError accompanies a payment left in the Unknown state. The
// payment must be reconciled through PaymentStatus before any retry.
type PaymentUnknownError struct {
	PaymentHash string
	CheckingId  string
	Err         error
}

func (e *PaymentUnknownError) Error() string {
	return fmt.Sprintf("payment '%s' in unknown state: %v", e.PaymentHash, e.Err)
}

func (e *PaymentUnknownError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the error can be retried on the reconciler's
// backoff schedule. Only transport failures qualify.
func IsRetryable(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}
