// Package lightning provides a uniform client over the Lightning node
// backends the mint can be configured with.
package lightning

import (
	"context"
	"time"
)

// Client is the interface the mint uses to interact with a Lightning backend.
// All implementations fold their node's native status vocabulary into the
// states defined here.
type Client interface {
	// CreateInvoice requests an invoice from the backend for the given
	// amount in sats. It rejects amount <= 0 before any network call.
	CreateInvoice(ctx context.Context, amount uint64, memo string, expiry time.Duration) (Invoice, error)

	// PayInvoice attempts an outgoing payment. feeLimit is an upper bound
	// in sats the backend is not allowed to exceed. If the outcome is
	// ambiguous (the backend accepted the submission but the result is
	// unconfirmed) the returned payment has state Unknown.
	PayInvoice(ctx context.Context, request string, feeLimit uint64) (Payment, error)

	// InvoiceStatus returns the current status of the invoice with the
	// given payment hash.
	InvoiceStatus(ctx context.Context, hash string) (InvoiceStatus, error)

	// PaymentStatus checks an outgoing payment by its backend-specific
	// checking id. Fee paid and preimage are set when settled.
	PaymentStatus(ctx context.Context, checkingId string) (PaymentStatusResult, error)

	// EstimateFee returns the backend's routing fee estimate in sats for
	// paying the invoice.
	EstimateFee(ctx context.Context, request string) (uint64, error)

	// ConnectionStatus checks the backend is reachable with the configured
	// credentials.
	ConnectionStatus(ctx context.Context) error
}

type InvoiceStatus int

const (
	Unpaid InvoiceStatus = iota
	Paid
	Expired
)

func (s InvoiceStatus) String() string {
	switch s {
	case Unpaid:
		return "UNPAID"
	case Paid:
		return "PAID"
	case Expired:
		return "EXPIRED"
	default:
		return "unknown"
	}
}

// Terminal reports whether an invoice in this status will never change again.
func (s InvoiceStatus) Terminal() bool {
	return s == Paid || s == Expired
}

type PaymentState int

const (
	Pending PaymentState = iota
	Settled
	Failed
	// Unknown means the backend accepted the submission but it could not
	// be confirmed whether funds left the wallet. A payment in this state
	// requires reconciliation before any retry.
	Unknown
)

func (s PaymentState) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Settled:
		return "SETTLED"
	case Failed:
		return "FAILED"
	case Unknown:
		return "UNKNOWN"
	default:
		return "invalid"
	}
}

func (s PaymentState) Terminal() bool {
	return s == Settled || s == Failed
}

// Invoice is an incoming payment request created on the backend.
type Invoice struct {
	PaymentRequest string
	// hex encoded, 32 bytes
	PaymentHash string
	Amount      uint64
	Memo        string
	CreatedAt   time.Time
	Expiry      time.Duration
	Status      InvoiceStatus
}

// ExpiresAt returns the instant after which the invoice can no longer be paid.
func (i Invoice) ExpiresAt() time.Time {
	return i.CreatedAt.Add(i.Expiry)
}

// Payment is an outgoing payment attempt.
type Payment struct {
	PaymentHash string
	Amount      uint64
	FeeReserve  uint64
	// set only when Status is Settled
	FeePaid uint64
	// backend-specific handle used to check the payment afterwards.
	// Opaque to callers.
	CheckingId string
	// hex encoded proof of payment, set only when Status is Settled
	Preimage string
	Status   PaymentState
}

// PaymentStatusResult is what a backend reports when checking an
// outgoing payment.
type PaymentStatusResult struct {
	Status   PaymentState
	FeePaid  uint64
	Preimage string
}
