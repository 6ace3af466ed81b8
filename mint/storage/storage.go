// Package storage persists the invoices and payments the reconciler tracks
// so no settlement is lost across restarts.
package storage

import (
	"errors"

	"github.com/satmint/satmint/mint/lightning"
)

var ErrNotFound = errors.New("not found")

type InvoiceDB interface {
	SaveInvoice(lightning.Invoice) error
	GetInvoice(hash string) (lightning.Invoice, error)
	UpdateInvoiceStatus(hash string, status lightning.InvoiceStatus) error
	// GetPendingInvoices returns all invoices not yet in a terminal status.
	GetPendingInvoices() ([]lightning.Invoice, error)

	SavePayment(lightning.Payment) error
	GetPayment(hash string) (lightning.Payment, error)
	UpdatePayment(lightning.Payment) error
	// GetPendingPayments returns all payments in Pending or Unknown state.
	GetPendingPayments() ([]lightning.Payment, error)

	Close() error
}
