// Package mint wires the configured Lightning backend, the reconciliation
// engine and storage into the operations the mint/melt handlers consume.
package mint

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/satmint/satmint/mint/lightning"
	"github.com/satmint/satmint/mint/reconciler"
	"github.com/satmint/satmint/mint/storage"
	"github.com/satmint/satmint/mint/storage/sqlite"
)

const (
	// default expiry for invoices created on mint requests
	InvoiceExpiryMins = 10
)

type Mint struct {
	db              storage.InvoiceDB
	lightningClient lightning.Client
	estimator       *lightning.FeeEstimator
	engine          *reconciler.Engine
	logger          *slog.Logger
}

func LoadMint(config Config, ledger reconciler.Ledger) (*Mint, error) {
	logger := setupLogger(config.LogLevel)

	path := config.MintPath
	if path == "" {
		path = mintPath()
	}
	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, fmt.Errorf("could not create mint path: %v", err)
	}

	var db storage.InvoiceDB
	var err error
	if config.DBBackend == "sqlite" {
		db, err = sqlite.InitSQLite(path, config.DBMigrationPath)
	} else {
		db, err = storage.InitBolt(path)
	}
	if err != nil {
		return nil, fmt.Errorf("error setting up db: %v", err)
	}

	client, err := lightning.NewClient(config.LightningConfig)
	if err != nil {
		return nil, err
	}

	estimator := &lightning.FeeEstimator{
		Client:     client,
		Percent:    config.ReservePercent,
		MinReserve: config.MinReserve,
	}

	engine := reconciler.New(client, db, ledger, estimator, nil, logger, config.Reconciler)
	if err := engine.Resume(); err != nil {
		return nil, err
	}

	mint := &Mint{
		db:              db,
		lightningClient: client,
		estimator:       estimator,
		engine:          engine,
		logger:          logger,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.ConnectionStatus(ctx); err != nil {
		return nil, fmt.Errorf("could not connect to lightning backend: %v", err)
	}
	mint.logInfof("connected to lightning backend '%v'", config.LightningConfig.Kind)

	return mint, nil
}

// mintPath returns the mint's path at $HOME/.satmint/mint
func mintPath() string {
	homedir, err := os.UserHomeDir()
	if err != nil {
		return ".satmint"
	}
	return filepath.Join(homedir, ".satmint", "mint")
}

// RequestInvoice creates an invoice on the backend for a mint operation and
// schedules it for settlement tracking.
func (m *Mint) RequestInvoice(ctx context.Context, amount uint64, memo string) (lightning.Invoice, error) {
	invoice, err := m.lightningClient.CreateInvoice(ctx, amount, memo, InvoiceExpiryMins*time.Minute)
	if err != nil {
		return lightning.Invoice{}, err
	}

	if err := m.engine.TrackInvoice(invoice); err != nil {
		return lightning.Invoice{}, err
	}

	m.logInfof("created invoice '%v' for %v sats", invoice.PaymentHash, invoice.Amount)
	return invoice, nil
}

// PayInvoice submits an outgoing payment for a melt operation.
func (m *Mint) PayInvoice(ctx context.Context, request string) (lightning.Payment, error) {
	payment, err := m.engine.PayInvoice(ctx, request)
	if err != nil {
		return payment, err
	}

	m.logInfof("payment '%v' submitted. status: %v", payment.PaymentHash, payment.Status)
	return payment, nil
}

// InvoiceStatus returns the last observed status of a tracked invoice.
func (m *Mint) InvoiceStatus(hash string) (lightning.Invoice, error) {
	return m.engine.InvoiceState(hash)
}

// PaymentStatus returns the last observed state of a tracked payment.
func (m *Mint) PaymentStatus(hash string) (lightning.Payment, error) {
	return m.engine.PaymentState(hash)
}

// Shutdown stops the reconciliation loops and closes storage. Pending items
// keep their last observed status and are resumed on the next start.
func (m *Mint) Shutdown(ctx context.Context) error {
	if err := m.engine.Shutdown(ctx); err != nil {
		return err
	}
	return m.db.Close()
}

