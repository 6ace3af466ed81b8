package lightning

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/zpay32"
	decodepay "github.com/nbd-wtf/ln-decodepay"
)

const FakePreimage = "0000000000000000"

// FakeBackend is an in-memory backend for tests and local development. It
// fabricates signed bolt11 invoices and lets tests settle them or script
// payment outcomes.
type FakeBackend struct {
	mu       sync.Mutex
	invoices map[string]*Invoice
	payments map[string]PaymentStatusResult
	// when set, PayInvoice returns this state instead of settling
	PaymentOutcome PaymentState
}

func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		invoices:       make(map[string]*Invoice),
		payments:       make(map[string]PaymentStatusResult),
		PaymentOutcome: Settled,
	}
}

func (fb *FakeBackend) ConnectionStatus(ctx context.Context) error { return nil }

func (fb *FakeBackend) CreateInvoice(ctx context.Context, amount uint64, memo string, expiry time.Duration) (Invoice, error) {
	if amount == 0 {
		return Invoice{}, ErrInvalidAmount
	}

	req, _, paymentHash, err := createFakeInvoice(amount)
	if err != nil {
		return Invoice{}, err
	}

	invoice := Invoice{
		PaymentRequest: req,
		PaymentHash:    paymentHash,
		Amount:         amount,
		Memo:           memo,
		CreatedAt:      time.Now(),
		Expiry:         expiry,
		Status:         Unpaid,
	}

	fb.mu.Lock()
	fb.invoices[paymentHash] = &invoice
	fb.mu.Unlock()

	return invoice, nil
}

func (fb *FakeBackend) InvoiceStatus(ctx context.Context, hash string) (InvoiceStatus, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	invoice, ok := fb.invoices[hash]
	if !ok {
		return Unpaid, errors.New("invoice does not exist")
	}
	return invoice.Status, nil
}

// SettleIncomingInvoice marks an invoice as paid, simulating an external
// payment event.
func (fb *FakeBackend) SettleIncomingInvoice(hash string) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	invoice, ok := fb.invoices[hash]
	if !ok {
		return errors.New("invoice does not exist")
	}
	invoice.Status = Paid
	return nil
}

func (fb *FakeBackend) PayInvoice(ctx context.Context, request string, feeLimit uint64) (Payment, error) {
	bolt11, err := decodepay.Decodepay(request)
	if err != nil {
		return Payment{}, fmt.Errorf("error decoding invoice: %v", err)
	}

	payment := Payment{
		PaymentHash: bolt11.PaymentHash,
		Amount:      uint64(bolt11.MSatoshi / 1000),
		CheckingId:  bolt11.PaymentHash,
		Status:      fb.PaymentOutcome,
	}

	result := PaymentStatusResult{Status: fb.PaymentOutcome}
	if fb.PaymentOutcome == Settled {
		payment.Preimage = FakePreimage
		result.Preimage = FakePreimage
	}

	fb.mu.Lock()
	fb.payments[payment.CheckingId] = result
	fb.mu.Unlock()

	if fb.PaymentOutcome == Unknown {
		return payment, &PaymentUnknownError{
			PaymentHash: payment.PaymentHash,
			CheckingId:  payment.CheckingId,
			Err:         errors.New("simulated ambiguous outcome"),
		}
	}
	return payment, nil
}

func (fb *FakeBackend) PaymentStatus(ctx context.Context, checkingId string) (PaymentStatusResult, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	result, ok := fb.payments[checkingId]
	if !ok {
		return PaymentStatusResult{}, errors.New("payment does not exist")
	}
	return result, nil
}

// ResolvePayment sets the status later polls of an outgoing payment will
// observe.
func (fb *FakeBackend) ResolvePayment(checkingId string, result PaymentStatusResult) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.payments[checkingId] = result
}

func (fb *FakeBackend) EstimateFee(ctx context.Context, request string) (uint64, error) {
	return 0, nil
}

func createFakeInvoice(amount uint64) (string, string, string, error) {
	var random [32]byte
	_, err := rand.Read(random[:])
	if err != nil {
		return "", "", "", err
	}
	preimage := hex.EncodeToString(random[:])
	paymentHash := sha256.Sum256(random[:])
	hash := hex.EncodeToString(paymentHash[:])

	invoice, err := zpay32.NewInvoice(
		&chaincfg.SigNetParams,
		paymentHash,
		time.Now(),
		zpay32.Amount(lnwire.MilliSatoshi(amount*1000)),
		zpay32.Description("test"),
	)
	if err != nil {
		return "", "", "", err
	}

	invoiceStr, err := invoice.Encode(zpay32.MessageSigner{
		SignCompact: func(msg []byte) ([]byte, error) {
			key, err := secp256k1.GeneratePrivateKey()
			if err != nil {
				return []byte{}, err
			}
			return ecdsa.SignCompact(key, msg, true), nil
		},
	})
	if err != nil {
		return "", "", "", err
	}

	return invoiceStr, preimage, hash, nil
}
