package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/satmint/satmint/mint/lightning"
)

func setupBolt(t *testing.T) *BoltDB {
	t.Helper()
	db, err := InitBolt(t.TempDir())
	if err != nil {
		t.Fatalf("error setting up db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBoltInvoices(t *testing.T) {
	db := setupBolt(t)

	invoice := lightning.Invoice{
		PaymentRequest: "lnbc210n1fakeinvoice",
		PaymentHash:    "a47c0eff134f0543e2b1a5c97b6ad46bbc6b9256b65b4bf8ca35d5c5f856e6dc",
		Amount:         21,
		CreatedAt:      time.Now().Truncate(time.Second),
		Expiry:         time.Hour,
		Status:         lightning.Unpaid,
	}
	if err := db.SaveInvoice(invoice); err != nil {
		t.Fatalf("error saving invoice: %v", err)
	}

	stored, err := db.GetInvoice(invoice.PaymentHash)
	if err != nil {
		t.Fatalf("error getting invoice: %v", err)
	}
	if stored.PaymentRequest != invoice.PaymentRequest {
		t.Errorf("expected request '%v' but got '%v'", invoice.PaymentRequest, stored.PaymentRequest)
	}
	if stored.Status != lightning.Unpaid {
		t.Errorf("expected status '%v' but got '%v'", lightning.Unpaid, stored.Status)
	}

	if err := db.UpdateInvoiceStatus(invoice.PaymentHash, lightning.Paid); err != nil {
		t.Fatalf("error updating status: %v", err)
	}
	stored, err = db.GetInvoice(invoice.PaymentHash)
	if err != nil {
		t.Fatalf("error getting invoice: %v", err)
	}
	if stored.Status != lightning.Paid {
		t.Errorf("expected status '%v' but got '%v'", lightning.Paid, stored.Status)
	}

	if _, err := db.GetInvoice("unknownhash"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected error '%v' but got '%v'", ErrNotFound, err)
	}
	if err := db.UpdateInvoiceStatus("unknownhash", lightning.Paid); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected error '%v' but got '%v'", ErrNotFound, err)
	}
}

func TestBoltPendingInvoices(t *testing.T) {
	db := setupBolt(t)

	open := lightning.Invoice{PaymentHash: "aa11", Status: lightning.Unpaid}
	paid := lightning.Invoice{PaymentHash: "bb22", Status: lightning.Paid}
	expired := lightning.Invoice{PaymentHash: "cc33", Status: lightning.Expired}
	for _, invoice := range []lightning.Invoice{open, paid, expired} {
		if err := db.SaveInvoice(invoice); err != nil {
			t.Fatalf("error saving invoice: %v", err)
		}
	}

	pending, err := db.GetPendingInvoices()
	if err != nil {
		t.Fatalf("error getting pending invoices: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected '%v' pending invoices but got '%v'", 1, len(pending))
	}
	if pending[0].PaymentHash != "aa11" {
		t.Errorf("expected hash '%v' but got '%v'", "aa11", pending[0].PaymentHash)
	}
}

func TestBoltPayments(t *testing.T) {
	db := setupBolt(t)

	payment := lightning.Payment{
		PaymentHash: "a47c0eff134f0543e2b1a5c97b6ad46bbc6b9256b65b4bf8ca35d5c5f856e6dc",
		Amount:      100000,
		FeeReserve:  1000,
		CheckingId:  "a47c0eff134f0543e2b1a5c97b6ad46bbc6b9256b65b4bf8ca35d5c5f856e6dc",
		Status:      lightning.Pending,
	}
	if err := db.SavePayment(payment); err != nil {
		t.Fatalf("error saving payment: %v", err)
	}

	stored, err := db.GetPayment(payment.PaymentHash)
	if err != nil {
		t.Fatalf("error getting payment: %v", err)
	}
	if stored.FeeReserve != 1000 {
		t.Errorf("expected fee reserve '%v' but got '%v'", 1000, stored.FeeReserve)
	}

	payment.Status = lightning.Settled
	payment.FeePaid = 12
	payment.Preimage = "00112233"
	if err := db.UpdatePayment(payment); err != nil {
		t.Fatalf("error updating payment: %v", err)
	}

	stored, err = db.GetPayment(payment.PaymentHash)
	if err != nil {
		t.Fatalf("error getting payment: %v", err)
	}
	if stored.Status != lightning.Settled {
		t.Errorf("expected status '%v' but got '%v'", lightning.Settled, stored.Status)
	}
	if stored.FeePaid != 12 {
		t.Errorf("expected fee paid '%v' but got '%v'", 12, stored.FeePaid)
	}

	if _, err := db.GetPayment("unknownhash"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected error '%v' but got '%v'", ErrNotFound, err)
	}
}

func TestBoltPendingPayments(t *testing.T) {
	db := setupBolt(t)

	payments := []lightning.Payment{
		{PaymentHash: "aa11", Status: lightning.Pending},
		{PaymentHash: "bb22", Status: lightning.Unknown},
		{PaymentHash: "cc33", Status: lightning.Settled},
		{PaymentHash: "dd44", Status: lightning.Failed},
	}
	for _, payment := range payments {
		if err := db.SavePayment(payment); err != nil {
			t.Fatalf("error saving payment: %v", err)
		}
	}

	pending, err := db.GetPendingPayments()
	if err != nil {
		t.Fatalf("error getting pending payments: %v", err)
	}
	// Pending and Unknown both require reconciliation
	if len(pending) != 2 {
		t.Fatalf("expected '%v' pending payments but got '%v'", 2, len(pending))
	}
}
