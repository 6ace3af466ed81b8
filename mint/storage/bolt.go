package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/satmint/satmint/mint/lightning"
	bolt "go.etcd.io/bbolt"
)

const (
	invoicesBucket = "invoices"
	paymentsBucket = "payments"
)

type BoltDB struct {
	bolt *bolt.DB
}

func InitBolt(path string) (*BoltDB, error) {
	db, err := bolt.Open(filepath.Join(path, "mint.db"), 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("error opening db: %v", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(invoicesBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(paymentsBucket))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("error setting up db: %v", err)
	}

	return &BoltDB{bolt: db}, nil
}

func (db *BoltDB) Close() error {
	return db.bolt.Close()
}

func (db *BoltDB) SaveInvoice(invoice lightning.Invoice) error {
	jsonBytes, err := json.Marshal(invoice)
	if err != nil {
		return fmt.Errorf("invalid invoice: %v", err)
	}

	return db.bolt.Update(func(tx *bolt.Tx) error {
		invoicesb := tx.Bucket([]byte(invoicesBucket))
		return invoicesb.Put([]byte(invoice.PaymentHash), jsonBytes)
	})
}

func (db *BoltDB) GetInvoice(hash string) (lightning.Invoice, error) {
	var invoice lightning.Invoice
	err := db.bolt.View(func(tx *bolt.Tx) error {
		invoicesb := tx.Bucket([]byte(invoicesBucket))
		invoiceBytes := invoicesb.Get([]byte(hash))
		if invoiceBytes == nil {
			return ErrNotFound
		}
		return json.Unmarshal(invoiceBytes, &invoice)
	})
	if err != nil {
		return lightning.Invoice{}, err
	}
	return invoice, nil
}

func (db *BoltDB) UpdateInvoiceStatus(hash string, status lightning.InvoiceStatus) error {
	return db.bolt.Update(func(tx *bolt.Tx) error {
		invoicesb := tx.Bucket([]byte(invoicesBucket))
		invoiceBytes := invoicesb.Get([]byte(hash))
		if invoiceBytes == nil {
			return ErrNotFound
		}

		var invoice lightning.Invoice
		if err := json.Unmarshal(invoiceBytes, &invoice); err != nil {
			return err
		}
		invoice.Status = status

		jsonBytes, err := json.Marshal(invoice)
		if err != nil {
			return err
		}
		return invoicesb.Put([]byte(hash), jsonBytes)
	})
}

func (db *BoltDB) GetPendingInvoices() ([]lightning.Invoice, error) {
	var invoices []lightning.Invoice
	err := db.bolt.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(invoicesBucket)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var invoice lightning.Invoice
			if err := json.Unmarshal(v, &invoice); err != nil {
				return err
			}
			if !invoice.Status.Terminal() {
				invoices = append(invoices, invoice)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

func (db *BoltDB) SavePayment(payment lightning.Payment) error {
	jsonBytes, err := json.Marshal(payment)
	if err != nil {
		return fmt.Errorf("invalid payment: %v", err)
	}

	return db.bolt.Update(func(tx *bolt.Tx) error {
		paymentsb := tx.Bucket([]byte(paymentsBucket))
		return paymentsb.Put([]byte(payment.PaymentHash), jsonBytes)
	})
}

func (db *BoltDB) GetPayment(hash string) (lightning.Payment, error) {
	var payment lightning.Payment
	err := db.bolt.View(func(tx *bolt.Tx) error {
		paymentsb := tx.Bucket([]byte(paymentsBucket))
		paymentBytes := paymentsb.Get([]byte(hash))
		if paymentBytes == nil {
			return ErrNotFound
		}
		return json.Unmarshal(paymentBytes, &payment)
	})
	if err != nil {
		return lightning.Payment{}, err
	}
	return payment, nil
}

func (db *BoltDB) UpdatePayment(payment lightning.Payment) error {
	return db.SavePayment(payment)
}

func (db *BoltDB) GetPendingPayments() ([]lightning.Payment, error) {
	var payments []lightning.Payment
	err := db.bolt.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(paymentsBucket)).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var payment lightning.Payment
			if err := json.Unmarshal(v, &payment); err != nil {
				return err
			}
			if !payment.Status.Terminal() {
				payments = append(payments, payment)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payments, nil
}
