package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/mattn/go-sqlite3"
	"github.com/satmint/satmint/mint/lightning"
	"github.com/satmint/satmint/mint/storage"
)

type SQLiteDB struct {
	db *sql.DB
}

func InitSQLite(path, migrationPath string) (*SQLiteDB, error) {
	dbpath := filepath.Join(path, "mint.sqlite.db")
	db, err := sql.Open("sqlite3", dbpath)
	if err != nil {
		return nil, err
	}

	m, err := migrate.New(fmt.Sprintf("file://%s", migrationPath), fmt.Sprintf("sqlite3://%s", dbpath))
	if err != nil {
		return nil, err
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	return &SQLiteDB{db: db}, nil
}

func (sqlite *SQLiteDB) Close() error {
	return sqlite.db.Close()
}

func (sqlite *SQLiteDB) SaveInvoice(invoice lightning.Invoice) error {
	_, err := sqlite.db.Exec(`
		INSERT OR REPLACE INTO invoices
		(payment_hash, payment_request, amount, memo, created_at, expiry_seconds, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, invoice.PaymentHash, invoice.PaymentRequest, invoice.Amount, invoice.Memo,
		invoice.CreatedAt.Unix(), int64(invoice.Expiry.Seconds()), int(invoice.Status))

	return err
}

func (sqlite *SQLiteDB) GetInvoice(hash string) (lightning.Invoice, error) {
	row := sqlite.db.QueryRow(`
		SELECT payment_hash, payment_request, amount, memo, created_at, expiry_seconds, status
		FROM invoices WHERE payment_hash = ?
	`, hash)

	invoice, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return lightning.Invoice{}, storage.ErrNotFound
	}
	return invoice, err
}

func (sqlite *SQLiteDB) UpdateInvoiceStatus(hash string, status lightning.InvoiceStatus) error {
	result, err := sqlite.db.Exec(
		"UPDATE invoices SET status = ? WHERE payment_hash = ?", int(status), hash)
	if err != nil {
		return err
	}
	count, err := result.RowsAffected()
	if err == nil && count == 0 {
		return storage.ErrNotFound
	}
	return err
}

func (sqlite *SQLiteDB) GetPendingInvoices() ([]lightning.Invoice, error) {
	rows, err := sqlite.db.Query(`
		SELECT payment_hash, payment_request, amount, memo, created_at, expiry_seconds, status
		FROM invoices WHERE status = ?
	`, int(lightning.Unpaid))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invoices := []lightning.Invoice{}
	for rows.Next() {
		invoice, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, invoice)
	}
	return invoices, rows.Err()
}

func (sqlite *SQLiteDB) SavePayment(payment lightning.Payment) error {
	_, err := sqlite.db.Exec(`
		INSERT OR REPLACE INTO payments
		(payment_hash, amount, fee_reserve, fee_paid, checking_id, preimage, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, payment.PaymentHash, payment.Amount, payment.FeeReserve, payment.FeePaid,
		payment.CheckingId, payment.Preimage, int(payment.Status))

	return err
}

func (sqlite *SQLiteDB) GetPayment(hash string) (lightning.Payment, error) {
	row := sqlite.db.QueryRow(`
		SELECT payment_hash, amount, fee_reserve, fee_paid, checking_id, preimage, status
		FROM payments WHERE payment_hash = ?
	`, hash)

	payment, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return lightning.Payment{}, storage.ErrNotFound
	}
	return payment, err
}

func (sqlite *SQLiteDB) UpdatePayment(payment lightning.Payment) error {
	return sqlite.SavePayment(payment)
}

func (sqlite *SQLiteDB) GetPendingPayments() ([]lightning.Payment, error) {
	rows, err := sqlite.db.Query(`
		SELECT payment_hash, amount, fee_reserve, fee_paid, checking_id, preimage, status
		FROM payments WHERE status IN (?, ?)
	`, int(lightning.Pending), int(lightning.Unknown))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := []lightning.Payment{}
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, payment)
	}
	return payments, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInvoice(s scanner) (lightning.Invoice, error) {
	var invoice lightning.Invoice
	var createdAt, expirySeconds int64
	var status int

	err := s.Scan(
		&invoice.PaymentHash,
		&invoice.PaymentRequest,
		&invoice.Amount,
		&invoice.Memo,
		&createdAt,
		&expirySeconds,
		&status,
	)
	if err != nil {
		return lightning.Invoice{}, err
	}

	invoice.CreatedAt = time.Unix(createdAt, 0)
	invoice.Expiry = time.Duration(expirySeconds) * time.Second
	invoice.Status = lightning.InvoiceStatus(status)
	return invoice, nil
}

func scanPayment(s scanner) (lightning.Payment, error) {
	var payment lightning.Payment
	var status int

	err := s.Scan(
		&payment.PaymentHash,
		&payment.Amount,
		&payment.FeeReserve,
		&payment.FeePaid,
		&payment.CheckingId,
		&payment.Preimage,
		&status,
	)
	if err != nil {
		return lightning.Payment{}, err
	}

	payment.Status = lightning.PaymentState(status)
	return payment, nil
}
