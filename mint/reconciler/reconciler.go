// Package reconciler drives every tracked invoice and payment to a terminal
// state without double-submission or lost settlement.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	decodepay "github.com/nbd-wtf/ln-decodepay"
	"github.com/satmint/satmint/mint/lightning"
	"github.com/satmint/satmint/mint/storage"
)

type Outcome int

const (
	OutcomeSettled Outcome = iota
	OutcomeFailed
)

func (o Outcome) String() string {
	if o == OutcomeSettled {
		return "settled"
	}
	return "failed"
}

// Ledger is the mint's balance collaborator. It answers whether an outgoing
// amount can be covered and records final settlement outcomes.
type Ledger interface {
	AvailableBalance(ctx context.Context, amount uint64) (bool, error)
	RecordSettlement(ctx context.Context, paymentHash string, outcome Outcome) error
}

type Config struct {
	BackoffStart time.Duration
	BackoffCap   time.Duration
	// timeout applied to every backend call made from a poll loop
	CallTimeout time.Duration
	// max concurrent in-flight status checks against the backend
	MaxWorkers int
}

const (
	defaultCallTimeout = 30 * time.Second
	defaultMaxWorkers  = 10
)

type Engine struct {
	client    lightning.Client
	db        storage.InvoiceDB
	ledger    Ledger
	estimator *lightning.FeeEstimator
	clk       clock.Clock
	logger    *slog.Logger

	backoffStart time.Duration
	backoffCap   time.Duration
	callTimeout  time.Duration

	// bounds concurrent status checks against the backend
	sem chan struct{}

	mu sync.Mutex
	// payment hashes with a submission in the critical window
	submitting map[string]struct{}
	// hashes with an active poll loop, at most one per hash
	watching map[string]struct{}

	quit chan struct{}
	wg   sync.WaitGroup
}

func New(client lightning.Client, db storage.InvoiceDB, ledger Ledger,
	estimator *lightning.FeeEstimator, clk clock.Clock, logger *slog.Logger,
	cfg Config) *Engine {

	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BackoffStart <= 0 {
		cfg.BackoffStart = DefaultBackoffStart
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = DefaultBackoffCap
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = defaultMaxWorkers
	}

	return &Engine{
		client:       client,
		db:           db,
		ledger:       ledger,
		estimator:    estimator,
		clk:          clk,
		logger:       logger,
		backoffStart: cfg.BackoffStart,
		backoffCap:   cfg.BackoffCap,
		callTimeout:  cfg.CallTimeout,
		sem:          make(chan struct{}, cfg.MaxWorkers),
		submitting:   make(map[string]struct{}),
		watching:     make(map[string]struct{}),
		quit:         make(chan struct{}),
	}
}

// TrackInvoice persists the invoice and schedules polling of its status
// until it is paid or expires.
func (e *Engine) TrackInvoice(invoice lightning.Invoice) error {
	if err := e.db.SaveInvoice(invoice); err != nil {
		return fmt.Errorf("could not save invoice: %v", err)
	}
	e.startWatcher(invoice.PaymentHash, func() { e.watchInvoice(invoice) })
	return nil
}

// PayInvoice submits an outgoing payment, guarded so that at most one
// submission per payment hash can ever reach the backend. The returned
// payment is terminal (Settled or Failed), or in the Unknown/Pending state
// with reconciliation already scheduled.
func (e *Engine) PayInvoice(ctx context.Context, request string) (lightning.Payment, error) {
	bolt11, err := decodepay.Decodepay(request)
	if err != nil {
		return lightning.Payment{}, fmt.Errorf("invalid payment request: %v", err)
	}
	hash := bolt11.PaymentHash
	amount := uint64(bolt11.MSatoshi / 1000)

	if err := e.beginSubmission(hash); err != nil {
		return lightning.Payment{}, err
	}
	defer e.endSubmission(hash)

	// preflight on the amount alone: when the ledger clearly cannot cover
	// it, fail before any call to the backend
	if err := e.checkBalance(ctx, amount); err != nil {
		return lightning.Payment{}, err
	}

	// fee reserve is evaluated fresh on every submission
	reserve, err := e.estimator.Reserve(ctx, request)
	if err != nil {
		return lightning.Payment{}, err
	}
	if err := e.checkBalance(ctx, amount+reserve); err != nil {
		return lightning.Payment{}, err
	}

	// persist before submitting so a crash mid-flight leaves a record to
	// reconcile on restart
	pending := lightning.Payment{
		PaymentHash: hash,
		Amount:      amount,
		FeeReserve:  reserve,
		CheckingId:  hash,
		Status:      lightning.Pending,
	}
	if err := e.db.SavePayment(pending); err != nil {
		return lightning.Payment{}, fmt.Errorf("could not save payment: %v", err)
	}

	submitCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	payment, payErr := e.client.PayInvoice(submitCtx, request, reserve)

	var transportErr *lightning.TransportError
	if errors.As(payErr, &transportErr) {
		// the backend was never reached, so nothing was submitted and
		// the hash can be retried
		failed := pending
		failed.Status = lightning.Failed
		if err := e.db.UpdatePayment(failed); err != nil {
			e.logger.Error(fmt.Sprintf("could not update payment '%v': %v", hash, err))
		}
		return failed, payErr
	}

	var protoErr *lightning.ProtocolError
	if errors.As(payErr, &protoErr) {
		// the response shape was not understood, so whether funds left
		// cannot be known. Keep the record pending and reconcile; the
		// hash stays locked against resubmission.
		e.startWatcher(pending.PaymentHash, func() { e.watchPayment(pending) })
		return pending, payErr
	}

	payment.PaymentHash = hash
	payment.Amount = amount
	payment.FeeReserve = reserve
	if payment.CheckingId == "" {
		payment.CheckingId = hash
	}
	if payErr != nil && payment.Status == lightning.Pending {
		payment.Status = lightning.Failed
	}

	if err := e.db.UpdatePayment(payment); err != nil {
		e.logger.Error(fmt.Sprintf("could not update payment '%v': %v", hash, err))
	}

	switch payment.Status {
	case lightning.Settled:
		e.recordSettlement(payment.PaymentHash, OutcomeSettled)
	case lightning.Failed:
		e.recordSettlement(payment.PaymentHash, OutcomeFailed)
	case lightning.Unknown, lightning.Pending:
		// mandatory reconciliation before the hash can be released
		e.startWatcher(payment.PaymentHash, func() { e.watchPayment(payment) })
	}

	return payment, payErr
}

// InvoiceState returns the last observed status of a tracked invoice.
func (e *Engine) InvoiceState(hash string) (lightning.Invoice, error) {
	return e.db.GetInvoice(hash)
}

// PaymentState returns the last observed state of a tracked payment.
func (e *Engine) PaymentState(hash string) (lightning.Payment, error) {
	return e.db.GetPayment(hash)
}

// Resume re-schedules polling for every non-terminal invoice and payment in
// the store. Called once at startup.
func (e *Engine) Resume() error {
	invoices, err := e.db.GetPendingInvoices()
	if err != nil {
		return fmt.Errorf("could not load pending invoices: %v", err)
	}
	for _, invoice := range invoices {
		invoice := invoice
		e.startWatcher(invoice.PaymentHash, func() { e.watchInvoice(invoice) })
	}

	payments, err := e.db.GetPendingPayments()
	if err != nil {
		return fmt.Errorf("could not load pending payments: %v", err)
	}
	for _, payment := range payments {
		payment := payment
		e.startWatcher(payment.PaymentHash, func() { e.watchPayment(payment) })
	}

	return nil
}

// Shutdown stops all poll loops. Tracked items keep their last observed
// status; no terminal state is fabricated.
func (e *Engine) Shutdown(ctx context.Context) error {
	close(e.quit)

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) beginSubmission(hash string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, inflight := e.submitting[hash]; inflight {
		return lightning.ErrDuplicatePayment
	}

	existing, err := e.db.GetPayment(hash)
	if err == nil && existing.Status != lightning.Failed {
		// Pending, Settled and Unknown all reject resubmission
		return lightning.ErrDuplicatePayment
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	e.submitting[hash] = struct{}{}
	return nil
}

func (e *Engine) endSubmission(hash string) {
	e.mu.Lock()
	delete(e.submitting, hash)
	e.mu.Unlock()
}

func (e *Engine) checkBalance(ctx context.Context, amount uint64) error {
	available, err := e.ledger.AvailableBalance(ctx, amount)
	if err != nil {
		return fmt.Errorf("could not check balance: %v", err)
	}
	if !available {
		return lightning.ErrInsufficientBalance
	}
	return nil
}

// startWatcher spawns the poll loop for a hash unless one is already
// running. This keeps status checks for a given hash strictly sequential.
func (e *Engine) startWatcher(hash string, watch func()) {
	e.mu.Lock()
	if _, ok := e.watching[hash]; ok {
		e.mu.Unlock()
		return
	}
	e.watching[hash] = struct{}{}
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			e.mu.Lock()
			delete(e.watching, hash)
			e.mu.Unlock()
		}()
		watch()
	}()
}

func (e *Engine) watchInvoice(invoice lightning.Invoice) {
	b := newBackoff(e.backoffStart, e.backoffCap)

	for {
		if !e.clk.Now().Before(invoice.ExpiresAt()) {
			e.markInvoiceExpired(invoice)
			return
		}

		wait := b.interval()
		if until := invoice.ExpiresAt().Sub(e.clk.Now()); until < wait {
			wait = until
		}
		select {
		case <-e.quit:
			return
		case <-e.clk.After(wait):
		}

		if !e.clk.Now().Before(invoice.ExpiresAt()) {
			e.markInvoiceExpired(invoice)
			return
		}

		status, err := e.pollInvoice(invoice.PaymentHash)
		if err != nil {
			if lightning.IsRetryable(err) {
				e.logger.Debug(fmt.Sprintf("transport error checking invoice '%v', will retry: %v",
					invoice.PaymentHash, err))
				continue
			}
			e.logger.Error(fmt.Sprintf("stopping invoice watcher for '%v': %v",
				invoice.PaymentHash, err))
			return
		}

		switch status {
		case lightning.Paid:
			e.logger.Info(fmt.Sprintf("invoice '%v' is PAID", invoice.PaymentHash))
			if err := e.db.UpdateInvoiceStatus(invoice.PaymentHash, lightning.Paid); err != nil {
				e.logger.Error(fmt.Sprintf("could not mark invoice '%v' as PAID: %v",
					invoice.PaymentHash, err))
			}
			return
		case lightning.Expired:
			e.markInvoiceExpired(invoice)
			return
		}
	}
}

func (e *Engine) markInvoiceExpired(invoice lightning.Invoice) {
	e.logger.Debug(fmt.Sprintf("invoice '%v' expired, stopping watcher", invoice.PaymentHash))
	if err := e.db.UpdateInvoiceStatus(invoice.PaymentHash, lightning.Expired); err != nil {
		e.logger.Error(fmt.Sprintf("could not mark invoice '%v' as EXPIRED: %v",
			invoice.PaymentHash, err))
	}
}

// watchPayment reconciles a Pending or Unknown payment until the backend
// reports a terminal result. Operator-driven shutdown leaves the payment in
// its last observed state.
func (e *Engine) watchPayment(payment lightning.Payment) {
	b := newBackoff(e.backoffStart, e.backoffCap)

	for {
		select {
		case <-e.quit:
			return
		case <-e.clk.After(b.interval()):
		}

		result, err := e.pollPayment(payment.CheckingId)
		if err != nil {
			if lightning.IsRetryable(err) {
				e.logger.Debug(fmt.Sprintf("transport error checking payment '%v', will retry: %v",
					payment.PaymentHash, err))
				continue
			}
			e.logger.Error(fmt.Sprintf("stopping payment watcher for '%v': %v",
				payment.PaymentHash, err))
			return
		}

		switch result.Status {
		case lightning.Settled:
			payment.Status = lightning.Settled
			payment.FeePaid = result.FeePaid
			payment.Preimage = result.Preimage
			e.logger.Info(fmt.Sprintf("payment '%v' SETTLED. fee paid: %v",
				payment.PaymentHash, payment.FeePaid))
			if err := e.db.UpdatePayment(payment); err != nil {
				e.logger.Error(fmt.Sprintf("could not update payment '%v': %v",
					payment.PaymentHash, err))
			}
			e.recordSettlement(payment.PaymentHash, OutcomeSettled)
			return
		case lightning.Failed:
			payment.Status = lightning.Failed
			e.logger.Info(fmt.Sprintf("payment '%v' FAILED", payment.PaymentHash))
			if err := e.db.UpdatePayment(payment); err != nil {
				e.logger.Error(fmt.Sprintf("could not update payment '%v': %v",
					payment.PaymentHash, err))
			}
			e.recordSettlement(payment.PaymentHash, OutcomeFailed)
			return
		}
	}
}

// pollInvoice performs one bounded status check, holding a worker slot only
// for the duration of the call.
func (e *Engine) pollInvoice(hash string) (lightning.InvoiceStatus, error) {
	e.sem <- struct{}{}
	defer func() { <-e.sem }()

	ctx, cancel := context.WithTimeout(context.Background(), e.callTimeout)
	defer cancel()
	return e.client.InvoiceStatus(ctx, hash)
}

func (e *Engine) pollPayment(checkingId string) (lightning.PaymentStatusResult, error) {
	e.sem <- struct{}{}
	defer func() { <-e.sem }()

	ctx, cancel := context.WithTimeout(context.Background(), e.callTimeout)
	defer cancel()
	return e.client.PaymentStatus(ctx, checkingId)
}

func (e *Engine) recordSettlement(hash string, outcome Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), e.callTimeout)
	defer cancel()
	if err := e.ledger.RecordSettlement(ctx, hash, outcome); err != nil {
		e.logger.Error(fmt.Sprintf("could not record settlement for '%v': %v", hash, err))
	}
}
