package mint

import (
	"context"
	"sync"

	"github.com/satmint/satmint/mint/reconciler"
)

// MemoryLedger is a process-local balance ledger. It answers the engine's
// balance checks from an in-memory counter and records settlement outcomes
// by payment hash, which is enough for a single-node deployment and for the
// fake backend.
type MemoryLedger struct {
	mu          sync.Mutex
	balance     uint64
	settlements map[string]reconciler.Outcome
}

func NewMemoryLedger(balance uint64) *MemoryLedger {
	return &MemoryLedger{
		balance:     balance,
		settlements: make(map[string]reconciler.Outcome),
	}
}

func (l *MemoryLedger) AvailableBalance(ctx context.Context, amount uint64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return amount <= l.balance, nil
}

func (l *MemoryLedger) RecordSettlement(ctx context.Context, paymentHash string, outcome reconciler.Outcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.settlements[paymentHash] = outcome
	return nil
}

// Settlement reports the recorded outcome for a payment hash.
func (l *MemoryLedger) Settlement(paymentHash string) (reconciler.Outcome, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	outcome, ok := l.settlements[paymentHash]
	return outcome, ok
}

// Credit adds settled incoming funds to the ledger.
func (l *MemoryLedger) Credit(amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balance += amount
}

// Debit removes spent funds from the ledger.
func (l *MemoryLedger) Debit(amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if amount > l.balance {
		amount = l.balance
	}
	l.balance -= amount
}

func (l *MemoryLedger) Balance() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance
}
