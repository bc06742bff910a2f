// Package memory provides in-memory implementations of the engine's
// repositories, for tests and local development.
package memory

import (
	"context"
	"sync"

	"github.com/warp/benefits-engine/credits"
)

// =============================================================================
// CREDIT LEDGER STORE - Append-only
// =============================================================================

type Credits struct {
	mu           sync.RWMutex
	transactions map[int64][]credits.Transaction
	idempotency  map[string]bool
}

func NewCredits() *Credits {
	return &Credits{
		transactions: make(map[int64][]credits.Transaction),
		idempotency:  make(map[string]bool),
	}
}

// AppendCredit adds a single entry. Append-only.
func (m *Credits) AppendCredit(_ context.Context, tx credits.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if tx.IdempotencyKey != "" && m.idempotency[tx.IdempotencyKey] {
		return credits.ErrDuplicateIdempotencyKey
	}
	m.transactions[tx.WalletID] = append(m.transactions[tx.WalletID], tx)
	if tx.IdempotencyKey != "" {
		m.idempotency[tx.IdempotencyKey] = true
	}
	return nil
}

func (m *Credits) LoadCredits(_ context.Context, walletID int64) ([]credits.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]credits.Transaction, len(m.transactions[walletID]))
	copy(result, m.transactions[walletID])
	return result, nil
}

func (m *Credits) CreditKeyExists(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.idempotency[idempotencyKey], nil
}
