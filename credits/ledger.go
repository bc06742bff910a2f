/*
ledger.go - Append-only cycle credit log

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete.
  2. IDEMPOTENT: same idempotency key = same entry, never a second one.
  3. A procedure's credits are deducted at most once and added back at
     most what was deducted.

IDEMPOTENCY KEYS:
  deduct:{procedure uuid}
  add_back:{procedure uuid}:{refund reimbursement request id}
*/
package credits

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// STORE
// =============================================================================

// Store persists credit transactions. There is no Update or Delete.
type Store interface {
	AppendCredit(ctx context.Context, tx Transaction) error
	LoadCredits(ctx context.Context, walletID int64) ([]Transaction, error)
	CreditKeyExists(ctx context.Context, idempotencyKey string) (bool, error)
}

// =============================================================================
// LEDGER
// =============================================================================

type Ledger struct {
	store Store
	now   func() time.Time
}

func NewLedger(store Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

func (l *Ledger) Append(ctx context.Context, tx Transaction) error {
	if tx.IdempotencyKey != "" {
		exists, err := l.store.CreditKeyExists(ctx, tx.IdempotencyKey)
		if err != nil {
			return err
		}
		if exists {
			return ErrDuplicateIdempotencyKey
		}
	}
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = l.now()
	}
	return l.store.AppendCredit(ctx, tx)
}

// Balance replays every entry for the wallet.
func (l *Ledger) Balance(ctx context.Context, walletID int64) (int64, error) {
	txs, err := l.store.LoadCredits(ctx, walletID)
	if err != nil {
		return 0, err
	}
	var balance int64
	for _, tx := range txs {
		balance += tx.Delta
	}
	return balance, nil
}

// Grant adds credits to a wallet.
func (l *Ledger) Grant(ctx context.Context, walletID, amount int64, idempotencyKey string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return l.Append(ctx, Transaction{
		WalletID:       walletID,
		Delta:          amount,
		Type:           TxGrant,
		IdempotencyKey: idempotencyKey,
	})
}

// Deducted reports whether the procedure's credits were ever deducted.
func (l *Ledger) Deducted(ctx context.Context, procedureUUID uuid.UUID) (bool, error) {
	return l.store.CreditKeyExists(ctx, deductKey(procedureUUID))
}

// CheckAvailable returns an InsufficientCreditsError when the wallet can't
// cover cost.
func (l *Ledger) CheckAvailable(ctx context.Context, walletID, cost int64) error {
	balance, err := l.Balance(ctx, walletID)
	if err != nil {
		return err
	}
	if balance < cost {
		return &InsufficientCreditsError{WalletID: walletID, Available: balance, Requested: cost}
	}
	return nil
}

// DeductCreditsForReimbursementAndProcedure spends cost credits for a
// procedure. A procedure is only ever deducted once.
func (l *Ledger) DeductCreditsForReimbursementAndProcedure(ctx context.Context, walletID, reimbursementRequestID int64, procedureUUID uuid.UUID, globalProcedureID string, cost int64) error {
	if cost <= 0 {
		return ErrInvalidAmount
	}
	if err := l.CheckAvailable(ctx, walletID, cost); err != nil {
		return err
	}
	return l.Append(ctx, Transaction{
		WalletID:               walletID,
		Delta:                  -cost,
		Type:                   TxDeduction,
		ReimbursementRequestID: optionalID(reimbursementRequestID),
		GlobalProcedureID:      globalProcedureID,
		ProcedureUUID:          &procedureUUID,
		IdempotencyKey:         deductKey(procedureUUID),
	})
}

// AddBackCreditsForReimbursementAndProcedure returns whatever is still
// deducted for the procedure. Returns the amount added back; zero when
// nothing was outstanding.
func (l *Ledger) AddBackCreditsForReimbursementAndProcedure(ctx context.Context, walletID, reimbursementRequestID int64, procedureUUID uuid.UUID, globalProcedureID string) (int64, error) {
	txs, err := l.store.LoadCredits(ctx, walletID)
	if err != nil {
		return 0, err
	}
	var outstanding int64
	for _, tx := range txs {
		if tx.ProcedureUUID == nil || *tx.ProcedureUUID != procedureUUID {
			continue
		}
		switch tx.Type {
		case TxDeduction, TxAddBack:
			outstanding -= tx.Delta
		}
	}
	if outstanding <= 0 {
		return 0, nil
	}

	err = l.Append(ctx, Transaction{
		WalletID:               walletID,
		Delta:                  outstanding,
		Type:                   TxAddBack,
		ReimbursementRequestID: optionalID(reimbursementRequestID),
		GlobalProcedureID:      globalProcedureID,
		ProcedureUUID:          &procedureUUID,
		IdempotencyKey:         fmt.Sprintf("add_back:%s:%d", procedureUUID, reimbursementRequestID),
	})
	if err != nil {
		return 0, err
	}
	return outstanding, nil
}

func deductKey(procedureUUID uuid.UUID) string {
	return "deduct:" + procedureUUID.String()
}

func optionalID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}
