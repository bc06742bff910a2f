/*
Package credits tracks cycle credits for cycle-based wallets.

PURPOSE:
  Cycle wallets (fertility benefits counted in treatment cycles rather
  than dollars) spend credits instead of currency. Each global procedure
  has a credit cost. The credit balance is the replayed sum of an
  append-only transaction log, so it can always be explained.

KEY CONCEPTS IN THIS FILE (types.go):
  - Transaction: an immutable ledger entry (grant, deduction, add back)
  - TransactionType: why the balance moved

CORRECTIONS:
  Nothing is edited. A refunded procedure gets an ADD_BACK entry that
  cancels its DEDUCTION; both stay in the ledger:

    wallet 7: [GRANT +12, DEDUCTION -3 (proc A), ADD_BACK +3 (proc A)] = 12

SEE ALSO:
  - ledger.go: balance and the deduct/add back operations
  - store/memory, store/sqlstore: Store implementations
*/
package credits

import (
	"time"

	"github.com/google/uuid"
)

type TransactionType string

const (
	TxGrant      TransactionType = "GRANT"
	TxDeduction  TransactionType = "DEDUCTION"
	TxAddBack    TransactionType = "ADD_BACK"
	TxAdjustment TransactionType = "ADJUSTMENT"
)

// Transaction is one ledger entry. Delta is signed: deductions are negative.
type Transaction struct {
	ID                     uuid.UUID
	WalletID               int64
	Delta                  int64
	Type                   TransactionType
	ReimbursementRequestID *int64
	GlobalProcedureID      string
	ProcedureUUID          *uuid.UUID
	IdempotencyKey         string
	Notes                  string
	CreatedAt              time.Time
}
