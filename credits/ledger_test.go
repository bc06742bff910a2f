package credits_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/benefits-engine/credits"
	"github.com/warp/benefits-engine/store/memory"
)

const walletID = int64(7)

func newLedger(t *testing.T, grant int64) (*credits.Ledger, *memory.Credits) {
	t.Helper()
	store := memory.NewCredits()
	ledger := credits.NewLedger(store)
	if grant > 0 {
		require.NoError(t, ledger.Grant(context.Background(), walletID, grant, "grant-1"))
	}
	return ledger, store
}

// =============================================================================
// GRANT / BALANCE
// =============================================================================

func TestGrant(t *testing.T) {
	ledger, _ := newLedger(t, 12)
	ctx := context.Background()

	balance, err := ledger.Balance(ctx, walletID)
	require.NoError(t, err)
	assert.Equal(t, int64(12), balance)

	// same key is a retry, not a second grant
	err = ledger.Grant(ctx, walletID, 12, "grant-1")
	assert.ErrorIs(t, err, credits.ErrDuplicateIdempotencyKey)

	assert.ErrorIs(t, ledger.Grant(ctx, walletID, 0, "grant-2"), credits.ErrInvalidAmount)

	balance, err = ledger.Balance(ctx, walletID)
	require.NoError(t, err)
	assert.Equal(t, int64(12), balance)
}

func TestBalance_EmptyWallet(t *testing.T) {
	ledger, _ := newLedger(t, 0)

	balance, err := ledger.Balance(context.Background(), 99)
	require.NoError(t, err)
	assert.Zero(t, balance)
}

// =============================================================================
// DEDUCT
// =============================================================================

func TestDeductCredits(t *testing.T) {
	// GIVEN: A wallet with 12 credits
	// WHEN: Deducting a 4 credit procedure
	// THEN: Balance is 8 and the entry points at the procedure and request
	ledger, store := newLedger(t, 12)
	ctx := context.Background()
	proc := uuid.New()

	require.NoError(t, ledger.DeductCreditsForReimbursementAndProcedure(ctx, walletID, 55, proc, "gp-transfer", 4))

	balance, err := ledger.Balance(ctx, walletID)
	require.NoError(t, err)
	assert.Equal(t, int64(8), balance)

	txs, err := store.LoadCredits(ctx, walletID)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	d := txs[1]
	assert.Equal(t, credits.TxDeduction, d.Type)
	assert.Equal(t, int64(-4), d.Delta)
	require.NotNil(t, d.ReimbursementRequestID)
	assert.Equal(t, int64(55), *d.ReimbursementRequestID)
	assert.Equal(t, proc, *d.ProcedureUUID)
	assert.Equal(t, "deduct:"+proc.String(), d.IdempotencyKey)
	assert.NotEqual(t, uuid.Nil, d.ID)
	assert.False(t, d.CreatedAt.IsZero())
}

func TestDeductCredits_OncePerProcedure(t *testing.T) {
	ledger, _ := newLedger(t, 12)
	ctx := context.Background()
	proc := uuid.New()

	require.NoError(t, ledger.DeductCreditsForReimbursementAndProcedure(ctx, walletID, 0, proc, "gp-transfer", 4))
	err := ledger.DeductCreditsForReimbursementAndProcedure(ctx, walletID, 0, proc, "gp-transfer", 4)
	assert.ErrorIs(t, err, credits.ErrDuplicateIdempotencyKey)

	balance, err := ledger.Balance(ctx, walletID)
	require.NoError(t, err)
	assert.Equal(t, int64(8), balance)
}

func TestDeducted(t *testing.T) {
	ledger, _ := newLedger(t, 12)
	ctx := context.Background()
	proc := uuid.New()

	deducted, err := ledger.Deducted(ctx, proc)
	require.NoError(t, err)
	assert.False(t, deducted)

	require.NoError(t, ledger.CheckAvailable(ctx, walletID, 12))
	assert.ErrorIs(t, ledger.CheckAvailable(ctx, walletID, 13), credits.ErrInsufficientCredits)

	require.NoError(t, ledger.DeductCreditsForReimbursementAndProcedure(ctx, walletID, 0, proc, "gp-transfer", 4))
	deducted, err = ledger.Deducted(ctx, proc)
	require.NoError(t, err)
	assert.True(t, deducted)
}

func TestDeductCredits_Insufficient(t *testing.T) {
	ledger, _ := newLedger(t, 3)

	err := ledger.DeductCreditsForReimbursementAndProcedure(context.Background(), walletID, 0, uuid.New(), "gp-retrieval", 12)

	var insufficient *credits.InsufficientCreditsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(3), insufficient.Available)
	assert.Equal(t, int64(12), insufficient.Requested)
	assert.ErrorIs(t, err, credits.ErrInsufficientCredits)
}

func TestDeductCredits_InvalidAmount(t *testing.T) {
	ledger, _ := newLedger(t, 12)

	err := ledger.DeductCreditsForReimbursementAndProcedure(context.Background(), walletID, 0, uuid.New(), "gp-rx", 0)
	assert.ErrorIs(t, err, credits.ErrInvalidAmount)
}

// =============================================================================
// ADD BACK
// =============================================================================

func TestAddBackCredits(t *testing.T) {
	// GIVEN: Two procedures deducted from a 12 credit wallet
	// WHEN: Adding back one of them
	// THEN: Only that procedure's credits return
	ledger, _ := newLedger(t, 12)
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	require.NoError(t, ledger.DeductCreditsForReimbursementAndProcedure(ctx, walletID, 1, a, "gp-retrieval", 5))
	require.NoError(t, ledger.DeductCreditsForReimbursementAndProcedure(ctx, walletID, 2, b, "gp-transfer", 4))

	added, err := ledger.AddBackCreditsForReimbursementAndProcedure(ctx, walletID, 3, a, "gp-retrieval")
	require.NoError(t, err)
	assert.Equal(t, int64(5), added)

	balance, err := ledger.Balance(ctx, walletID)
	require.NoError(t, err)
	assert.Equal(t, int64(8), balance)
}

func TestAddBackCredits_NothingOutstanding(t *testing.T) {
	ledger, _ := newLedger(t, 12)
	ctx := context.Background()
	proc := uuid.New()

	// never deducted
	added, err := ledger.AddBackCreditsForReimbursementAndProcedure(ctx, walletID, 1, proc, "gp-transfer")
	require.NoError(t, err)
	assert.Zero(t, added)

	// deducted and already added back
	require.NoError(t, ledger.DeductCreditsForReimbursementAndProcedure(ctx, walletID, 1, proc, "gp-transfer", 4))
	_, err = ledger.AddBackCreditsForReimbursementAndProcedure(ctx, walletID, 2, proc, "gp-transfer")
	require.NoError(t, err)

	added, err = ledger.AddBackCreditsForReimbursementAndProcedure(ctx, walletID, 3, proc, "gp-transfer")
	require.NoError(t, err)
	assert.Zero(t, added)

	balance, err := ledger.Balance(ctx, walletID)
	require.NoError(t, err)
	assert.Equal(t, int64(12), balance)
}
