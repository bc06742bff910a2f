package sqlstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/warp/benefits-engine/credits"
)

// =============================================================================
// CYCLE CREDITS (credits.Store)
// =============================================================================

// AppendCredit inserts tx. A reused idempotency key returns
// credits.ErrDuplicateIdempotencyKey; the unique index decides, so two
// racing appends can't both win.
func (s *Store) AppendCredit(ctx context.Context, tx credits.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var procUUID sql.NullString
	if tx.ProcedureUUID != nil {
		procUUID = sql.NullString{String: tx.ProcedureUUID.String(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credit_transactions (id, wallet_id, delta, tx_type, reimbursement_request_id,
			global_procedure_id, procedure_uuid, idempotency_key, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, tx.ID.String(), tx.WalletID, tx.Delta, tx.Type, nullInt64(tx.ReimbursementRequestID),
		tx.GlobalProcedureID, procUUID, nullString(tx.IdempotencyKey), tx.Notes, formatTime(tx.CreatedAt))
	if isUniqueConstraintError(err) {
		return credits.ErrDuplicateIdempotencyKey
	}
	if err != nil {
		return fmt.Errorf("failed to append credit transaction: %w", err)
	}
	return nil
}

// LoadCredits returns a wallet's entries oldest first.
func (s *Store) LoadCredits(ctx context.Context, walletID int64) ([]credits.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, wallet_id, delta, tx_type, reimbursement_request_id, global_procedure_id,
			procedure_uuid, idempotency_key, notes, created_at
		FROM credit_transactions
		WHERE wallet_id = ?
		ORDER BY created_at ASC
	`, walletID)
	if err != nil {
		return nil, fmt.Errorf("failed to query credit transactions: %w", err)
	}
	defer rows.Close()

	var txs []credits.Transaction
	for rows.Next() {
		var (
			tx        credits.Transaction
			id        string
			rrID      sql.NullInt64
			procUUID  sql.NullString
			key       sql.NullString
			createdAt string
		)
		err := rows.Scan(&id, &tx.WalletID, &tx.Delta, &tx.Type, &rrID, &tx.GlobalProcedureID,
			&procUUID, &key, &tx.Notes, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credit transaction: %w", err)
		}
		if tx.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid credit transaction id %q: %w", id, err)
		}
		if tx.ProcedureUUID, err = parseUUIDPtr(procUUID); err != nil {
			return nil, err
		}
		tx.ReimbursementRequestID = int64Ptr(rrID)
		tx.IdempotencyKey = key.String
		tx.CreatedAt = parseTime(createdAt)
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func (s *Store) CreditKeyExists(ctx context.Context, idempotencyKey string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM credit_transactions WHERE idempotency_key = ?",
		idempotencyKey,
	).Scan(&count)
	return count > 0, err
}
