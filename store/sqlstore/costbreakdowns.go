package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/warp/benefits-engine/accumulation"
	"github.com/warp/benefits-engine/costbreakdown"
	"github.com/warp/benefits-engine/wallet"
)

// =============================================================================
// COST BREAKDOWNS (costbreakdown.Store)
// =============================================================================

const costBreakdownColumns = `cb.id, cb.wallet_id, cb.member_id, cb.treatment_procedure_uuid, cb.reimbursement_request_id,
	cb.rte_transaction_id, cb.total_member_responsibility, cb.total_employer_responsibility,
	cb.beginning_wallet_balance, cb.ending_wallet_balance, cb.cost_breakdown_type, cb.amount_type,
	cb.deductible, cb.deductible_remaining, cb.family_deductible_remaining, cb.coinsurance, cb.copay,
	cb.overage_amount, cb.oop_applied, cb.oop_remaining, cb.family_oop_remaining, cb.hra_applied,
	cb.deductible_override, cb.oop_override, cb.calc_config, cb.created_at`

func (s *Store) GetCostBreakdown(ctx context.Context, id int64) (costbreakdown.CostBreakdown, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+costBreakdownColumns+` FROM cost_breakdowns cb WHERE cb.id = ?`, id)
	cb, err := scanCostBreakdown(row)
	if errors.Is(err, sql.ErrNoRows) {
		return costbreakdown.CostBreakdown{}, costbreakdown.ErrNotFound
	}
	return cb, err
}

// CreateForReimbursementRequest inserts cb and its link in one
// transaction, failing with ErrRecordExists when the request is linked.
func (s *Store) CreateForReimbursementRequest(ctx context.Context, cb *costbreakdown.CostBreakdown, claimType wallet.ClaimType) error {
	if cb.ReimbursementRequestID == nil {
		return fmt.Errorf("cost breakdown has no reimbursement request")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		exists, err := linkExists(ctx, tx, *cb.ReimbursementRequestID)
		if err != nil {
			return err
		}
		if exists {
			return costbreakdown.ErrRecordExists
		}
		if err := insertCostBreakdown(ctx, tx, cb); err != nil {
			return err
		}
		_, err = insertLink(ctx, tx, wallet.ReimbursementRequestToCostBreakdown{
			ReimbursementRequestID: *cb.ReimbursementRequestID,
			CostBreakdownID:        cb.ID,
			ClaimType:              claimType,
		})
		return err
	})
}

// CreateForTreatmentProcedure inserts cb and points the procedure at it.
func (s *Store) CreateForTreatmentProcedure(ctx context.Context, cb *costbreakdown.CostBreakdown) error {
	if cb.TreatmentProcedureUUID == nil {
		return fmt.Errorf("cost breakdown has no treatment procedure")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := insertCostBreakdown(ctx, tx, cb); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx,
			`UPDATE treatment_procedures SET cost_breakdown_id = ? WHERE uuid = ?`,
			cb.ID, cb.TreatmentProcedureUUID.String())
		if err != nil {
			return fmt.Errorf("failed to link treatment procedure: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return wallet.ErrTreatmentProcedureNotFound
		}
		return nil
	})
}

func insertCostBreakdown(ctx context.Context, db execer, cb *costbreakdown.CostBreakdown) error {
	if cb.CreatedAt.IsZero() {
		cb.CreatedAt = time.Now()
	}
	var procUUID sql.NullString
	if cb.TreatmentProcedureUUID != nil {
		procUUID = sql.NullString{String: cb.TreatmentProcedureUUID.String(), Valid: true}
	}
	d := cb.Data
	res, err := db.ExecContext(ctx, `
		INSERT INTO cost_breakdowns (wallet_id, member_id, treatment_procedure_uuid, reimbursement_request_id,
			rte_transaction_id, total_member_responsibility, total_employer_responsibility,
			beginning_wallet_balance, ending_wallet_balance, cost_breakdown_type, amount_type,
			deductible, deductible_remaining, family_deductible_remaining, coinsurance, copay,
			overage_amount, oop_applied, oop_remaining, family_oop_remaining, hra_applied,
			deductible_override, oop_override, calc_config, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, cb.WalletID, cb.MemberID, procUUID, nullInt64(cb.ReimbursementRequestID),
		nullInt64(d.RTETransactionID), d.TotalMemberResponsibility, d.TotalEmployerResponsibility,
		d.BeginningWalletBalance, d.EndingWalletBalance, d.CostBreakdownType, d.AmountType,
		d.Deductible, d.DeductibleRemaining, d.FamilyDeductibleRemaining, d.Coinsurance, d.Copay,
		d.OverageAmount, d.OOPApplied, d.OOPRemaining, d.FamilyOOPRemaining, d.HRAApplied,
		nullInt64(cb.DeductibleOverride), nullInt64(cb.OOPOverride), cb.CalcConfig, formatTime(cb.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert cost breakdown: %w", err)
	}
	cb.ID, err = res.LastInsertId()
	return err
}

func scanCostBreakdown(row rowScanner) (costbreakdown.CostBreakdown, error) {
	var (
		cb          costbreakdown.CostBreakdown
		procUUID    sql.NullString
		rrID        sql.NullInt64
		rteID       sql.NullInt64
		dedOverride sql.NullInt64
		oopOverride sql.NullInt64
		createdAt   string
	)
	d := &cb.Data
	err := row.Scan(&cb.ID, &cb.WalletID, &cb.MemberID, &procUUID, &rrID,
		&rteID, &d.TotalMemberResponsibility, &d.TotalEmployerResponsibility,
		&d.BeginningWalletBalance, &d.EndingWalletBalance, &d.CostBreakdownType, &d.AmountType,
		&d.Deductible, &d.DeductibleRemaining, &d.FamilyDeductibleRemaining, &d.Coinsurance, &d.Copay,
		&d.OverageAmount, &d.OOPApplied, &d.OOPRemaining, &d.FamilyOOPRemaining, &d.HRAApplied,
		&dedOverride, &oopOverride, &cb.CalcConfig, &createdAt)
	if err != nil {
		return cb, err
	}
	if cb.TreatmentProcedureUUID, err = parseUUIDPtr(procUUID); err != nil {
		return cb, err
	}
	cb.ReimbursementRequestID = int64Ptr(rrID)
	d.RTETransactionID = int64Ptr(rteID)
	cb.DeductibleOverride = int64Ptr(dedOverride)
	cb.OOPOverride = int64Ptr(oopOverride)
	cb.CreatedAt = parseTime(createdAt)
	return cb, nil
}

// =============================================================================
// SEQUENTIAL TOTALS
// =============================================================================

// SequentialTotals sums the current cost breakdown of every billable
// procedure in the window that the payer hasn't accepted yet. Procedures
// with an ACCEPTED accumulation mapping are already in the RTE numbers.
func (s *Store) SequentialTotals(ctx context.Context, q costbreakdown.SequentialQuery) (costbreakdown.SequentialTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	members := q.FamilyMemberIDs
	if len(members) == 0 {
		members = []int64{q.MemberID}
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(members)), ", ")

	args := []any{
		q.MemberID, q.MemberID, q.MemberID,
		wallet.ProcedureScheduled, wallet.ProcedureCompleted, wallet.ProcedurePartiallyCompleted,
		formatTime(q.From), formatTime(q.To),
		accumulation.StatusAccepted,
	}
	for _, id := range members {
		args = append(args, id)
	}
	exclude := ""
	if q.ExcludeUUID != nil {
		exclude = "AND tp.uuid <> ?"
		args = append(args, q.ExcludeUUID.String())
	}

	var t costbreakdown.SequentialTotals
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN tp.member_id = ? THEN cb.deductible ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN tp.member_id = ? THEN cb.oop_applied ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN tp.member_id = ? THEN cb.total_member_responsibility ELSE 0 END), 0),
			COALESCE(SUM(cb.deductible), 0),
			COALESCE(SUM(cb.oop_applied), 0),
			COALESCE(SUM(cb.total_member_responsibility), 0)
		FROM treatment_procedures tp
		JOIN cost_breakdowns cb ON cb.id = tp.cost_breakdown_id
		WHERE tp.status IN (?, ?, ?)
		  AND tp.start_date >= ? AND tp.start_date <= ?
		  AND NOT EXISTS (
			SELECT 1 FROM accumulation_treatment_mappings m
			WHERE m.treatment_procedure_uuid = tp.uuid AND m.status = ?
		  )
		  AND tp.member_id IN (`+placeholders+`)
		  `+exclude,
		args...,
	).Scan(
		&t.IndividualDeductible, &t.IndividualOOP, &t.IndividualMemberResponsibility,
		&t.FamilyDeductible, &t.FamilyOOP, &t.FamilyMemberResponsibility,
	)
	if err != nil {
		return costbreakdown.SequentialTotals{}, fmt.Errorf("failed to sum sequential cost breakdowns: %w", err)
	}
	return t, nil
}
