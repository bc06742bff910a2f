package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/warp/benefits-engine/costbreakdown"
	"github.com/warp/benefits-engine/eligibility"
	"github.com/warp/benefits-engine/reimbursement"
	"github.com/warp/benefits-engine/wallet"
)

// =============================================================================
// WALLETS
// =============================================================================

// CreateWallet inserts w. A zero ID is assigned by the database.
func (s *Store) CreateWallet(ctx context.Context, w *wallet.Wallet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO wallets (id, member_id, category_id, benefit_type, deductible_accumulation_enabled, benefit_limit)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sql.NullInt64{Int64: w.ID, Valid: w.ID != 0}, w.MemberID, w.CategoryID, w.BenefitType,
		w.DeductibleAccumulationEnabled, w.BenefitLimit)
	if err != nil {
		return fmt.Errorf("failed to insert wallet: %w", err)
	}
	if w.ID == 0 {
		w.ID, err = res.LastInsertId()
	}
	return err
}

func (s *Store) GetWallet(ctx context.Context, id int64) (wallet.Wallet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var w wallet.Wallet
	err := s.db.QueryRowContext(ctx, `
		SELECT id, member_id, category_id, benefit_type, deductible_accumulation_enabled, benefit_limit
		FROM wallets WHERE id = ?
	`, id).Scan(&w.ID, &w.MemberID, &w.CategoryID, &w.BenefitType, &w.DeductibleAccumulationEnabled, &w.BenefitLimit)
	if errors.Is(err, sql.ErrNoRows) {
		return wallet.Wallet{}, reimbursement.ErrWalletNotFound
	}
	if err != nil {
		return wallet.Wallet{}, fmt.Errorf("failed to get wallet: %w", err)
	}
	return w, nil
}

// WalletBalance is the benefit limit minus approved, reimbursed and
// refunded requests in the wallet's category. Employee deductible requests
// are the member's money and don't draw on the wallet.
func (s *Store) WalletBalance(ctx context.Context, w wallet.Wallet) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var spent int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(rr.amount), 0)
		FROM reimbursement_requests rr
		WHERE rr.wallet_id = ? AND rr.category_id = ?
		  AND rr.state IN (?, ?, ?)
		  AND NOT EXISTS (
			SELECT 1 FROM reimbursement_request_cost_breakdowns l
			WHERE l.reimbursement_request_id = rr.id AND l.claim_type = ?
		  )
	`, w.ID, w.CategoryID,
		wallet.StateApproved, wallet.StateReimbursed, wallet.StateRefunded,
		wallet.ClaimEmployeeDeductible,
	).Scan(&spent)
	if err != nil {
		return 0, fmt.Errorf("failed to sum wallet requests: %w", err)
	}
	return w.BenefitLimit - spent, nil
}

// =============================================================================
// TREATMENT PROCEDURES
// =============================================================================

const treatmentProcedureColumns = `id, uuid, member_id, wallet_id, clinic_id, global_procedure_id, procedure_name,
	category_id, status, procedure_type, start_date, end_date, cost, cost_breakdown_id`

// CreateTreatmentProcedure inserts tp, assigning a UUID when it has none.
func (s *Store) CreateTreatmentProcedure(ctx context.Context, tp *wallet.TreatmentProcedure) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tp.UUID == uuid.Nil {
		tp.UUID = uuid.New()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO treatment_procedures (uuid, member_id, wallet_id, clinic_id, global_procedure_id, procedure_name,
			category_id, status, procedure_type, start_date, end_date, cost, cost_breakdown_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, tp.UUID.String(), tp.MemberID, tp.WalletID, nullInt64(tp.ClinicID), tp.GlobalProcedureID, tp.ProcedureName,
		tp.CategoryID, tp.Status, tp.ProcedureType, formatTime(tp.StartDate), formatTimePtr(tp.EndDate),
		tp.Cost, nullInt64(tp.CostBreakdownID))
	if err != nil {
		return fmt.Errorf("failed to insert treatment procedure: %w", err)
	}
	tp.ID, err = res.LastInsertId()
	return err
}

func (s *Store) GetTreatmentProcedure(ctx context.Context, id uuid.UUID) (wallet.TreatmentProcedure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+treatmentProcedureColumns+` FROM treatment_procedures WHERE uuid = ?`, id.String())
	tp, err := scanTreatmentProcedure(row)
	if errors.Is(err, sql.ErrNoRows) {
		return wallet.TreatmentProcedure{}, wallet.ErrTreatmentProcedureNotFound
	}
	return tp, err
}

// UpdateTreatmentProcedureStatus moves a procedure through its lifecycle.
func (s *Store) UpdateTreatmentProcedureStatus(ctx context.Context, id uuid.UUID, status wallet.ProcedureStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE treatment_procedures SET status = ? WHERE uuid = ?`, status, id.String())
	if err != nil {
		return fmt.Errorf("failed to update treatment procedure: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return wallet.ErrTreatmentProcedureNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTreatmentProcedure(row rowScanner) (wallet.TreatmentProcedure, error) {
	var (
		tp        wallet.TreatmentProcedure
		id        string
		clinicID  sql.NullInt64
		startDate string
		endDate   sql.NullString
		cbID      sql.NullInt64
	)
	err := row.Scan(&tp.ID, &id, &tp.MemberID, &tp.WalletID, &clinicID, &tp.GlobalProcedureID, &tp.ProcedureName,
		&tp.CategoryID, &tp.Status, &tp.ProcedureType, &startDate, &endDate, &tp.Cost, &cbID)
	if err != nil {
		return tp, err
	}
	tp.UUID, err = uuid.Parse(id)
	if err != nil {
		return tp, fmt.Errorf("invalid treatment procedure uuid %q: %w", id, err)
	}
	tp.ClinicID = int64Ptr(clinicID)
	tp.StartDate = parseTime(startDate)
	tp.EndDate = parseNullTimePtr(endDate)
	tp.CostBreakdownID = int64Ptr(cbID)
	return tp, nil
}

// =============================================================================
// REIMBURSEMENT REQUESTS
// =============================================================================

const reimbursementRequestColumns = `rr.id, rr.wallet_id, rr.category_id, rr.label, rr.service_provider,
	rr.person_receiving_service, rr.description, rr.amount, rr.state, rr.reimbursement_type, rr.procedure_type,
	rr.cost_sharing_category, rr.service_start_date, rr.service_end_date, rr.procedure_uuid, rr.created_at`

// CreateReimbursementRequest inserts a request submitted outside of the
// wallet balance engine, e.g. a manual claim from the member.
func (s *Store) CreateReimbursementRequest(ctx context.Context, rr *wallet.ReimbursementRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := insertReimbursementRequest(ctx, s.db, *rr)
	if err != nil {
		return err
	}
	rr.ID = id
	return nil
}

func (s *Store) GetReimbursementRequest(ctx context.Context, id int64) (wallet.ReimbursementRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+reimbursementRequestColumns+` FROM reimbursement_requests rr WHERE rr.id = ?`, id)
	rr, err := scanReimbursementRequest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return wallet.ReimbursementRequest{}, wallet.ErrReimbursementRequestNotFound
	}
	return rr, err
}

func insertReimbursementRequest(ctx context.Context, db execer, rr wallet.ReimbursementRequest) (int64, error) {
	if rr.CreatedAt.IsZero() {
		rr.CreatedAt = time.Now()
	}
	var procUUID sql.NullString
	if rr.ProcedureUUID != nil {
		procUUID = sql.NullString{String: rr.ProcedureUUID.String(), Valid: true}
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO reimbursement_requests (wallet_id, category_id, label, service_provider, person_receiving_service,
			description, amount, state, reimbursement_type, procedure_type, cost_sharing_category,
			service_start_date, service_end_date, procedure_uuid, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rr.WalletID, rr.CategoryID, rr.Label, rr.ServiceProvider, rr.PersonReceivingService,
		rr.Description, rr.Amount, rr.State, rr.ReimbursementType, rr.ProcedureType, string(rr.CostSharingCategory),
		formatTime(rr.ServiceStartDate), formatTimePtr(rr.ServiceEndDate), procUUID, formatTime(rr.CreatedAt))
	if err != nil {
		return 0, fmt.Errorf("failed to insert reimbursement request: %w", err)
	}
	return res.LastInsertId()
}

func scanReimbursementRequest(row rowScanner) (wallet.ReimbursementRequest, error) {
	var (
		rr        wallet.ReimbursementRequest
		category  string
		start     string
		end       sql.NullString
		procUUID  sql.NullString
		createdAt string
	)
	err := row.Scan(&rr.ID, &rr.WalletID, &rr.CategoryID, &rr.Label, &rr.ServiceProvider,
		&rr.PersonReceivingService, &rr.Description, &rr.Amount, &rr.State, &rr.ReimbursementType, &rr.ProcedureType,
		&category, &start, &end, &procUUID, &createdAt)
	if err != nil {
		return rr, err
	}
	rr.CostSharingCategory = eligibility.CostSharingCategory(category)
	rr.ServiceStartDate = parseTime(start)
	rr.ServiceEndDate = parseNullTimePtr(end)
	rr.CreatedAt = parseTime(createdAt)
	rr.ProcedureUUID, err = parseUUIDPtr(procUUID)
	return rr, err
}

// =============================================================================
// reimbursement.Store
// =============================================================================

// SaveReimbursementRequests inserts every request, then every link, in one
// transaction. Assigned ids are written back into reqs.
func (s *Store) SaveReimbursementRequests(ctx context.Context, reqs []wallet.LinkedRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]int64, len(reqs))
	linkIDs := make([]int64, len(reqs))
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for i, lr := range reqs {
			id, err := insertReimbursementRequest(ctx, tx, lr.Request)
			if err != nil {
				return err
			}
			ids[i] = id
		}
		for i, lr := range reqs {
			link := lr.Link
			link.ReimbursementRequestID = ids[i]
			id, err := insertLink(ctx, tx, link)
			if err != nil {
				return err
			}
			linkIDs[i] = id
		}
		return nil
	})
	if err != nil {
		return err
	}

	for i := range reqs {
		reqs[i].Request.ID = ids[i]
		reqs[i].Link.ID = linkIDs[i]
		reqs[i].Link.ReimbursementRequestID = ids[i]
	}
	return nil
}

func insertLink(ctx context.Context, db execer, link wallet.ReimbursementRequestToCostBreakdown) (int64, error) {
	var procUUID sql.NullString
	if link.TreatmentProcedureUUID != nil {
		procUUID = sql.NullString{String: link.TreatmentProcedureUUID.String(), Valid: true}
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO reimbursement_request_cost_breakdowns
			(reimbursement_request_id, cost_breakdown_id, treatment_procedure_uuid, claim_type)
		VALUES (?, ?, ?, ?)
	`, link.ReimbursementRequestID, link.CostBreakdownID, procUUID, link.ClaimType)
	if err != nil {
		return 0, fmt.Errorf("failed to insert reimbursement request link: %w", err)
	}
	return res.LastInsertId()
}

// LinkedRequestsForCostBreakdown returns the requests linked to a cost
// breakdown in insertion order.
func (s *Store) LinkedRequestsForCostBreakdown(ctx context.Context, costBreakdownID int64) ([]wallet.LinkedRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+reimbursementRequestColumns+`,
			l.id, l.cost_breakdown_id, l.treatment_procedure_uuid, l.claim_type
		FROM reimbursement_request_cost_breakdowns l
		JOIN reimbursement_requests rr ON rr.id = l.reimbursement_request_id
		WHERE l.cost_breakdown_id = ?
		ORDER BY l.id ASC
	`, costBreakdownID)
	if err != nil {
		return nil, fmt.Errorf("failed to query linked requests: %w", err)
	}
	defer rows.Close()

	var out []wallet.LinkedRequest
	for rows.Next() {
		lr, err := scanLinkedRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, lr)
	}
	return out, rows.Err()
}

func scanLinkedRequest(rows *sql.Rows) (wallet.LinkedRequest, error) {
	var (
		lr        wallet.LinkedRequest
		rr        wallet.ReimbursementRequest
		category  string
		start     string
		end       sql.NullString
		procUUID  sql.NullString
		createdAt string
		linkUUID  sql.NullString
	)
	err := rows.Scan(&rr.ID, &rr.WalletID, &rr.CategoryID, &rr.Label, &rr.ServiceProvider,
		&rr.PersonReceivingService, &rr.Description, &rr.Amount, &rr.State, &rr.ReimbursementType, &rr.ProcedureType,
		&category, &start, &end, &procUUID, &createdAt,
		&lr.Link.ID, &lr.Link.CostBreakdownID, &linkUUID, &lr.Link.ClaimType)
	if err != nil {
		return lr, fmt.Errorf("failed to scan linked request: %w", err)
	}
	rr.CostSharingCategory = eligibility.CostSharingCategory(category)
	rr.ServiceStartDate = parseTime(start)
	rr.ServiceEndDate = parseNullTimePtr(end)
	rr.CreatedAt = parseTime(createdAt)
	if rr.ProcedureUUID, err = parseUUIDPtr(procUUID); err != nil {
		return lr, err
	}
	if lr.Link.TreatmentProcedureUUID, err = parseUUIDPtr(linkUUID); err != nil {
		return lr, err
	}
	lr.Link.ReimbursementRequestID = rr.ID
	lr.Request = rr
	return lr, nil
}

// PreviousCostBreakdownWithReimbursementRequests returns the newest cost
// breakdown of the procedure that has requests linked to it.
func (s *Store) PreviousCostBreakdownWithReimbursementRequests(ctx context.Context, procedureUUID uuid.UUID) (*costbreakdown.CostBreakdown, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+costBreakdownColumns+`
		FROM cost_breakdowns cb
		WHERE cb.treatment_procedure_uuid = ?
		  AND EXISTS (SELECT 1 FROM reimbursement_request_cost_breakdowns l WHERE l.cost_breakdown_id = cb.id)
		ORDER BY cb.id DESC
		LIMIT 1
	`, procedureUUID.String())
	cb, err := scanCostBreakdown(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var deductibleClaims int
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM reimbursement_request_cost_breakdowns
		WHERE cost_breakdown_id = ? AND claim_type = ?
	`, cb.ID, wallet.ClaimEmployeeDeductible).Scan(&deductibleClaims)
	if err != nil {
		return nil, false, fmt.Errorf("failed to count deductible claims: %w", err)
	}
	return &cb, deductibleClaims > 0, nil
}

func (s *Store) ReimbursementRequestLinkExists(ctx context.Context, reimbursementRequestID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return linkExists(ctx, s.db, reimbursementRequestID)
}

func linkExists(ctx context.Context, db execer, reimbursementRequestID int64) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM reimbursement_request_cost_breakdowns WHERE reimbursement_request_id = ?",
		reimbursementRequestID,
	).Scan(&count)
	return count > 0, err
}

func parseUUIDPtr(s sql.NullString) (*uuid.UUID, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	id, err := uuid.Parse(s.String)
	if err != nil {
		return nil, fmt.Errorf("invalid uuid %q: %w", s.String, err)
	}
	return &id, nil
}
