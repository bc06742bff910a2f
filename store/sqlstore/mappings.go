package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/warp/benefits-engine/accumulation"
)

// =============================================================================
// ACCUMULATION MAPPINGS (accumulation.MappingStore)
// =============================================================================
//
// Unlike the ledger tables, mappings are mutable: they move through
// WAITING -> SUBMITTED -> ACCEPTED | REJECTED as files go out and
// responses come back.

const mappingColumns = `id, treatment_procedure_uuid, reimbursement_request_id, cost_breakdown_id, payer_id,
	record_type, status, accumulation_unique_id, accumulation_transaction_id, deductible_override,
	oop_override, hra_override, is_refund, response_code, response_reason, completed_at, file_name, created_at`

// CreateMapping inserts m and assigns its ID.
func (s *Store) CreateMapping(ctx context.Context, m *accumulation.TreatmentMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	var procUUID sql.NullString
	if m.TreatmentProcedureUUID != nil {
		procUUID = sql.NullString{String: m.TreatmentProcedureUUID.String(), Valid: true}
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO accumulation_treatment_mappings (treatment_procedure_uuid, reimbursement_request_id,
			cost_breakdown_id, payer_id, record_type, status, accumulation_unique_id, accumulation_transaction_id,
			deductible_override, oop_override, hra_override, is_refund, response_code, response_reason,
			completed_at, file_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, procUUID, nullInt64(m.ReimbursementRequestID), m.CostBreakdownID, m.PayerID, m.RecordType, m.Status,
		nullString(m.AccumulationUniqueID), nullString(m.AccumulationTransactionID),
		nullInt64(m.DeductibleOverride), nullInt64(m.OOPOverride), nullInt64(m.HRAOverride), m.IsRefund,
		m.ResponseCode, m.ResponseReason, formatTimePtr(m.CompletedAt), m.FileName, formatTime(m.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert accumulation mapping: %w", err)
	}
	m.ID, err = res.LastInsertId()
	return err
}

// UpdateMapping overwrites the mutable fields of m: status, ids, overrides
// and the response.
func (s *Store) UpdateMapping(ctx context.Context, m accumulation.TreatmentMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE accumulation_treatment_mappings SET
			status = ?, accumulation_unique_id = ?, accumulation_transaction_id = ?,
			deductible_override = ?, oop_override = ?, hra_override = ?,
			response_code = ?, response_reason = ?, completed_at = ?, file_name = ?
		WHERE id = ?
	`, m.Status, nullString(m.AccumulationUniqueID), nullString(m.AccumulationTransactionID),
		nullInt64(m.DeductibleOverride), nullInt64(m.OOPOverride), nullInt64(m.HRAOverride),
		m.ResponseCode, m.ResponseReason, formatTimePtr(m.CompletedAt), m.FileName, m.ID)
	if err != nil {
		return fmt.Errorf("failed to update accumulation mapping: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return accumulation.ErrMappingNotFound
	}
	return nil
}

func (s *Store) GetMapping(ctx context.Context, id int64) (accumulation.TreatmentMapping, error) {
	return s.mappingWhere(ctx, "id = ?", id)
}

func (s *Store) MappingByUniqueID(ctx context.Context, uniqueID string) (accumulation.TreatmentMapping, error) {
	return s.mappingWhere(ctx, "accumulation_unique_id = ?", uniqueID)
}

// MappingByCostBreakdownID returns the newest mapping for the cost breakdown.
func (s *Store) MappingByCostBreakdownID(ctx context.Context, costBreakdownID int64) (accumulation.TreatmentMapping, error) {
	return s.mappingWhere(ctx, "cost_breakdown_id = ?", costBreakdownID)
}

func (s *Store) mappingWhere(ctx context.Context, where string, arg any) (accumulation.TreatmentMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT `+mappingColumns+` FROM accumulation_treatment_mappings WHERE `+where+` ORDER BY id DESC LIMIT 1`, arg)
	m, err := scanMapping(row)
	if errors.Is(err, sql.ErrNoRows) {
		return accumulation.TreatmentMapping{}, accumulation.ErrMappingNotFound
	}
	return m, err
}

// WaitingMappings returns the payer's WAITING mappings oldest first.
func (s *Store) WaitingMappings(ctx context.Context, payerID int64) ([]accumulation.TreatmentMapping, error) {
	return s.listMappings(ctx, "payer_id = ? AND status = ?", payerID, accumulation.StatusWaiting)
}

// MappingsForProcedure returns every mapping reported for the procedure,
// oldest first.
func (s *Store) MappingsForProcedure(ctx context.Context, procedureUUID uuid.UUID) ([]accumulation.TreatmentMapping, error) {
	return s.listMappings(ctx, "treatment_procedure_uuid = ?", procedureUUID.String())
}

// MappingsByStatus lists every mapping in status, oldest first.
func (s *Store) MappingsByStatus(ctx context.Context, status accumulation.MappingStatus) ([]accumulation.TreatmentMapping, error) {
	return s.listMappings(ctx, "status = ?", status)
}

func (s *Store) listMappings(ctx context.Context, where string, args ...any) ([]accumulation.TreatmentMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+mappingColumns+` FROM accumulation_treatment_mappings WHERE `+where+` ORDER BY id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query accumulation mappings: %w", err)
	}
	defer rows.Close()

	var out []accumulation.TreatmentMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func scanMapping(row rowScanner) (accumulation.TreatmentMapping, error) {
	var (
		m           accumulation.TreatmentMapping
		procUUID    sql.NullString
		rrID        sql.NullInt64
		uniqueID    sql.NullString
		txID        sql.NullString
		dedOverride sql.NullInt64
		oopOverride sql.NullInt64
		hraOverride sql.NullInt64
		completedAt sql.NullString
		createdAt   string
	)
	err := row.Scan(&m.ID, &procUUID, &rrID, &m.CostBreakdownID, &m.PayerID,
		&m.RecordType, &m.Status, &uniqueID, &txID, &dedOverride,
		&oopOverride, &hraOverride, &m.IsRefund, &m.ResponseCode, &m.ResponseReason, &completedAt, &m.FileName, &createdAt)
	if err != nil {
		return m, err
	}
	if m.TreatmentProcedureUUID, err = parseUUIDPtr(procUUID); err != nil {
		return m, err
	}
	m.ReimbursementRequestID = int64Ptr(rrID)
	m.AccumulationUniqueID = uniqueID.String
	m.AccumulationTransactionID = txID.String
	m.DeductibleOverride = int64Ptr(dedOverride)
	m.OOPOverride = int64Ptr(oopOverride)
	m.HRAOverride = int64Ptr(hraOverride)
	m.CompletedAt = parseNullTimePtr(completedAt)
	m.CreatedAt = parseTime(createdAt)
	return m, nil
}
