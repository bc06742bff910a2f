package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/warp/benefits-engine/eligibility"
	"github.com/warp/benefits-engine/reimbursement"
)

// =============================================================================
// REFERENCE DATA - Writes
// =============================================================================
//
// REPLACE INTO works on both sqlite and MySQL. Reference data is loaded by
// admins and seed scripts; the engine only reads it.

func (s *Store) PutPayer(ctx context.Context, p eligibility.Payer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `REPLACE INTO payers (id, code, name) VALUES (?, ?, ?)`, p.ID, p.Code, p.Name)
	if err != nil {
		return fmt.Errorf("failed to put payer: %w", err)
	}
	return nil
}

// planConfig is the JSON stored in employer_health_plans.config_json.
type planConfig struct {
	Coverages    []eligibility.Coverage    `json:"coverages"`
	CostSharings []eligibility.CostSharing `json:"cost_sharings"`
}

func (s *Store) PutEmployerHealthPlan(ctx context.Context, p eligibility.EmployerHealthPlan) error {
	config, err := json.Marshal(planConfig{Coverages: p.Coverages, CostSharings: p.CostSharings})
	if err != nil {
		return fmt.Errorf("failed to encode plan config: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		REPLACE INTO employer_health_plans (id, name, benefits_payer_id, group_id, rx_integrated, is_hdhp,
			hra_enabled, start_date, end_date, config_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, nullInt64(p.BenefitsPayerID), p.GroupID, p.RxIntegrated, p.IsHDHP,
		p.HRAEnabled, formatDate(p.StartDate), formatDate(p.EndDate), string(config))
	if err != nil {
		return fmt.Errorf("failed to put employer health plan: %w", err)
	}
	return nil
}

// PutMemberHealthPlan stores p. The employer plan must already exist. A
// zero ID is assigned by the database.
func (s *Store) PutMemberHealthPlan(ctx context.Context, p *eligibility.MemberHealthPlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		REPLACE INTO member_health_plans (id, member_id, employer_health_plan_id, subscriber_insurance_id,
			patient_first_name, patient_last_name, patient_date_of_birth, patient_sex, patient_relationship,
			plan_type, plan_start_at, plan_end_at, is_subscriber)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sql.NullInt64{Int64: p.ID, Valid: p.ID != 0}, p.MemberID, p.EmployerHealthPlan.ID, p.SubscriberInsuranceID,
		p.PatientFirstName, p.PatientLastName, formatDate(p.PatientDateOfBirth), p.PatientSex, p.PatientRelationship,
		p.PlanType, formatTime(p.PlanStartAt), formatTimePtr(p.PlanEndAt), p.IsSubscriber)
	if err != nil {
		return fmt.Errorf("failed to put member health plan: %w", err)
	}
	if p.ID == 0 {
		p.ID, err = res.LastInsertId()
	}
	return err
}

// PutYTDSpend records externally reported spend for a member health plan.
func (s *Store) PutYTDSpend(ctx context.Context, memberHealthPlanID int64, spend eligibility.YTDSpend) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		REPLACE INTO ytd_spend (member_health_plan_id, individual_deductible_spent, individual_oop_spent,
			family_deductible_spent, family_oop_spent, hra_remaining)
		VALUES (?, ?, ?, ?, ?, ?)
	`, memberHealthPlanID, spend.IndividualDeductibleSpent, spend.IndividualOOPSpent,
		spend.FamilyDeductibleSpent, spend.FamilyOOPSpent, nullInt64(spend.HRARemaining))
	if err != nil {
		return fmt.Errorf("failed to put ytd spend: %w", err)
	}
	return nil
}

func (s *Store) PutClinic(ctx context.Context, c reimbursement.Clinic) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `REPLACE INTO clinics (id, name) VALUES (?, ?)`, c.ID, c.Name)
	if err != nil {
		return fmt.Errorf("failed to put clinic: %w", err)
	}
	return nil
}

func (s *Store) PutMember(ctx context.Context, m reimbursement.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `REPLACE INTO members (id, first_name, last_name) VALUES (?, ?, ?)`,
		m.ID, m.FirstName, m.LastName)
	if err != nil {
		return fmt.Errorf("failed to put member: %w", err)
	}
	return nil
}

func (s *Store) PutGlobalProcedure(ctx context.Context, p reimbursement.GlobalProcedure) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `REPLACE INTO global_procedures (id, name, cost_credit) VALUES (?, ?, ?)`,
		p.ID, p.Name, p.CostCredit)
	if err != nil {
		return fmt.Errorf("failed to put global procedure: %w", err)
	}
	return nil
}

// =============================================================================
// eligibility.HealthPlanRepository
// =============================================================================

const memberHealthPlanColumns = `m.id, m.member_id, m.subscriber_insurance_id, m.patient_first_name, m.patient_last_name,
	m.patient_date_of_birth, m.patient_sex, m.patient_relationship, m.plan_type, m.plan_start_at, m.plan_end_at,
	m.is_subscriber, e.id, e.name, e.benefits_payer_id, e.group_id, e.rx_integrated, e.is_hdhp, e.hra_enabled,
	e.start_date, e.end_date, e.config_json`

// MemberHealthPlanAsOf returns the latest plan active at asOf.
func (s *Store) MemberHealthPlanAsOf(ctx context.Context, memberID int64, asOf time.Time) (eligibility.MemberHealthPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	at := formatTime(asOf)
	row := s.db.QueryRowContext(ctx, `
		SELECT `+memberHealthPlanColumns+`
		FROM member_health_plans m
		JOIN employer_health_plans e ON e.id = m.employer_health_plan_id
		WHERE m.member_id = ?
		  AND m.plan_start_at <= ?
		  AND (m.plan_end_at IS NULL OR m.plan_end_at >= ?)
		ORDER BY m.plan_start_at DESC, m.id DESC
		LIMIT 1
	`, memberID, at, at)
	plan, err := scanMemberHealthPlan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return eligibility.MemberHealthPlan{}, eligibility.ErrMemberHealthPlanNotFound
	}
	return plan, err
}

func scanMemberHealthPlan(row rowScanner) (eligibility.MemberHealthPlan, error) {
	var (
		p         eligibility.MemberHealthPlan
		e         = &p.EmployerHealthPlan
		dob       sql.NullString
		startAt   string
		endAt     sql.NullString
		payerID   sql.NullInt64
		startDate sql.NullString
		endDate   sql.NullString
		config    string
	)
	err := row.Scan(&p.ID, &p.MemberID, &p.SubscriberInsuranceID, &p.PatientFirstName, &p.PatientLastName,
		&dob, &p.PatientSex, &p.PatientRelationship, &p.PlanType, &startAt, &endAt,
		&p.IsSubscriber, &e.ID, &e.Name, &payerID, &e.GroupID, &e.RxIntegrated, &e.IsHDHP, &e.HRAEnabled,
		&startDate, &endDate, &config)
	if err != nil {
		return p, err
	}
	p.PatientDateOfBirth = parseNullTime(dob)
	p.PlanStartAt = parseTime(startAt)
	p.PlanEndAt = parseNullTimePtr(endAt)
	e.BenefitsPayerID = int64Ptr(payerID)
	e.StartDate = parseNullTime(startDate)
	e.EndDate = parseNullTime(endDate)

	var pc planConfig
	if err := json.Unmarshal([]byte(config), &pc); err != nil {
		return p, fmt.Errorf("invalid config for employer health plan %d: %w", e.ID, err)
	}
	e.Coverages = pc.Coverages
	e.CostSharings = pc.CostSharings
	return p, nil
}

// FamilyMemberIDs returns members sharing the subscriber insurance id on
// the same employer plan, the plan's own member included.
func (s *Store) FamilyMemberIDs(ctx context.Context, plan eligibility.MemberHealthPlan) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT member_id FROM member_health_plans
		WHERE subscriber_insurance_id = ? AND employer_health_plan_id = ?
		ORDER BY member_id
	`, plan.SubscriberInsuranceID, plan.EmployerHealthPlan.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query family members: %w", err)
	}
	defer rows.Close()

	ids := []int64{}
	found := false
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		found = found || id == plan.MemberID
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !found {
		ids = append([]int64{plan.MemberID}, ids...)
	}
	return ids, nil
}

// =============================================================================
// eligibility.PayerRepository / YTDSpendRepository
// =============================================================================

func (s *Store) GetPayer(ctx context.Context, id int64) (eligibility.Payer, error) {
	return s.payerWhere(ctx, "id = ?", id)
}

func (s *Store) PayerByCode(ctx context.Context, code string) (eligibility.Payer, error) {
	return s.payerWhere(ctx, "code = ?", code)
}

func (s *Store) payerWhere(ctx context.Context, where string, arg any) (eligibility.Payer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p eligibility.Payer
	err := s.db.QueryRowContext(ctx, `SELECT id, code, name FROM payers WHERE `+where, arg).Scan(&p.ID, &p.Code, &p.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return eligibility.Payer{}, eligibility.ErrPayerNotFound
	}
	if err != nil {
		return eligibility.Payer{}, fmt.Errorf("failed to get payer: %w", err)
	}
	return p, nil
}

// YTDSpend returns zero spend when nothing was reported.
func (s *Store) YTDSpend(ctx context.Context, plan eligibility.MemberHealthPlan, _ time.Time) (eligibility.YTDSpend, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		spend eligibility.YTDSpend
		hra   sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT individual_deductible_spent, individual_oop_spent, family_deductible_spent, family_oop_spent, hra_remaining
		FROM ytd_spend WHERE member_health_plan_id = ?
	`, plan.ID).Scan(&spend.IndividualDeductibleSpent, &spend.IndividualOOPSpent,
		&spend.FamilyDeductibleSpent, &spend.FamilyOOPSpent, &hra)
	if errors.Is(err, sql.ErrNoRows) {
		return eligibility.YTDSpend{}, nil
	}
	if err != nil {
		return eligibility.YTDSpend{}, fmt.Errorf("failed to get ytd spend: %w", err)
	}
	spend.HRARemaining = int64Ptr(hra)
	return spend, nil
}

// =============================================================================
// reimbursement directories
// =============================================================================

func (s *Store) GetClinic(ctx context.Context, id int64) (reimbursement.Clinic, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c reimbursement.Clinic
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM clinics WHERE id = ?`, id).Scan(&c.ID, &c.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return c, reimbursement.ErrClinicNotFound
	}
	return c, err
}

func (s *Store) GetMember(ctx context.Context, id int64) (reimbursement.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var m reimbursement.Member
	err := s.db.QueryRowContext(ctx, `SELECT id, first_name, last_name FROM members WHERE id = ?`, id).
		Scan(&m.ID, &m.FirstName, &m.LastName)
	if errors.Is(err, sql.ErrNoRows) {
		return m, reimbursement.ErrMemberNotFound
	}
	return m, err
}

func (s *Store) GetProcedureByID(ctx context.Context, id string) (reimbursement.GlobalProcedure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p reimbursement.GlobalProcedure
	err := s.db.QueryRowContext(ctx, `SELECT id, name, cost_credit FROM global_procedures WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.CostCredit)
	if errors.Is(err, sql.ErrNoRows) {
		return p, reimbursement.ErrProcedureNotFound
	}
	return p, err
}
