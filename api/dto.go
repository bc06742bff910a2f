/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types keep the
  persisted cost breakdown and reimbursement rows out of the wire contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Cost breakdowns:
    CostBreakdownDTO, ReimbursementRequestCostBreakdownRequest,
    TreatmentProcedureCostBreakdownRequest, OverrideCostBreakdownRequest

  Wallet balance:
    DeductBalanceResponse, AddBackBalanceResponse, ReimbursementRequestDTO

  Accumulation:
    ResponseRowDTO, ProcessResponsesResponse

  Scenarios:
    ScenarioDTO, LoadScenarioRequest, LoadScenarioResponse

AMOUNTS:
  Every amount is integer cents.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - costbreakdown/types.go: CostBreakdown
*/
package api

import (
	"time"

	"github.com/warp/benefits-engine/accumulation"
	"github.com/warp/benefits-engine/costbreakdown"
	"github.com/warp/benefits-engine/eligibility"
	"github.com/warp/benefits-engine/wallet"
)

// =============================================================================
// COST BREAKDOWN
// =============================================================================

// CostBreakdownDTO represents a persisted cost breakdown in API responses.
type CostBreakdownDTO struct {
	ID                          int64   `json:"id"`
	WalletID                    int64   `json:"wallet_id"`
	MemberID                    int64   `json:"member_id"`
	TreatmentProcedureUUID      *string `json:"treatment_procedure_uuid,omitempty"`
	ReimbursementRequestID      *int64  `json:"reimbursement_request_id,omitempty"`
	CostBreakdownType           string  `json:"cost_breakdown_type"`
	AmountType                  string  `json:"amount_type"`
	RTETransactionID            *int64  `json:"rte_transaction_id,omitempty"`
	TotalMemberResponsibility   int64   `json:"total_member_responsibility"`
	TotalEmployerResponsibility int64   `json:"total_employer_responsibility"`
	BeginningWalletBalance      int64   `json:"beginning_wallet_balance"`
	EndingWalletBalance         int64   `json:"ending_wallet_balance"`
	Deductible                  int64   `json:"deductible"`
	DeductibleRemaining         int64   `json:"deductible_remaining"`
	FamilyDeductibleRemaining   int64   `json:"family_deductible_remaining"`
	Coinsurance                 int64   `json:"coinsurance"`
	Copay                       int64   `json:"copay"`
	OverageAmount               int64   `json:"overage_amount"`
	OOPApplied                  int64   `json:"oop_applied"`
	OOPRemaining                int64   `json:"oop_remaining"`
	FamilyOOPRemaining          int64   `json:"family_oop_remaining"`
	HRAApplied                  int64   `json:"hra_applied"`
	DeductibleOverride          *int64  `json:"deductible_override,omitempty"`
	OOPOverride                 *int64  `json:"oop_override,omitempty"`
	CalcConfig                  string  `json:"calc_config,omitempty"`
	CreatedAt                   string  `json:"created_at"`
}

func toCostBreakdownDTO(cb costbreakdown.CostBreakdown) CostBreakdownDTO {
	dto := CostBreakdownDTO{
		ID:                          cb.ID,
		WalletID:                    cb.WalletID,
		MemberID:                    cb.MemberID,
		ReimbursementRequestID:      cb.ReimbursementRequestID,
		CostBreakdownType:           string(cb.CostBreakdownType),
		AmountType:                  string(cb.AmountType),
		RTETransactionID:            cb.RTETransactionID,
		TotalMemberResponsibility:   cb.TotalMemberResponsibility,
		TotalEmployerResponsibility: cb.TotalEmployerResponsibility,
		BeginningWalletBalance:      cb.BeginningWalletBalance,
		EndingWalletBalance:         cb.EndingWalletBalance,
		Deductible:                  cb.Deductible,
		DeductibleRemaining:         cb.DeductibleRemaining,
		FamilyDeductibleRemaining:   cb.FamilyDeductibleRemaining,
		Coinsurance:                 cb.Coinsurance,
		Copay:                       cb.Copay,
		OverageAmount:               cb.OverageAmount,
		OOPApplied:                  cb.OOPApplied,
		OOPRemaining:                cb.OOPRemaining,
		FamilyOOPRemaining:          cb.FamilyOOPRemaining,
		HRAApplied:                  cb.HRAApplied,
		DeductibleOverride:          cb.DeductibleOverride,
		OOPOverride:                 cb.OOPOverride,
		CalcConfig:                  cb.CalcConfig,
		CreatedAt:                   cb.CreatedAt.UTC().Format(time.RFC3339),
	}
	if cb.TreatmentProcedureUUID != nil {
		s := cb.TreatmentProcedureUUID.String()
		dto.TreatmentProcedureUUID = &s
	}
	return dto
}

// ReimbursementRequestCostBreakdownRequest prices a reimbursement request.
type ReimbursementRequestCostBreakdownRequest struct {
	UserID                int64  `json:"user_id"`
	CostSharingCategory   string `json:"cost_sharing_category,omitempty"`
	WalletBalanceOverride *int64 `json:"wallet_balance_override,omitempty"`
	Tier                  *int   `json:"tier,omitempty"`
}

// TreatmentProcedureCostBreakdownRequest prices a treatment procedure. The
// body is optional.
type TreatmentProcedureCostBreakdownRequest struct {
	CostSharingCategory   string `json:"cost_sharing_category,omitempty"`
	WalletBalanceOverride *int64 `json:"wallet_balance_override,omitempty"`
	Tier                  *int   `json:"tier,omitempty"`
}

// OverrideCostBreakdownRequest is an admin correction of a reimbursement
// request's cost breakdown.
type OverrideCostBreakdownRequest struct {
	MemberID           int64  `json:"member_id"`
	Cost               *int64 `json:"cost,omitempty"`
	DeductibleOverride *int64 `json:"deductible_override,omitempty"`
	OOPOverride        *int64 `json:"oop_override,omitempty"`
	WalletBalance      *int64 `json:"wallet_balance,omitempty"`
}

func tierPtr(t *int) *eligibility.Tier {
	if t == nil {
		return nil
	}
	tier := eligibility.Tier(*t)
	return &tier
}

// =============================================================================
// WALLET BALANCE
// =============================================================================

// ReimbursementRequestDTO represents a reimbursement request in API responses.
type ReimbursementRequestDTO struct {
	ID                int64  `json:"id"`
	WalletID          int64  `json:"wallet_id"`
	Label             string `json:"label"`
	Description       string `json:"description,omitempty"`
	Amount            int64  `json:"amount"`
	State             string `json:"state"`
	ReimbursementType string `json:"reimbursement_type"`
	ServiceStartDate  string `json:"service_start_date"`
}

func toReimbursementRequestDTO(rr wallet.ReimbursementRequest) ReimbursementRequestDTO {
	return ReimbursementRequestDTO{
		ID:                rr.ID,
		WalletID:          rr.WalletID,
		Label:             rr.Label,
		Description:       rr.Description,
		Amount:            rr.Amount,
		State:             string(rr.State),
		ReimbursementType: string(rr.ReimbursementType),
		ServiceStartDate:  rr.ServiceStartDate.Format("2006-01-02"),
	}
}

// DeductBalanceResponse reports the outcome of a deduct-balance call.
// Processed is false when the procedure was skipped and logged.
type DeductBalanceResponse struct {
	TreatmentProcedureUUID string `json:"treatment_procedure_uuid"`
	CostBreakdownID        int64  `json:"cost_breakdown_id"`
	Processed              bool   `json:"processed"`
	WalletBalance          int64  `json:"wallet_balance"`
	AccumulationMappingID  *int64 `json:"accumulation_mapping_id,omitempty"`
}

// AddBackBalanceResponse lists the refund requests created.
type AddBackBalanceResponse struct {
	TreatmentProcedureUUID string                    `json:"treatment_procedure_uuid"`
	Refunds                []ReimbursementRequestDTO `json:"refunds"`
	WalletBalance          int64                     `json:"wallet_balance"`
	AccumulationMappingID  *int64                    `json:"accumulation_mapping_id,omitempty"`
}

// =============================================================================
// ACCUMULATION
// =============================================================================

// ResponseRowDTO is one reconciled line of a payer response file.
type ResponseRowDTO struct {
	MappingID       int64  `json:"mapping_id,omitempty"`
	CostBreakdownID int64  `json:"cost_breakdown_id,omitempty"`
	UniqueID        string `json:"unique_id"`
	MemberID        string `json:"member_id,omitempty"`
	Status          string `json:"status,omitempty"`
	ResponseCode    string `json:"response_code,omitempty"`
	ResponseReason  string `json:"response_reason,omitempty"`
	Matched         bool   `json:"matched"`
}

// ProcessResponsesResponse summarizes a processed response file.
type ProcessResponsesResponse struct {
	Payer     string           `json:"payer"`
	Rows      []ResponseRowDTO `json:"rows"`
	Accepted  int              `json:"accepted"`
	Rejected  int              `json:"rejected"`
	Unmatched int              `json:"unmatched"`
}

func toProcessResponsesResponse(payer accumulation.PayerName, rows []accumulation.ResponseRow) ProcessResponsesResponse {
	resp := ProcessResponsesResponse{Payer: string(payer), Rows: make([]ResponseRowDTO, len(rows))}
	for i, r := range rows {
		resp.Rows[i] = ResponseRowDTO{
			MappingID:       r.MappingID,
			CostBreakdownID: r.CostBreakdownID,
			UniqueID:        r.UniqueID,
			MemberID:        r.MemberID,
			Status:          string(r.Status),
			ResponseCode:    r.ResponseCode,
			ResponseReason:  r.ResponseReason,
			Matched:         r.Matched,
		}
		switch {
		case !r.Matched:
			resp.Unmatched++
		case r.Status == accumulation.StatusAccepted:
			resp.Accepted++
		case r.Status == accumulation.StatusRejected:
			resp.Rejected++
		}
	}
	return resp
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Payer       string `json:"payer"`
}

// LoadScenarioRequest is the request body for loading a scenario.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// LoadScenarioResponse lists what the scenario created so a client can
// call the pricing endpoints right away.
type LoadScenarioResponse struct {
	ScenarioID              string   `json:"scenario_id"`
	WalletID                int64    `json:"wallet_id"`
	MemberID                int64    `json:"member_id"`
	TreatmentProcedureUUIDs []string `json:"treatment_procedure_uuids"`
	ReimbursementRequestIDs []int64  `json:"reimbursement_request_ids"`
}

// ErrorResponse is the standard error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
