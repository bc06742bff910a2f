/*
Package costbreakdown computes and persists who pays what for a procedure.

PURPOSE:
  Given a procedure price, the member's wallet balance and their health
  plan accumulators, split the cost into member and employer
  responsibility, record how much deductible/OOP the procedure consumes,
  and persist the result as an immutable CostBreakdown.

KEY CONCEPTS IN THIS FILE (types.go):
  - Data: the computed split (the calculator's output)
  - CostBreakdown: Data plus ownership and audit fields (the persisted row)
  - Type: which pricing path produced it

INVARIANT:
  TotalMemberResponsibility + TotalEmployerResponsibility - HRAApplied == cost
  whenever the beginning wallet balance is non-negative. HRA dollars are
  counted inside the employer total because the employer funds them, but
  they pay part of the member's share.

SEE ALSO:
  - calculator.go: the three pricing paths
  - negative.go: negative wallet balance correction
  - processor.go: data source selection and persistence
*/
package costbreakdown

import (
	"time"

	"github.com/google/uuid"
	"github.com/warp/benefits-engine/eligibility"
)

// =============================================================================
// ENUMS
// =============================================================================

type Type string

const (
	TypeDeductibleAccumulation Type = "DEDUCTIBLE_ACCUMULATION"
	TypeHDHP                   Type = "HDHP"
	TypeFirstDollarCoverage    Type = "FIRST_DOLLAR_COVERAGE"
)

type AmountType string

const (
	AmountIndividual AmountType = "INDIVIDUAL"
	AmountFamily     AmountType = "FAMILY"
)

func amountTypeFor(planType eligibility.PlanType) AmountType {
	if planType == eligibility.PlanTypeFamily {
		return AmountFamily
	}
	return AmountIndividual
}

// =============================================================================
// DATA - Calculator output
// =============================================================================

type Data struct {
	RTETransactionID            *int64
	TotalMemberResponsibility   int64
	TotalEmployerResponsibility int64
	BeginningWalletBalance      int64
	EndingWalletBalance         int64
	CostBreakdownType           Type
	AmountType                  AmountType
	Deductible                  int64
	DeductibleRemaining         int64
	FamilyDeductibleRemaining   int64
	Coinsurance                 int64
	Copay                       int64
	OverageAmount               int64
	OOPApplied                  int64
	OOPRemaining                int64
	FamilyOOPRemaining          int64
	HRAApplied                  int64
}

// EmployerClaimAmount is what the wallet pays the provider. HRA dollars are
// settled from the HRA account, not the wallet.
func (d Data) EmployerClaimAmount() int64 {
	return d.TotalEmployerResponsibility - d.HRAApplied
}

// =============================================================================
// COST BREAKDOWN - Persisted row
// =============================================================================

type CostBreakdown struct {
	ID                     int64
	WalletID               int64
	MemberID               int64
	TreatmentProcedureUUID *uuid.UUID
	ReimbursementRequestID *int64
	Data

	// Admin overrides. When set the row was written without running the
	// calculator.
	DeductibleOverride *int64
	OOPOverride        *int64

	// CalcConfig is a JSON snapshot of the calculator inputs.
	CalcConfig string
	CreatedAt  time.Time
}

func (cb CostBreakdown) IsOverride() bool {
	return cb.DeductibleOverride != nil || cb.OOPOverride != nil
}
