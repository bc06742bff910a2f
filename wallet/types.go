/*
Package wallet holds the benefit wallet records the cost breakdown engine
reads and writes.

PURPOSE:
  Shared types for wallets, treatment procedures, reimbursement requests and
  the join rows that tie reimbursement requests to cost breakdowns. The
  packages that act on them (costbreakdown, reimbursement, accumulation)
  import this one; it imports nothing from them.

APPEND-ONLY REIMBURSEMENTS:
  A treatment procedure may be priced several times. Each pricing produces
  a cost breakdown, and each cost breakdown gets its own reimbursement
  requests holding the signed DELTA against the previous pricing. Amounts
  are corrected by adding requests, never by editing old ones:

    cost breakdown 1: employer +800
    cost breakdown 2: employer -150   (repriced, employer now owes 650)
    refund:           employer +150   (reversal of the latest request)

SEE ALSO:
  - reimbursement/engine.go: deduct/add back flows
  - costbreakdown/processor.go: creates cost breakdowns
*/
package wallet

import (
	"time"

	"github.com/google/uuid"
	"github.com/warp/benefits-engine/eligibility"
)

// =============================================================================
// WALLET
// =============================================================================

type BenefitType string

const (
	BenefitCurrency BenefitType = "CURRENCY"
	BenefitCycle    BenefitType = "CYCLE"
)

type Wallet struct {
	ID                            int64
	MemberID                      int64
	CategoryID                    int64
	BenefitType                   BenefitType
	DeductibleAccumulationEnabled bool
	BenefitLimit                  int64
}

func (w Wallet) IsCycle() bool { return w.BenefitType == BenefitCycle }

// =============================================================================
// TREATMENT PROCEDURE
// =============================================================================

type ProcedureStatus string

const (
	ProcedureScheduled          ProcedureStatus = "SCHEDULED"
	ProcedureCompleted          ProcedureStatus = "COMPLETED"
	ProcedurePartiallyCompleted ProcedureStatus = "PARTIALLY_COMPLETED"
	ProcedureCancelled          ProcedureStatus = "CANCELLED"
)

// IsBillable reports whether money may move for a procedure in this status.
func (s ProcedureStatus) IsBillable() bool {
	return s == ProcedureCompleted || s == ProcedurePartiallyCompleted
}

type ProcedureType string

const (
	ProcedureMedical  ProcedureType = "MEDICAL"
	ProcedurePharmacy ProcedureType = "PHARMACY"
)

type TreatmentProcedure struct {
	ID                int64
	UUID              uuid.UUID
	MemberID          int64
	WalletID          int64
	ClinicID          *int64
	GlobalProcedureID string
	ProcedureName     string
	CategoryID        int64
	Status            ProcedureStatus
	ProcedureType     ProcedureType
	StartDate         time.Time
	EndDate           *time.Time
	Cost              int64
	CostBreakdownID   *int64
}

// =============================================================================
// REIMBURSEMENT REQUEST
// =============================================================================

type RequestState string

const (
	StateNew        RequestState = "NEW"
	StatePending    RequestState = "PENDING"
	StateApproved   RequestState = "APPROVED"
	StateReimbursed RequestState = "REIMBURSED"
	StateDenied     RequestState = "DENIED"
	StateRefunded   RequestState = "REFUNDED"
)

type ReimbursementType string

const (
	ReimbursementManual        ReimbursementType = "MANUAL"
	ReimbursementDirectBilling ReimbursementType = "DIRECT_BILLING"
)

type ReimbursementRequest struct {
	ID                     int64
	WalletID               int64
	CategoryID             int64
	Label                  string
	ServiceProvider        string
	PersonReceivingService string
	Description            string
	Amount                 int64
	State                  RequestState
	ReimbursementType      ReimbursementType
	ProcedureType          ProcedureType
	CostSharingCategory    eligibility.CostSharingCategory
	ServiceStartDate       time.Time
	ServiceEndDate         *time.Time
	ProcedureUUID          *uuid.UUID
	CreatedAt              time.Time
}

// =============================================================================
// REIMBURSEMENT REQUEST <-> COST BREAKDOWN
// =============================================================================

type ClaimType string

const (
	ClaimEmployer           ClaimType = "EMPLOYER"
	ClaimEmployeeDeductible ClaimType = "EMPLOYEE_DEDUCTIBLE"
)

type ReimbursementRequestToCostBreakdown struct {
	ID                     int64
	ReimbursementRequestID int64
	CostBreakdownID        int64
	TreatmentProcedureUUID *uuid.UUID
	ClaimType              ClaimType
}

// LinkedRequest is a reimbursement request together with its link to the
// cost breakdown that produced it.
type LinkedRequest struct {
	Request ReimbursementRequest
	Link    ReimbursementRequestToCostBreakdown
}
