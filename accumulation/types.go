/*
Package accumulation reports deductible and OOP amounts to payers.

PURPOSE:
  When we adjudicate deductible for a member, the payer has to hear about
  it or the member's accumulators drift. Each night we write a fixed-width
  accumulator file per payer: one header, one detail line per queued
  mapping, one trailer. Later the payer sends the same lines back with an
  accepted/rejected status.

KEY CONCEPTS IN THIS FILE (types.go):
  - TreatmentMapping: one queued accumulator report and its lifecycle
  - DetailRecordWrapper: a generated detail line plus what went into it
  - DetailMetadata: what a response line says about a mapping
  - Direction: forward report or reversal of an earlier one

MAPPING LIFECYCLE:
  WAITING -> SUBMITTED -> ACCEPTED | REJECTED
  PAUSED and SKIP are set by admins and never picked up by the builder.

CORRELATION:
  Every detail line carries a unique id "{timestamp}#cb_{cost breakdown id}".
  Responses are matched by unique id, falling back to the cost breakdown id.

SEE ALSO:
  - generator.go: shared encoder plumbing
  - esi.go, premera.go: payer layouts
  - builder.go, response.go: file generation and response reconciliation
*/
package accumulation

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ENUMS
// =============================================================================

type PayerName string

const (
	PayerESI     PayerName = "esi"
	PayerPremera PayerName = "premera"
)

type RecordType string

const (
	RecordMedical  RecordType = "MEDICAL"
	RecordPharmacy RecordType = "PHARMACY"
)

type MappingStatus string

const (
	StatusWaiting    MappingStatus = "WAITING"
	StatusPaused     MappingStatus = "PAUSED"
	StatusProcessing MappingStatus = "PROCESSING"
	StatusSubmitted  MappingStatus = "SUBMITTED"
	StatusAccepted   MappingStatus = "ACCEPTED"
	StatusRejected   MappingStatus = "REJECTED"
	StatusSkip       MappingStatus = "SKIP"
)

// Direction says whether a detail line reports amounts or takes back a
// previous report.
type Direction int

const (
	Forward Direction = iota
	Reversal
)

func (d Direction) String() string {
	if d == Reversal {
		return "reversal"
	}
	return "forward"
}

// =============================================================================
// MAPPING
// =============================================================================

// TreatmentMapping links one accumulator report to the procedure or
// reimbursement request it is about. Exactly one of TreatmentProcedureUUID
// and ReimbursementRequestID is set.
type TreatmentMapping struct {
	ID                     int64
	TreatmentProcedureUUID *uuid.UUID
	ReimbursementRequestID *int64
	CostBreakdownID        int64
	PayerID                int64
	RecordType             RecordType
	Status                 MappingStatus

	AccumulationUniqueID      string
	AccumulationTransactionID string

	// Overrides replace the cost breakdown amounts when set.
	DeductibleOverride *int64
	OOPOverride        *int64
	HRAOverride        *int64

	IsRefund       bool
	ResponseCode   string
	ResponseReason string
	CompletedAt    *time.Time
	FileName       string
	CreatedAt      time.Time
}

func (m TreatmentMapping) Direction() Direction {
	if m.IsRefund {
		return Reversal
	}
	return Forward
}

// =============================================================================
// DETAIL RECORDS
// =============================================================================

type DetailRecordWrapper struct {
	Line            string
	UniqueID        string
	TransactionID   string
	CardholderID    string
	CostBreakdownID int64
	Deductible      int64
	OOPApplied      int64
	HRAApplied      int64
	Direction       Direction
}

// DetailMetadata classifies a line read back from a payer file.
type DetailMetadata struct {
	IsResponse     bool
	IsRejection    bool
	ShouldUpdate   bool
	MemberID       string
	UniqueID       string
	ResponseCode   string
	ResponseReason string
}
