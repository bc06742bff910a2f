package reimbursement

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/warp/benefits-engine/costbreakdown"
	"github.com/warp/benefits-engine/wallet"
)

// =============================================================================
// DIRECTORIES
// =============================================================================

type Clinic struct {
	ID   int64
	Name string
}

type Member struct {
	ID        int64
	FirstName string
	LastName  string
}

func (m Member) FullName() string { return m.FirstName + " " + m.LastName }

type ClinicDirectory interface {
	GetClinic(ctx context.Context, id int64) (Clinic, error)
}

type MemberDirectory interface {
	GetMember(ctx context.Context, id int64) (Member, error)
}

type GlobalProcedure struct {
	ID         string
	Name       string
	CostCredit int64
}

type GlobalProcedureService interface {
	GetProcedureByID(ctx context.Context, id string) (GlobalProcedure, error)
}

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	GetWallet(ctx context.Context, id int64) (wallet.Wallet, error)

	// PreviousCostBreakdownWithReimbursementRequests returns the newest cost
	// breakdown (highest id) for the procedure that already has reimbursement
	// requests attached, and whether one of them is an EMPLOYEE_DEDUCTIBLE
	// claim. Returns nil when there is none.
	PreviousCostBreakdownWithReimbursementRequests(ctx context.Context, procedureUUID uuid.UUID) (*costbreakdown.CostBreakdown, bool, error)

	// SaveReimbursementRequests inserts every request, then every link row,
	// in one transaction. IDs are written back into reqs. On failure nothing
	// is persisted.
	SaveReimbursementRequests(ctx context.Context, reqs []wallet.LinkedRequest) error

	LinkedRequestsForCostBreakdown(ctx context.Context, costBreakdownID int64) ([]wallet.LinkedRequest, error)
}

// =============================================================================
// CLAIM SUBMISSION
// =============================================================================

// ClaimSubmitter sends a direct payment claim to the disbursement provider.
// Malformed claims return an error wrapping ErrInvalidClaimRequest; any other
// error is a remote failure.
type ClaimSubmitter interface {
	CreateDirectPaymentClaim(ctx context.Context, w wallet.Wallet, rr wallet.ReimbursementRequest, claimType wallet.ClaimType) error
}

// LoggingClaimSubmitter validates claims and logs them instead of sending.
// Used when no disbursement integration is configured.
type LoggingClaimSubmitter struct {
	Log zerolog.Logger
}

func (s LoggingClaimSubmitter) CreateDirectPaymentClaim(_ context.Context, w wallet.Wallet, rr wallet.ReimbursementRequest, claimType wallet.ClaimType) error {
	if rr.ID == 0 {
		return &InvalidClaimRequestError{Reason: "reimbursement request is not persisted"}
	}
	if rr.Amount == 0 {
		return &InvalidClaimRequestError{ReimbursementRequestID: rr.ID, Reason: "amount is zero"}
	}
	s.Log.Info().
		Int64("wallet_id", w.ID).
		Int64("reimbursement_request_id", rr.ID).
		Int64("amount", rr.Amount).
		Str("claim_type", string(claimType)).
		Msg("direct payment claim")
	return nil
}
