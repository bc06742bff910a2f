package reimbursement

import (
	"errors"
	"fmt"
)

var (
	ErrClinicNotFound    = errors.New("clinic not found")
	ErrMemberNotFound    = errors.New("member not found")
	ErrProcedureNotFound = errors.New("global procedure not found")
	ErrWalletNotFound    = errors.New("wallet not found")

	// ErrWalletBalanceReimbursements marks precondition violations in the
	// add back flow.
	ErrWalletBalanceReimbursements = errors.New("wallet balance reimbursements")

	// ErrInvalidClaimRequest is returned by a ClaimSubmitter when the claim
	// itself is malformed. It is the only submission error that propagates.
	ErrInvalidClaimRequest = errors.New("invalid direct payment claim creation request")
)

// WalletBalanceReimbursementsError explains why a reversal was refused.
type WalletBalanceReimbursementsError struct {
	Reason string
}

func (e *WalletBalanceReimbursementsError) Error() string {
	return fmt.Sprintf("wallet balance reimbursements: %s", e.Reason)
}

func (e *WalletBalanceReimbursementsError) Unwrap() error { return ErrWalletBalanceReimbursements }

// InvalidClaimRequestError carries the offending request.
type InvalidClaimRequestError struct {
	ReimbursementRequestID int64
	Reason                 string
}

func (e *InvalidClaimRequestError) Error() string {
	return fmt.Sprintf("invalid direct payment claim for reimbursement request %d: %s", e.ReimbursementRequestID, e.Reason)
}

func (e *InvalidClaimRequestError) Unwrap() error { return ErrInvalidClaimRequest }

// IsNotFound reports a missing collaborator record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrClinicNotFound) ||
		errors.Is(err, ErrMemberNotFound) ||
		errors.Is(err, ErrProcedureNotFound) ||
		errors.Is(err, ErrWalletNotFound)
}
