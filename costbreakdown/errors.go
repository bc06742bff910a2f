package costbreakdown

import (
	"errors"
	"fmt"

	"github.com/warp/benefits-engine/eligibility"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrPayerDisabled is returned when the member's payer is configured as
	// disabled for cost breakdowns.
	ErrPayerDisabled = errors.New("cost breakdown disabled for payer")

	// ErrRecordExists is returned when the reimbursement request already has
	// a cost breakdown link.
	ErrRecordExists = errors.New("reimbursement request to cost breakdown record exists")

	// ErrMemberHealthPlanRequired is returned for deductible accumulation
	// wallets whose member has no health plan at the service date.
	ErrMemberHealthPlanRequired = errors.New("member health plan required for deductible accumulation")

	// ErrEligibilityRequired is a programmer error: the pricing path needs a
	// snapshot and none was supplied.
	ErrEligibilityRequired = errors.New("eligibility snapshot required")

	ErrNegativeCost  = errors.New("procedure cost cannot be negative")
	ErrNotFound      = errors.New("cost breakdown not found")
	ErrInvalidTarget = errors.New("override needs exactly one of reimbursement request or treatment procedure")
	ErrNoOverride    = errors.New("override needs a deductible or oop amount")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

type PayerDisabledError struct {
	PayerCode string
}

func (e *PayerDisabledError) Error() string {
	return fmt.Sprintf("cost breakdown disabled for payer %s", e.PayerCode)
}

func (e *PayerDisabledError) Unwrap() error { return ErrPayerDisabled }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidationError reports local, caller-recoverable input problems.
func IsValidationError(err error) bool {
	return eligibility.IsValidationError(err) ||
		errors.Is(err, ErrMemberHealthPlanRequired) ||
		errors.Is(err, ErrNegativeCost) ||
		errors.Is(err, ErrInvalidTarget) ||
		errors.Is(err, ErrNoOverride)
}

// IsBusinessRuleError reports errors that are fatal to the operation and
// not retried automatically.
func IsBusinessRuleError(err error) bool {
	return errors.Is(err, ErrPayerDisabled) || errors.Is(err, ErrRecordExists)
}

// AdminMessage renders err the way the admin tools show it.
func AdminMessage(err error) string {
	if errors.Is(err, ErrRecordExists) {
		return "ReimbursementRequestToCostBreakdown record exists"
	}
	return fmt.Sprintf("Failed to calculate a cost breakdown. Error %s", err)
}
