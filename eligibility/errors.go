package eligibility

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS
// =============================================================================

var (
	// ErrNoIndividualDeductibleOopRemaining is returned when an RTE snapshot for
	// an individual plan lacks the individual remaining amounts.
	ErrNoIndividualDeductibleOopRemaining = errors.New("no individual deductible or oop remaining")

	// ErrNoFamilyDeductibleOopRemaining is returned when an RTE snapshot for a
	// family plan lacks family amounts, or the embedded individual amounts.
	ErrNoFamilyDeductibleOopRemaining = errors.New("no family deductible or oop remaining")

	// ErrNoCostSharingFound is returned when a payer-not-integrated plan has no
	// cost sharing configured for the procedure's category.
	ErrNoCostSharingFound = errors.New("no cost sharing found")

	// ErrNoCoverage is returned when the employer plan has no coverage row
	// for the member's plan type and tier.
	ErrNoCoverage = errors.New("no coverage configured for plan type")

	// ErrRTEUnavailable signals that real-time eligibility cannot be used and
	// the plan cost-sharing fallback applies.
	ErrRTEUnavailable = errors.New("real time eligibility unavailable")

	ErrMemberHealthPlanNotFound = errors.New("member health plan not found")
	ErrPayerNotFound            = errors.New("payer not found")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// MissingAccumulatorError names the field an RTE response was missing.
type MissingAccumulatorError struct {
	PlanType PlanType
	Field    string
}

func (e *MissingAccumulatorError) Error() string {
	return fmt.Sprintf("%s plan eligibility is missing %s", e.PlanType, e.Field)
}

func (e *MissingAccumulatorError) Unwrap() error {
	if e.PlanType == PlanTypeFamily {
		return ErrNoFamilyDeductibleOopRemaining
	}
	return ErrNoIndividualDeductibleOopRemaining
}

// NoCostSharingFoundError carries the plan and category that had no entries.
type NoCostSharingFoundError struct {
	EmployerHealthPlanID int64
	Category             CostSharingCategory
}

func (e *NoCostSharingFoundError) Error() string {
	return fmt.Sprintf("no cost sharing found for employer health plan %d and category %s",
		e.EmployerHealthPlanID, e.Category)
}

func (e *NoCostSharingFoundError) Unwrap() error { return ErrNoCostSharingFound }

// IsValidationError reports errors caused by incomplete eligibility data.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrNoIndividualDeductibleOopRemaining) ||
		errors.Is(err, ErrNoFamilyDeductibleOopRemaining) ||
		errors.Is(err, ErrNoCostSharingFound) ||
		errors.Is(err, ErrNoCoverage)
}
