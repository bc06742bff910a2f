package accumulation

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidPayer        = errors.New("invalid payer")
	ErrInvalidGroupID      = errors.New("invalid group id")
	ErrNegativeAmount      = errors.New("accumulator amounts are magnitudes; use Reversal for negative reports")
	ErrUnknownPayer        = errors.New("no accumulation generator for payer")
	ErrInvalidUniqueID     = errors.New("unique id has no cost breakdown suffix")
	ErrRecordCountMismatch = errors.New("trailer record count does not match detail lines")
	ErrMappingNotFound     = errors.New("accumulation mapping not found")
)

// InvalidPayerError is returned when the member's employer plan has no
// payer, or one we can't resolve.
type InvalidPayerError struct {
	EmployerHealthPlanID int64
	Reason               string
}

func (e *InvalidPayerError) Error() string {
	return fmt.Sprintf("invalid payer for employer health plan %d: %s", e.EmployerHealthPlanID, e.Reason)
}

func (e *InvalidPayerError) Unwrap() error { return ErrInvalidPayer }

// InvalidGroupIDError is returned when a plan needs a group id and has none.
type InvalidGroupIDError struct {
	EmployerHealthPlanID int64
}

func (e *InvalidGroupIDError) Error() string {
	return fmt.Sprintf("employer health plan %d has no group id", e.EmployerHealthPlanID)
}

func (e *InvalidGroupIDError) Unwrap() error { return ErrInvalidGroupID }

// IsValidationError reports errors caused by the data being encoded.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidPayer) ||
		errors.Is(err, ErrInvalidGroupID) ||
		errors.Is(err, ErrNegativeAmount)
}

// RegenerateMessage renders a failed regeneration for the admin tools.
func RegenerateMessage(mappingID int64, err error) string {
	return fmt.Sprintf("Failed to regenerate accumulation for mapping %d: %s", mappingID, err)
}
