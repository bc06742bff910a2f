package credits

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateIdempotencyKey is returned when an entry with the same key
	// already exists. Expected on retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	ErrInsufficientCredits = errors.New("insufficient cycle credits")
	ErrInvalidAmount       = errors.New("credit amount must be positive")
)

// InsufficientCreditsError provides details about a credit shortage.
type InsufficientCreditsError struct {
	WalletID  int64
	Available int64
	Requested int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient cycle credits for wallet %d: available %d, requested %d",
		e.WalletID, e.Available, e.Requested)
}

func (e *InsufficientCreditsError) Unwrap() error {
	return ErrInsufficientCredits
}
