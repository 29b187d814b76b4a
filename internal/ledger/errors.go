package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrPlanNotFound is returned when assigning an unknown plan
	ErrPlanNotFound = errors.New("plan not found")

	// ErrZeroAdjustment is returned when an adjustment has no amount
	ErrZeroAdjustment = errors.New("adjustment amount must be non-zero")

	// ErrNoCreditRecord is returned when a metered user has no credit record
	ErrNoCreditRecord = errors.New("no credit record for user")

	// ErrLedgerDrift is returned when a transaction's balance_after does not
	// match the running sum of the history before it
	ErrLedgerDrift = errors.New("transaction history does not replay to the stored balance")
)

// InsufficientCreditsError is returned when a user's balance cannot cover
// the base cost of a generation
type InsufficientCreditsError struct {
	Required  int
	Available int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %d, available %d", e.Required, e.Available)
}

// IsInsufficientCredits reports whether err is an insufficient credits error
func IsInsufficientCredits(err error) (*InsufficientCreditsError, bool) {
	var ice *InsufficientCreditsError
	if errors.As(err, &ice) {
		return ice, true
	}
	return nil, false
}
