package creditledger

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	ErrUnknownTier         = errors.New("creditledger: unknown subscription tier")
	ErrUnknownModelTier    = errors.New("creditledger: unknown model tier")
	ErrInvalidAmount       = errors.New("creditledger: amount must be a positive integer")
	ErrInsufficientCredits = errors.New("creditledger: insufficient credits")
	ErrPurchaseNotAllowed  = errors.New("creditledger: tier does not allow purchased credits")
	ErrNoBalance           = errors.New("creditledger: no balance record for user")
	ErrTransactionConflict = errors.New("creditledger: transaction conflict, retry budget exhausted")
	ErrStoreUnavailable    = errors.New("creditledger: balance store unavailable")
)

// LedgerError wraps an error with operation context.
type LedgerError struct {
	Err    error
	Op     string
	UserID string
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("creditledger: op=%s user=%s: %v", e.Op, e.UserID, e.Err)
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

// IsDenied returns true if the error is an expected, recoverable denial:
// the charge was not applied and the balance is unchanged.
func IsDenied(err error) bool {
	return errors.Is(err, ErrInsufficientCredits)
}

// IsTransient returns true if the error is a transient infrastructure fault.
// Callers should treat the whole operation as not applied and retry it.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransactionConflict) ||
		errors.Is(err, ErrStoreUnavailable)
}
