package domain

import (
	"errors"
	"fmt"
)

// Error classes. Every error returned by the core wraps exactly one of these.
var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrPreconditionFailed = errors.New("precondition failed")
	ErrTransient          = errors.New("transient store failure")
	ErrInvalidInput       = errors.New("invalid input")
)

var (
	ErrMemberNotFound       = fmt.Errorf("member %w", ErrNotFound)
	ErrOrderNotFound        = fmt.Errorf("order %w", ErrNotFound)
	ErrPendingOrderNotFound = fmt.Errorf("pending order %w", ErrNotFound)
	ErrWalletNotFound       = fmt.Errorf("wallet %w", ErrNotFound)
	ErrWithdrawalNotFound   = fmt.Errorf("withdrawal request %w", ErrNotFound)
	ErrBankEventNotFound    = fmt.Errorf("bank event %w", ErrNotFound)
	ErrRatesNotConfigured   = fmt.Errorf("commission rate table %w", ErrNotFound)

	ErrAlreadyAttached   = fmt.Errorf("member already attached to referral graph: %w", ErrConflict)
	ErrInvalidTransition = fmt.Errorf("invalid state transition: %w", ErrConflict)
	ErrAlreadyConverted  = fmt.Errorf("pending order already converted: %w", ErrConflict)
	ErrDuplicate         = fmt.Errorf("duplicate resource: %w", ErrConflict)

	ErrSponsorNotAttached = fmt.Errorf("sponsor is not attached to referral graph: %w", ErrPreconditionFailed)
	ErrSponsorInactive    = fmt.Errorf("sponsor is not active: %w", ErrPreconditionFailed)
	ErrHasLiveDownline    = fmt.Errorf("member has live downline: %w", ErrPreconditionFailed)
	ErrInsufficientFunds  = fmt.Errorf("insufficient funds: %w", ErrPreconditionFailed)
	ErrOrderNotPaid       = fmt.Errorf("order is not in a paid status: %w", ErrPreconditionFailed)
	ErrCommissionPaidOut  = fmt.Errorf("commission already paid out: %w", ErrPreconditionFailed)
	ErrMemberInactive     = fmt.Errorf("member is not active: %w", ErrPreconditionFailed)
	ErrReservationClosed  = fmt.Errorf("reservation is no longer awaiting payment: %w", ErrPreconditionFailed)

	ErrInvalidAmount   = fmt.Errorf("amount must be positive: %w", ErrInvalidInput)
	ErrSponsorRequired = fmt.Errorf("sponsor is required for non-admin members: %w", ErrInvalidInput)
	ErrInvalidRole     = fmt.Errorf("unknown member role: %w", ErrInvalidInput)
	ErrInvalidRates    = fmt.Errorf("invalid commission rate table: %w", ErrInvalidInput)
)

// Class returns the taxonomy class of err, or nil when err carries none.
func Class(err error) error {
	for _, class := range []error{ErrNotFound, ErrConflict, ErrPreconditionFailed, ErrTransient, ErrInvalidInput} {
		if errors.Is(err, class) {
			return class
		}
	}
	return nil
}
