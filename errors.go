package ledger

import "errors"

// Errors returned by the ledger. They are always wrapped with some context,
// use errors.Is to test for them.
var (
	// ErrInvalidAmount is returned for amounts that are not a strictly positive
	// integer count of minor units.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInvalidAccountID is returned for identifiers that cannot be used as a
	// storage key.
	ErrInvalidAccountID = errors.New("invalid account id")
	ErrAccountNotFound  = errors.New("account not found")
	// ErrAccountAlreadyExists is returned by CreateAccount when the id is taken.
	ErrAccountAlreadyExists = errors.New("account already exists")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrSameAccountTransfer  = errors.New("source and destination accounts are the same")
	// ErrCorruptRecord is returned when a persisted record cannot be parsed or
	// holds a balance the ledger would never have written.
	ErrCorruptRecord = errors.New("corrupt account record")
	// ErrAccountBusy is returned when another process holds the account lock
	// for longer than the configured lock timeout.
	ErrAccountBusy = errors.New("account is busy")
	// ErrStorageIO wraps any underlying filesystem failure.
	ErrStorageIO = errors.New("storage failure")
	// ErrInconsistentTransferRecovery is returned when a pending transfer
	// cannot be resolved automatically. It requires operator intervention.
	ErrInconsistentTransferRecovery = errors.New("inconsistent transfer recovery")
	// ErrQuarantined is returned for mutations on an account that suffered a
	// storage failure or an unresolved transfer during the engine lifetime.
	ErrQuarantined = errors.New("account is quarantined")
)

// IsRecoverable reports whether err is a user-level failure after which the
// caller can simply ask for new input and try again.
//
// Storage failures, unresolved transfers and quarantines are not recoverable:
// retrying risks compounding the damage.
func IsRecoverable(err error) bool {
	if err == nil {
		return true
	}
	switch {
	case errors.Is(err, ErrStorageIO),
		errors.Is(err, ErrInconsistentTransferRecovery),
		errors.Is(err, ErrQuarantined):
		return false
	}
	return true
}
