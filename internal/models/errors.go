package models

import "errors"

// Domain error kinds. Layers wrap these with fmt.Errorf("...: %w", err) and
// callers branch with errors.Is.
var (
	// ErrValidation flags malformed input. It is always detected before any
	// mutation.
	ErrValidation = errors.New("invalid input")

	// ErrInsufficientFunds flags a withdrawal that would take a non-owing
	// account below zero.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrRestrictedWithdrawal flags a customer-path withdrawal on a type
	// that only a teller may withdraw from.
	ErrRestrictedWithdrawal = errors.New("withdrawal requires a teller")

	// ErrNotFound flags a missing user, account, type, role or message.
	ErrNotFound = errors.New("not found")

	// ErrStoreUnavailable flags a store that failed to connect or returned
	// an unexpected result. Never retried automatically.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrRestoreFailed flags a failed snapshot restore. The live store is
	// rolled back to its pre-restore state before this is returned.
	ErrRestoreFailed = errors.New("restore failed")
)
