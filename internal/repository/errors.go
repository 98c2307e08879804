package repository

import "errors"

var (
	// ErrNotFound means no invoice matches the lookup.
	ErrNotFound = errors.New("invoice not found")
	// ErrConflict means a conditional update matched zero rows because
	// the invoice status changed underneath the caller.
	ErrConflict = errors.New("invoice status conflict")
	// ErrDuplicate means an insert violated a uniqueness constraint
	// (order number, gateway ref, or the live-pending intent index).
	ErrDuplicate = errors.New("duplicate invoice")
	// ErrAlreadyGranted means the entitlement flag was already set.
	ErrAlreadyGranted = errors.New("entitlement already granted")
)
