package repository

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrConflict is returned when a concurrent update on the same ride
	// prevented the read-modify-write cycle from committing.
	ErrConflict = errors.New("concurrent update conflict")

	// ErrStoreUnavailable is returned when the backing store failed or did
	// not answer within the operation timeout.
	ErrStoreUnavailable = errors.New("store unavailable")
)
