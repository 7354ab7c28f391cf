package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrNonceMissing occurs when the session or nonce is absent.
	ErrNonceMissing = errors.New("nonce missing")
	// ErrNonceInvalid occurs when the nonce does not match the session.
	ErrNonceInvalid = errors.New("nonce invalid or expired")
	// ErrLockBusy occurs when a critical section is held elsewhere.
	ErrLockBusy = errors.New("lock held by another request")
)
