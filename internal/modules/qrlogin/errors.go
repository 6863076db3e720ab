package qrlogin

import "errors"

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionAlreadyUsed = errors.New("session already used")
	ErrSessionExpired     = errors.New("session expired")

	// ErrOwnershipMismatch: the caller is not the user recorded at scan
	// time (or the session was never scanned).
	ErrOwnershipMismatch = errors.New("session belongs to another user")

	// ErrTooManySessions is the capacity guard on Generate.
	ErrTooManySessions = errors.New("too many concurrent login sessions")

	// ErrUserInactive: the scanning account does not exist or may not
	// authenticate.
	ErrUserInactive = errors.New("user is not allowed to authenticate")
)
