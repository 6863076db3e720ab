package token

import "errors"

var (
	// ErrMissingSecret is a configuration failure: no signing secret is
	// set for the requested token kind. Not retryable.
	ErrMissingSecret = errors.New("signing secret is not configured")

	// ErrTokenExpired is distinct from ErrInvalidToken so callers can
	// decide whether a refresh attempt makes sense.
	ErrTokenExpired = errors.New("token expired")

	// ErrInvalidToken covers bad signature, issuer, audience, kind or
	// format, and subjects that no longer exist or were deactivated.
	ErrInvalidToken = errors.New("invalid token")

	// ErrTokenRevoked means the refresh registry no longer has an active
	// record for the token, even if its signature is still valid.
	ErrTokenRevoked = errors.New("token revoked")
)
