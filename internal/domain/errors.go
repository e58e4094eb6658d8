package domain

import "errors"

var (
	// ErrUnauthenticated covers missing, malformed, expired or revoked bearer credentials.
	ErrUnauthenticated = errors.New("entitlement: unauthenticated")
	// ErrStoreUnavailable signals a failed read or write against the entitlement store.
	ErrStoreUnavailable = errors.New("entitlement: store unavailable")
	// ErrIdentityUnavailable signals that the identity listing could not be fetched.
	ErrIdentityUnavailable = errors.New("entitlement: identity listing unavailable")
	// ErrMissingEmail indicates a webhook payload without an extractable buyer email.
	ErrMissingEmail = errors.New("entitlement: missing buyer email")
	// ErrUnauthorized indicates a wrong operator or provider secret.
	ErrUnauthorized = errors.New("entitlement: unauthorized")
	// ErrInvalidInput indicates caller input validation errors.
	ErrInvalidInput = errors.New("entitlement: invalid input")
)
