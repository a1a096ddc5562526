package auth

import "errors"

// Error taxonomy surfaced to callers. Everything else coming out of this
// package is an unexpected backend failure and is logged, not retried.
var (
	// ErrValidation covers malformed registration input.
	ErrValidation = errors.New("auth: invalid input")
	// ErrDuplicateEmail means the email is already registered.
	ErrDuplicateEmail = errors.New("auth: email already registered")
	// ErrAuthentication covers every credential mismatch with one generic
	// message, so callers cannot enumerate accounts.
	ErrAuthentication = errors.New("auth: invalid credentials")
	// ErrSessionNotFound means the refresh token is unknown, expired,
	// already rotated, or logged out. The cases are deliberately
	// indistinguishable.
	ErrSessionNotFound = errors.New("auth: session not found")
	// ErrUserNotFound means the backing account no longer exists.
	ErrUserNotFound = errors.New("auth: user not found")
)
