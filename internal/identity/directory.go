// Package identity is the narrow surface of the external identity
// collaborator: creating a credential record and verifying an email and
// password against it. Profile fields and their schema belong to that
// collaborator, not to this service.
package identity

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound means no account exists for the lookup key.
	ErrNotFound = errors.New("identity: user not found")
	// ErrDuplicateEmail means an account with the email already exists.
	ErrDuplicateEmail = errors.New("identity: email already registered")
	// ErrBadCredentials covers every credential mismatch. It never says
	// which half of the credential was wrong.
	ErrBadCredentials = errors.New("identity: bad credentials")
)

// User is the minimal identity record the auth subsystem reads.
type User struct {
	ID        string
	Email     string
	CreatedAt time.Time
}

// Directory is the credential-verification capability of the collaborator.
type Directory interface {
	// CreateUser stores a new credential record and returns the user.
	// ErrDuplicateEmail when the email is taken.
	CreateUser(ctx context.Context, email, password string) (*User, error)

	// VerifyCredentials checks an email/password pair and returns the
	// matching user. Any mismatch is ErrBadCredentials.
	VerifyCredentials(ctx context.Context, email, password string) (*User, error)

	// FindByID resolves a user by id. ErrNotFound when absent.
	FindByID(ctx context.Context, id string) (*User, error)
}
