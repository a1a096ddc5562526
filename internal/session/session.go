// Package session owns the live mapping between a user and their current
// refresh token. The record is bidirectionally indexed: a forward key from
// user id to token and a reverse key from token to user id, written and
// expired together. Every mutation is a single atomic operation against
// the backing store; an orphaned half-entry is a defect, not a state.
package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no session exists for the lookup key,
	// including when a conditional rotate loses to a concurrent mutation.
	// Absence and replay are deliberately indistinguishable.
	ErrNotFound = errors.New("session: not found")
)

// Store is the narrow surface the auth orchestrator needs. Implementations
// never expose get-then-set pairs; Put, Rotate and Delete each move both
// halves of the record as one atomic unit.
type Store interface {
	// Put writes forward and reverse entries with one TTL, replacing any
	// prior record for the user.
	Put(ctx context.Context, userID, refreshToken string, ttl time.Duration) error

	// Rotate swaps the user's current token for a new one, but only if
	// the stored token still equals expectedOld at the moment of the
	// swap. A lost race returns ErrNotFound.
	Rotate(ctx context.Context, userID, expectedOld, newToken string, ttl time.Duration) error

	// GetTokenForUser resolves the forward entry. ErrNotFound when absent.
	GetTokenForUser(ctx context.Context, userID string) (string, error)

	// GetUserForToken resolves the reverse entry. ErrNotFound when absent.
	GetUserForToken(ctx context.Context, refreshToken string) (string, error)

	// Delete removes both halves of whatever record exists for the user.
	// Idempotent: a missing record is a success.
	Delete(ctx context.Context, userID string) error
}

// Key scheme shared by all store implementations.
func forwardKey(userID string) string {
	return "user:" + userID + ":refreshToken"
}

func reverseKey(refreshToken string) string {
	return "refreshToken:" + refreshToken
}
