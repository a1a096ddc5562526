// Package events carries the fire-and-forget domain events the auth
// subsystem emits for downstream audit logging. Delivery semantics belong
// to the bus; callers never block on or retry a publish.
package events

import "context"

// Subjects for auth lifecycle events.
const (
	SubjectUserRegistered = "auth.user.registered"
	SubjectUserLoggedIn   = "auth.user.loggedin"
	SubjectTokenRefreshed = "auth.token.refreshed"
	SubjectUserLoggedOut  = "auth.user.loggedout"
)

// AuthEvent is the payload published on every auth subject.
type AuthEvent struct {
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
}

// Publisher publishes a JSON-encoded event on a subject.
type Publisher interface {
	Publish(ctx context.Context, subject string, event any) error
}

// Nop discards every event. Used when no bus is configured and in tests.
type Nop struct{}

var _ Publisher = Nop{}

func (Nop) Publish(ctx context.Context, subject string, event any) error {
	return nil
}
