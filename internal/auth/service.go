// Package auth is the state machine for register, login, refresh and
// logout. It composes the token issuer, the session store and the
// external identity directory; it adds no locking of its own — every
// correctness guarantee reduces to the store's atomic primitives.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"taskstream.org/internal/events"
	"taskstream.org/internal/identity"
	"taskstream.org/internal/obs"
	"taskstream.org/internal/session"
	"taskstream.org/internal/token"
)

// SessionPolicy names how concurrent sessions per user are handled.
type SessionPolicy string

// SingleSessionPerUser is the only implemented policy: a successful login
// replaces whatever session the user had, so logging in elsewhere
// invalidates other sessions.
const SingleSessionPerUser SessionPolicy = "single-session-per-user"

// TokenPair is the result of a successful register, login or refresh.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
}

// Service orchestrates the session lifecycle.
type Service struct {
	tokens    *token.Issuer
	sessions  session.Store
	directory identity.Directory
	publisher events.Publisher
	policy    SessionPolicy
	now       func() time.Time
}

// NewService wires the orchestrator. A nil publisher disables events.
func NewService(tokens *token.Issuer, sessions session.Store, directory identity.Directory, publisher events.Publisher) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{
		tokens:    tokens,
		sessions:  sessions,
		directory: directory,
		publisher: publisher,
		policy:    SingleSessionPerUser,
		now:       time.Now,
	}
}

// Policy reports the active session policy.
func (s *Service) Policy() SessionPolicy {
	return s.policy
}

// Register creates the credential record and immediately logs the user in.
func (s *Service) Register(ctx context.Context, email, password string) (TokenPair, error) {
	if err := ValidateRegistration(email, password); err != nil {
		return TokenPair{}, err
	}
	user, err := s.directory.CreateUser(ctx, email, password)
	if err != nil {
		if errors.Is(err, identity.ErrDuplicateEmail) {
			return TokenPair{}, ErrDuplicateEmail
		}
		return TokenPair{}, fmt.Errorf("create user: %w", err)
	}
	s.emit(ctx, events.SubjectUserRegistered, events.AuthEvent{UserID: user.ID, Email: user.Email})
	return s.Login(ctx, email, password)
}

// Login verifies credentials and establishes a new session. Under the
// single-session policy the Put replaces any prior record for the user.
func (s *Service) Login(ctx context.Context, email, password string) (TokenPair, error) {
	user, err := s.directory.VerifyCredentials(ctx, email, password)
	if err != nil {
		if errors.Is(err, identity.ErrBadCredentials) {
			obs.ObserveLogin("denied")
			return TokenPair{}, ErrAuthentication
		}
		obs.ObserveLogin("error")
		return TokenPair{}, fmt.Errorf("verify credentials: %w", err)
	}

	pair, refreshToken, err := s.mintPair(user.ID)
	if err != nil {
		obs.ObserveLogin("error")
		return TokenPair{}, err
	}
	if err := s.sessions.Put(ctx, user.ID, refreshToken, s.tokens.RefreshTTL()); err != nil {
		obs.ObserveLogin("error")
		return TokenPair{}, fmt.Errorf("store session: %w", err)
	}

	obs.ObserveLogin("ok")
	s.emit(ctx, events.SubjectUserLoggedIn, events.AuthEvent{UserID: user.ID, Email: user.Email})
	return pair, nil
}

// Refresh rotates the presented refresh token for a new pair. The store's
// conditional swap resolves concurrent refreshes: at most one caller wins
// and every loser observes ErrSessionNotFound.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	if refreshToken == "" {
		obs.ObserveRefresh("denied")
		return TokenPair{}, ErrSessionNotFound
	}
	userID, err := s.sessions.GetUserForToken(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			obs.ObserveRefresh("denied")
			return TokenPair{}, ErrSessionNotFound
		}
		obs.ObserveRefresh("error")
		return TokenPair{}, fmt.Errorf("resolve session: %w", err)
	}

	user, err := s.directory.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			// Account deleted after issuance; drop the stale session.
			_ = s.sessions.Delete(ctx, userID)
			obs.ObserveRefresh("denied")
			return TokenPair{}, ErrUserNotFound
		}
		obs.ObserveRefresh("error")
		return TokenPair{}, fmt.Errorf("resolve user: %w", err)
	}

	pair, newToken, err := s.mintPair(user.ID)
	if err != nil {
		obs.ObserveRefresh("error")
		return TokenPair{}, err
	}
	if err := s.sessions.Rotate(ctx, user.ID, refreshToken, newToken, s.tokens.RefreshTTL()); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			obs.ObserveRefresh("denied")
			return TokenPair{}, ErrSessionNotFound
		}
		obs.ObserveRefresh("error")
		return TokenPair{}, fmt.Errorf("rotate session: %w", err)
	}

	obs.ObserveRefresh("ok")
	s.emit(ctx, events.SubjectTokenRefreshed, events.AuthEvent{UserID: user.ID})
	return pair, nil
}

// Logout removes the user's session. Idempotent: logging out with no
// session is a success.
func (s *Service) Logout(ctx context.Context, userID string) error {
	if userID == "" {
		return fmt.Errorf("%w: userID is required", ErrValidation)
	}
	if err := s.sessions.Delete(ctx, userID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	obs.ObserveSessionRevoked()
	s.emit(ctx, events.SubjectUserLoggedOut, events.AuthEvent{UserID: userID})
	return nil
}

func (s *Service) mintPair(userID string) (TokenPair, string, error) {
	access, accessExp, err := s.tokens.CreateAccessToken(userID)
	if err != nil {
		return TokenPair{}, "", fmt.Errorf("mint access token: %w", err)
	}
	refresh, refreshTTL, err := s.tokens.CreateRefreshToken()
	if err != nil {
		return TokenPair{}, "", fmt.Errorf("mint refresh token: %w", err)
	}
	pair := TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: s.now().UTC().Add(refreshTTL),
	}
	return pair, refresh, nil
}

// emit publishes fire-and-forget; a failed publish never fails the
// operation that triggered it.
func (s *Service) emit(ctx context.Context, subject string, event events.AuthEvent) {
	if err := s.publisher.Publish(ctx, subject, event); err != nil {
		obs.LogEvent("warn", "event publish failed", map[string]any{
			"subject": subject,
			"error":   err.Error(),
		})
	}
}
