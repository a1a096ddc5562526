package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"taskstream.org/internal/identity"
	"taskstream.org/internal/session"
	"taskstream.org/internal/token"
)

func newTestService(t *testing.T) (*Service, *session.MemoryStore, *identity.MemoryDirectory) {
	t.Helper()
	issuer, err := token.NewIssuer("test-secret", "taskstream", "taskstream-api", 15*time.Minute, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	store := session.NewMemoryStore()
	dir := identity.NewMemoryDirectory()
	return NewService(issuer, store, dir, nil), store, dir
}

func TestRegisterEstablishesResolvableSession(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	pair, err := svc.Register(ctx, "a@x.com", "Abcd1234")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected a full token pair")
	}

	userID, err := store.GetUserForToken(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("GetUserForToken: %v", err)
	}
	current, err := store.GetTokenForUser(ctx, userID)
	if err != nil || current != pair.RefreshToken {
		t.Fatalf("forward lookup disagrees: %q err=%v", current, err)
	}
}

func TestRegisterValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name     string
		email    string
		password string
	}{
		{"empty email", "", "Abcd1234"},
		{"malformed email", "not-an-email", "Abcd1234"},
		{"short password", "a@x.com", "Ab1"},
		{"no upper", "a@x.com", "abcd1234"},
		{"no lower", "a@x.com", "ABCD1234"},
		{"no digit", "a@x.com", "Abcdefgh"},
	}
	for _, tc := range cases {
		if _, err := svc.Register(ctx, tc.email, tc.password); !errors.Is(err, ErrValidation) {
			t.Fatalf("%s: expected ErrValidation, got %v", tc.name, err)
		}
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "a@x.com", "Abcd1234"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := svc.Register(ctx, "a@x.com", "Abcd1234"); !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("expected ErrDuplicateEmail, got %v", err)
	}
}

func TestLoginWrongPasswordLeavesNoSession(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	pair, err := svc.Register(ctx, "a@x.com", "Abcd1234")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	userID, err := store.GetUserForToken(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("GetUserForToken: %v", err)
	}
	if err := svc.Logout(ctx, userID); err != nil {
		t.Fatalf("Logout: %v", err)
	}

	if _, err := svc.Login(ctx, "a@x.com", "wrong-password"); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
	// Unknown email reports the same generic failure.
	if _, err := svc.Login(ctx, "nobody@x.com", "Abcd1234"); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("expected ErrAuthentication, got %v", err)
	}
	// No session record was created or mutated.
	if _, err := store.GetTokenForUser(ctx, userID); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected no session, got %v", err)
	}
}

func TestRefreshRotatesAndInvalidatesOldToken(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	pair, err := svc.Register(ctx, "a@x.com", "Abcd1234")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	next, err := svc.Refresh(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}

	// Replay of the rotated token must fail.
	if _, err := svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound on replay, got %v", err)
	}
	// The new token keeps working.
	if _, err := svc.Refresh(ctx, next.RefreshToken); err != nil {
		t.Fatalf("Refresh with rotated token: %v", err)
	}
}

func TestRefreshUnknownToken(t *testing.T) {
	svc, _, _ := newTestService(t)
	for _, raw := range []string{"", "never-issued"} {
		if _, err := svc.Refresh(context.Background(), raw); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("expected ErrSessionNotFound for %q, got %v", raw, err)
		}
	}
}

func TestRefreshAfterTTLElapsed(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	now := time.Now()
	store.SetClock(func() time.Time { return now })

	pair, err := svc.Register(ctx, "a@x.com", "Abcd1234")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	now = now.Add(8 * 24 * time.Hour)

	if _, err := svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound after ttl, got %v", err)
	}
}

func TestRefreshAfterAccountDeleted(t *testing.T) {
	svc, store, dir := newTestService(t)
	ctx := context.Background()

	pair, err := svc.Register(ctx, "a@x.com", "Abcd1234")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	userID, err := store.GetUserForToken(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("GetUserForToken: %v", err)
	}

	dir.DeleteByID(userID)

	if _, err := svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	// The stale session was dropped with the account.
	if _, err := store.GetTokenForUser(ctx, userID); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected stale session removed, got %v", err)
	}
}

func TestConcurrentRefreshSingleWinner(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	pair, err := svc.Register(ctx, "a@x.com", "Abcd1234")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	const workers = 16
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		wins   int
		losses int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Refresh(ctx, pair.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrSessionNotFound):
				losses++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one successful refresh, got %d", wins)
	}
	if losses != workers-1 {
		t.Fatalf("expected %d losers, got %d", workers-1, losses)
	}
}

func TestSingleSessionPolicy(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if svc.Policy() != SingleSessionPerUser {
		t.Fatalf("unexpected policy: %s", svc.Policy())
	}

	first, err := svc.Register(ctx, "a@x.com", "Abcd1234")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	// Second login elsewhere silently invalidates the first session.
	second, err := svc.Login(ctx, "a@x.com", "Abcd1234")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if _, err := svc.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected prior refresh token invalidated, got %v", err)
	}
	if _, err := svc.Refresh(ctx, second.RefreshToken); err != nil {
		t.Fatalf("current session should refresh: %v", err)
	}
}

func TestLogoutIsIdempotent(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()

	pair, err := svc.Register(ctx, "a@x.com", "Abcd1234")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	userID, err := store.GetUserForToken(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("GetUserForToken: %v", err)
	}

	if err := svc.Logout(ctx, userID); err != nil {
		t.Fatalf("first Logout: %v", err)
	}
	if err := svc.Logout(ctx, userID); err != nil {
		t.Fatalf("second Logout: %v", err)
	}
	if _, err := svc.Refresh(ctx, pair.RefreshToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected session gone after logout, got %v", err)
	}
}
