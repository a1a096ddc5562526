// Package token mints and validates the two credential kinds used by the
// identity service: signed short-lived access tokens and opaque long-lived
// refresh tokens. The package is stateless; session state lives in the
// session store.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// refreshTokenBytes is the entropy drawn for every refresh token. 64 bytes
// keeps the value space at 512 bits.
const refreshTokenBytes = 64

var (
	// ErrTokenInvalid indicates a bad signature, algorithm, issuer,
	// audience or malformed structure.
	ErrTokenInvalid = errors.New("token: invalid token")
	// ErrTokenExpired indicates the token verified but its lifetime lapsed.
	ErrTokenExpired = errors.New("token: token expired")
)

// Claims are the verified claims of an access token.
type Claims struct {
	jwt.RegisteredClaims
}

// UserID returns the token subject.
func (c *Claims) UserID() string {
	return c.Subject
}

// Issuer mints and validates access tokens and generates refresh tokens.
// Safe for concurrent use; it holds only immutable configuration.
type Issuer struct {
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithClock overrides the time source, for tests.
func WithClock(fn func() time.Time) Option {
	return func(i *Issuer) {
		if fn != nil {
			i.now = fn
		}
	}
}

// NewIssuer constructs an Issuer. All parameters are required; the secret
// signs with HS256 and is the only accepted verification key.
func NewIssuer(secret, issuer, audience string, accessTTL, refreshTTL time.Duration, opts ...Option) (*Issuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("token: signing secret is required")
	}
	if strings.TrimSpace(issuer) == "" || strings.TrimSpace(audience) == "" {
		return nil, errors.New("token: issuer and audience are required")
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, errors.New("token: lifetimes must be greater than zero")
	}
	i := &Issuer{
		secret:     []byte(secret),
		issuer:     issuer,
		audience:   audience,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// RefreshTTL reports the configured refresh token lifetime. The session
// store uses it as the TTL for both halves of a session record.
func (i *Issuer) RefreshTTL() time.Duration {
	return i.refreshTTL
}

// CreateAccessToken signs a short-lived HS256 token with the user id as
// subject. No side effects.
func (i *Issuer) CreateAccessToken(userID string) (string, time.Time, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", time.Time{}, errors.New("token: userID is required")
	}
	now := i.now().UTC()
	exp := now.Add(i.accessTTL)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{i.audience},
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// CreateRefreshToken draws a fresh opaque value from the system CSPRNG.
// The value has no structure and no relation to any prior token.
func (i *Issuer) CreateRefreshToken() (string, time.Duration, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", 0, fmt.Errorf("refresh token entropy: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), i.refreshTTL, nil
}

// ValidateAccessToken verifies signature, algorithm, issuer, audience and
// liveness with zero clock-skew tolerance. An otherwise-valid token past
// its expiry fails with ErrTokenExpired; every other failure is
// ErrTokenInvalid.
func (i *Issuer) ValidateAccessToken(raw string) (*Claims, error) {
	return i.parse(raw, true)
}

// ClaimsFromExpiredToken verifies everything except liveness. It exists
// only so a refresh request can be correlated with the user who held the
// expired access token; it must never be used to authorize an action.
func (i *Issuer) ClaimsFromExpiredToken(raw string) (*Claims, error) {
	return i.parse(raw, false)
}

func (i *Issuer) parse(raw string, enforceExpiry bool) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrTokenInvalid
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.issuer),
		jwt.WithAudience(i.audience),
		jwt.WithTimeFunc(i.now),
	}
	if !enforceExpiry {
		opts = append(opts, jwt.WithoutClaimsValidation())
	}

	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrTokenInvalid
		}
		return i.secret, nil
	}, opts...)
	if err != nil {
		// Expiry is reported only when it is the sole claims failure;
		// a lapsed token with a bad issuer or audience stays invalid.
		if enforceExpiry && errors.Is(err, jwt.ErrTokenExpired) &&
			!errors.Is(err, jwt.ErrTokenInvalidIssuer) &&
			!errors.Is(err, jwt.ErrTokenInvalidAudience) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenInvalid
	}
	if !enforceExpiry {
		// WithoutClaimsValidation skips iss/aud too; re-check them here.
		if claims.Issuer != i.issuer || !containsAudience(claims.Audience, i.audience) {
			return nil, ErrTokenInvalid
		}
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func containsAudience(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}
