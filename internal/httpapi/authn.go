package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"taskstream.org/internal/propagation"
	"taskstream.org/internal/token"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// Routes reachable without a bearer token. Refresh is public on purpose:
// the refresh token itself is the credential.
var publicPaths = []string{
	"/v1/auth/register",
	"/v1/auth/login",
	"/v1/auth/refresh",
	"/metrics",
	"/healthz",
	"/readyz",
	"/",
}

// withAuth terminates access-token verification. Signature, issuer,
// audience and expiry are all checked here with zero clock-skew; past
// this point identity is a plain context attribute.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		raw, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := a.tokens.ValidateAccessToken(raw)
		if err != nil {
			switch {
			case errors.Is(err, token.ErrTokenExpired):
				writeError(w, http.StatusUnauthorized, "token expired")
			case errors.Is(err, token.ErrTokenInvalid):
				writeError(w, http.StatusUnauthorized, "invalid token")
			default:
				writeError(w, http.StatusInternalServerError, "authentication error")
			}
			return
		}

		ctx := propagation.ContextWithUser(r.Context(), claims.UserID())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	raw := strings.TrimSpace(header[len(bearer):])
	if raw == "" {
		return "", errors.New("missing bearer token")
	}
	return raw, nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
