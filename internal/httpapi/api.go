// Package httpapi is the public entry point of the identity service. It
// is the only layer that verifies raw credentials or access token
// signatures; everything behind it receives identity as a resolved
// attribute.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"taskstream.org/internal/auth"
	"taskstream.org/internal/obs"
	"taskstream.org/internal/propagation"
	"taskstream.org/internal/token"
)

const maxBodyBytes = 1 << 20

// ReadyProbe checks backing dependencies for the readiness endpoint.
type ReadyProbe struct {
	DB   *sql.DB
	Ping func(ctx context.Context) error
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Ping != nil {
		return rp.Ping(ctx)
	}
	return nil
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	svc        *auth.Service
	tokens     *token.Issuer
	propagator *propagation.Propagator
}

// New wires routes. svc, tokens and propagator are required; the probe may
// be empty. The propagator is the one validated at startup, so outbound
// internal calls encode identity under the same policy the process booted
// with.
func New(rp ReadyProbe, version string, svc *auth.Service, tokens *token.Issuer, propagator *propagation.Propagator) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		svc:        svc,
		tokens:     tokens,
		propagator: propagator,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)

	a.mux.HandleFunc("/v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/me", a.handleMe)

	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Propagator returns the identity propagator for internal gRPC clients,
// typically as a dial-time unary interceptor.
func (a *API) Propagator() *propagation.Propagator {
	return a.propagator
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = RateLimit(h, 20, 10)
	h = MaxBodyBytes(h, maxBodyBytes)
	h = SecurityHeaders(h)
	h = Logging(h)
	return obs.Instrument(h)
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		obs.SetReady(false)
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	obs.SetReady(true)
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

const serviceName = "taskstream-identity"

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	// Reject trailing garbage.
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid request body: trailing data")
	}
	return nil
}

func methodNotAllowed(w http.ResponseWriter, allowed string) {
	w.Header().Set("Allow", allowed)
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// mapAuthError translates the orchestrator's error taxonomy to HTTP.
// Caller-input failures surface as-is; anything else becomes one generic
// internal error and is logged here.
func mapAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, "email already registered")
	case errors.Is(err, auth.ErrAuthentication):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, auth.ErrSessionNotFound):
		writeError(w, http.StatusUnauthorized, "invalid or expired refresh token")
	case errors.Is(err, auth.ErrUserNotFound):
		writeError(w, http.StatusUnauthorized, "invalid or expired refresh token")
	case errors.Is(err, token.ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, "token expired")
	case errors.Is(err, token.ErrTokenInvalid):
		writeError(w, http.StatusUnauthorized, "invalid token")
	default:
		obs.LogEvent("error", "auth backend failure", map[string]any{
			"error": err.Error(),
		})
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
