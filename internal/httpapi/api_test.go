package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"taskstream.org/internal/auth"
	"taskstream.org/internal/identity"
	"taskstream.org/internal/propagation"
	"taskstream.org/internal/session"
	"taskstream.org/internal/token"
)

func newTestAPI(t *testing.T) *API {
	t.Helper()
	issuer, err := token.NewIssuer("test-secret", "taskstream", "taskstream-api", 15*time.Minute, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	svc := auth.NewService(issuer, session.NewMemoryStore(), identity.NewMemoryDirectory(), nil)
	prop, err := propagation.NewPropagator(propagation.PolicyPlain, "", 0)
	if err != nil {
		t.Fatalf("NewPropagator: %v", err)
	}
	return New(ReadyProbe{}, "test", svc, issuer, prop)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeAuthResponse(t *testing.T, rr *httptest.ResponseRecorder) authResponse {
	t.Helper()
	var resp authResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestRegisterReturnsTokenPair(t *testing.T) {
	h := newTestAPI(t).Handler()

	rr := doJSON(t, h, http.MethodPost, "/v1/auth/register",
		registerRequest{Email: "a@x.com", Password: "Abcd1234"}, "")
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	resp := decodeAuthResponse(t, rr)
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		t.Fatalf("expected token pair, got %+v", resp)
	}
}

func TestRegisterRejectsBadInput(t *testing.T) {
	h := newTestAPI(t).Handler()

	rr := doJSON(t, h, http.MethodPost, "/v1/auth/register",
		registerRequest{Email: "not-an-email", Password: "Abcd1234"}, "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}

	rr = doJSON(t, h, http.MethodPost, "/v1/auth/register",
		map[string]string{"email": "a@x.com", "password": "Abcd1234", "extra": "field"}, "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rr.Code)
	}
}

func TestRegisterDuplicateEmailConflicts(t *testing.T) {
	h := newTestAPI(t).Handler()

	if rr := doJSON(t, h, http.MethodPost, "/v1/auth/register",
		registerRequest{Email: "a@x.com", Password: "Abcd1234"}, ""); rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}
	rr := doJSON(t, h, http.MethodPost, "/v1/auth/register",
		registerRequest{Email: "a@x.com", Password: "Abcd1234"}, "")
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestLoginWrongPasswordIsGeneric(t *testing.T) {
	h := newTestAPI(t).Handler()

	if rr := doJSON(t, h, http.MethodPost, "/v1/auth/register",
		registerRequest{Email: "a@x.com", Password: "Abcd1234"}, ""); rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rr.Code)
	}

	wrongPassword := doJSON(t, h, http.MethodPost, "/v1/auth/login",
		loginRequest{Email: "a@x.com", Password: "wrong-password"}, "")
	unknownEmail := doJSON(t, h, http.MethodPost, "/v1/auth/login",
		loginRequest{Email: "nobody@x.com", Password: "Abcd1234"}, "")

	if wrongPassword.Code != http.StatusUnauthorized || unknownEmail.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401/401, got %d/%d", wrongPassword.Code, unknownEmail.Code)
	}
	// Neither response may reveal which half of the credential was wrong.
	if wrongPassword.Body.String() != unknownEmail.Body.String() {
		t.Fatalf("responses differ: %s vs %s", wrongPassword.Body.String(), unknownEmail.Body.String())
	}
}

func TestRefreshRotatesAndRejectsReplay(t *testing.T) {
	h := newTestAPI(t).Handler()

	reg := doJSON(t, h, http.MethodPost, "/v1/auth/register",
		registerRequest{Email: "a@x.com", Password: "Abcd1234"}, "")
	if reg.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", reg.Code)
	}
	first := decodeAuthResponse(t, reg)

	refreshed := doJSON(t, h, http.MethodPost, "/v1/auth/refresh",
		refreshRequest{RefreshToken: first.RefreshToken}, "")
	if refreshed.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", refreshed.Code, refreshed.Body.String())
	}
	next := decodeAuthResponse(t, refreshed)
	if next.RefreshToken == first.RefreshToken {
		t.Fatal("refresh token was not rotated")
	}

	replay := doJSON(t, h, http.MethodPost, "/v1/auth/refresh",
		refreshRequest{RefreshToken: first.RefreshToken}, "")
	if replay.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 on replay, got %d", replay.Code)
	}
}

func TestLogoutRequiresTokenAndIsIdempotent(t *testing.T) {
	h := newTestAPI(t).Handler()

	reg := doJSON(t, h, http.MethodPost, "/v1/auth/register",
		registerRequest{Email: "a@x.com", Password: "Abcd1234"}, "")
	if reg.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", reg.Code)
	}
	pair := decodeAuthResponse(t, reg)

	if rr := doJSON(t, h, http.MethodPost, "/v1/auth/logout", nil, ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without bearer, got %d", rr.Code)
	}

	if rr := doJSON(t, h, http.MethodPost, "/v1/auth/logout", nil, pair.AccessToken); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	// Second logout with no live session still succeeds.
	if rr := doJSON(t, h, http.MethodPost, "/v1/auth/logout", nil, pair.AccessToken); rr.Code != http.StatusOK {
		t.Fatalf("expected idempotent 200, got %d", rr.Code)
	}

	// The refresh token died with the session.
	if rr := doJSON(t, h, http.MethodPost, "/v1/auth/refresh",
		refreshRequest{RefreshToken: pair.RefreshToken}, ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 after logout, got %d", rr.Code)
	}
}

func TestMeResolvesIdentityFromToken(t *testing.T) {
	h := newTestAPI(t).Handler()

	reg := doJSON(t, h, http.MethodPost, "/v1/auth/register",
		registerRequest{Email: "a@x.com", Password: "Abcd1234"}, "")
	pair := decodeAuthResponse(t, reg)

	rr := doJSON(t, h, http.MethodGet, "/v1/auth/me", nil, pair.AccessToken)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["user_id"] == "" {
		t.Fatal("expected user_id in response")
	}

	if rr := doJSON(t, h, http.MethodGet, "/v1/auth/me", nil, ""); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
	if rr := doJSON(t, h, http.MethodGet, "/v1/auth/me", nil, "garbage"); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token, got %d", rr.Code)
	}
}

func TestAPIKeepsStartupPropagator(t *testing.T) {
	issuer, err := token.NewIssuer("test-secret", "taskstream", "taskstream-api", 15*time.Minute, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	svc := auth.NewService(issuer, session.NewMemoryStore(), identity.NewMemoryDirectory(), nil)
	prop, err := propagation.NewPropagator(propagation.PolicySigned, "boundary-secret", time.Minute)
	if err != nil {
		t.Fatalf("NewPropagator: %v", err)
	}

	api := New(ReadyProbe{}, "test", svc, issuer, prop)
	if api.Propagator() != prop {
		t.Fatal("API must carry the propagator it was constructed with")
	}
	// The carried instance encodes under the configured policy.
	attr, err := api.Propagator().Attribute("user-1")
	if err != nil {
		t.Fatalf("Attribute: %v", err)
	}
	if attr == "user-1" {
		t.Fatal("signed policy must not forward the raw id")
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestAPI(t).Handler()

	rr := doJSON(t, h, http.MethodGet, "/v1/auth/login", nil, "")
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
	if rr.Header().Get("Allow") != http.MethodPost {
		t.Fatalf("expected Allow header, got %q", rr.Header().Get("Allow"))
	}
}

func TestHealthAndReady(t *testing.T) {
	h := newTestAPI(t).Handler()

	if rr := doJSON(t, h, http.MethodGet, "/healthz", nil, ""); rr.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", rr.Code)
	}
	if rr := doJSON(t, h, http.MethodGet, "/readyz", nil, ""); rr.Code != http.StatusOK {
		t.Fatalf("readyz: expected 200, got %d", rr.Code)
	}
}
