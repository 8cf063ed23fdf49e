package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"property-portal/internal/audit"
	"property-portal/internal/observability"
	"property-portal/internal/ratelimit"
)

func newTestHandler(t *testing.T, f *fixture) *Handler {
	t.Helper()

	limiter, err := ratelimit.NewLimiter(ratelimit.NewMemoryStore(), map[ratelimit.Category]ratelimit.Rule{
		ratelimit.CategoryEmailVerification: {Limit: 2, Window: 15 * time.Minute},
		ratelimit.CategoryPasswordReset:     {Limit: 2, Window: 15 * time.Minute},
	}, observability.NewNopLogger())
	require.NoError(t, err)

	recorder := audit.NewService(f.auditStore, observability.NewNopLogger(), nil)
	return NewHandler(f.svc, NewCookieTransport(true, 15*time.Minute, 7*24*time.Hour), limiter, recorder, observability.NewNopLogger())
}

func postJSON(handler http.HandlerFunc, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.20:40000"
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHandlerLoginSetsCookies(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, ownerEmail, ownerPassword)
	h := newTestHandler(t, f)

	rec := postJSON(h.Login, "/api/auth/login", `{"email":"owner@example.com","password":"`+ownerPassword+`"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["accessToken"])
	assert.NotEmpty(t, body["refreshToken"])
	assert.Equal(t, float64(900), body["expiresIn"])
	user := body["user"].(map[string]any)
	assert.Equal(t, ownerEmail, user["email"])
	assert.NotContains(t, rec.Body.String(), "passwordHash")

	cookies := cookiesByName(rec)
	assert.Equal(t, body["accessToken"], cookies[AccessCookieName].Value)
	assert.Equal(t, body["refreshToken"], cookies[RefreshCookieName].Value)
	assert.NotEmpty(t, cookies[SessionCookieName].Value)
}

func TestHandlerLoginErrors(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, ownerEmail, ownerPassword)
	h := newTestHandler(t, f)

	rec := postJSON(h.Login, "/api/auth/login", `{"email":"owner@example.com","password":"nope-nope-nope"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid email or password", decodeBody(t, rec)["error"])

	rec = postJSON(h.Login, "/api/auth/login", `{"email":"","password":""}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	fields := decodeBody(t, rec)["fields"].(map[string]any)
	assert.Contains(t, fields, "email")
	assert.Contains(t, fields, "password")

	rec = postJSON(h.Login, "/api/auth/login", `{"email":"owner@example.com","password":"x","extra":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(h.Login, "/api/auth/login", ``)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlerLoginLocked(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, ownerEmail, ownerPassword)
	h := newTestHandler(t, f)

	var rec *httptest.ResponseRecorder
	for i := 0; i < 5; i++ {
		rec = postJSON(h.Login, "/api/auth/login", `{"email":"owner@example.com","password":"wrong-password"}`)
	}

	require.Equal(t, http.StatusLocked, rec.Code)
	assert.Equal(t, "900", rec.Header().Get("Retry-After"))
	body := decodeBody(t, rec)
	assert.Equal(t, float64(900), body["retryAfter"])
	assert.Equal(t, "account temporarily locked", body["error"])
}

func TestHandlerSessionAndLogout(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, ownerEmail, ownerPassword)
	h := newTestHandler(t, f)

	login := postJSON(h.Login, "/api/auth/login", `{"email":"owner@example.com","password":"`+ownerPassword+`"}`)
	require.Equal(t, http.StatusOK, login.Code)
	access := cookiesByName(login)[AccessCookieName]

	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req.AddCookie(access)
	rec := httptest.NewRecorder()
	h.Session(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ownerEmail, decodeBody(t, rec)["user"].(map[string]any)["email"])

	anonymous := httptest.NewRecorder()
	h.Session(anonymous, httptest.NewRequest(http.MethodGet, "/api/auth/session", nil))
	assert.Equal(t, http.StatusUnauthorized, anonymous.Code)

	logout := postJSON(h.Logout, "/api/auth/logout", ``, access)
	require.Equal(t, http.StatusOK, logout.Code)
	for _, header := range logout.Header().Values("Set-Cookie") {
		assert.Contains(t, header, "Max-Age=0")
	}
	assert.Equal(t, 1, countAction(f.actions(), audit.ActionLogout))

	again := postJSON(h.Logout, "/api/auth/logout", ``)
	assert.Equal(t, http.StatusOK, again.Code)
}

func TestHandlerRefreshFromCookie(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, ownerEmail, ownerPassword)
	h := newTestHandler(t, f)

	login := postJSON(h.Login, "/api/auth/login", `{"email":"owner@example.com","password":"`+ownerPassword+`"}`)
	cookies := cookiesByName(login)

	rec := postJSON(h.Refresh, "/api/auth/refresh", ``, cookies[RefreshCookieName], cookies[SessionCookieName])
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, cookies[SessionCookieName].Value, cookiesByName(rec)[SessionCookieName].Value)

	bad := postJSON(h.Refresh, "/api/auth/refresh", `{"refreshToken":"garbage"}`)
	assert.Equal(t, http.StatusUnauthorized, bad.Code)
	for _, header := range bad.Header().Values("Set-Cookie") {
		assert.Contains(t, header, "Max-Age=0")
	}
}

func TestHandlerVerifyEmail(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, ownerEmail, ownerPassword)
	h := newTestHandler(t, f)

	missing := httptest.NewRecorder()
	h.VerifyEmail(missing, httptest.NewRequest(http.MethodGet, "/api/auth/verify-email", nil))
	assert.Equal(t, http.StatusBadRequest, missing.Code)

	invalid := httptest.NewRecorder()
	h.VerifyEmail(invalid, httptest.NewRequest(http.MethodGet, "/api/auth/verify-email?token=abc", nil))
	assert.Equal(t, http.StatusBadRequest, invalid.Code)

	resend := postJSON(h.ResendVerification, "/api/auth/verify-email/resend", `{"email":"owner@example.com"}`)
	require.Equal(t, http.StatusOK, resend.Code)
	token := f.notifier.verification[ownerEmail]
	require.NotEmpty(t, token)

	ok := postJSON(h.VerifyEmail, "/api/auth/verify-email", `{"token":"`+token+`"}`)
	assert.Equal(t, http.StatusOK, ok.Code)
}

func TestHandlerPasswordResetRateLimitedPerEmail(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, ownerEmail, ownerPassword)
	h := newTestHandler(t, f)

	for i := 0; i < 2; i++ {
		rec := postJSON(h.RequestPasswordReset, "/api/auth/password-reset/request", `{"email":"owner@example.com"}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := postJSON(h.RequestPasswordReset, "/api/auth/password-reset/request", `{"email":"OWNER@example.com"}`)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Greater(t, decodeBody(t, rec)["retryAfter"].(float64), float64(0))
	assert.Equal(t, 1, countAction(f.actions(), audit.ActionRateLimited))

	unknown := postJSON(h.RequestPasswordReset, "/api/auth/password-reset/request", `{"email":"nobody@example.com"}`)
	assert.Equal(t, http.StatusOK, unknown.Code)
}

func TestHandlerConfirmPasswordReset(t *testing.T) {
	f := newFixture(t)
	f.addUser(t, ownerEmail, ownerPassword)
	h := newTestHandler(t, f)

	rec := postJSON(h.ConfirmPasswordReset, "/api/auth/password-reset/confirm", `{"token":"","password":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(h.ConfirmPasswordReset, "/api/auth/password-reset/confirm", `{"token":"garbage","password":"Copper-Meadow-Orbit-57?"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid or expired token", decodeBody(t, rec)["error"])

	require.Equal(t, http.StatusOK, postJSON(h.RequestPasswordReset, "/api/auth/password-reset/request", `{"email":"owner@example.com"}`).Code)
	token := f.notifier.reset[ownerEmail]

	rec = postJSON(h.ConfirmPasswordReset, "/api/auth/password-reset/confirm", `{"token":"`+token+`","password":"Copper-Meadow-Orbit-57?"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusForCoversEveryKind(t *testing.T) {
	cases := map[ErrorKind]int{
		KindInternal:           http.StatusInternalServerError,
		KindInvalidCredentials: http.StatusUnauthorized,
		KindAccountLocked:      http.StatusLocked,
		KindInvalidToken:       http.StatusUnauthorized,
		KindRateLimited:        http.StatusTooManyRequests,
		KindValidationFailed:   http.StatusBadRequest,
	}
	for kind, status := range cases {
		assert.Equal(t, status, statusFor(kind), kind.String())
	}
}
