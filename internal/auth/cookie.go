package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	AccessCookieName  = "access_token"
	RefreshCookieName = "refresh_token"
	SessionCookieName = "session_id"
)

// Session is the cookie set read from a request. Missing cookies are empty
// strings.
type Session struct {
	AccessToken  string
	RefreshToken string
	SessionID    string
}

// CookieTransport writes and reads the session cookie set. Cookie flags are
// fixed: HttpOnly, SameSite=Strict, Path=/, Secure when secure is set.
type CookieTransport struct {
	secure     bool
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewCookieTransport(secure bool, accessTTL, refreshTTL time.Duration) *CookieTransport {
	return &CookieTransport{secure: secure, accessTTL: accessTTL, refreshTTL: refreshTTL}
}

// SetSession writes all three cookies and returns the session id used. An
// empty sessionID is replaced with a fresh one.
func (c *CookieTransport) SetSession(w http.ResponseWriter, accessToken, refreshToken, sessionID string) string {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	http.SetCookie(w, c.cookie(AccessCookieName, accessToken, c.accessTTL))
	http.SetCookie(w, c.cookie(RefreshCookieName, refreshToken, c.refreshTTL))
	http.SetCookie(w, c.cookie(SessionCookieName, sessionID, c.refreshTTL))

	return sessionID
}

// ClearSession expires all three cookies. Safe to call without a session.
func (c *CookieTransport) ClearSession(w http.ResponseWriter) {
	for _, name := range []string{AccessCookieName, RefreshCookieName, SessionCookieName} {
		cookie := c.cookie(name, "", 0)
		cookie.MaxAge = -1
		cookie.Expires = time.Unix(0, 0)
		http.SetCookie(w, cookie)
	}
}

func ReadSession(r *http.Request) Session {
	if r == nil {
		return Session{}
	}
	return Session{
		AccessToken:  cookieValue(r, AccessCookieName),
		RefreshToken: cookieValue(r, RefreshCookieName),
		SessionID:    cookieValue(r, SessionCookieName),
	}
}

// AccessTokenFromRequest prefers the access cookie and falls back to an
// Authorization: Bearer header for non-browser clients.
func AccessTokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if token := cookieValue(r, AccessCookieName); token != "" {
		return token
	}

	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func (c *CookieTransport) cookie(name, value string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteStrictMode,
	}
}

func cookieValue(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(cookie.Value)
}
