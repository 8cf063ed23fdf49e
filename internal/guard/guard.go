package guard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"property-portal/internal/audit"
	"property-portal/internal/auth"
	"property-portal/internal/identity"
	"property-portal/internal/observability"
)

// GraceCookieName marks that the post-login pass-through has been used.
const GraceCookieName = "pp_login_grace"

const graceCookieTTL = 30 * time.Second

type TokenVerifier interface {
	VerifyKind(token string, kind auth.TokenKind) (auth.Claims, error)
}

type Guard struct {
	routes        Routes
	tokens        TokenVerifier
	audit         audit.Recorder
	logger        *observability.Logger
	secureCookies bool
}

type Option func(*Guard)

func WithSecureCookies(secure bool) Option {
	return func(g *Guard) {
		g.secureCookies = secure
	}
}

func New(routes Routes, tokens TokenVerifier, recorder audit.Recorder, logger *observability.Logger, opts ...Option) *Guard {
	g := &Guard{
		routes: routes,
		tokens: tokens,
		audit:  recorder,
		logger: logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// PrincipalFromContext returns the identity the guard attached to a
// protected request.
func PrincipalFromContext(ctx context.Context) (identity.Principal, bool) {
	return identity.PrincipalFromContext(ctx)
}

type outcome int

const (
	outcomePass outcome = iota
	outcomeGrace
	outcomeLogin
	outcomeHome
)

type decision struct {
	outcome   outcome
	principal *identity.Principal
	target    string
}

func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		SetSecurityHeaders(w)

		d := g.decideSafely(r)
		switch d.outcome {
		case outcomeLogin:
			g.denyProtected(w, r)
		case outcomeHome:
			http.Redirect(w, r, d.target, http.StatusSeeOther)
		case outcomeGrace:
			http.SetCookie(w, g.graceCookie())
			next.ServeHTTP(w, r)
		default:
			if d.principal != nil {
				r = r.WithContext(identity.WithPrincipal(r.Context(), *d.principal))
			}
			next.ServeHTTP(w, r)
		}
	})
}

// decideSafely turns any failure while deciding into the protected-route
// denial.
func (g *Guard) decideSafely(r *http.Request) (d decision) {
	defer func() {
		if rec := recover(); rec != nil {
			observability.CaptureError("route_guard", fmt.Errorf("route guard panic: %v", rec))
			g.logger.Error("route_guard_failed", map[string]any{
				"path":  r.URL.Path,
				"panic": fmt.Sprint(rec),
			})
			d = decision{outcome: outcomeLogin}
		}
	}()
	return g.decide(r)
}

func (g *Guard) decide(r *http.Request) decision {
	class := g.routes.Classify(r.URL.Path)
	if class == ClassPublic {
		return decision{outcome: outcomePass}
	}

	principal, ok := g.authenticate(r)

	switch class {
	case ClassProtected:
		if ok {
			return decision{outcome: outcomePass, principal: &principal}
		}
		if g.graceAllowed(r) {
			g.logger.Info("route_guard_login_grace", map[string]any{"path": r.URL.Path})
			return decision{outcome: outcomeGrace}
		}
		return decision{outcome: outcomeLogin}
	case ClassAuthOnly:
		if ok {
			target := SafeRedirectTarget(r.URL.Query().Get("redirect"), g.routes.HomePath)
			return decision{outcome: outcomeHome, target: target}
		}
		return decision{outcome: outcomePass}
	}
	return decision{outcome: outcomeLogin}
}

func (g *Guard) authenticate(r *http.Request) (identity.Principal, bool) {
	token := auth.AccessTokenFromRequest(r)
	if token == "" {
		return identity.Principal{}, false
	}

	claims, err := g.tokens.VerifyKind(token, auth.TokenAccess)
	if err != nil {
		if g.audit != nil {
			g.audit.Record(r.Context(), audit.Event{
				Action:    audit.ActionTokenInvalid,
				Resource:  audit.ResourceSession,
				Details:   map[string]any{"path": r.URL.Path, "reason": err.Error()},
				IP:        observability.ClientIP(r),
				UserAgent: r.UserAgent(),
			})
		}
		return identity.Principal{}, false
	}
	return claims.Principal(), true
}

// graceAllowed lets the first page load after a login redirect through while
// the new cookies settle. The grace cookie limits it to a single pass.
func (g *Guard) graceAllowed(r *http.Request) bool {
	if r.Method != http.MethodGet || g.routes.IsAPI(r.URL.Path) {
		return false
	}
	if c, err := r.Cookie(GraceCookieName); err == nil && c.Value != "" {
		return false
	}

	referer := r.Referer()
	if referer == "" {
		return false
	}
	ref, err := url.Parse(referer)
	if err != nil || ref.Host == "" || ref.Host != r.Host {
		return false
	}
	return matchPrefix(ref.Path, g.routes.LoginPath)
}

func (g *Guard) graceCookie() *http.Cookie {
	return &http.Cookie{
		Name:     GraceCookieName,
		Value:    "1",
		Path:     "/",
		MaxAge:   int(graceCookieTTL.Seconds()),
		Expires:  time.Now().Add(graceCookieTTL),
		HttpOnly: true,
		Secure:   g.secureCookies,
		SameSite: http.SameSiteStrictMode,
	}
}

func (g *Guard) denyProtected(w http.ResponseWriter, r *http.Request) {
	if g.routes.IsAPI(r.URL.Path) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "not authenticated"})
		return
	}
	http.Redirect(w, r, g.loginURL(r), http.StatusSeeOther)
}

func (g *Guard) loginURL(r *http.Request) string {
	target := r.URL.RequestURI()
	if !IsSafeRedirect(target) {
		return g.routes.LoginPath
	}
	return g.routes.LoginPath + "?redirect=" + url.QueryEscape(target)
}
