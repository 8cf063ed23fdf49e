package auth

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"property-portal/internal/audit"
	"property-portal/internal/observability"
	"property-portal/internal/ratelimit"
)

const maxJSONBodyBytes = 1 << 20

type Handler struct {
	service *Service
	cookies *CookieTransport
	limiter *ratelimit.Limiter
	audit   audit.Recorder
	logger  *observability.Logger
}

func NewHandler(service *Service, cookies *CookieTransport, limiter *ratelimit.Limiter, recorder audit.Recorder, logger *observability.Logger) *Handler {
	return &Handler{
		service: service,
		cookies: cookies,
		limiter: limiter,
		audit:   recorder,
		logger:  logger,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type passwordResetConfirmRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var body loginRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	result, err := h.service.Login(r.Context(), body.Email, body.Password, requestMeta(r))
	if err != nil {
		h.writeAuthError(w, err, "login")
		return
	}

	h.cookies.SetSession(w, result.AccessToken, result.RefreshToken, "")
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.service.Logout(r.Context(), ReadSession(r), requestMeta(r))
	h.cookies.ClearSession(w)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	token := AccessTokenFromRequest(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	user, err := h.service.CurrentUser(r.Context(), token)
	if err != nil {
		if KindOf(err) == KindInvalidToken {
			writeError(w, http.StatusUnauthorized, "not authenticated")
			return
		}
		h.writeAuthError(w, err, "session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

// Refresh reads the refresh cookie, or a JSON body for clients that do not
// keep cookies.
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	session := ReadSession(r)
	token := session.RefreshToken
	if token == "" && r.ContentLength != 0 {
		var body refreshRequest
		if !decodeJSON(w, r, &body) {
			return
		}
		token = body.RefreshToken
	}

	result, err := h.service.Refresh(r.Context(), token, requestMeta(r))
	if err != nil {
		if KindOf(err) == KindInvalidToken {
			h.cookies.ClearSession(w)
		}
		h.writeAuthError(w, err, "refresh")
		return
	}

	h.cookies.SetSession(w, result.AccessToken, result.RefreshToken, session.SessionID)
	writeJSON(w, http.StatusOK, result)
}

// VerifyEmail accepts the token as a query parameter on GET and in the body
// on POST.
func (h *Handler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var token string
	if r.Method == http.MethodGet {
		token = r.URL.Query().Get("token")
	} else {
		var body tokenRequest
		if !decodeJSON(w, r, &body) {
			return
		}
		token = body.Token
	}

	token = strings.TrimSpace(token)
	if token == "" {
		h.writeAuthError(w, validationFailed(map[string]string{"token": "token is required"}), "verify_email")
		return
	}

	if err := h.service.VerifyEmail(r.Context(), token, requestMeta(r)); err != nil {
		h.writeTokenError(w, err, "verify_email")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "email verified"})
}

func (h *Handler) ResendVerification(w http.ResponseWriter, r *http.Request) {
	var body emailRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if !h.allowEmail(w, r, body.Email, ratelimit.CategoryEmailVerification) {
		return
	}

	if err := h.service.RequestEmailVerification(r.Context(), body.Email, requestMeta(r)); err != nil {
		h.writeAuthError(w, err, "resend_verification")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "if the account exists, a verification email has been sent"})
}

func (h *Handler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var body emailRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if !h.allowEmail(w, r, body.Email, ratelimit.CategoryPasswordReset) {
		return
	}

	if err := h.service.RequestPasswordReset(r.Context(), body.Email, requestMeta(r)); err != nil {
		h.writeAuthError(w, err, "password_reset_request")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "if the account exists, a reset link has been sent"})
}

func (h *Handler) ConfirmPasswordReset(w http.ResponseWriter, r *http.Request) {
	var body passwordResetConfirmRequest
	if !decodeJSON(w, r, &body) {
		return
	}

	fields := map[string]string{}
	if strings.TrimSpace(body.Token) == "" {
		fields["token"] = "token is required"
	}
	if body.Password == "" {
		fields["password"] = "password is required"
	}
	if len(fields) > 0 {
		h.writeAuthError(w, validationFailed(fields), "password_reset_confirm")
		return
	}

	if err := h.service.ResetPassword(r.Context(), body.Token, body.Password, requestMeta(r)); err != nil {
		h.writeTokenError(w, err, "password_reset_confirm")
		return
	}

	h.cookies.ClearSession(w)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "password updated"})
}

// allowEmail applies the per-address limit on top of the per-IP route limit.
func (h *Handler) allowEmail(w http.ResponseWriter, r *http.Request, email string, category ratelimit.Category) bool {
	email = normalizeEmail(email)
	if h.limiter == nil || email == "" {
		return true
	}

	decision, err := h.limiter.Check(r.Context(), email, category)
	if err != nil {
		h.logger.Error("rate_limit_check_failed", map[string]any{"category": string(category), "error": err.Error()})
		return true
	}
	if decision.Allowed {
		return true
	}

	if h.audit != nil {
		h.audit.Record(r.Context(), audit.Event{
			Action:    audit.ActionRateLimited,
			Resource:  audit.ResourceAuth,
			Details:   map[string]any{"category": string(category), "email": email},
			IP:        observability.ClientIP(r),
			UserAgent: r.UserAgent(),
		})
	}
	ratelimit.WriteDenied(w, decision)
	return false
}

// writeTokenError reports invalid one-time tokens as bad input rather than
// missing authentication.
func (h *Handler) writeTokenError(w http.ResponseWriter, err error, operation string) {
	var authErr *Error
	if errors.As(err, &authErr) && authErr.Kind == KindInvalidToken {
		writeError(w, http.StatusBadRequest, authErr.PublicMessage())
		return
	}
	h.writeAuthError(w, err, operation)
}

func (h *Handler) writeAuthError(w http.ResponseWriter, err error, operation string) {
	var authErr *Error
	if !errors.As(err, &authErr) {
		authErr = &Error{Kind: KindInternal, Err: err}
	}

	status := statusFor(authErr.Kind)
	body := map[string]any{"error": authErr.PublicMessage()}

	switch authErr.Kind {
	case KindValidationFailed:
		if len(authErr.Fields) > 0 {
			body["fields"] = authErr.Fields
		}
	case KindAccountLocked, KindRateLimited:
		seconds := int(math.Ceil(authErr.RetryAfter.Seconds()))
		if seconds < 1 {
			seconds = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		body["retryAfter"] = seconds
	case KindInternal:
		observability.CaptureError(operation, err)
		h.logger.Error(operation+"_failed", map[string]any{"error": err.Error()})
	}

	writeJSON(w, status, body)
}

func requestMeta(r *http.Request) RequestMeta {
	return RequestMeta{IP: observability.ClientIP(r), UserAgent: r.UserAgent()}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "request body is required")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
