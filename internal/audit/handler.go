package audit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"property-portal/internal/identity"
	"property-portal/internal/observability"
)

type Handler struct {
	service *Service
	logger  *observability.Logger
}

func NewHandler(service *Service, logger *observability.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Mine lists the caller's own audit trail.
func (h *Handler) Mine(w http.ResponseWriter, r *http.Request) {
	principal, ok := identity.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	entries, err := h.service.ForActor(r.Context(), principal.UserID, queryInt(r, "limit"))
	if err != nil {
		h.internalError(w, "audit_list_mine_failed", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// Security lists recent security events. Admins only.
func (h *Handler) Security(w http.ResponseWriter, r *http.Request) {
	principal, ok := identity.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	if !principal.IsAdmin() {
		h.service.Record(r.Context(), Event{
			ActorID:   Actor(principal.UserID),
			Action:    ActionPermissionDenied,
			Resource:  ResourceAudit,
			Details:   map[string]any{"path": r.URL.Path, "role": string(principal.Role)},
			IP:        observability.ClientIP(r),
			UserAgent: r.UserAgent(),
		})
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}

	window := time.Duration(queryInt(r, "hours")) * time.Hour
	entries, err := h.service.RecentSecurityEvents(r.Context(), window, queryInt(r, "limit"))
	if err != nil {
		h.internalError(w, "audit_list_security_failed", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) internalError(w http.ResponseWriter, event string, err error) {
	observability.CaptureError(event, err)
	h.logger.Error(event, map[string]any{"error": err.Error()})
	writeError(w, http.StatusInternalServerError, "failed to load audit log")
}

func queryInt(r *http.Request, key string) int {
	value, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
