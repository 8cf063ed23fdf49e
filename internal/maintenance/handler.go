package maintenance

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"property-portal/internal/observability"
)

// BucketPruner removes rate-limit windows that have not been touched since
// cutoff.
type BucketPruner interface {
	DeleteStale(ctx context.Context, cutoff time.Time, batchSize int) (int64, error)
}

// LockoutSweeper resets accounts whose lock has already run out.
type LockoutSweeper interface {
	ClearExpiredLockouts(ctx context.Context, now time.Time, batchSize int) (int64, error)
}

type CleanupResult struct {
	DeletedRateLimitBuckets int64 `json:"deletedRateLimitBuckets"`
	ClearedLockouts         int64 `json:"clearedLockouts"`
}

type CleanupHandler struct {
	buckets    BucketPruner
	lockouts   LockoutSweeper
	logger     *observability.Logger
	cronSecret string
	retention  time.Duration
	batchSize  int
	now        func() time.Time
}

// NewCleanupHandler accepts a nil BucketPruner when rate limits are not kept
// in PostgreSQL.
func NewCleanupHandler(
	buckets BucketPruner,
	lockouts LockoutSweeper,
	logger *observability.Logger,
	cronSecret string,
	retention time.Duration,
	batchSize int,
) *CleanupHandler {
	return &CleanupHandler{
		buckets:    buckets,
		lockouts:   lockouts,
		logger:     logger,
		cronSecret: strings.TrimSpace(cronSecret),
		retention:  retention,
		batchSize:  batchSize,
		now:        time.Now,
	}
}

func (h *CleanupHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if !h.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	result, err := h.Run(r.Context())
	if err != nil {
		observability.CaptureError("maintenance_cleanup", err)
		h.logger.Error("auth_cleanup_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "cleanup failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"result": result,
	})
}

func (h *CleanupHandler) Run(ctx context.Context) (CleanupResult, error) {
	now := h.now().UTC()

	var result CleanupResult
	if h.buckets != nil {
		deleted, err := h.buckets.DeleteStale(ctx, now.Add(-h.retention), h.batchSize)
		if err != nil {
			return result, err
		}
		result.DeletedRateLimitBuckets = deleted
	}

	if h.lockouts != nil {
		cleared, err := h.lockouts.ClearExpiredLockouts(ctx, now, h.batchSize)
		if err != nil {
			return result, err
		}
		result.ClearedLockouts = cleared
	}

	h.logger.Info("auth_cleanup_completed", map[string]any{
		"deleted_rate_limit_buckets": result.DeletedRateLimitBuckets,
		"cleared_lockouts":           result.ClearedLockouts,
	})
	return result, nil
}

func (h *CleanupHandler) authorized(r *http.Request) bool {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return false
	}
	given := strings.TrimSpace(parts[1])
	return subtle.ConstantTimeCompare([]byte(given), []byte(h.cronSecret)) == 1
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
