package httpapi

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wiber2065939-droid/torn-extension-server/internal/service"
)

// CronHandler is the external scheduler's entry point: run the faction
// poll loop, then reap expired claims. Authenticated by a shared secret
// the handler only compares, never interprets.
type CronHandler struct {
	claims  service.ClaimService
	monitor service.MonitorService
	secret  string
	logger  *zap.Logger
}

func NewCronHandler(claims service.ClaimService, monitor service.MonitorService, secret string, logger *zap.Logger) *CronHandler {
	return &CronHandler{
		claims:  claims,
		monitor: monitor,
		secret:  secret,
		logger:  logger,
	}
}

// Run handles GET|POST /api/v1/cron.
func (h *CronHandler) Run(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	// An unset secret keeps the endpoint closed rather than open.
	if h.secret == "" || r.Header.Get("Authorization") != "Bearer "+h.secret {
		h.logger.Warn("Cron auth failed", zap.String("remote", clientIP(r)))
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	runID := uuid.New().String()
	log := h.logger.With(zap.String("run_id", runID))
	log.Info("Cron run started")

	var monitorSummary *service.MonitorRunSummary
	if h.monitor != nil {
		monitorSummary = h.monitor.RunOnce(r.Context())
	}

	deleted, err := h.claims.SweepExpired(r.Context())
	if err != nil {
		log.Error("Claim sweep failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":     err.Error(),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	log.Info("Cron run completed", zap.Int64("cleaned_claims", deleted))

	resp := map[string]any{
		"success":       true,
		"runId":         runID,
		"timestamp":     time.Now().UTC().Format(time.RFC3339),
		"cleanedClaims": deleted,
	}
	if monitorSummary != nil {
		resp["monitor"] = monitorSummary
	}

	writeJSON(w, http.StatusOK, resp)
}
