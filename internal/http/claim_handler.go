package httpapi

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/wiber2065939-droid/torn-extension-server/internal/service"
)

// AlertClaimHandler exposes the claim protocol: stake, winner, confirm.
type AlertClaimHandler struct {
	claims             service.ClaimService
	maxCooldownMinutes int
	logger             *zap.Logger
}

func NewAlertClaimHandler(claims service.ClaimService, maxCooldownMinutes int, logger *zap.Logger) *AlertClaimHandler {
	return &AlertClaimHandler{
		claims:             claims,
		maxCooldownMinutes: maxCooldownMinutes,
		logger:             logger,
	}
}

type stakeClaimBody struct {
	FactionID       int64  `json:"factionId"`
	AlertType       string `json:"alertType"`
	ClientID        string `json:"clientId"`
	CooldownMinutes int    `json:"cooldownMinutes"`
}

// StakeClaim handles POST /api/v1/alerts/claim.
func (h *AlertClaimHandler) StakeClaim(w http.ResponseWriter, r *http.Request) {
	if allowCORS(w, r, "POST, OPTIONS") {
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var body stakeClaimBody
	if err := readBodyJSON(r, 1<<16, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.CooldownMinutes == 0 {
		body.CooldownMinutes = 60
	}

	if body.FactionID <= 0 || body.AlertType == "" || body.ClientID == "" {
		writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	// The gate trusts its caller to sanity-bound the cooldown.
	if body.CooldownMinutes < 0 || body.CooldownMinutes > h.maxCooldownMinutes {
		writeError(w, http.StatusBadRequest, "cooldownMinutes out of range")
		return
	}

	resp, err := h.claims.StakeClaim(r.Context(), service.StakeClaimRequest{
		FactionID:       body.FactionID,
		AlertType:       body.AlertType,
		ClientID:        body.ClientID,
		CooldownMinutes: body.CooldownMinutes,
	})
	if err != nil {
		h.logger.Error("StakeClaim failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to stake claim")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// ResolveWinner handles GET /api/v1/alerts/winner.
func (h *AlertClaimHandler) ResolveWinner(w http.ResponseWriter, r *http.Request) {
	if allowCORS(w, r, "GET, OPTIONS") {
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	factionID, _ := strconv.ParseInt(r.URL.Query().Get("factionId"), 10, 64)
	alertType := r.URL.Query().Get("alertType")
	clientID := r.URL.Query().Get("clientId")

	if factionID <= 0 || alertType == "" || clientID == "" {
		writeError(w, http.StatusBadRequest, "Missing required parameters")
		return
	}

	resp, err := h.claims.ResolveWinner(r.Context(), service.ResolveWinnerRequest{
		FactionID: factionID,
		AlertType: alertType,
		ClientID:  clientID,
	})
	if err != nil {
		h.logger.Error("ResolveWinner failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to determine winner")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

type confirmBody struct {
	FactionID int64  `json:"factionId"`
	AlertType string `json:"alertType"`
	ClientID  string `json:"clientId"`
	Success   *bool  `json:"success"`
}

// ConfirmDelivery handles POST /api/v1/alerts/confirm.
func (h *AlertClaimHandler) ConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	if allowCORS(w, r, "POST, OPTIONS") {
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var body confirmBody
	if err := readBodyJSON(r, 1<<16, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if body.FactionID <= 0 || body.AlertType == "" || body.ClientID == "" {
		writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	success := true
	if body.Success != nil {
		success = *body.Success
	}

	resp, err := h.claims.ConfirmDelivery(r.Context(), service.ConfirmDeliveryRequest{
		FactionID: body.FactionID,
		AlertType: body.AlertType,
		ClientID:  body.ClientID,
		Success:   success,
	})
	if err != nil {
		h.logger.Error("ConfirmDelivery failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to confirm alert")
		return
	}

	if !resp.Found {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error":   "No winning claim found for this client",
			"message": resp.Message,
		})
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
