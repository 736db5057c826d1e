package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/wiber2065939-droid/torn-extension-server/internal/domain"
	"github.com/wiber2065939-droid/torn-extension-server/internal/service"
)

// SettingsHandler serves the single action-dispatched settings endpoint
// the extension talks to. GET carries parameters in the query string,
// POST in the JSON body.
type SettingsHandler struct {
	settings        service.SettingsService
	allowedFactions map[int64]bool
	logger          *zap.Logger
}

func NewSettingsHandler(settings service.SettingsService, allowedFactions []int64, logger *zap.Logger) *SettingsHandler {
	allowed := make(map[int64]bool, len(allowedFactions))
	for _, id := range allowedFactions {
		allowed[id] = true
	}
	return &SettingsHandler{
		settings:        settings,
		allowedFactions: allowed,
		logger:          logger,
	}
}

type settingsRequest struct {
	Action    string `json:"action"`
	FactionID int64  `json:"factionId"`
	UserID    int64  `json:"userId"`

	Config       *domain.FactionConfig `json:"config,omitempty"`
	WebhookURL   string                `json:"webhookUrl,omitempty"`
	TargetUserID int64                 `json:"targetUserId,omitempty"`
	Level        string                `json:"permissionLevel,omitempty"`

	CrimeName string  `json:"crimeName,omitempty"`
	RoleName  string  `json:"roleName,omitempty"`
	CPRValue  float64 `json:"cprValue,omitempty"`
}

// Handle dispatches on the "action" parameter.
func (h *SettingsHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if allowCORS(w, r, "GET, POST, OPTIONS") {
		return
	}

	req, err := h.parseRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Action == "" {
		writeError(w, http.StatusBadRequest, "action is required")
		return
	}
	if req.FactionID == 0 || req.UserID == 0 {
		writeError(w, http.StatusBadRequest, "factionId and userId are required")
		return
	}
	if len(h.allowedFactions) > 0 && !h.allowedFactions[req.FactionID] {
		writeError(w, http.StatusForbidden, "Faction not authorized")
		return
	}

	ctx := r.Context()

	switch req.Action {
	case "get_config":
		cfg, perm, err := h.settings.GetConfig(ctx, req.FactionID, req.UserID)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"config":     cfg,
			"permission": perm,
		})

	case "update_config":
		if err := h.settings.UpdateConfig(ctx, req.FactionID, req.UserID, req.Config); err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})

	case "update_webhook":
		if err := h.settings.UpdateWebhook(ctx, req.FactionID, req.UserID, req.WebhookURL); err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})

	case "get_permissions":
		perms, own, err := h.settings.GetPermissions(ctx, req.FactionID, req.UserID)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"permissions":    perms,
			"yourPermission": own,
		})

	case "grant_permission":
		if req.TargetUserID == 0 {
			writeError(w, http.StatusBadRequest, "targetUserId is required")
			return
		}
		level := domain.PermissionLevel(req.Level)
		if err := h.settings.GrantPermission(ctx, req.FactionID, req.UserID, req.TargetUserID, level); err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})

	case "revoke_permission":
		if req.TargetUserID == 0 {
			writeError(w, http.StatusBadRequest, "targetUserId is required")
			return
		}
		if err := h.settings.RevokePermission(ctx, req.FactionID, req.UserID, req.TargetUserID); err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})

	case "get_cpr_data":
		entries, err := h.settings.GetCPRData(ctx, req.FactionID)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cprData": entries})

	case "write_cpr_data":
		if req.CrimeName == "" || req.RoleName == "" {
			writeError(w, http.StatusBadRequest, "crimeName and roleName are required")
			return
		}
		entry, err := h.settings.WriteCPRData(ctx, req.FactionID, req.UserID, req.CrimeName, req.RoleName, req.CPRValue)
		if err != nil {
			h.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"entry":   entry,
		})

	default:
		writeError(w, http.StatusBadRequest, "Unknown action: "+req.Action)
	}
}

func (h *SettingsHandler) parseRequest(r *http.Request) (*settingsRequest, error) {
	req := &settingsRequest{}

	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		req.Action = q.Get("action")
		req.FactionID, _ = strconv.ParseInt(q.Get("factionId"), 10, 64)
		req.UserID, _ = strconv.ParseInt(q.Get("userId"), 10, 64)
		req.TargetUserID, _ = strconv.ParseInt(q.Get("targetUserId"), 10, 64)
		req.Level = q.Get("permissionLevel")
		return req, nil
	case http.MethodPost:
		if err := readBodyJSON(r, 1<<20, req); err != nil {
			return nil, errors.New("invalid JSON body")
		}
		return req, nil
	default:
		return nil, errors.New("method not allowed")
	}
}

func (h *SettingsHandler) writeServiceError(w http.ResponseWriter, err error) {
	if errors.Is(err, service.ErrPermissionDenied) {
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	h.logger.Error("Settings operation failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, err.Error())
}
