package httpapi

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/wiber2065939-droid/torn-extension-server/internal/store"
)

// ValidateHandler covers faction authorization checks and license key
// handout. Both endpoints are rate limited per client IP; a burst of
// failed validations is the signature of someone probing faction IDs.
type ValidateHandler struct {
	allowedFactions map[int64]bool
	licenses        map[string]string
	limiter         *store.RateLimiter
	logger          *zap.Logger
}

func NewValidateHandler(allowedFactions []int64, licenses map[string]string, limiter *store.RateLimiter, logger *zap.Logger) *ValidateHandler {
	allowed := make(map[int64]bool, len(allowedFactions))
	for _, id := range allowedFactions {
		allowed[id] = true
	}
	return &ValidateHandler{
		allowedFactions: allowed,
		licenses:        licenses,
		limiter:         limiter,
		logger:          logger,
	}
}

type validateBody struct {
	FactionID int64 `json:"factionId"`
}

// Validate handles POST /api/v1/validate.
func (h *ValidateHandler) Validate(w http.ResponseWriter, r *http.Request) {
	if allowCORS(w, r, "POST, OPTIONS") {
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if !h.allowRequest(w, r) {
		return
	}

	var body validateBody
	if err := readBodyJSON(r, 1<<16, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.FactionID == 0 {
		writeError(w, http.StatusBadRequest, "factionId is required")
		return
	}

	if len(h.allowedFactions) > 0 && !h.allowedFactions[body.FactionID] {
		writeJSON(w, http.StatusForbidden, map[string]any{
			"authorized": false,
			"message":    "Faction not authorized to use this extension",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"authorized": true,
		"message":    "Faction authorized",
	})
}

type factionKeyBody struct {
	SessionToken string `json:"sessionToken"`
	FactionID    int64  `json:"factionId"`
}

// FactionKey handles POST /api/v1/faction-key: hands the extension its
// per-faction decryption key once the session and license check out.
func (h *ValidateHandler) FactionKey(w http.ResponseWriter, r *http.Request) {
	if allowCORS(w, r, "POST, OPTIONS") {
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if !h.allowRequest(w, r) {
		return
	}

	var body factionKeyBody
	if err := readBodyJSON(r, 1<<16, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.SessionToken == "" {
		writeError(w, http.StatusForbidden, "Session token required")
		return
	}
	if body.FactionID == 0 {
		writeError(w, http.StatusBadRequest, "factionId is required")
		return
	}

	key, ok := h.licenses[strconv.FormatInt(body.FactionID, 10)]
	if !ok || key == "" {
		writeJSON(w, http.StatusForbidden, map[string]any{
			"licensed": false,
			"message":  "Faction does not hold an extension license",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"licensed":      true,
		"factionId":     body.FactionID,
		"decryptionKey": key,
	})
}

// allowRequest enforces the per-IP rate limit; returns false when the
// response has already been written.
func (h *ValidateHandler) allowRequest(w http.ResponseWriter, r *http.Request) bool {
	if h.limiter == nil {
		return true
	}
	allowed, err := h.limiter.Allow(r.Context(), clientIP(r))
	if err != nil {
		h.logger.Warn("Rate limit check failed", zap.Error(err))
		return true
	}
	if !allowed {
		writeError(w, http.StatusTooManyRequests, "Too many requests. Try again later.")
		return false
	}
	return true
}
