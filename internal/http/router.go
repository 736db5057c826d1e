package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router wraps the standard library http.ServeMux (no third-party
// router needed for this route count).
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterAlertRoutes wires the claim protocol endpoints the extension
// instances race through.
func (r *Router) RegisterAlertRoutes(h *AlertClaimHandler) {
	r.Handle("/api/v1/alerts/claim", h.StakeClaim)
	r.Handle("/api/v1/alerts/winner", h.ResolveWinner)
	r.Handle("/api/v1/alerts/confirm", h.ConfirmDelivery)
}

// RegisterSettingsRoutes wires the unified settings endpoint (action
// dispatched, matching what the extension sends).
func (r *Router) RegisterSettingsRoutes(h *SettingsHandler) {
	r.Handle("/api/v1/settings", h.Handle)
}

// RegisterValidateRoutes wires faction authorization and license key
// handout.
func (r *Router) RegisterValidateRoutes(h *ValidateHandler) {
	r.Handle("/api/v1/validate", h.Validate)
	r.Handle("/api/v1/faction-key", h.FactionKey)
}

// RegisterCronRoutes wires the scheduler-only endpoint.
func (r *Router) RegisterCronRoutes(h *CronHandler) {
	r.Handle("/api/v1/cron", h.Run)
}

func (r *Router) RegisterHealthRoute() {
	r.Handle("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}
