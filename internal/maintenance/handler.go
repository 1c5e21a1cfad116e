package maintenance

import (
	"encoding/json"
	"net/http"
	"strings"

	"library-api/internal/observability"
)

// SweepHandler triggers a sweep on demand, guarded by a shared cron secret.
// Useful when an external scheduler drives maintenance instead of the
// in-process ticker. The route answers 404 when no secret is configured.
type SweepHandler struct {
	sweeper    *Sweeper
	logger     *observability.Logger
	cronSecret string
}

func NewSweepHandler(sweeper *Sweeper, logger *observability.Logger, cronSecret string) *SweepHandler {
	return &SweepHandler{
		sweeper:    sweeper,
		logger:     logger,
		cronSecret: strings.TrimSpace(cronSecret),
	}
}

func (h *SweepHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.cronSecret == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}

	header := strings.TrimSpace(r.Header.Get("Authorization"))
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) != h.cronSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}

	deleted, err := h.sweeper.Sweep(r.Context(), h.sweeper.now())
	if err != nil {
		h.logger.Error("manual_sweep_failed", map[string]any{"error": err.Error()})
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "sweep failed"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"deleted": deleted,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
