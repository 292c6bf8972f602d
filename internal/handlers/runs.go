package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/madcti/cti-go/internal/store"
)

// RunsHandler serves GET /api/runs from the persisted run history.
type RunsHandler struct {
	store  *store.Store // nil when run history is not configured
	logger *slog.Logger
}

// NewRunsHandler creates the runs handler. st may be nil.
func NewRunsHandler(st *store.Store, logger *slog.Logger) *RunsHandler {
	return &RunsHandler{store: st, logger: logger}
}

// ListRuns handles GET /api/runs.
func (h *RunsHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		jsonError(w, "run history not configured", http.StatusServiceUnavailable)
		return
	}

	runs, err := h.store.RecentRuns(r.Context(), 50)
	if err != nil {
		h.logger.Error("failed to fetch runs", "err", err)
		jsonError(w, "failed to fetch runs", http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []store.RunRecord{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(runs)
}
