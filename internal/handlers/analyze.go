// Package handlers exposes the HTTP API: analysis runs, CSV export, run
// history, and health.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/madcti/cti-go/internal/pipeline"
	"github.com/madcti/cti-go/internal/ratelimit"
	"github.com/madcti/cti-go/internal/store"
	"github.com/madcti/cti-go/internal/ws"
)

// Runner executes one analysis pipeline run.
type Runner interface {
	Run(ctx context.Context, query, timeRange string) (*pipeline.Result, error)
}

// AnalyzeHandler serves POST /api/analyze.
type AnalyzeHandler struct {
	runner  Runner
	store   *store.Store // nil disables persistence
	ws      *ws.Manager  // nil disables broadcasts
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

// NewAnalyzeHandler creates the analyze handler. st and wsManager may be nil.
func NewAnalyzeHandler(runner Runner, st *store.Store, wsManager *ws.Manager, limiter *ratelimit.Limiter, logger *slog.Logger) *AnalyzeHandler {
	return &AnalyzeHandler{runner: runner, store: st, ws: wsManager, limiter: limiter, logger: logger}
}

type analyzeRequest struct {
	Query     string `json:"query"`
	TimeRange string `json:"time_range"`
}

// Analyze handles POST /api/analyze: it runs the full pipeline and returns
// the aggregated payload. Total AI unavailability still yields a valid
// empty payload, never a 5xx.
func (h *AnalyzeHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	if h.limiter.Check(w, r, "analyze") {
		return
	}

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		jsonError(w, "query required", http.StatusBadRequest)
		return
	}

	result, err := h.runner.Run(r.Context(), req.Query, req.TimeRange)
	if err != nil {
		h.logger.Error("analysis run failed", "query", req.Query, "err", err)
		jsonError(w, "analysis failed", http.StatusInternalServerError)
		return
	}

	go h.persist(result, req)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result.Payload)
}

// persist records the finished run off the request path; failures are
// logged, never surfaced.
func (h *AnalyzeHandler) persist(result *pipeline.Result, req analyzeRequest) {
	record := &store.RunRecord{
		ID:              result.RunID,
		Query:           req.Query,
		TimeRange:       req.TimeRange,
		RawCount:        result.RawCount,
		ClassifiedCount: result.Classified,
		PredictedCount:  result.Predicted,
		DominantType:    result.DominantType,
		SkippedStages:   result.SkippedStages,
		DurationMS:      result.Duration.Milliseconds(),
	}

	if h.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.store.InsertRun(ctx, record); err != nil {
			h.logger.Warn("failed to persist run", "run_id", result.RunID, "err", err)
		} else if err := h.store.ArchiveThreats(ctx, result.RunID, result.Payload.Threats); err != nil {
			h.logger.Warn("failed to archive threats", "run_id", result.RunID, "err", err)
		}
	}

	if h.ws != nil {
		h.ws.BroadcastRun(record)
	}
}

// Health handles GET /health.
func Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
