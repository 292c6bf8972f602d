package handlers

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/madcti/cti-go/internal/ratelimit"
)

// ExportHandler serves POST /api/export.
type ExportHandler struct {
	limiter *ratelimit.Limiter
	logger  *slog.Logger
}

// NewExportHandler creates the export handler.
func NewExportHandler(limiter *ratelimit.Limiter, logger *slog.Logger) *ExportHandler {
	return &ExportHandler{limiter: limiter, logger: logger}
}

type exportRequest struct {
	Format  string           `json:"format"`
	Threats []map[string]any `json:"threats"`
}

// Export handles POST /api/export: format "csv" renders the threat list as
// CSV; anything else echoes the list back as JSON.
func (h *ExportHandler) Export(w http.ResponseWriter, r *http.Request) {
	if h.limiter.Check(w, r, "export") {
		return
	}

	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Format != "csv" {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(req.Threats)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="threats.csv"`)
	if err := writeCSV(w, req.Threats); err != nil {
		h.logger.Warn("csv export failed", "err", err)
	}
}

// writeCSV renders the records with a stable header: the union of all keys,
// sorted, so repeated exports of the same data are identical.
func writeCSV(w http.ResponseWriter, records []map[string]any) error {
	keySet := map[string]bool{}
	for _, rec := range records {
		for k := range rec {
			keySet[k] = true
		}
	}
	header := make([]string, 0, len(keySet))
	for k := range keySet {
		header = append(header, k)
	}
	sort.Strings(header)

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, rec := range records {
		row := make([]string, len(header))
		for i, k := range header {
			if v, ok := rec[k]; ok && v != nil {
				row[i] = fmt.Sprintf("%v", v)
			}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
