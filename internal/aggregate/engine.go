// Package aggregate merges classified and predicted records into the
// UI-ready analytics payload: summary counters, a category histogram, and a
// chronologically ordered timeline.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/madcti/cti-go/internal/cti"
	"github.com/madcti/cti-go/internal/pipeline"
)

// defaultConfidence is assumed for classified records that arrive without a
// confidence score.
const defaultConfidence = 0.6

// severityByType is the static category → severity table. Predictions carry
// their own severity and never consult it.
var severityByType = map[string]string{
	"Ransomware":                   cti.SeverityCritical,
	"APT / Nation-State Activity":  cti.SeverityCritical,
	"Supply Chain Attack":          cti.SeverityCritical,
	"Credential Compromise":        cti.SeverityHigh,
	"Command-and-Control Activity": cti.SeverityHigh,
	"Dark Web Sale / Leak":         cti.SeverityHigh,
	"Zero-Day":                     cti.SeverityHigh,
	"Malware":                      cti.SeverityMedium,
	"Phishing":                     cti.SeverityMedium,
	"Vulnerability":                cti.SeverityMedium,
	"Exploit Proof-of-Concept":     cti.SeverityMedium,
	"Reconnaissance / Scanning":    cti.SeverityLow,
}

// severityOrder fixes the emission order of the risk distribution so
// repeated runs over the same input produce identical payloads.
var severityOrder = []string{cti.SeverityCritical, cti.SeverityHigh, cti.SeverityMedium, cti.SeverityLow}

// SeverityForType maps a taxonomy category to its severity, defaulting to
// Medium for anything unmapped.
func SeverityForType(threatType string) string {
	if s, ok := severityByType[threatType]; ok {
		return s
	}
	return cti.SeverityMedium
}

// Engine builds the terminal payload from the classified and predicted
// record sets of a run.
type Engine struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine builds the aggregation engine.
func NewEngine(logger *slog.Logger) *Engine {
	return &Engine{logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

func (e *Engine) Name() string { return "aggregate" }

// Execute normalizes both record sets, sorts the merged list, and writes
// the payload. When no classified records exist the context passes through
// unchanged — an explicit short-circuit, not an error.
func (e *Engine) Execute(ctx context.Context, pc *pipeline.Context) error {
	classified := pc.ClassifiedThreats
	if len(classified) == 0 {
		e.logger.Warn("no classified threats to aggregate", "run_id", pc.RunID)
		return nil
	}

	past := make([]cti.Threat, len(classified))
	for i, t := range classified {
		past[i] = e.normalizeClassified(t, i)
	}

	future := make([]cti.Threat, len(pc.FutureThreats))
	for i, p := range pc.FutureThreats {
		future[i] = cti.Threat{
			ID:         fmt.Sprintf("future-%d", i),
			Title:      fmt.Sprintf("Predicted %s activity", p.ThreatType),
			ThreatType: p.ThreatType,
			Severity:   p.Severity,
			Source:     "AI Prediction",
			Date:       p.PredictedDate,
			Confidence: p.Confidence,
			Predicted:  true,
		}
	}

	// Classified first, then predicted; the stable sort keeps that relative
	// order for equal dates.
	all := make([]cti.Threat, 0, len(past)+len(future))
	all = append(all, past...)
	all = append(all, future...)
	sort.SliceStable(all, func(i, j int) bool { return all[i].Date < all[j].Date })

	bySeverity := map[string]int{}
	for _, t := range past {
		bySeverity[t.Severity]++
	}

	risk := []cti.RiskSlice{}
	for _, sev := range severityOrder {
		if bySeverity[sev] > 0 {
			risk = append(risk, cti.RiskSlice{Label: sev, Value: bySeverity[sev]})
		}
	}

	typeCounts := map[string]int{}
	var typeOrder []string
	for _, t := range past {
		if typeCounts[t.ThreatType] == 0 {
			typeOrder = append(typeOrder, t.ThreatType)
		}
		typeCounts[t.ThreatType]++
	}
	types := make([]cti.TypeCount, len(typeOrder))
	for i, typ := range typeOrder {
		types[i] = cti.TypeCount{Type: typ, Count: typeCounts[typ]}
	}

	timeline := make([]cti.TimelineEntry, len(all))
	for i, t := range all {
		timeline[i] = cti.TimelineEntry{
			Date:      truncateToDay(t.Date),
			Event:     t.Title,
			Severity:  t.Severity,
			Predicted: t.Predicted,
		}
	}

	note := strings.Join(pc.Notes, "; ")
	pc.Payload = &cti.Payload{
		Stats: cti.Stats{
			TotalThreats: len(past),
			Critical:     bySeverity[cti.SeverityCritical],
			High:         bySeverity[cti.SeverityHigh],
			Medium:       bySeverity[cti.SeverityMedium],
			Low:          bySeverity[cti.SeverityLow],
		},
		RiskDistribution: risk,
		ThreatTypes:      types,
		Timeline:         timeline,
		Threats:          all,
		Note:             note,
	}

	e.logger.Info("aggregation complete",
		"run_id", pc.RunID,
		"observed", len(past),
		"predicted", len(future),
	)
	return nil
}

func (e *Engine) normalizeClassified(t cti.ClassifiedThreat, idx int) cti.Threat {
	title := t.Title
	if title == "" {
		title = "Threat Event"
	}
	source := t.Source
	if source == "" {
		source = "CTI Feed"
	}
	date := t.Date
	if date == "" {
		date = e.now().Format("2006-01-02T15:04:05")
	}
	confidence := t.ClassificationConfidence
	if confidence == 0 {
		confidence = defaultConfidence
	}

	return cti.Threat{
		ID:         fmt.Sprintf("threat-%d", idx),
		Title:      title,
		ThreatType: t.PrimaryThreatType,
		Severity:   SeverityForType(t.PrimaryThreatType),
		Source:     source,
		Date:       date,
		Confidence: confidence,
		Predicted:  false,
	}
}

// truncateToDay reduces an ISO date-time to calendar-day granularity.
func truncateToDay(date string) string {
	if len(date) > 10 {
		return date[:10]
	}
	return date
}
