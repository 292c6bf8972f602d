// Package predict derives at most one forward-looking threat forecast from
// the temporal spacing of classified records, anchored to the evaluation
// instant and clamped to a 30–365 day horizon.
package predict

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/madcti/cti-go/internal/cti"
	"github.com/madcti/cti-go/internal/pipeline"
)

const (
	defaultGapDays = 30
	minHorizonDays = 30
	maxHorizonDays = 365

	baseProbability = 0.35
	probPerEvent    = 0.10
	maxProbability  = 0.95
)

const deterministicModelName = "deterministic gap average"

// dateLayout is the ISO format predictions are emitted with. It matches the
// second-precision timestamps the feeds produce, so the aggregation stage's
// lexicographic date sort stays consistent.
const dateLayout = "2006-01-02T15:04:05"

// Engine emits zero or one prediction per run. The regression model is
// optional; a nil model means pure deterministic gap prediction.
type Engine struct {
	logger *slog.Logger
	model  *Artifact
	now    func() time.Time
}

// NewEngine builds the prediction engine. model may be nil.
func NewEngine(logger *slog.Logger, model *Artifact) *Engine {
	return &Engine{logger: logger, model: model, now: func() time.Time { return time.Now().UTC() }}
}

func (e *Engine) Name() string { return "predict" }

// Execute computes the forecast. All internal failures (unparseable dates,
// unusable model) degrade to deterministic fallbacks; this stage never
// surfaces an error for data conditions.
func (e *Engine) Execute(ctx context.Context, pc *pipeline.Context) error {
	classified := pc.ClassifiedThreats
	if len(classified) == 0 {
		pc.FutureThreats = []cti.FuturePrediction{}
		return nil
	}

	dominant, count := dominantType(classified)
	if dominant == "" {
		pc.FutureThreats = []cti.FuturePrediction{}
		return nil
	}

	probability := math.Min(maxProbability, baseProbability+probPerEvent*float64(count))
	severity := cti.SeverityMedium
	if probability > 0.7 {
		severity = cti.SeverityHigh
	}

	dates := parseDates(classified)
	if len(dates) == 0 {
		e.logger.Warn("no parseable dates, skipping prediction", "run_id", pc.RunID)
		pc.FutureThreats = []cti.FuturePrediction{}
		return nil
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	lastSeen := dates[len(dates)-1]

	gapDays := averageGapDays(dates)

	modelName := deterministicModelName
	if e.model != nil {
		if refined, err := e.model.PredictGapDays(dominant, severity); err == nil {
			gapDays = refined
			modelName = e.model.ModelName
		} else {
			e.logger.Debug("model refinement unavailable, using deterministic gap",
				"run_id", pc.RunID, "err", err)
		}
	}

	now := e.now()

	// Never predict from a stale historical anchor if the present is later.
	anchor, anchorLabel := lastSeen, "last_observed"
	if now.After(lastSeen) {
		anchor, anchorLabel = now, "current_date"
	}

	predicted := anchor.AddDate(0, 0, gapDays)

	minFuture := now.AddDate(0, 0, minHorizonDays)
	maxFuture := now.AddDate(0, 0, maxHorizonDays)
	if predicted.Before(minFuture) {
		predicted = minFuture
	}
	if predicted.After(maxFuture) {
		predicted = maxFuture
	}

	pc.FutureThreats = []cti.FuturePrediction{{
		ThreatType:    dominant,
		Severity:      severity,
		Confidence:    math.Round(probability*100) / 100,
		PredictedDate: predicted.Format(dateLayout),
		PredictionBasis: cti.PredictionBasis{
			Anchor:           anchorLabel,
			AverageGapDays:   gapDays,
			HistoricalEvents: len(dates),
			Model:            modelName,
		},
	}}

	e.logger.Info("prediction complete",
		"run_id", pc.RunID,
		"dominant", dominant,
		"gap_days", gapDays,
		"anchor", anchorLabel,
		"predicted_date", pc.FutureThreats[0].PredictedDate,
	)
	return nil
}

// dominantType returns the most frequent primary type and its count,
// breaking ties by first occurrence in the input.
func dominantType(classified []cti.ClassifiedThreat) (string, int) {
	counts := map[string]int{}
	var order []string
	for _, t := range classified {
		if t.PrimaryThreatType == "" {
			continue
		}
		if counts[t.PrimaryThreatType] == 0 {
			order = append(order, t.PrimaryThreatType)
		}
		counts[t.PrimaryThreatType]++
	}

	dominant, best := "", 0
	for _, typ := range order {
		if counts[typ] > best {
			dominant, best = typ, counts[typ]
		}
	}
	return dominant, best
}

// parseDates extracts every parseable record timestamp. Records without a
// usable date are silently dropped.
func parseDates(classified []cti.ClassifiedThreat) []time.Time {
	var dates []time.Time
	for _, t := range classified {
		if ts, ok := ParseDate(t.Date); ok {
			dates = append(dates, ts)
		}
	}
	return dates
}

// ParseDate parses an ISO date or date-time string, tolerating timezone
// suffixes and sub-second precision by truncating to the first 19 runes.
func ParseDate(s string) (time.Time, bool) {
	if len(s) > 19 {
		s = s[:19]
	}
	for _, layout := range []string{dateLayout, "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// averageGapDays computes the integer average of the positive day gaps
// between consecutive sorted timestamps, defaulting to 30 days when fewer
// than two timestamps or no positive gaps exist.
func averageGapDays(sorted []time.Time) int {
	if len(sorted) < 2 {
		return defaultGapDays
	}

	var gaps []int
	for i := 1; i < len(sorted); i++ {
		if days := int(sorted[i].Sub(sorted[i-1]).Hours() / 24); days > 0 {
			gaps = append(gaps, days)
		}
	}
	if len(gaps) == 0 {
		return defaultGapDays
	}

	sum := 0
	for _, g := range gaps {
		sum += g
	}
	return sum / len(gaps)
}
