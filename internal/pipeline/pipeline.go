// Package pipeline runs the ordered CTI stage sequence over a shared
// mutable context: collection → translation → classification → prediction
// → aggregation. Known AI-unavailability failures are absorbed at the stage
// boundary; everything else propagates.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/madcti/cti-go/internal/cti"
	"github.com/madcti/cti-go/internal/llm"
)

// unavailableNote is the explanatory note attached to the empty payload
// when AI unavailability left the run with nothing to aggregate.
const unavailableNote = "No intelligence available (AI providers unavailable or quota exceeded)"

// noDataNote is attached when collection simply found nothing for the query.
const noDataNote = "No threat records found for this query"

// ErrStageSkipped marks a stage-level condition, not a hard fault: the
// orchestrator logs it and continues with the next stage.
var ErrStageSkipped = errors.New("stage skipped")

// Context is the mutable state handed from stage to stage within a single
// run. Each field is owned by the stage that produces it until the next
// stage consumes it; nothing here is shared across runs.
type Context struct {
	RunID     string
	Query     string
	TimeRange string

	RawThreats        []cti.RawThreat
	TranslatedThreats []cti.RawThreat
	ClassifiedThreats []cti.ClassifiedThreat
	FutureThreats     []cti.FuturePrediction
	Payload           *cti.Payload

	// Notes records degradations (skipped stages, dropped sources) for the
	// final payload.
	Notes []string
}

// InputThreats returns the record set classification should consume:
// translated records when the translation stage produced them, raw records
// otherwise.
func (pc *Context) InputThreats() []cti.RawThreat {
	if len(pc.TranslatedThreats) > 0 {
		return pc.TranslatedThreats
	}
	return pc.RawThreats
}

// Stage is one step of the pipeline operating on the shared context.
type Stage interface {
	Name() string
	Execute(ctx context.Context, pc *Context) error
}

// Notifier receives stage progress events. Implementations must not block.
type Notifier interface {
	StageEvent(runID, stage, status, detail string)
}

// Result summarises one finished run.
type Result struct {
	RunID         string
	Payload       *cti.Payload
	RawCount      int
	Classified    int
	Predicted     int
	DominantType  string
	SkippedStages []string
	Duration      time.Duration
}

// Orchestrator executes an immutable, ordered stage list.
type Orchestrator struct {
	stages   []Stage
	logger   *slog.Logger
	notifier Notifier // nil disables progress events
}

// New builds an orchestrator over the given stages in execution order.
func New(logger *slog.Logger, notifier Notifier, stages ...Stage) *Orchestrator {
	return &Orchestrator{stages: stages, logger: logger, notifier: notifier}
}

// Run executes every stage in order over a fresh context. A stage failure
// matching llm.ErrAllProvidersFailed or ErrStageSkipped is logged and the
// run continues; any other error aborts the run. If no stage produced a
// payload, Run returns a schema-complete empty payload with an explanatory
// note — never fabricated records, never an error for AI unavailability.
func (o *Orchestrator) Run(ctx context.Context, query, timeRange string) (*Result, error) {
	start := time.Now()
	pc := &Context{
		RunID:     uuid.NewString(),
		Query:     query,
		TimeRange: timeRange,
	}

	result := &Result{RunID: pc.RunID}

	for _, stage := range o.stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		o.logger.Info("running stage", "run_id", pc.RunID, "stage", stage.Name())
		o.notify(pc.RunID, stage.Name(), "running", "")

		err := stage.Execute(ctx, pc)
		switch {
		case err == nil:
			o.notify(pc.RunID, stage.Name(), "done", "")

		case errors.Is(err, llm.ErrAllProvidersFailed), errors.Is(err, ErrStageSkipped):
			o.logger.Warn("stage skipped, continuing pipeline",
				"run_id", pc.RunID, "stage", stage.Name(), "err", err)
			o.notify(pc.RunID, stage.Name(), "skipped", err.Error())
			pc.Notes = append(pc.Notes, fmt.Sprintf("%s stage skipped: %v", stage.Name(), err))
			result.SkippedStages = append(result.SkippedStages, stage.Name())

		default:
			o.notify(pc.RunID, stage.Name(), "error", err.Error())
			return nil, fmt.Errorf("stage %s: %w", stage.Name(), err)
		}
	}

	result.Payload = pc.Payload
	if result.Payload == nil {
		note := noDataNote
		if len(result.SkippedStages) > 0 {
			note = unavailableNote
		}
		result.Payload = cti.EmptyPayload(note)
	}

	result.RawCount = len(pc.RawThreats)
	result.Classified = len(pc.ClassifiedThreats)
	result.Predicted = len(pc.FutureThreats)
	if len(pc.FutureThreats) > 0 {
		result.DominantType = pc.FutureThreats[0].ThreatType
	}
	result.Duration = time.Since(start)

	o.logger.Info("pipeline complete",
		"run_id", pc.RunID,
		"raw", result.RawCount,
		"classified", result.Classified,
		"predicted", result.Predicted,
		"skipped", result.SkippedStages,
		"duration", result.Duration,
	)
	return result, nil
}

func (o *Orchestrator) notify(runID, stage, status, detail string) {
	if o.notifier != nil {
		o.notifier.StageEvent(runID, stage, status, detail)
	}
}
