// Package classify assigns each raw threat record a primary category from
// the fixed taxonomy using TF-IDF text similarity against the category
// definitions.
package classify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/madcti/cti-go/internal/cti"
	"github.com/madcti/cti-go/internal/pipeline"
)

// confidenceFloor is the lowest confidence the engine ever reports. Text
// with near-zero similarity still gets the engine's best guess rather than
// an "unknown" label.
const confidenceFloor = 0.55

// Engine classifies free text onto the taxonomy. The vector space is
// fitted once over the category definitions at construction time and is
// read-only afterwards, so one engine serves concurrent runs.
type Engine struct {
	logger       *slog.Logger
	vec          *vectorizer
	categoryVecs [][]float64
}

// NewEngine fits the vector space over the taxonomy definitions.
// Construction fails if any definition vectorizes to nothing.
func NewEngine(logger *slog.Logger) (*Engine, error) {
	docs := make([]string, len(Taxonomy))
	for i, c := range Taxonomy {
		docs[i] = c.Definition
	}

	vec := fitVectorizer(docs)
	categoryVecs := make([][]float64, len(docs))
	for i, doc := range docs {
		v := vec.transform(doc)
		empty := true
		for _, x := range v {
			if x != 0 {
				empty = false
				break
			}
		}
		if empty {
			return nil, fmt.Errorf("classify: definition for %q produced an empty vector", Taxonomy[i].Name)
		}
		categoryVecs[i] = v
	}

	return &Engine{logger: logger, vec: vec, categoryVecs: categoryVecs}, nil
}

// ClassifyText returns the best-matching taxonomy category and a confidence
// in [0.55, 1.0]. Empty text is assigned deterministically, not rejected.
func (e *Engine) ClassifyText(text string) (string, float64) {
	v := e.vec.transform(text)

	best := 0
	bestSim := cosine(v, e.categoryVecs[0])
	for i := 1; i < len(e.categoryVecs); i++ {
		if sim := cosine(v, e.categoryVecs[i]); sim > bestSim {
			best, bestSim = i, sim
		}
	}

	confidence := bestSim
	if confidence < confidenceFloor {
		confidence = confidenceFloor
	}
	return Taxonomy[best].Name, confidence
}

func (e *Engine) Name() string { return "classify" }

// Execute classifies the run's input records. Translated records are
// preferred over raw ones; an empty input passes the context through.
func (e *Engine) Execute(ctx context.Context, pc *pipeline.Context) error {
	threats := pc.InputThreats()
	if len(threats) == 0 {
		return nil
	}

	classified := make([]cti.ClassifiedThreat, 0, len(threats))
	for _, t := range threats {
		primary, confidence := e.ClassifyText(buildText(t))

		title := t.Title
		if title == "" {
			title = "Threat Event"
		}
		date := t.Date
		if date == "" {
			date = t.Published
		}
		source := t.Source
		if source == "" {
			source = "CTI Feed"
		}

		classified = append(classified, cti.ClassifiedThreat{
			Title:                    title,
			Date:                     date,
			Source:                   source,
			Domain:                   t.Domain,
			IP:                       t.IP,
			PrimaryThreatType:        primary,
			SecondaryThreatTypes:     []string{},
			ClassificationConfidence: confidence,
		})
	}

	pc.ClassifiedThreats = classified
	e.logger.Info("classification complete", "run_id", pc.RunID, "records", len(classified))
	return nil
}

// buildText concatenates every text field of a record into one blob.
// Missing fields contribute empty strings.
func buildText(t cti.RawThreat) string {
	return strings.Join([]string{t.Title, t.Summary, t.Description, t.Content}, " ")
}
