// Package cti defines the shared domain types that flow through the
// threat-intelligence pipeline: raw feed records, classified threats,
// forward-looking predictions, and the aggregated dashboard payload.
package cti

// Severity labels used across classification, prediction, and aggregation.
const (
	SeverityCritical = "Critical"
	SeverityHigh     = "High"
	SeverityMedium   = "Medium"
	SeverityLow      = "Low"
)

// RawThreat is one record as collected from an upstream CTI feed.
// Only Title and Source are reliably present; everything else depends on
// what the feed exposes.
type RawThreat struct {
	ID          string `json:"id,omitempty"`
	Title       string `json:"title"`
	Summary     string `json:"summary,omitempty"`
	Description string `json:"description,omitempty"`
	Content     string `json:"content,omitempty"`
	ThreatType  string `json:"threat_type,omitempty"`
	Source      string `json:"source"`
	Date        string `json:"date,omitempty"`
	Published   string `json:"published,omitempty"`
	Domain      string `json:"domain,omitempty"`
	IP          string `json:"ip,omitempty"`
}

// ClassifiedThreat is a raw record after taxonomy classification.
// PrimaryThreatType is always a member of the fixed taxonomy and
// ClassificationConfidence is always in [0.55, 1.0].
type ClassifiedThreat struct {
	Title                    string   `json:"title"`
	Date                     string   `json:"date"`
	Source                   string   `json:"source"`
	Domain                   string   `json:"domain,omitempty"`
	IP                       string   `json:"ip,omitempty"`
	PrimaryThreatType        string   `json:"primary_threat_type"`
	SecondaryThreatTypes     []string `json:"secondary_threat_types"`
	ClassificationConfidence float64  `json:"classification_confidence"`
}

// PredictionBasis is the audit trail attached to every prediction.
type PredictionBasis struct {
	Anchor           string `json:"anchor"`
	AverageGapDays   int    `json:"average_gap_days"`
	HistoricalEvents int    `json:"historical_events"`
	Model            string `json:"model"`
}

// FuturePrediction is the single forward-looking forecast produced per run.
// PredictedDate always lies between 30 and 365 days after the evaluation
// instant.
type FuturePrediction struct {
	ThreatType      string          `json:"threat_type"`
	Severity        string          `json:"severity"`
	Confidence      float64         `json:"confidence"`
	PredictedDate   string          `json:"predicted_date"`
	PredictionBasis PredictionBasis `json:"prediction_basis"`
}

// Threat is the normalized display shape shared by observed and predicted
// records in the aggregated payload.
type Threat struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	ThreatType string  `json:"threat_type"`
	Severity   string  `json:"severity"`
	Source     string  `json:"source"`
	Date       string  `json:"date"`
	Confidence float64 `json:"confidence"`
	Predicted  bool    `json:"predicted"`
}

// Stats summarises severity counts over classified records only;
// predictions never count toward the totals.
type Stats struct {
	TotalThreats int `json:"total_threats"`
	Critical     int `json:"critical"`
	High         int `json:"high"`
	Medium       int `json:"medium"`
	Low          int `json:"low"`
}

// RiskSlice is one severity bucket of the risk distribution chart.
type RiskSlice struct {
	Label string `json:"label"`
	Value int    `json:"value"`
}

// TypeCount is one category bucket of the threat-type histogram.
type TypeCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// TimelineEntry is one day-truncated event on the merged timeline.
type TimelineEntry struct {
	Date      string `json:"date"`
	Event     string `json:"event"`
	Severity  string `json:"severity"`
	Predicted bool   `json:"predicted"`
}

// Payload is the terminal, UI-ready artifact of a pipeline run.
type Payload struct {
	Stats            Stats           `json:"stats"`
	RiskDistribution []RiskSlice     `json:"risk_distribution"`
	ThreatTypes      []TypeCount     `json:"threat_types"`
	Timeline         []TimelineEntry `json:"timeline"`
	Threats          []Threat        `json:"threats"`
	Note             string          `json:"note,omitempty"`
}

// EmptyPayload returns a schema-complete payload with zero counts and an
// explanatory note. It contains no fabricated intelligence.
func EmptyPayload(note string) *Payload {
	return &Payload{
		RiskDistribution: []RiskSlice{},
		ThreatTypes:      []TypeCount{},
		Timeline:         []TimelineEntry{},
		Threats:          []Threat{},
		Note:             note,
	}
}
