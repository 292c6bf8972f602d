package predict

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/madcti/cti-go/internal/cti"
	"github.com/madcti/cti-go/internal/pipeline"
)

var testNow = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

func newTestEngine(model *Artifact) *Engine {
	e := NewEngine(slog.New(slog.DiscardHandler), model)
	e.now = func() time.Time { return testNow }
	return e
}

func classified(typ, date string) cti.ClassifiedThreat {
	return cti.ClassifiedThreat{
		Title:             typ + " event",
		Date:              date,
		PrimaryThreatType: typ,
	}
}

func TestExecuteTwoEventForecast(t *testing.T) {
	e := newTestEngine(nil)
	pc := &pipeline.Context{ClassifiedThreats: []cti.ClassifiedThreat{
		classified("Ransomware", "2024-01-01T00:00:00"),
		classified("Ransomware", "2024-02-01T00:00:00"),
	}}

	require.NoError(t, e.Execute(context.Background(), pc))
	require.Len(t, pc.FutureThreats, 1)

	p := pc.FutureThreats[0]
	assert.Equal(t, "Ransomware", p.ThreatType)
	assert.InDelta(t, 0.55, p.Confidence, 1e-9)
	assert.Equal(t, cti.SeverityMedium, p.Severity)

	// The history is stale, so the forecast anchors on the evaluation
	// instant: now + 31 days (the Jan→Feb gap).
	assert.Equal(t, "current_date", p.PredictionBasis.Anchor)
	assert.Equal(t, 31, p.PredictionBasis.AverageGapDays)
	assert.Equal(t, 2, p.PredictionBasis.HistoricalEvents)
	assert.Equal(t, testNow.AddDate(0, 0, 31).Format("2006-01-02T15:04:05"), p.PredictedDate)
}

func TestExecuteHighSeverityAboveThreshold(t *testing.T) {
	e := newTestEngine(nil)
	var threats []cti.ClassifiedThreat
	for i := 0; i < 4; i++ {
		threats = append(threats, classified("Phishing", fmt.Sprintf("2024-0%d-01T00:00:00", i+1)))
	}
	pc := &pipeline.Context{ClassifiedThreats: threats}

	require.NoError(t, e.Execute(context.Background(), pc))
	require.Len(t, pc.FutureThreats, 1)

	// 0.35 + 4*0.10 = 0.75 > 0.7
	assert.InDelta(t, 0.75, pc.FutureThreats[0].Confidence, 1e-9)
	assert.Equal(t, cti.SeverityHigh, pc.FutureThreats[0].Severity)
}

func TestExecuteProbabilityCapped(t *testing.T) {
	e := newTestEngine(nil)
	var threats []cti.ClassifiedThreat
	for i := 0; i < 20; i++ {
		threats = append(threats, classified("Malware", "2024-01-01T00:00:00"))
	}
	pc := &pipeline.Context{ClassifiedThreats: threats}

	require.NoError(t, e.Execute(context.Background(), pc))
	require.Len(t, pc.FutureThreats, 1)
	assert.InDelta(t, 0.95, pc.FutureThreats[0].Confidence, 1e-9)
}

func TestExecuteClampsToMinimumHorizon(t *testing.T) {
	e := newTestEngine(nil)
	pc := &pipeline.Context{ClassifiedThreats: []cti.ClassifiedThreat{
		classified("Malware", "2024-01-01T00:00:00"),
		classified("Malware", "2024-01-03T00:00:00"),
	}}

	require.NoError(t, e.Execute(context.Background(), pc))
	require.Len(t, pc.FutureThreats, 1)

	// A two-day gap from a present-day anchor lands inside the 30-day
	// floor and is pushed out to it.
	want := testNow.AddDate(0, 0, 30).Format("2006-01-02T15:04:05")
	assert.Equal(t, want, pc.FutureThreats[0].PredictedDate)
	assert.Equal(t, 2, pc.FutureThreats[0].PredictionBasis.AverageGapDays)
}

func TestExecuteClampsToMaximumHorizon(t *testing.T) {
	e := newTestEngine(nil)
	pc := &pipeline.Context{ClassifiedThreats: []cti.ClassifiedThreat{
		classified("Malware", "2022-01-01T00:00:00"),
		classified("Malware", "2024-01-01T00:00:00"),
	}}

	require.NoError(t, e.Execute(context.Background(), pc))
	require.Len(t, pc.FutureThreats, 1)

	want := testNow.AddDate(0, 0, 365).Format("2006-01-02T15:04:05")
	assert.Equal(t, want, pc.FutureThreats[0].PredictedDate)
}

func TestExecuteFutureDatesAnchorOnLastObserved(t *testing.T) {
	e := newTestEngine(nil)
	last := testNow.AddDate(0, 0, 90)
	pc := &pipeline.Context{ClassifiedThreats: []cti.ClassifiedThreat{
		classified("Malware", testNow.AddDate(0, 0, 80).Format("2006-01-02T15:04:05")),
		classified("Malware", last.Format("2006-01-02T15:04:05")),
	}}

	require.NoError(t, e.Execute(context.Background(), pc))
	require.Len(t, pc.FutureThreats, 1)

	p := pc.FutureThreats[0]
	assert.Equal(t, "last_observed", p.PredictionBasis.Anchor)
	assert.Equal(t, last.AddDate(0, 0, 10).Format("2006-01-02T15:04:05"), p.PredictedDate)
}

func TestExecuteDominantTypeFirstSeenTieBreak(t *testing.T) {
	e := newTestEngine(nil)
	pc := &pipeline.Context{ClassifiedThreats: []cti.ClassifiedThreat{
		classified("Phishing", "2024-01-01T00:00:00"),
		classified("Malware", "2024-01-02T00:00:00"),
		classified("Malware", "2024-01-03T00:00:00"),
		classified("Phishing", "2024-01-04T00:00:00"),
	}}

	require.NoError(t, e.Execute(context.Background(), pc))
	require.Len(t, pc.FutureThreats, 1)
	assert.Equal(t, "Phishing", pc.FutureThreats[0].ThreatType)
}

func TestExecuteSingleEventUsesDefaultGap(t *testing.T) {
	e := newTestEngine(nil)
	pc := &pipeline.Context{ClassifiedThreats: []cti.ClassifiedThreat{
		classified("Malware", "2024-06-01T00:00:00"),
	}}

	require.NoError(t, e.Execute(context.Background(), pc))
	require.Len(t, pc.FutureThreats, 1)
	assert.Equal(t, 30, pc.FutureThreats[0].PredictionBasis.AverageGapDays)
	assert.Equal(t, deterministicModelName, pc.FutureThreats[0].PredictionBasis.Model)
}

func TestExecuteEmptyClassified(t *testing.T) {
	e := newTestEngine(nil)
	pc := &pipeline.Context{}

	require.NoError(t, e.Execute(context.Background(), pc))
	assert.NotNil(t, pc.FutureThreats)
	assert.Empty(t, pc.FutureThreats)
}

func TestExecuteNoParseableDates(t *testing.T) {
	e := newTestEngine(nil)
	pc := &pipeline.Context{ClassifiedThreats: []cti.ClassifiedThreat{
		classified("Malware", "yesterday"),
		classified("Malware", ""),
	}}

	require.NoError(t, e.Execute(context.Background(), pc))
	assert.Empty(t, pc.FutureThreats)
}

func TestExecuteModelRefinement(t *testing.T) {
	model := &Artifact{
		ModelName:       "gap-regression",
		Intercept:       20,
		Coefficients:    []float64{1, 2},
		ThreatClasses:   []string{"Malware", "Ransomware"},
		SeverityClasses: []string{"High", "Medium"},
	}
	e := newTestEngine(model)
	pc := &pipeline.Context{ClassifiedThreats: []cti.ClassifiedThreat{
		classified("Ransomware", "2024-01-01T00:00:00"),
		classified("Ransomware", "2024-02-01T00:00:00"),
	}}

	require.NoError(t, e.Execute(context.Background(), pc))
	require.Len(t, pc.FutureThreats, 1)

	p := pc.FutureThreats[0]
	// intercept 20 + 1*encode(Ransomware=1) + 2*encode(Medium=1) = 23
	assert.Equal(t, 23, p.PredictionBasis.AverageGapDays)
	assert.Equal(t, "gap-regression", p.PredictionBasis.Model)
	assert.Equal(t, testNow.AddDate(0, 0, 30).Format("2006-01-02T15:04:05"), p.PredictedDate)
}

func TestExecuteModelUnknownLabelFallsBack(t *testing.T) {
	model := &Artifact{
		ModelName:       "gap-regression",
		Intercept:       20,
		Coefficients:    []float64{1, 2},
		ThreatClasses:   []string{"Malware"},
		SeverityClasses: []string{"Medium"},
	}
	e := newTestEngine(model)
	pc := &pipeline.Context{ClassifiedThreats: []cti.ClassifiedThreat{
		classified("Ransomware", "2024-01-01T00:00:00"),
		classified("Ransomware", "2024-02-01T00:00:00"),
	}}

	require.NoError(t, e.Execute(context.Background(), pc))
	require.Len(t, pc.FutureThreats, 1)
	assert.Equal(t, 31, pc.FutureThreats[0].PredictionBasis.AverageGapDays)
	assert.Equal(t, deterministicModelName, pc.FutureThreats[0].PredictionBasis.Model)
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
		ok   bool
	}{
		{"2024-01-01T00:00:00", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{"2024-01-01", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), true},
		{"2024-01-01T12:30:45.123456Z", time.Date(2024, 1, 1, 12, 30, 45, 0, time.UTC), true},
		{"2024-01-01T12:30:45+02:00", time.Date(2024, 1, 1, 12, 30, 45, 0, time.UTC), true},
		{"not a date", time.Time{}, false},
		{"", time.Time{}, false},
	}

	for _, tt := range tests {
		got, ok := ParseDate(tt.in)
		assert.Equal(t, tt.ok, ok, "input %q", tt.in)
		if tt.ok {
			assert.True(t, got.Equal(tt.want), "input %q: got %v", tt.in, got)
		}
	}
}

func TestAverageGapDays(t *testing.T) {
	day := func(d int) time.Time { return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC) }

	tests := []struct {
		name  string
		dates []time.Time
		want  int
	}{
		{"fewer than two", []time.Time{day(1)}, 30},
		{"single gap", []time.Time{day(1), day(11)}, 10},
		{"integer average", []time.Time{day(1), day(4), day(11)}, 5},
		{"duplicates ignored", []time.Time{day(1), day(1), day(6)}, 5},
		{"all duplicates default", []time.Time{day(1), day(1)}, 30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, averageGapDays(tt.dates))
		})
	}
}
