// Package translate is the optional AI translation and normalization pass.
// It never invents data: on any provider failure the raw records flow
// through untouched.
package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/madcti/cti-go/internal/cti"
	"github.com/madcti/cti-go/internal/llm"
	"github.com/madcti/cti-go/internal/pipeline"
)

const systemPrompt = `You are a cyber threat intelligence translation and normalization agent.

Input contains REAL threat data under "raw_threats".

Your tasks:
- Translate non-English text to English if needed
- Normalize wording for consistency
- Preserve original meaning
- DO NOT add new threats
- DO NOT invent CVEs
- DO NOT remove existing fields

Output JSON ONLY with:
{
  "translated_threats": [...]
}`

// Stage translates raw threat records through the provider chain.
type Stage struct {
	llm    llm.Caller
	logger *slog.Logger
}

// NewStage builds the translation stage.
func NewStage(caller llm.Caller, logger *slog.Logger) *Stage {
	return &Stage{llm: caller, logger: logger}
}

func (s *Stage) Name() string { return "translate" }

// Execute writes TranslatedThreats on success. A provider-chain failure is
// surfaced so the orchestrator records the skip; the context is unchanged
// either way, so classification falls back to the raw records.
func (s *Stage) Execute(ctx context.Context, pc *pipeline.Context) error {
	if len(pc.RawThreats) == 0 {
		return nil
	}

	out, err := s.llm.Invoke(ctx, systemPrompt, map[string]any{"raw_threats": pc.RawThreats})
	if err != nil {
		return fmt.Errorf("translate: %w", err)
	}

	translated, err := DecodeThreats(out["translated_threats"])
	if err != nil || len(translated) == 0 {
		s.logger.Warn("translation returned no usable records, passing raw through",
			"run_id", pc.RunID, "err", err)
		return nil
	}
	if len(translated) != len(pc.RawThreats) {
		// The model added or dropped records; distrust the whole batch.
		s.logger.Warn("translation changed record count, passing raw through",
			"run_id", pc.RunID, "raw", len(pc.RawThreats), "translated", len(translated))
		return nil
	}

	pc.TranslatedThreats = translated
	s.logger.Info("translation complete", "run_id", pc.RunID, "records", len(translated))
	return nil
}

// DecodeThreats converts a decoded JSON value (as produced by an llm
// provider) back into typed raw threat records.
func DecodeThreats(v any) ([]cti.RawThreat, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("translate: re-marshal threats: %w", err)
	}
	var threats []cti.RawThreat
	if err := json.Unmarshal(data, &threats); err != nil {
		return nil, fmt.Errorf("translate: decode threats: %w", err)
	}
	return threats, nil
}
