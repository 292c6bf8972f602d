// Package feeds collects raw threat records from public CTI sources and
// seeds the pipeline context. Fetches run concurrently and are joined
// before classification begins; a failing source only drops that source.
package feeds

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/madcti/cti-go/internal/cti"
	"github.com/madcti/cti-go/internal/llm"
	"github.com/madcti/cti-go/internal/pipeline"
	"github.com/madcti/cti-go/internal/translate"
)

const enrichPrompt = `You are a cyber threat intelligence enrichment agent.

Input contains RAW threat records collected from authoritative sources.

Rules:
- Normalize wording only
- Extract factual context only
- DO NOT assign severity
- DO NOT assign confidence
- DO NOT invent threats or CVEs

Output JSON only:
{
  "raw_threats": [...]
}`

// Source fetches raw threat records matching a query keyword from one feed.
type Source interface {
	Name() string
	Fetch(ctx context.Context, query string) ([]cti.RawThreat, error)
}

// Collector is the ingestion stage. The llm caller is optional; when set,
// the collected batch gets a best-effort AI normalization pass that falls
// back to the raw data on any failure.
type Collector struct {
	sources []Source
	llm     llm.Caller // nil disables enrichment
	logger  *slog.Logger
}

// NewCollector builds the collection stage over the given sources.
func NewCollector(logger *slog.Logger, caller llm.Caller, sources ...Source) *Collector {
	return &Collector{sources: sources, llm: caller, logger: logger}
}

// DefaultSources returns the production feed set. nvdAPIKey may be empty;
// torProxy is the SOCKS5 URL of the local Tor daemon.
func DefaultSources(nvdAPIKey, torProxy string) []Source {
	client := &http.Client{Timeout: 30 * time.Second}
	sources := []Source{
		NewCISAKEV(client),
		NewNVD(client, nvdAPIKey),
		NewCERTEU(client),
		NewHackerNews(client),
	}
	if tor, err := NewTORDarkWeb(torProxy); err == nil {
		sources = append(sources, tor)
	}
	return sources
}

func (c *Collector) Name() string { return "collect" }

// Execute fans the sources out, joins them, and writes RawThreats. Source
// errors are logged and skipped; collection itself only fails on context
// cancellation.
func (c *Collector) Execute(ctx context.Context, pc *pipeline.Context) error {
	results := make([][]cti.RawThreat, len(c.sources))
	var mu sync.Mutex
	var failed []string

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range c.sources {
		g.Go(func() error {
			records, err := src.Fetch(gctx, pc.Query)
			if err != nil {
				c.logger.Warn("feed source failed", "run_id", pc.RunID, "source", src.Name(), "err", err)
				mu.Lock()
				failed = append(failed, src.Name())
				mu.Unlock()
				return nil
			}
			results[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var raw []cti.RawThreat
	for _, r := range results {
		raw = append(raw, r...)
	}
	c.logger.Info("feed collection complete",
		"run_id", pc.RunID, "records", len(raw), "failed_sources", failed)

	if len(raw) == 0 {
		pc.RawThreats = []cti.RawThreat{}
		return nil
	}

	pc.RawThreats = c.enrich(ctx, pc.RunID, raw)
	return nil
}

// enrich runs the best-effort AI normalization pass. Any failure keeps the
// raw collected data.
func (c *Collector) enrich(ctx context.Context, runID string, raw []cti.RawThreat) []cti.RawThreat {
	if c.llm == nil {
		return raw
	}

	out, err := c.llm.Invoke(ctx, enrichPrompt, map[string]any{"raw_threats": raw})
	if err != nil {
		c.logger.Warn("AI enrichment skipped, using raw collected data", "run_id", runID, "err", err)
		return raw
	}

	enriched, err := translate.DecodeThreats(out["raw_threats"])
	if err != nil || len(enriched) == 0 {
		c.logger.Warn("AI enrichment returned no usable records, using raw collected data",
			"run_id", runID, "err", err)
		return raw
	}
	return enriched
}
