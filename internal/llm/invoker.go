// Package llm provides the resilient multi-provider invocation layer for
// AI-assisted pipeline stages. An Invoker holds an ordered chain of
// interchangeable text-completion providers and returns the first
// successful structured result.
package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// providerTimeout bounds a single provider round trip. A provider that
// exceeds it is abandoned and the next one in the chain is tried.
const providerTimeout = 20 * time.Second

// ErrAllProvidersFailed is matched via errors.Is when every provider in the
// chain failed. Pipeline stages that receive it must degrade gracefully
// rather than abort the run.
var ErrAllProvidersFailed = errors.New("all llm providers failed")

// AllProvidersError carries the last underlying provider failure.
type AllProvidersError struct {
	Last error
}

func (e *AllProvidersError) Error() string {
	if e.Last == nil {
		return "all llm providers failed"
	}
	return fmt.Sprintf("all llm providers failed: %v", e.Last)
}

func (e *AllProvidersError) Unwrap() error { return e.Last }

// Is reports true for ErrAllProvidersFailed so callers can match the
// condition without depending on the concrete type.
func (e *AllProvidersError) Is(target error) bool {
	return target == ErrAllProvidersFailed
}

// Provider performs a single network round trip against one AI backend and
// deserializes a JSON object from the response. Implementations must return
// an error on failure, never a sentinel result.
type Provider interface {
	Name() string
	Invoke(ctx context.Context, system string, input map[string]any) (map[string]any, error)
}

// Caller is the invocation surface pipeline stages depend on.
type Caller interface {
	Invoke(ctx context.Context, system string, input map[string]any) (map[string]any, error)
}

// Invoker tries providers in configured order until one succeeds. The
// provider list is immutable after construction.
type Invoker struct {
	providers []Provider
	logger    *slog.Logger
}

// NewInvoker builds an invoker from an ordered provider list. Duplicate
// providers (by name) are dropped, keeping the first occurrence.
func NewInvoker(logger *slog.Logger, providers ...Provider) *Invoker {
	seen := make(map[string]bool, len(providers))
	chain := make([]Provider, 0, len(providers))
	for _, p := range providers {
		if p == nil || seen[p.Name()] {
			continue
		}
		seen[p.Name()] = true
		chain = append(chain, p)
	}
	return &Invoker{providers: chain, logger: logger}
}

// ProviderNames returns the names of the configured chain in order.
func (inv *Invoker) ProviderNames() []string {
	names := make([]string, len(inv.providers))
	for i, p := range inv.providers {
		names[i] = p.Name()
	}
	return names
}

// Invoke sends the prompt to each provider in order, imposing the
// per-provider timeout, and returns the first successful JSON object.
// If every provider fails it returns an *AllProvidersError wrapping the
// last cause.
func (inv *Invoker) Invoke(ctx context.Context, system string, input map[string]any) (map[string]any, error) {
	if len(inv.providers) == 0 {
		return nil, &AllProvidersError{Last: errors.New("no providers configured")}
	}

	var last error
	for _, p := range inv.providers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pctx, cancel := context.WithTimeout(ctx, providerTimeout)
		start := time.Now()
		out, err := p.Invoke(pctx, system, input)
		cancel()

		if err != nil {
			last = err
			inv.logger.Warn("llm provider failed",
				"provider", p.Name(),
				"elapsed", time.Since(start),
				"err", err,
			)
			continue
		}

		inv.logger.Info("llm provider succeeded",
			"provider", p.Name(),
			"elapsed", time.Since(start),
		)
		return out, nil
	}

	inv.logger.Error("all llm providers failed", "providers", inv.ProviderNames(), "err", last)
	return nil, &AllProvidersError{Last: last}
}
