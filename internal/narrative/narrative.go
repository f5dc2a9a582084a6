// Package narrative produces per-evaluation and aggregate narratives, using an
// external text generator when one is configured and a deterministic local
// generator otherwise.
package narrative

import (
	"context"
	"errors"
	"evalboard/internal/core"
	"evalboard/internal/logger"
	"evalboard/internal/observability"
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultTimeout bounds each external generation call.
	DefaultTimeout = 15 * time.Second
	// DefaultContextRecords is how many recent comments the aggregate prompt carries.
	DefaultContextRecords = 10
	// MinBatchSize is the fewest records an aggregate report is written for.
	MinBatchSize = 5
)

// Narrative kinds, used as metric labels.
const (
	KindPerRecord = "evaluation_narrative"
	KindAggregate = "aggregate_report"
)

// TextGenerator is an external text-generation service.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Config tunes the generator.
type Config struct {
	Timeout        time.Duration
	ContextRecords int
	MinBatchSize   int
}

// Generator produces narratives. It never returns an error: every failure of
// the external service is answered by the local fallback.
type Generator struct {
	client TextGenerator
	cfg    Config
	log    *slog.Logger
}

var errNoClient = errors.New("no text generator configured")

// New creates a Generator. A nil client makes every call use the fallback.
func New(client TextGenerator, cfg Config) *Generator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ContextRecords <= 0 {
		cfg.ContextRecords = DefaultContextRecords
	}
	if cfg.MinBatchSize <= 0 {
		cfg.MinBatchSize = MinBatchSize
	}
	return &Generator{client: client, cfg: cfg, log: logger.Get()}
}

// PerRecord returns the narrative for a single evaluation.
func (g *Generator) PerRecord(ctx context.Context, eval core.Evaluation) string {
	text, err := g.generate(ctx, KindPerRecord, perRecordPrompt(eval))
	if err != nil {
		g.fallback(KindPerRecord, err, "evaluation_id", eval.ID)
		return FallbackPerRecord(eval)
	}
	return renderHTML(text)
}

// Aggregate returns the aggregate narrative over evals. previous is the last
// valid report, if any; its summary is passed along so the new report updates it.
func (g *Generator) Aggregate(ctx context.Context, evals []core.Evaluation, previous *core.Report) string {
	if len(evals) == 0 {
		return NoEvaluations
	}
	if len(evals) < g.cfg.MinBatchSize {
		return InsufficientData(len(evals), g.cfg.MinBatchSize)
	}

	ordered := append([]core.Evaluation(nil), evals...)
	core.SortChronological(ordered)
	avgs, _ := core.Averages(ordered)

	text, err := g.generate(ctx, KindAggregate, aggregatePrompt(ordered, avgs, g.cfg.ContextRecords, previous))
	if err != nil {
		g.fallback(KindAggregate, err, "evaluation_count", len(evals))
		return FallbackAggregate(len(evals), avgs)
	}
	return renderHTML(text)
}

// generate races the external call against the configured timeout. The
// losing call's result is discarded.
func (g *Generator) generate(ctx context.Context, kind, prompt string) (string, error) {
	if g.client == nil {
		return "", errNoClient
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := g.client.Generate(ctx, prompt)
		done <- result{text: text, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if errors.Is(r.err, context.DeadlineExceeded) {
				return "", fmt.Errorf("%w: %s: %v", core.ErrGenerationTimeout, kind, r.err)
			}
			return "", fmt.Errorf("%w: %s: %v", core.ErrGenerationFailure, kind, r.err)
		}
		if r.text == "" {
			return "", fmt.Errorf("%w: %s: empty response", core.ErrGenerationFailure, kind)
		}
		return r.text, nil
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %s after %s", core.ErrGenerationTimeout, kind, g.cfg.Timeout)
	}
}

func (g *Generator) fallback(kind string, err error, attrs ...any) {
	reason := "error"
	switch {
	case errors.Is(err, errNoClient):
		reason = "no_client"
	case errors.Is(err, core.ErrGenerationTimeout):
		reason = "timeout"
	}
	observability.NarrativeFallbacks.WithLabelValues(kind, reason).Inc()

	// Running without a model is a configuration choice, not a failure.
	if reason == "no_client" {
		g.log.Debug("Using fallback narrative generator", append([]any{"kind", kind}, attrs...)...)
		return
	}
	g.log.Warn("Narrative generation failed, using fallback",
		append([]any{"kind", kind, "reason", reason, "error", err}, attrs...)...)
}
