package pipeline

import (
	"context"
	"errors"
	"evalboard/internal/batch"
	"evalboard/internal/core"
	"evalboard/internal/logger"
	"evalboard/internal/narrative"
	"evalboard/internal/observability"
	"evalboard/internal/reports"
	"evalboard/internal/score"
	"fmt"
	"log/slog"
	"time"
)

// Reporter owns the "maybe generate" step: the batch threshold check, the
// aggregate generation and the history append. Concurrent callers for the
// same threshold crossing are coalesced into one generation, and the append
// is a compare-and-swap on the last report count, so at most one report is
// stored per crossing.
type Reporter struct {
	records   RecordSource
	reports   *reports.Store
	generator AggregateGenerator
	batchSize int
	coalescer *batch.Coalescer
	posthog   *observability.PostHogClient
	log       *slog.Logger
}

// NewReporter creates a Reporter. batchSize <= 0 uses batch.DefaultSize.
func NewReporter(records RecordSource, store *reports.Store, generator AggregateGenerator, batchSize int, posthog *observability.PostHogClient) *Reporter {
	if batchSize <= 0 {
		batchSize = batch.DefaultSize
	}
	return &Reporter{
		records:   records,
		reports:   store,
		generator: generator,
		batchSize: batchSize,
		coalescer: batch.NewCoalescer(),
		posthog:   posthog,
		log:       logger.Get(),
	}
}

// BatchSize returns the number of records between reports.
func (r *Reporter) BatchSize() int {
	return r.batchSize
}

// MaybeGenerate appends a new aggregate report when one is due. It returns
// the appended report, or nil when nothing was due, another caller is
// already generating for this crossing, or another process won the append.
// Calling it repeatedly is safe.
func (r *Reporter) MaybeGenerate(ctx context.Context) (*core.Report, error) {
	count, err := r.records.CountEvaluations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count evaluations: %w", err)
	}
	last, err := r.reports.LastReportCount(ctx)
	if err != nil {
		return nil, err
	}
	if !batch.IsDue(count, last, r.batchSize) {
		return nil, nil
	}

	var appended *core.Report
	ran, err := r.coalescer.Do(last, func() error {
		report, err := r.generate(ctx, last)
		appended = report
		return err
	})
	if !ran {
		r.log.Debug("Report generation already in progress", "last_report_count", last)
	}
	return appended, err
}

func (r *Reporter) generate(ctx context.Context, last int) (*core.Report, error) {
	start := time.Now()

	evals, err := r.records.Evaluations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load evaluations: %w", err)
	}
	// Records may have been deleted since the count was taken.
	if !batch.IsDue(len(evals), last, r.batchSize) {
		return nil, nil
	}

	previous, err := r.reports.LatestValid(ctx)
	if err != nil {
		r.log.Warn("Failed to load previous report, generating without it", "error", err)
		previous = nil
	}

	text := r.generator.Aggregate(ctx, evals, previous)
	if narrative.IsInsufficientData(text) {
		r.log.Warn("Aggregate generator reported too few evaluations, not storing a report",
			"evaluations", len(evals), "batch_size", r.batchSize)
		return nil, nil
	}

	report := core.NewReport(len(evals), text)
	if err := r.reports.AppendAfter(ctx, report, last); err != nil {
		if errors.Is(err, core.ErrStaleReport) {
			r.log.Info("Report for this threshold already appended by another generator", "student_count", report.StudentCount)
			return nil, nil
		}
		return nil, err
	}

	observability.ReportsGenerated.Inc()
	displayed := score.Display(report.Narrative)
	_ = r.posthog.TrackReportGenerated(ctx, report.ID, report.StudentCount, displayed, time.Since(start).Milliseconds())
	r.log.Info("Aggregate report generated",
		"report_id", report.ID,
		"student_count", report.StudentCount,
		"score", displayed,
		"duration", time.Since(start),
	)
	return &report, nil
}
