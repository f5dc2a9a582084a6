// Package service is the application layer shared by the HTTP server and the CLI.
package service

import (
	"context"
	"evalboard/internal/batch"
	"evalboard/internal/core"
	"evalboard/internal/logger"
	"evalboard/internal/observability"
	"evalboard/internal/reports"
	"evalboard/internal/score"
	"fmt"
	"log/slog"
	"strings"
)

// RecordStore is the records collection as the service uses it.
type RecordStore interface {
	PutEvaluation(ctx context.Context, eval core.Evaluation) error
	Evaluations(ctx context.Context) ([]core.Evaluation, error)
	CountEvaluations(ctx context.Context) (int, error)
	DeleteEvaluation(ctx context.Context, id string) (bool, error)
}

// Enqueuer schedules background enrichment of a stored record.
type Enqueuer interface {
	Enqueue(eval core.Evaluation)
}

// ReportGenerator runs the idempotent aggregate report check.
type ReportGenerator interface {
	MaybeGenerate(ctx context.Context) (*core.Report, error)
	BatchSize() int
}

// DeleteResult describes the records collection after a delete.
type DeleteResult struct {
	RemainingCount int  `json:"remainingCount"`
	BelowThreshold bool `json:"belowThreshold"`
	// UpdatedScore is the 0-100 score of the remaining records; nil below threshold.
	UpdatedScore *int `json:"updatedScore"`
}

// ReportView is the read-only report state shown to the teacher.
type ReportView struct {
	Report        string             `json:"report"`
	Score         string             `json:"score"`
	ReportHistory core.ReportHistory `json:"reportHistory"`
	// EvaluationCount and Remaining describe progress toward the next report.
	EvaluationCount int `json:"evaluationCount"`
	Remaining       int `json:"remaining"`
}

// Service ties ingestion, enrichment scheduling and reporting together.
type Service struct {
	records   RecordStore
	reports   *reports.Store
	generator ReportGenerator
	enricher  Enqueuer
	posthog   *observability.PostHogClient
	log       *slog.Logger
}

// New creates a Service. enricher may be nil for read-only callers such as the CLI.
func New(records RecordStore, store *reports.Store, generator ReportGenerator, enricher Enqueuer, posthog *observability.PostHogClient) *Service {
	return &Service{
		records:   records,
		reports:   store,
		generator: generator,
		enricher:  enricher,
		posthog:   posthog,
		log:       logger.Get(),
	}
}

// Submit validates and stores a new evaluation, schedules its enrichment and
// returns the stored record with its narrative still pending.
func (s *Service) Submit(ctx context.Context, criteria core.Criteria, comments string) (core.Evaluation, error) {
	if err := criteria.Validate(); err != nil {
		return core.Evaluation{}, err
	}

	eval := core.NewEvaluation(criteria, strings.TrimSpace(comments))
	if err := s.records.PutEvaluation(ctx, eval); err != nil {
		return core.Evaluation{}, fmt.Errorf("failed to store evaluation: %w", err)
	}

	var total int
	for _, n := range eval.Criteria.Named() {
		total += int(n.Value)
	}
	_ = s.posthog.TrackEvaluationSubmitted(ctx, eval.ID, total)
	s.log.Info("Evaluation stored", "evaluation_id", eval.ID)

	if s.enricher != nil {
		s.enricher.Enqueue(eval)
	}
	return eval, nil
}

// List returns every stored evaluation.
func (s *Service) List(ctx context.Context) ([]core.Evaluation, error) {
	evals, err := s.records.Evaluations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list evaluations: %w", err)
	}
	return evals, nil
}

// Delete removes one evaluation. It returns core.ErrNotFound when id does not exist.
func (s *Service) Delete(ctx context.Context, id string) (DeleteResult, error) {
	deleted, err := s.records.DeleteEvaluation(ctx, id)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("failed to delete evaluation: %w", err)
	}
	if !deleted {
		return DeleteResult{}, fmt.Errorf("%w: evaluation %s", core.ErrNotFound, id)
	}

	evals, err := s.records.Evaluations(ctx)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("failed to reload evaluations: %w", err)
	}

	result := DeleteResult{
		RemainingCount: len(evals),
		BelowThreshold: len(evals) < s.generator.BatchSize(),
	}
	if !result.BelowThreshold {
		if v, ok := score.FromEvaluations(evals); ok {
			result.UpdatedScore = &v
		}
	}
	s.log.Info("Evaluation deleted", "evaluation_id", id, "remaining", result.RemainingCount)
	return result, nil
}

// Report returns the latest stored report, or a placeholder describing when
// the next one is due, together with the full history. It never generates.
func (s *Service) Report(ctx context.Context) (ReportView, error) {
	count, err := s.records.CountEvaluations(ctx)
	if err != nil {
		return ReportView{}, fmt.Errorf("failed to count evaluations: %w", err)
	}
	h, err := s.reports.History(ctx)
	if err != nil {
		return ReportView{}, err
	}

	size := s.generator.BatchSize()
	view := ReportView{
		ReportHistory:   h,
		EvaluationCount: count,
		Remaining:       batch.Remaining(count, h.LastReportCount, size),
		Score:           score.Placeholder,
	}

	if latest := h.Latest(); latest != nil {
		view.Report = latest.Narrative
		view.Score = score.Display(latest.Narrative)
		return view, nil
	}

	if count < size {
		view.Report = fmt.Sprintf("Henüz yeterli değerlendirme bulunmamaktadır. İlk rapor %d öğrenci değerlendirmesinden sonra oluşturulacaktır. Şu ana kadar %d değerlendirme yapılmıştır.", size, count)
	} else {
		view.Report = fmt.Sprintf("Bir sonraki rapor %d değerlendirme daha yapıldıktan sonra oluşturulacaktır.", view.Remaining)
	}
	return view, nil
}

// MaybeGenerateReport appends a new aggregate report if one is due and
// returns it; nil means nothing was appended.
func (s *Service) MaybeGenerateReport(ctx context.Context) (*core.Report, error) {
	return s.generator.MaybeGenerate(ctx)
}
