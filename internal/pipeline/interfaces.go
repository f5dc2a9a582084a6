package pipeline

import (
	"context"
	"evalboard/internal/core"
)

// NarrativeGenerator writes per-record narratives
type NarrativeGenerator interface {
	// PerRecord returns the narrative for one evaluation; it never fails and
	// substitutes a deterministic fallback when generation does
	PerRecord(ctx context.Context, eval core.Evaluation) string
}

// AggregateGenerator writes aggregate narratives
type AggregateGenerator interface {
	// Aggregate summarizes the full record set, using previous as context
	Aggregate(ctx context.Context, evals []core.Evaluation, previous *core.Report) string
}

// NarrativeStore persists a record's narrative
type NarrativeStore interface {
	// UpdateNarrative overwrites the narrative of record id; false means it no longer exists
	UpdateNarrative(ctx context.Context, id, narrative string) (bool, error)
}

// RecordSource reads the records collection
type RecordSource interface {
	// Evaluations returns every stored record
	Evaluations(ctx context.Context) ([]core.Evaluation, error)

	// CountEvaluations returns the number of stored records
	CountEvaluations(ctx context.Context) (int, error)
}

// ReportTrigger runs the aggregate report check
type ReportTrigger interface {
	// MaybeGenerate appends a report if a batch threshold was crossed
	MaybeGenerate(ctx context.Context) (*core.Report, error)
}

// Tracker receives analytics events from background work
type Tracker interface {
	// TrackEvaluationEnriched records the outcome of one enrichment
	TrackEvaluationEnriched(ctx context.Context, evaluationID string, stored bool, durationMs int64) error

	// TrackError records a failure that was absorbed instead of surfaced
	TrackError(ctx context.Context, errorType string, errorMessage string, component string) error
}
