// Package persistence stores evaluations and report history on a durable SQL
// backend, falling back to local JSON files whenever the durable store is
// unreachable or an operation on it fails.
package persistence

import (
	"context"
	"evalboard/internal/core"
)

// Collection names one of the two persisted collections.
type Collection string

const (
	// Records holds evaluation records.
	Records Collection = "records"
	// ReportHistoryCollection holds aggregate reports and the last report count.
	ReportHistoryCollection Collection = "reportHistory"
)

// AnyLastCount as expectedLast makes AppendReport skip the last-count
// comparison and only require the report to exceed every stored count.
const AnyLastCount = -1

// EvaluationPatch lists the mutable fields of an evaluation. Nil fields are left untouched.
type EvaluationPatch struct {
	Narrative *string
}

// Backend is one interchangeable store. Both the SQL store and the file store implement it.
type Backend interface {
	// Name identifies the backend in logs
	Name() string

	// InsertEvaluation persists a new record
	InsertEvaluation(ctx context.Context, eval core.Evaluation) error

	// ListEvaluations returns every record
	ListEvaluations(ctx context.Context) ([]core.Evaluation, error)

	// CountEvaluations returns the number of records
	CountEvaluations(ctx context.Context) (int, error)

	// UpdateEvaluation applies patch to the record with id and reports whether it existed
	UpdateEvaluation(ctx context.Context, id string, patch EvaluationPatch) (bool, error)

	// DeleteEvaluation removes the record with id and reports whether it existed
	DeleteEvaluation(ctx context.Context, id string) (bool, error)

	// LoadReportHistory returns all reports oldest first plus the last report count
	LoadReportHistory(ctx context.Context) (core.ReportHistory, error)

	// AppendReport appends report if the stored last report count still equals
	// expectedLast (or expectedLast is AnyLastCount) and report.StudentCount exceeds
	// every stored count, and sets the last count to report.StudentCount.
	// Otherwise it returns core.ErrStaleReport.
	AppendReport(ctx context.Context, report core.Report, expectedLast int) error

	// Close releases resources held by the backend
	Close() error
}

// Pinger is implemented by backends that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthCheck reports whether the durable store should be tried for the current call.
type HealthCheck func(ctx context.Context) bool
