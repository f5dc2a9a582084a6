// Package reports is the append-only aggregate report history.
package reports

import (
	"context"
	"evalboard/internal/core"
	"evalboard/internal/narrative"
	"fmt"
	"sort"
)

// Backend persists the report-history collection.
type Backend interface {
	ReportHistory(ctx context.Context) (core.ReportHistory, error)
	AppendReport(ctx context.Context, report core.Report, expectedLast int) error
}

// Store reads and appends aggregate reports.
type Store struct {
	backend Backend
}

// NewStore creates a Store over backend.
func NewStore(backend Backend) *Store {
	return &Store{backend: backend}
}

// History returns the full history, reports ordered oldest first.
func (s *Store) History(ctx context.Context) (core.ReportHistory, error) {
	h, err := s.backend.ReportHistory(ctx)
	if err != nil {
		return core.ReportHistory{}, fmt.Errorf("failed to load report history: %w", err)
	}
	if h.Reports == nil {
		h.Reports = []core.Report{}
	}
	// Counts strictly increase, so count order is append order on every backend.
	sort.SliceStable(h.Reports, func(i, j int) bool {
		return h.Reports[i].StudentCount < h.Reports[j].StudentCount
	})
	return h, nil
}

// LatestValid returns the most recent report whose narrative is not an error
// message, or nil.
func (s *Store) LatestValid(ctx context.Context) (*core.Report, error) {
	h, err := s.History(ctx)
	if err != nil {
		return nil, err
	}
	for i := len(h.Reports) - 1; i >= 0; i-- {
		if !narrative.IsErrorNarrative(h.Reports[i].Narrative) {
			r := h.Reports[i]
			return &r, nil
		}
	}
	return nil, nil
}

// LastReportCount returns the record count at which the last report fired.
func (s *Store) LastReportCount(ctx context.Context) (int, error) {
	h, err := s.History(ctx)
	if err != nil {
		return 0, err
	}
	return h.LastReportCount, nil
}

// AppendAfter adds report only if the last report count is still
// expectedLast, the value the caller based its decision on.
func (s *Store) AppendAfter(ctx context.Context, report core.Report, expectedLast int) error {
	h, err := s.History(ctx)
	if err != nil {
		return err
	}
	return s.append(ctx, h, report, expectedLast)
}

func (s *Store) append(ctx context.Context, h core.ReportHistory, report core.Report, expectedLast int) error {
	if max := h.MaxStudentCount(); report.StudentCount <= max {
		return fmt.Errorf("%w: report count %d does not exceed stored maximum %d",
			core.ErrStaleReport, report.StudentCount, max)
	}
	if err := s.backend.AppendReport(ctx, report, expectedLast); err != nil {
		return fmt.Errorf("failed to append report: %w", err)
	}
	return nil
}
