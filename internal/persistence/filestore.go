package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"evalboard/internal/core"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// File names of the fallback collections.
var fallbackFiles = map[Collection]string{
	Records:                 "evaluations.json",
	ReportHistoryCollection: "reports.json",
}

// FileStore is the local fallback backend. Each collection is a single JSON
// file rewritten whole on every mutation. Mutations of a collection are
// serialized through one writer goroutine so concurrent read-modify-write
// cycles cannot lose updates.
type FileStore struct {
	dir     string
	records *fileCollection[[]core.Evaluation]
	reports *fileCollection[core.ReportHistory]
}

// NewFileStore opens (creating if needed) the fallback collections in dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	records, err := newFileCollection(filepath.Join(dir, fallbackFiles[Records]), []core.Evaluation{})
	if err != nil {
		return nil, err
	}
	reports, err := newFileCollection(filepath.Join(dir, fallbackFiles[ReportHistoryCollection]), core.ReportHistory{Reports: []core.Report{}})
	if err != nil {
		records.close()
		return nil, err
	}

	return &FileStore{dir: dir, records: records, reports: reports}, nil
}

// Name identifies the backend in logs.
func (s *FileStore) Name() string { return "file" }

// InsertEvaluation appends eval to the records file.
func (s *FileStore) InsertEvaluation(ctx context.Context, eval core.Evaluation) error {
	return s.records.mutate(ctx, func(evals *[]core.Evaluation) error {
		*evals = append(*evals, eval)
		return nil
	})
}

// ListEvaluations returns records in insertion order.
func (s *FileStore) ListEvaluations(ctx context.Context) ([]core.Evaluation, error) {
	return s.records.read()
}

// CountEvaluations returns the number of stored records.
func (s *FileStore) CountEvaluations(ctx context.Context) (int, error) {
	evals, err := s.records.read()
	if err != nil {
		return 0, err
	}
	return len(evals), nil
}

// UpdateEvaluation applies patch to the record with id.
func (s *FileStore) UpdateEvaluation(ctx context.Context, id string, patch EvaluationPatch) (bool, error) {
	found := false
	err := s.records.mutate(ctx, func(evals *[]core.Evaluation) error {
		for i := range *evals {
			if (*evals)[i].ID != id {
				continue
			}
			if patch.Narrative != nil {
				(*evals)[i].Narrative = *patch.Narrative
			}
			found = true
			return nil
		}
		return errNoChange
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// DeleteEvaluation removes the record with id.
func (s *FileStore) DeleteEvaluation(ctx context.Context, id string) (bool, error) {
	deleted := false
	err := s.records.mutate(ctx, func(evals *[]core.Evaluation) error {
		kept := (*evals)[:0]
		for _, e := range *evals {
			if e.ID == id {
				deleted = true
				continue
			}
			kept = append(kept, e)
		}
		if !deleted {
			return errNoChange
		}
		*evals = kept
		return nil
	})
	if err != nil {
		return false, err
	}
	return deleted, nil
}

// LoadReportHistory returns the report history file contents.
func (s *FileStore) LoadReportHistory(ctx context.Context) (core.ReportHistory, error) {
	h, err := s.reports.read()
	if err != nil {
		return core.ReportHistory{}, err
	}
	if h.Reports == nil {
		h.Reports = []core.Report{}
	}
	return h, nil
}

// AppendReport appends report when lastReportCount still equals expectedLast.
func (s *FileStore) AppendReport(ctx context.Context, report core.Report, expectedLast int) error {
	return s.reports.mutate(ctx, func(h *core.ReportHistory) error {
		if (expectedLast != AnyLastCount && h.LastReportCount != expectedLast) || report.StudentCount <= h.MaxStudentCount() {
			return fmt.Errorf("%w: stored last count %d, expected %d, report count %d",
				core.ErrStaleReport, h.LastReportCount, expectedLast, report.StudentCount)
		}
		h.LastReportCount = report.StudentCount
		h.Reports = append(h.Reports, report)
		return nil
	})
}

// Close stops the writer goroutines.
func (s *FileStore) Close() error {
	s.records.close()
	s.reports.close()
	return nil
}

// errNoChange aborts a mutation without rewriting the file.
var errNoChange = errors.New("no change")

// fileOp is one queued read-modify-write against a collection.
type fileOp[T any] struct {
	fn     func(*T) error
	result chan error
}

// fileCollection owns one JSON file. Only its writer goroutine writes the file.
type fileCollection[T any] struct {
	path      string
	ops       chan fileOp[T]
	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newFileCollection[T any](path string, empty T) (*fileCollection[T], error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := writeJSONFile(path, empty); err != nil {
			return nil, fmt.Errorf("failed to initialize %s: %w", path, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	c := &fileCollection[T]{
		path: path,
		ops:  make(chan fileOp[T]),
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go c.writer()
	return c, nil
}

// writer applies queued mutations one at a time.
func (c *fileCollection[T]) writer() {
	defer close(c.done)
	for {
		select {
		case op := <-c.ops:
			op.result <- c.apply(op.fn)
		case <-c.quit:
			return
		}
	}
}

func (c *fileCollection[T]) apply(fn func(*T) error) error {
	v, err := c.read()
	if err != nil {
		return err
	}
	if err := fn(&v); err != nil {
		if errors.Is(err, errNoChange) {
			return nil
		}
		return err
	}
	if err := writeJSONFile(c.path, v); err != nil {
		return fmt.Errorf("failed to write %s: %w", c.path, err)
	}
	return nil
}

// mutate queues fn and waits for the writer to apply it.
func (c *fileCollection[T]) mutate(ctx context.Context, fn func(*T) error) error {
	op := fileOp[T]{fn: fn, result: make(chan error, 1)}
	select {
	case c.ops <- op:
	case <-c.quit:
		return fmt.Errorf("fallback store closed")
	case <-ctx.Done():
		return ctx.Err()
	}
	// Once queued the op runs to completion; wait for it so callers observe the outcome.
	return <-op.result
}

// read loads the current snapshot. Writes replace the file atomically, so
// reads never observe a partial write.
func (c *fileCollection[T]) read() (T, error) {
	var v T
	data, err := os.ReadFile(c.path)
	if err != nil {
		return v, fmt.Errorf("%w: %s: %v", core.ErrStoreCorrupt, c.path, err)
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %s: %v", core.ErrStoreCorrupt, c.path, err)
	}
	return v, nil
}

func (c *fileCollection[T]) close() {
	c.closeOnce.Do(func() {
		close(c.quit)
		<-c.done
	})
}

// writeJSONFile writes v to a temp file next to path and renames it into place.
func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
