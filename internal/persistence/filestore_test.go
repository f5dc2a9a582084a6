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
	"testing"
	"time"
)

func newTestEvaluation(id string) core.Evaluation {
	return core.Evaluation{
		ID:        id,
		Timestamp: time.Now().UTC(),
		Criteria:  core.Criteria{Teaching: 8, Communication: 6, Knowledge: 9, Support: 7, Management: 5},
		Comments:  "comment " + id,
		Narrative: core.PendingNarrative,
	}
}

func TestNewFileStore_CreatesFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	defer s.Close()

	for _, name := range []string{"evaluations.json", "reports.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("Expected %s to be created: %v", name, err)
		}
	}

	data, _ := os.ReadFile(filepath.Join(dir, "reports.json"))
	var h core.ReportHistory
	if err := json.Unmarshal(data, &h); err != nil {
		t.Fatalf("reports.json is not valid JSON: %v", err)
	}
	if h.LastReportCount != 0 || len(h.Reports) != 0 {
		t.Errorf("Expected empty history, got %+v", h)
	}
}

func TestFileStore_InsertUpdateDelete(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	defer s.Close()

	if err := s.InsertEvaluation(ctx, newTestEvaluation("1")); err != nil {
		t.Fatalf("InsertEvaluation failed: %v", err)
	}
	if err := s.InsertEvaluation(ctx, newTestEvaluation("2")); err != nil {
		t.Fatalf("InsertEvaluation failed: %v", err)
	}

	n, err := s.CountEvaluations(ctx)
	if err != nil || n != 2 {
		t.Fatalf("Expected 2 evaluations, got %d (%v)", n, err)
	}

	narrative := "enriched"
	found, err := s.UpdateEvaluation(ctx, "2", EvaluationPatch{Narrative: &narrative})
	if err != nil || !found {
		t.Fatalf("UpdateEvaluation failed: found=%v err=%v", found, err)
	}
	found, err = s.UpdateEvaluation(ctx, "missing", EvaluationPatch{Narrative: &narrative})
	if err != nil || found {
		t.Errorf("Expected missing update to report not found, got found=%v err=%v", found, err)
	}

	evals, _ := s.ListEvaluations(ctx)
	if evals[0].ID != "1" || evals[1].Narrative != "enriched" {
		t.Errorf("Unexpected records after update: %+v", evals)
	}

	deleted, err := s.DeleteEvaluation(ctx, "1")
	if err != nil || !deleted {
		t.Fatalf("DeleteEvaluation failed: deleted=%v err=%v", deleted, err)
	}
	deleted, err = s.DeleteEvaluation(ctx, "1")
	if err != nil || deleted {
		t.Errorf("Expected second delete to report false, got %v (%v)", deleted, err)
	}

	n, _ = s.CountEvaluations(ctx)
	if n != 1 {
		t.Errorf("Expected 1 evaluation after delete, got %d", n)
	}
}

func TestFileStore_ConcurrentWritesAreNotLost(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	defer s.Close()

	const n = 50
	for i := 0; i < n; i++ {
		if err := s.InsertEvaluation(ctx, newTestEvaluation(fmt.Sprint(i))); err != nil {
			t.Fatal(err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			narrative := fmt.Sprintf("narrative %d", i)
			if _, err := s.UpdateEvaluation(ctx, fmt.Sprint(i), EvaluationPatch{Narrative: &narrative}); err != nil {
				t.Errorf("UpdateEvaluation failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	evals, err := s.ListEvaluations(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range evals {
		if e.Narrative != "narrative "+e.ID {
			t.Errorf("Lost update for %s: %q", e.ID, e.Narrative)
		}
	}
}

func TestFileStore_AppendReportCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	defer s.Close()

	if err := s.AppendReport(ctx, core.NewReport(5, "first"), 0); err != nil {
		t.Fatalf("AppendReport failed: %v", err)
	}

	// A second generator that also observed lastReportCount=0 must lose.
	err = s.AppendReport(ctx, core.NewReport(5, "duplicate"), 0)
	if !errors.Is(err, core.ErrStaleReport) {
		t.Errorf("Expected ErrStaleReport, got %v", err)
	}

	if err := s.AppendReport(ctx, core.NewReport(10, "second"), 5); err != nil {
		t.Fatalf("AppendReport failed: %v", err)
	}

	h, err := s.LoadReportHistory(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if h.LastReportCount != 10 || len(h.Reports) != 2 {
		t.Fatalf("Unexpected history: %+v", h)
	}
	if h.Reports[0].Narrative != "first" || h.Reports[1].Narrative != "second" {
		t.Errorf("Reports out of order: %+v", h.Reports)
	}
}

func TestFileStore_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := os.WriteFile(filepath.Join(dir, "evaluations.json"), []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err = s.ListEvaluations(context.Background())
	if !errors.Is(err, core.ErrStoreCorrupt) {
		t.Errorf("Expected ErrStoreCorrupt, got %v", err)
	}

	err = s.InsertEvaluation(context.Background(), newTestEvaluation("x"))
	if !errors.Is(err, core.ErrStoreCorrupt) {
		t.Errorf("Expected ErrStoreCorrupt on write, got %v", err)
	}
}

func TestFileStore_ReadsExistingFile(t *testing.T) {
	dir := t.TempDir()
	existing := `{"lastReportCount": 5, "reports": [{"timestamp": "2024-03-01T10:00:00Z", "studentCount": 5, "narrative": "old"}]}`
	if err := os.WriteFile(filepath.Join(dir, "reports.json"), []byte(existing), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	h, err := s.LoadReportHistory(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if h.LastReportCount != 5 || h.Reports[0].Narrative != "old" {
		t.Errorf("Unexpected history: %+v", h)
	}
}

func TestFileStore_AppendReportAnyLastCount(t *testing.T) {
	ctx := context.Background()
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.AppendReport(ctx, core.NewReport(10, "after outage"), AnyLastCount); err != nil {
		t.Fatalf("AppendReport failed: %v", err)
	}
	err = s.AppendReport(ctx, core.NewReport(10, "duplicate"), AnyLastCount)
	if !errors.Is(err, core.ErrStaleReport) {
		t.Errorf("Expected ErrStaleReport for a non-advancing count, got %v", err)
	}
}

func TestFileStore_ReadsLegacyReportKey(t *testing.T) {
	dir := t.TempDir()
	records := `[{"id": "1709287200000", "timestamp": "2024-03-01T10:00:00.000Z",
		"criteria": {"teaching": 8, "communication": 6, "knowledge": 9, "support": 7, "management": 5},
		"comments": "iyi", "report": "<p>eski anlatı</p>"}]`
	history := `{"lastReportCount": 5, "reports": [{"timestamp": "2024-03-01T10:00:00Z", "studentCount": 5, "report": "<p>Puan: 70/100</p>"}]}`
	if err := os.WriteFile(filepath.Join(dir, "evaluations.json"), []byte(records), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "reports.json"), []byte(history), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	evals, err := s.ListEvaluations(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(evals) != 1 || evals[0].Narrative != "<p>eski anlatı</p>" || evals[0].Criteria.Knowledge != 9 {
		t.Errorf("Unexpected records: %+v", evals)
	}
	h, err := s.LoadReportHistory(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(h.Reports) != 1 || h.Reports[0].Narrative != "<p>Puan: 70/100</p>" {
		t.Errorf("Unexpected history: %+v", h)
	}
}
