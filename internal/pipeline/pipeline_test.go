package pipeline

import (
	"context"
	"errors"
	"evalboard/internal/core"
	"evalboard/internal/narrative"
	"evalboard/internal/persistence"
	"evalboard/internal/reports"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type mockNarratives struct {
	PerRecordFunc func(ctx context.Context, eval core.Evaluation) string
}

func (m *mockNarratives) PerRecord(ctx context.Context, eval core.Evaluation) string {
	return m.PerRecordFunc(ctx, eval)
}

type mockNarrativeStore struct {
	mu      sync.Mutex
	stored  map[string]string
	failErr error
}

func (m *mockNarrativeStore) UpdateNarrative(ctx context.Context, id, narrative string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return false, m.failErr
	}
	if m.stored == nil {
		m.stored = map[string]string{}
	}
	m.stored[id] = narrative
	return true, nil
}

func (m *mockNarrativeStore) get(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.stored[id]
	return v, ok
}

type mockTrigger struct {
	calls atomic.Int32
	err   error
}

func (m *mockTrigger) MaybeGenerate(ctx context.Context) (*core.Report, error) {
	m.calls.Add(1)
	return nil, m.err
}

func constantNarratives(text string) *mockNarratives {
	return &mockNarratives{PerRecordFunc: func(ctx context.Context, eval core.Evaluation) string { return text }}
}

func closeScheduler(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestScheduler_EnqueueReturnsBeforeEnrichment(t *testing.T) {
	release := make(chan struct{})
	narratives := &mockNarratives{PerRecordFunc: func(ctx context.Context, eval core.Evaluation) string {
		<-release
		return "enriched"
	}}
	store := &mockNarrativeStore{}
	trigger := &mockTrigger{}
	s := NewScheduler(narratives, store, trigger, Options{})
	defer closeScheduler(t, s)

	eval := core.NewEvaluation(core.Criteria{Teaching: 8, Communication: 6, Knowledge: 9, Support: 7, Management: 5}, "iyi")
	s.Enqueue(eval)

	if _, ok := store.get(eval.ID); ok {
		t.Fatal("Narrative stored before Enqueue returned")
	}

	close(release)
	s.Wait()

	if got, _ := store.get(eval.ID); got != "enriched" {
		t.Errorf("Expected stored narrative, got %q", got)
	}
	if trigger.calls.Load() != 1 {
		t.Errorf("Expected one report check, got %d", trigger.calls.Load())
	}
}

func TestScheduler_UpdateFailureStillChecksReports(t *testing.T) {
	store := &mockNarrativeStore{failErr: errors.New("disk full")}
	trigger := &mockTrigger{}
	s := NewScheduler(constantNarratives("x"), store, trigger, Options{})
	defer closeScheduler(t, s)

	s.Enqueue(core.Evaluation{ID: "1"})
	s.Wait()

	if trigger.calls.Load() != 1 {
		t.Errorf("Expected report check after failed update, got %d", trigger.calls.Load())
	}
}

func TestScheduler_PanicIsSupervised(t *testing.T) {
	narratives := &mockNarratives{PerRecordFunc: func(ctx context.Context, eval core.Evaluation) string {
		panic("generator exploded")
	}}
	trigger := &mockTrigger{}
	s := NewScheduler(narratives, &mockNarrativeStore{}, trigger, Options{})

	s.Enqueue(core.Evaluation{ID: "1"})
	s.Wait()

	if trigger.calls.Load() != 0 {
		t.Error("Expected panicking task to stop before the report check")
	}
	closeScheduler(t, s)
}

func TestScheduler_TaskErrorIsAbsorbed(t *testing.T) {
	trigger := &mockTrigger{err: errors.New("store down")}
	s := NewScheduler(constantNarratives("x"), &mockNarrativeStore{}, trigger, Options{})

	for i := 0; i < 100; i++ {
		s.Enqueue(core.Evaluation{ID: fmt.Sprint(i)})
	}
	s.Wait()
	closeScheduler(t, s)

	if trigger.calls.Load() != 100 {
		t.Errorf("Expected 100 report checks, got %d", trigger.calls.Load())
	}
}

func TestScheduler_DropsTasksAfterClose(t *testing.T) {
	s := NewScheduler(constantNarratives("x"), &mockNarrativeStore{}, &mockTrigger{}, Options{})
	closeScheduler(t, s)

	if s.Go("late", func(ctx context.Context) error { return nil }) {
		t.Error("Expected task to be dropped after Close")
	}
	// Closing twice is a no-op.
	closeScheduler(t, s)
}

func TestScheduler_CloseCancelsOnDeadline(t *testing.T) {
	store := &mockNarrativeStore{}
	s := NewScheduler(constantNarratives("x"), store, &mockTrigger{}, Options{PerRecordDelay: time.Hour})
	s.Enqueue(core.Evaluation{ID: "1"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline error, got %v", err)
	}
	if _, ok := store.get("1"); ok {
		t.Error("Cancelled task must not store a narrative")
	}
}

func TestScheduler_RunTicks(t *testing.T) {
	trigger := &mockTrigger{}
	s := NewScheduler(constantNarratives("x"), &mockNarrativeStore{}, trigger, Options{})
	defer closeScheduler(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, 5*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for trigger.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if trigger.calls.Load() < 2 {
		t.Errorf("Expected at least 2 ticks, got %d", trigger.calls.Load())
	}
}

// countingAggregate is an aggregate generator that counts calls.
type countingAggregate struct {
	calls atomic.Int32
	delay time.Duration
}

func (c *countingAggregate) Aggregate(ctx context.Context, evals []core.Evaluation, previous *core.Report) string {
	c.calls.Add(1)
	time.Sleep(c.delay)
	return fmt.Sprintf("<h3>Öğretmen Performans Puanı: 70/100</h3><p>%d kayıt</p>", len(evals))
}

func newTestReporter(t *testing.T, records int, gen *countingAggregate) (*Reporter, *reports.Store, *persistence.Gateway) {
	t.Helper()
	ctx := context.Background()
	fs, err := persistence.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = fs.Close() })
	gw := persistence.NewGateway(nil, fs, nil, 0)

	for i := 0; i < records; i++ {
		addRecord(t, ctx, gw)
	}
	store := reports.NewStore(gw)
	return NewReporter(gw, store, gen, 5, nil), store, gw
}

func addRecord(t *testing.T, ctx context.Context, gw *persistence.Gateway) {
	t.Helper()
	eval := core.NewEvaluation(core.Criteria{Teaching: 8, Communication: 6, Knowledge: 9, Support: 7, Management: 5}, "yorum")
	if err := gw.PutEvaluation(ctx, eval); err != nil {
		t.Fatal(err)
	}
}

func TestReporter_NotDue(t *testing.T) {
	gen := &countingAggregate{}
	r, _, _ := newTestReporter(t, 4, gen)

	report, err := r.MaybeGenerate(context.Background())
	if err != nil || report != nil {
		t.Errorf("Expected nothing generated, got %+v (%v)", report, err)
	}
	if gen.calls.Load() != 0 {
		t.Error("Expected no aggregate generation below threshold")
	}
}

func TestReporter_GeneratesOncePerThreshold(t *testing.T) {
	ctx := context.Background()
	gen := &countingAggregate{}
	r, store, gw := newTestReporter(t, 5, gen)

	report, err := r.MaybeGenerate(ctx)
	if err != nil || report == nil {
		t.Fatalf("Expected report, got %+v (%v)", report, err)
	}
	if report.StudentCount != 5 {
		t.Errorf("Expected student count 5, got %d", report.StudentCount)
	}

	// Repeated checks between thresholds append nothing.
	for i := 0; i < 3; i++ {
		if again, err := r.MaybeGenerate(ctx); err != nil || again != nil {
			t.Errorf("Expected no new report, got %+v (%v)", again, err)
		}
		if i < 2 {
			addRecord(t, ctx, gw)
		}
	}

	h, _ := store.History(ctx)
	if len(h.Reports) != 1 || h.LastReportCount != 5 {
		t.Errorf("Expected one report at 5, got %+v", h)
	}

	for i := 0; i < 3; i++ {
		addRecord(t, ctx, gw)
	}
	report, err = r.MaybeGenerate(ctx)
	if err != nil || report == nil || report.StudentCount != 10 {
		t.Fatalf("Expected report at 10, got %+v (%v)", report, err)
	}
}

func TestReporter_ConcurrentCallsAppendOnce(t *testing.T) {
	ctx := context.Background()
	gen := &countingAggregate{delay: 20 * time.Millisecond}
	r, store, _ := newTestReporter(t, 5, gen)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.MaybeGenerate(ctx); err != nil {
				t.Errorf("MaybeGenerate failed: %v", err)
			}
		}()
	}
	wg.Wait()

	h, err := store.History(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(h.Reports) != 1 {
		t.Errorf("Expected exactly one report, got %d", len(h.Reports))
	}
}

func TestReporter_SeparateInstancesStillAppendOnce(t *testing.T) {
	ctx := context.Background()
	gen := &countingAggregate{}
	r, store, gw := newTestReporter(t, 5, gen)
	other := NewReporter(gw, store, gen, 5, nil)

	if _, err := r.MaybeGenerate(ctx); err != nil {
		t.Fatal(err)
	}
	// other decided from a stale view: its append must be rejected by the store.
	report, err := other.generate(ctx, 0)
	if err != nil || report != nil {
		t.Errorf("Expected stale generation to be dropped, got %+v (%v)", report, err)
	}

	h, _ := store.History(ctx)
	if len(h.Reports) != 1 {
		t.Errorf("Expected one report, got %d", len(h.Reports))
	}
}

// appendFailingStore serves reads from a real file store but fails every report append.
type appendFailingStore struct {
	*persistence.FileStore
}

func (a appendFailingStore) AppendReport(ctx context.Context, report core.Report, expectedLast int) error {
	return errors.New("connection reset by peer")
}

func TestReporter_DurableAppendFailureStoresOnFallback(t *testing.T) {
	ctx := context.Background()

	durableFiles, err := persistence.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	fallback, err := persistence.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	gw := persistence.NewGateway(appendFailingStore{durableFiles}, fallback, func(context.Context) bool { return true }, 0)
	t.Cleanup(func() { _ = gw.Close() })

	for i := 0; i < 10; i++ {
		addRecord(t, ctx, gw)
	}
	// The durable history already holds the report for the first batch.
	if err := durableFiles.AppendReport(ctx, core.NewReport(5, "first"), 0); err != nil {
		t.Fatal(err)
	}

	gen := &countingAggregate{}
	r := NewReporter(gw, reports.NewStore(gw), gen, 5, nil)

	report, err := r.MaybeGenerate(ctx)
	if err != nil {
		t.Fatalf("MaybeGenerate failed: %v", err)
	}
	if report == nil || report.StudentCount != 10 {
		t.Fatalf("Expected report at 10, got %+v", report)
	}

	h, err := fallback.LoadReportHistory(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(h.Reports) != 1 || h.Reports[0].StudentCount != 10 {
		t.Errorf("Expected the report in the fallback store, got %+v", h)
	}
	if gen.calls.Load() != 1 {
		t.Errorf("Expected one aggregate generation, got %d", gen.calls.Load())
	}
}

// recordingTracker collects analytics calls.
type recordingTracker struct {
	mu       sync.Mutex
	errors   []string
	enriched int
}

func (r *recordingTracker) TrackEvaluationEnriched(ctx context.Context, evaluationID string, stored bool, durationMs int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enriched++
	return nil
}

func (r *recordingTracker) TrackError(ctx context.Context, errorType string, errorMessage string, component string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, errorType+":"+component)
	return nil
}

func TestScheduler_ReportsAbsorbedFailures(t *testing.T) {
	tracker := &recordingTracker{}
	trigger := &mockTrigger{err: errors.New("store down")}
	s := NewScheduler(constantNarratives("x"), &mockNarrativeStore{}, trigger, Options{Posthog: tracker})

	s.Enqueue(core.Evaluation{ID: "1"})
	s.Go("exploding", func(ctx context.Context) error { panic("boom") })
	s.Wait()
	closeScheduler(t, s)

	tracker.mu.Lock()
	defer tracker.mu.Unlock()
	if tracker.enriched != 1 {
		t.Errorf("Expected 1 enrichment event, got %d", tracker.enriched)
	}
	got := map[string]bool{}
	for _, e := range tracker.errors {
		got[e] = true
	}
	if len(tracker.errors) != 2 || !got["task_error:scheduler"] || !got["task_panic:scheduler"] {
		t.Errorf("Unexpected error events: %v", tracker.errors)
	}
}

// insufficientAggregate behaves like a generator configured with a larger minimum batch.
type insufficientAggregate struct{}

func (insufficientAggregate) Aggregate(ctx context.Context, evals []core.Evaluation, previous *core.Report) string {
	return narrative.InsufficientData(len(evals), len(evals)+1)
}

func TestReporter_DoesNotStoreInsufficientDataMarker(t *testing.T) {
	ctx := context.Background()
	_, store, gw := newTestReporter(t, 5, &countingAggregate{})
	r := NewReporter(gw, store, insufficientAggregate{}, 5, nil)

	report, err := r.MaybeGenerate(ctx)
	if err != nil || report != nil {
		t.Errorf("Expected nothing stored, got %+v (%v)", report, err)
	}
	h, _ := store.History(ctx)
	if len(h.Reports) != 0 || h.LastReportCount != 0 {
		t.Errorf("Expected empty history, got %+v", h)
	}
}
