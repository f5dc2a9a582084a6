// Package pipeline runs the background work that follows ingestion:
// per-record enrichment and the aggregate report check.
package pipeline

import (
	"context"
	"evalboard/internal/core"
	"evalboard/internal/logger"
	"evalboard/internal/observability"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc/panics"
)

// Options configures a Scheduler.
type Options struct {
	// PerRecordDelay holds each enrichment back before generation starts.
	PerRecordDelay time.Duration
	// Posthog receives enrichment and task-failure events; nil disables them.
	Posthog Tracker
}

// Scheduler spawns supervised background tasks. Task errors and panics are
// sent to one error channel, logged, and dropped; they never reach the caller
// that enqueued the work.
type Scheduler struct {
	narratives NarrativeGenerator
	store      NarrativeStore
	reports    ReportTrigger
	opts       Options
	log        *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	tasks  sync.WaitGroup

	errs     chan taskFailure
	errsDone chan struct{}
}

// taskFailure is one error or panic from a supervised task.
type taskFailure struct {
	task     string
	panicked bool
	err      error
}

// NewScheduler creates a Scheduler and starts its error supervisor.
func NewScheduler(narratives NarrativeGenerator, store NarrativeStore, reports ReportTrigger, opts Options) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		narratives: narratives,
		store:      store,
		reports:    reports,
		opts:       opts,
		log:        logger.Get(),
		ctx:        ctx,
		cancel:     cancel,
		errs:       make(chan taskFailure, 64),
		errsDone:   make(chan struct{}),
	}
	go s.supervise()
	return s
}

// supervise logs and reports every task failure, then drops it.
func (s *Scheduler) supervise() {
	defer close(s.errsDone)
	for f := range s.errs {
		errorType := "task_error"
		if f.panicked {
			errorType = "task_panic"
		}
		s.log.Error("Background task failed", "task", f.task, "panic", f.panicked, "error", f.err)
		if s.opts.Posthog != nil {
			_ = s.opts.Posthog.TrackError(context.Background(), errorType, f.err.Error(), "scheduler")
		}
	}
}

// Go runs task in the background under supervision. It returns false when
// the scheduler is closed and the task was dropped.
func (s *Scheduler) Go(name string, task func(ctx context.Context) error) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.log.Warn("Scheduler closed, dropping task", "task", name)
		return false
	}
	s.tasks.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.tasks.Done()

		var err error
		var pc panics.Catcher
		pc.Try(func() { err = task(s.ctx) })
		if r := pc.Recovered(); r != nil {
			s.errs <- taskFailure{task: name, panicked: true, err: r.AsError()}
			return
		}
		if err != nil {
			s.errs <- taskFailure{task: name, err: err}
		}
	}()
	return true
}

// Enqueue schedules enrichment of a freshly stored record. It returns
// immediately.
func (s *Scheduler) Enqueue(eval core.Evaluation) {
	s.Go("enrich "+eval.ID, func(ctx context.Context) error {
		return s.enrich(ctx, eval)
	})
}

// enrich generates the record's narrative, stores it, then runs the report
// check. A failed narrative update is logged and not retried.
func (s *Scheduler) enrich(ctx context.Context, eval core.Evaluation) error {
	if s.opts.PerRecordDelay > 0 {
		select {
		case <-time.After(s.opts.PerRecordDelay):
		case <-ctx.Done():
			observability.EnrichmentTasks.WithLabelValues("cancelled").Inc()
			return ctx.Err()
		}
	}

	start := time.Now()
	text := s.narratives.PerRecord(ctx, eval)

	found, err := s.store.UpdateNarrative(ctx, eval.ID, text)
	switch {
	case err != nil:
		observability.EnrichmentTasks.WithLabelValues("update_failed").Inc()
		s.log.Error("Failed to store evaluation narrative", "evaluation_id", eval.ID, "error", err)
	case !found:
		observability.EnrichmentTasks.WithLabelValues("record_gone").Inc()
		s.log.Warn("Evaluation removed before its narrative was stored", "evaluation_id", eval.ID)
	default:
		observability.EnrichmentTasks.WithLabelValues("stored").Inc()
		s.log.Debug("Evaluation narrative stored", "evaluation_id", eval.ID, "duration", time.Since(start))
	}
	if s.opts.Posthog != nil {
		_ = s.opts.Posthog.TrackEvaluationEnriched(ctx, eval.ID, err == nil && found, time.Since(start).Milliseconds())
	}

	if _, err := s.reports.MaybeGenerate(ctx); err != nil {
		return fmt.Errorf("report check after %s: %w", eval.ID, err)
	}
	return nil
}

// Run calls the report check every interval until ctx is done. It is the
// scheduler tick that catches thresholds no enrichment completion observed.
func (s *Scheduler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Go("report tick", func(taskCtx context.Context) error {
				_, err := s.reports.MaybeGenerate(taskCtx)
				return err
			})
		}
	}
}

// Wait blocks until every task spawned so far has finished.
func (s *Scheduler) Wait() {
	s.tasks.Wait()
}

// Close stops accepting tasks and waits for in-flight ones. If ctx ends
// first, running tasks are cancelled and Close still waits for them to return.
func (s *Scheduler) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.tasks.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("scheduler shutdown: %w", ctx.Err())
		s.cancel()
		<-done
	}
	s.cancel()

	close(s.errs)
	<-s.errsDone
	return err
}
