package persistence

import (
	"context"
	"errors"
	"evalboard/internal/core"
	"evalboard/internal/logger"
	"evalboard/internal/observability"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Connectivity states reported by Gateway.State.
const (
	StateDurable  = "durable"
	StateFallback = "fallback"
)

// Gateway routes every call to the durable backend when it is reachable and
// falls through to the fallback backend on any durable failure. Each call
// probes independently; a failure never disables the durable path for later calls.
type Gateway struct {
	durable  Backend
	fallback Backend
	healthy  HealthCheck
	log      *slog.Logger
	lastSeen atomic.Bool
}

// NewGateway creates a gateway over durable (may be nil) and fallback.
// When check is nil and durable implements Pinger, reachability is probed
// with a ping bounded by pingTimeout.
func NewGateway(durable, fallback Backend, check HealthCheck, pingTimeout time.Duration) *Gateway {
	if check == nil {
		check = PingCheck(durable, pingTimeout)
	}
	return &Gateway{
		durable:  durable,
		fallback: fallback,
		healthy:  check,
		log:      logger.Get(),
	}
}

// PingCheck builds a HealthCheck that pings b with the given timeout.
// Backends without a Ping method are assumed reachable.
func PingCheck(b Backend, timeout time.Duration) HealthCheck {
	return func(ctx context.Context) bool {
		if b == nil {
			return false
		}
		p, ok := b.(Pinger)
		if !ok {
			return true
		}
		if timeout <= 0 {
			timeout = 2 * time.Second
		}
		pingCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return p.Ping(pingCtx) == nil
	}
}

// State returns the connectivity observed on the most recent call.
func (g *Gateway) State() string {
	if g.lastSeen.Load() {
		return StateDurable
	}
	return StateFallback
}

// useDurable evaluates reachability for this call.
func (g *Gateway) useDurable(ctx context.Context) bool {
	if g.durable == nil {
		g.lastSeen.Store(false)
		return false
	}
	ok := g.healthy(ctx)
	g.lastSeen.Store(ok)
	return ok
}

func (g *Gateway) fellBack(op string, err error) {
	g.log.Warn("Durable store operation failed, using fallback store",
		"operation", op,
		"backend", g.durable.Name(),
		"error", fmt.Errorf("%w: %v", core.ErrStoreUnavailable, err).Error(),
	)
	observability.StoreFallbacks.WithLabelValues(op).Inc()
}

// PutEvaluation persists a new record. It returns an error only when both
// backends fail, so a nil error means the record is stored somewhere.
func (g *Gateway) PutEvaluation(ctx context.Context, eval core.Evaluation) error {
	if g.useDurable(ctx) {
		err := g.durable.InsertEvaluation(ctx, eval)
		if err == nil {
			return nil
		}
		g.fellBack("put_evaluation", err)
	}

	if err := g.fallback.InsertEvaluation(ctx, eval); err != nil {
		return fmt.Errorf("failed to store evaluation %s: %w", eval.ID, err)
	}
	return nil
}

// Evaluations returns all records.
func (g *Gateway) Evaluations(ctx context.Context) ([]core.Evaluation, error) {
	if g.useDurable(ctx) {
		evals, err := g.durable.ListEvaluations(ctx)
		if err == nil {
			return evals, nil
		}
		g.fellBack("list_evaluations", err)
	}

	evals, err := g.fallback.ListEvaluations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list evaluations: %w", err)
	}
	return evals, nil
}

// CountEvaluations returns the total record count.
func (g *Gateway) CountEvaluations(ctx context.Context) (int, error) {
	if g.useDurable(ctx) {
		n, err := g.durable.CountEvaluations(ctx)
		if err == nil {
			return n, nil
		}
		g.fellBack("count_evaluations", err)
	}

	n, err := g.fallback.CountEvaluations(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count evaluations: %w", err)
	}
	return n, nil
}

// UpdateEvaluation applies patch to the record with id. A record missing from
// the durable store is also looked up in the fallback store, since it may have
// been written there during an outage.
func (g *Gateway) UpdateEvaluation(ctx context.Context, id string, patch EvaluationPatch) (bool, error) {
	if g.useDurable(ctx) {
		found, err := g.durable.UpdateEvaluation(ctx, id, patch)
		if err == nil && found {
			return true, nil
		}
		if err != nil {
			g.fellBack("update_evaluation", err)
		}
	}

	found, err := g.fallback.UpdateEvaluation(ctx, id, patch)
	if err != nil {
		return false, fmt.Errorf("failed to update evaluation %s: %w", id, err)
	}
	return found, nil
}

// UpdateNarrative overwrites the narrative of the record with id.
func (g *Gateway) UpdateNarrative(ctx context.Context, id, narrative string) (bool, error) {
	return g.UpdateEvaluation(ctx, id, EvaluationPatch{Narrative: &narrative})
}

// DeleteEvaluation removes the record with id from whichever backend holds it
// and reports whether it existed.
func (g *Gateway) DeleteEvaluation(ctx context.Context, id string) (bool, error) {
	if g.useDurable(ctx) {
		deleted, err := g.durable.DeleteEvaluation(ctx, id)
		if err == nil && deleted {
			return true, nil
		}
		if err != nil {
			g.fellBack("delete_evaluation", err)
		}
	}

	deleted, err := g.fallback.DeleteEvaluation(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete evaluation %s: %w", id, err)
	}
	return deleted, nil
}

// ReportHistory returns the stored report history, oldest first.
func (g *Gateway) ReportHistory(ctx context.Context) (core.ReportHistory, error) {
	if g.useDurable(ctx) {
		h, err := g.durable.LoadReportHistory(ctx)
		if err == nil {
			return h, nil
		}
		g.fellBack("load_report_history", err)
	}

	h, err := g.fallback.LoadReportHistory(ctx)
	if err != nil {
		return core.ReportHistory{}, fmt.Errorf("failed to load report history: %w", err)
	}
	return h, nil
}

// AppendReport appends report if the last report count still equals expectedLast.
// A stale append on the durable store is returned as core.ErrStaleReport and
// never retried on the fallback. expectedLast was read from whichever backend
// served the history, so when the durable append fails operationally the
// fallback only checks that report.StudentCount exceeds its own stored counts.
func (g *Gateway) AppendReport(ctx context.Context, report core.Report, expectedLast int) error {
	if g.useDurable(ctx) {
		err := g.durable.AppendReport(ctx, report, expectedLast)
		if err == nil || errors.Is(err, core.ErrStaleReport) {
			return err
		}
		g.fellBack("append_report", err)
		expectedLast = AnyLastCount
	}

	if err := g.fallback.AppendReport(ctx, report, expectedLast); err != nil {
		return fmt.Errorf("failed to append report: %w", err)
	}
	return nil
}

// Ping reports whether the durable store is reachable right now.
func (g *Gateway) Ping(ctx context.Context) error {
	if !g.useDurable(ctx) {
		return core.ErrStoreUnavailable
	}
	return nil
}

// Close closes both backends.
func (g *Gateway) Close() error {
	var errs []error
	if g.durable != nil {
		errs = append(errs, g.durable.Close())
	}
	errs = append(errs, g.fallback.Close())
	return errors.Join(errs...)
}
