// Package observability holds product analytics and Prometheus metrics.
package observability

import (
	"context"
	"evalboard/internal/config"
	"fmt"
	"log/slog"

	"github.com/posthog/posthog-go"
)

// PostHogClient wraps the PostHog SDK for product analytics
type PostHogClient struct {
	client  posthog.Client
	enabled bool
	log     *slog.Logger
}

// EventProperties contains properties for an event
type EventProperties map[string]interface{}

// NewPostHogClient creates a new PostHog analytics client. A disabled config
// yields a client whose methods are no-ops.
func NewPostHogClient(cfg config.PostHogConfig) (*PostHogClient, error) {
	if !cfg.Enabled {
		return &PostHogClient{
			enabled: false,
			log:     slog.Default(),
		}, nil
	}

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("PostHog enabled but missing API key")
	}

	client, err := posthog.NewWithConfig(cfg.APIKey, posthog.Config{
		Endpoint: cfg.Host,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create PostHog client: %w", err)
	}

	return &PostHogClient{
		client:  client,
		enabled: true,
		log:     slog.Default(),
	}, nil
}

// IsEnabled returns whether PostHog tracking is enabled
func (p *PostHogClient) IsEnabled() bool {
	return p != nil && p.enabled
}

// Capture sends an event to PostHog
func (p *PostHogClient) Capture(ctx context.Context, distinctID string, event string, properties EventProperties) error {
	if !p.IsEnabled() {
		return nil
	}

	props := posthog.NewProperties()
	for k, v := range properties {
		props.Set(k, v)
	}

	if err := p.client.Enqueue(posthog.Capture{
		DistinctId: distinctID,
		Event:      event,
		Properties: props,
	}); err != nil {
		p.log.Warn("Failed to enqueue analytics event", "event", event, "error", err)
		return err
	}
	return nil
}

// TrackEvaluationSubmitted tracks a newly stored evaluation. Comments are never sent.
func (p *PostHogClient) TrackEvaluationSubmitted(ctx context.Context, evaluationID string, total int) error {
	return p.Capture(ctx, "system", "evaluation_submitted", EventProperties{
		"evaluation_id": evaluationID,
		"criteria_sum":  total,
	})
}

// TrackEvaluationEnriched tracks completion of a per-record narrative.
func (p *PostHogClient) TrackEvaluationEnriched(ctx context.Context, evaluationID string, stored bool, durationMs int64) error {
	return p.Capture(ctx, "system", "evaluation_enriched", EventProperties{
		"evaluation_id": evaluationID,
		"stored":        stored,
		"duration_ms":   durationMs,
	})
}

// TrackReportGenerated tracks when an aggregate report is appended
func (p *PostHogClient) TrackReportGenerated(ctx context.Context, reportID string, studentCount int, score string, durationMs int64) error {
	return p.Capture(ctx, "system", "report_generated", EventProperties{
		"report_id":     reportID,
		"student_count": studentCount,
		"score":         score,
		"duration_ms":   durationMs,
	})
}

// TrackError tracks when an error occurs
func (p *PostHogClient) TrackError(ctx context.Context, errorType string, errorMessage string, component string) error {
	return p.Capture(ctx, "system", "error_occurred", EventProperties{
		"error_type":    errorType,
		"error_message": errorMessage,
		"component":     component,
	})
}

// TrackLLMCall tracks text-generation calls for cost and performance monitoring
func (p *PostHogClient) TrackLLMCall(ctx context.Context, model string, operation string, latencyMs int64, success bool) error {
	return p.Capture(ctx, "system", "llm_call", EventProperties{
		"model":      model,
		"operation":  operation, // e.g. "generate_content"
		"latency_ms": latencyMs,
		"success":    success,
	})
}

// Shutdown flushes pending events and closes the PostHog client
func (p *PostHogClient) Shutdown(ctx context.Context) error {
	if !p.IsEnabled() {
		return nil
	}

	return p.client.Close()
}
