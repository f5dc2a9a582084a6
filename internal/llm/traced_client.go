package llm

import (
	"context"
	"evalboard/internal/observability"
	"time"
)

// Generator is the text-generation surface shared by Client and TracedClient.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// TracedClient wraps a Generator with PostHog call tracking
type TracedClient struct {
	client    Generator
	model     string
	operation string
	posthog   *observability.PostHogClient
}

// NewTracedClient wraps client so every call is reported as operation.
func NewTracedClient(client Generator, model, operation string, posthog *observability.PostHogClient) *TracedClient {
	return &TracedClient{
		client:    client,
		model:     model,
		operation: operation,
		posthog:   posthog,
	}
}

// Generate calls the wrapped generator and records latency and outcome.
func (tc *TracedClient) Generate(ctx context.Context, prompt string) (string, error) {
	startTime := time.Now()
	result, err := tc.client.Generate(ctx, prompt)
	latency := time.Since(startTime)

	observability.NarrativeLatency.WithLabelValues(tc.operation).Observe(latency.Seconds())
	if tc.posthog.IsEnabled() {
		_ = tc.posthog.TrackLLMCall(ctx, tc.model, tc.operation, latency.Milliseconds(), err == nil)
	}

	return result, err
}
