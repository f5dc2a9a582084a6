package handlers

import (
	"context"
	"evalboard/internal/config"
	"evalboard/internal/llm"
	"evalboard/internal/logger"
	"evalboard/internal/narrative"
	"evalboard/internal/observability"
	"evalboard/internal/persistence"
	"evalboard/internal/pipeline"
	"evalboard/internal/reports"
	"evalboard/internal/service"
	"fmt"
	"time"
)

// app holds the components shared by every command.
type app struct {
	cfg       *config.Config
	gateway   *persistence.Gateway
	narrator  *narrative.Generator
	reports   *reports.Store
	reporter  *pipeline.Reporter
	posthog   *observability.PostHogClient
	llmClient *llm.Client
}

// newApp wires configuration, stores and the narrative generator.
func newApp() (*app, error) {
	log := logger.Get()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	posthog, err := observability.NewPostHogClient(cfg.Observability.PostHog)
	if err != nil {
		log.Warn("PostHog disabled", "error", err)
		posthog = nil
	}

	var durable persistence.Backend
	if cfg.Database.Driver != "none" && cfg.Database.ConnectionString != "" {
		store, err := persistence.NewSQLStore(cfg.Database.Driver, cfg.Database.ConnectionString)
		if err != nil {
			return nil, fmt.Errorf("failed to open durable store: %w", err)
		}
		// Reachability is checked per call; an unreachable database only routes
		// calls to the fallback until it comes back.
		log.Info("Durable store configured", "driver", cfg.Database.Driver)
		durable = store
	} else {
		log.Info("No durable store configured, using local fallback", "directory", cfg.Fallback.Directory)
	}

	fallback, err := persistence.NewFileStore(cfg.Fallback.Directory)
	if err != nil {
		if durable != nil {
			_ = durable.Close()
		}
		return nil, fmt.Errorf("failed to open fallback store: %w", err)
	}
	gateway := persistence.NewGateway(durable, fallback, nil, cfg.Database.Timeout)

	a := &app{cfg: cfg, gateway: gateway, posthog: posthog}

	// A nil generator makes every narrative use the deterministic fallback.
	var generator narrative.TextGenerator
	if cfg.HasGemini() {
		client, err := llm.NewClient(cfg.AI.Gemini.APIKey, cfg.AI.Gemini.Model, llm.TextGenerationOptions{
			MaxTokens:   cfg.AI.Gemini.MaxTokens,
			Temperature: cfg.AI.Gemini.Temperature,
		})
		if err != nil {
			log.Warn("Text generation unavailable, using fallback narratives", "error", err)
		} else {
			a.llmClient = client
			generator = llm.NewTracedClient(client, client.ModelName(), "generate_content", posthog)
		}
	} else {
		log.Info("No Gemini API key configured, using fallback narratives")
	}

	a.narrator = narrative.New(generator, narrative.Config{
		Timeout:        cfg.Pipeline.GenerationTimeout,
		ContextRecords: cfg.Pipeline.ContextRecords,
		MinBatchSize:   cfg.Pipeline.BatchSize,
	})
	a.reports = reports.NewStore(gateway)
	a.reporter = pipeline.NewReporter(gateway, a.reports, a.narrator, cfg.Pipeline.BatchSize, posthog)

	return a, nil
}

// service builds the application service; enricher may be nil.
func (a *app) service(enricher service.Enqueuer) *service.Service {
	return service.New(a.gateway, a.reports, a.reporter, enricher, a.posthog)
}

// close flushes analytics and releases both stores.
func (a *app) close() {
	log := logger.Get()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.posthog.Shutdown(ctx); err != nil {
		log.Warn("PostHog shutdown failed", "error", err)
	}
	if a.llmClient != nil {
		a.llmClient.Close()
	}
	if err := a.gateway.Close(); err != nil {
		log.Warn("Failed to close stores", "error", err)
	}
}
