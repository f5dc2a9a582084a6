package handlers

import (
	"context"
	"evalboard/internal/logger"
	"evalboard/internal/pipeline"
	"evalboard/internal/server"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// NewServeCmd creates the serve command for starting the HTTP server
func NewServeCmd() *cobra.Command {
	var (
		port int
		host string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the evaluation API server",
		Long: `Start the evalboard HTTP server.

The server provides:
  • POST /api/evaluations for students to submit an evaluation
  • Admin endpoints for listing, deleting and reporting
  • Health, status and metrics endpoints

Every stored evaluation is enriched with a narrative in the background. An
aggregate report is written each time another batch of evaluations arrives,
and a periodic check catches batches missed while the server was down.

Examples:
  # Start server on the configured port (default 3000)
  evalboard serve

  # Start on custom port
  evalboard serve --port 8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(port, host)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "HTTP server port (default from config: 3000)")
	cmd.Flags().StringVar(&host, "host", "", "HTTP server host (default from config: 0.0.0.0)")

	return cmd
}

func runServe(port int, host string) error {
	log := logger.Get()
	log.Info("Starting HTTP server")

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	// Override server config from flags if provided
	serverCfg := a.cfg.Server
	if port != 0 {
		serverCfg.Port = port
	}
	if host != "" {
		serverCfg.Host = host
	}

	scheduler := pipeline.NewScheduler(a.narrator, a.gateway, a.reporter, pipeline.Options{
		PerRecordDelay: a.cfg.Pipeline.PerRecordDelay,
		Posthog:        a.posthog,
	})

	srv := server.New(a.service(scheduler), a.gateway, serverCfg, a.cfg.Observability.Metrics)

	tickCtx, stopTicks := context.WithCancel(context.Background())
	defer stopTicks()
	go scheduler.Run(tickCtx, a.cfg.Pipeline.TickInterval)

	// Channel to listen for errors coming from the server
	serverErrors := make(chan error, 1)

	// Start server in a goroutine
	go func() {
		log.Info(fmt.Sprintf("Server listening on http://%s:%d", serverCfg.Host, serverCfg.Port))
		log.Info("Press Ctrl+C to stop")
		serverErrors <- srv.Start()
	}()

	// Channel to listen for interrupt signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive our signal or an error from server
	select {
	case err := <-serverErrors:
		stopTicks()
		closeScheduler(scheduler, serverCfg.ShutdownTimeout)
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Info("Server shutdown initiated", "signal", sig.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverCfg.ShutdownTimeout)
		defer cancel()

		// Stop accepting requests first so no new enrichment is scheduled.
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("Server shutdown failed, forcing close", "error", err)
		}

		stopTicks()
		closeScheduler(scheduler, serverCfg.ShutdownTimeout)
		log.Info("Server stopped successfully")
	}

	return nil
}

// closeScheduler waits for in-flight enrichment up to timeout.
func closeScheduler(s *pipeline.Scheduler, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		logger.Get().Warn("Background tasks did not finish before shutdown", "error", err)
	}
}
