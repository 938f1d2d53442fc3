package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/b0ase/kintsugi/internal/adapter/llm"
	"github.com/b0ase/kintsugi/internal/config"
	"github.com/b0ase/kintsugi/internal/events"
	"github.com/b0ase/kintsugi/internal/handlers"
	"github.com/b0ase/kintsugi/internal/metering"
	"github.com/b0ase/kintsugi/internal/platform/ratelimiter"
	"github.com/b0ase/kintsugi/internal/policy"
	"github.com/b0ase/kintsugi/internal/repository"
	"github.com/b0ase/kintsugi/internal/service"
	"github.com/b0ase/kintsugi/internal/tools"
	transporthttp "github.com/b0ase/kintsugi/internal/transport/http"
	"github.com/b0ase/kintsugi/internal/transport/ws"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cmd.Flags().Changed("port") {
				cfg.HTTPPort = port
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "HTTP port (overrides HTTP_PORT)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger, err := newLogger(cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	logger.Info("starting kintsugi", "port", cfg.HTTPPort, "database", cfg.DatabaseURL)

	// Initialize store
	store, err := repository.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer store.Close()

	sink := events.NewRecorder(store)
	meter := metering.NewPrometheusMeter(logger)

	// Initialize policy engine
	engine, err := policy.LoadEngine(ctx, cfg.PolicyFile)
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	// Tools
	registry := tools.NewRegistry()
	if err := handlers.New(store, sink, logger).Register(registry); err != nil {
		return fmt.Errorf("failed to register tool handlers: %w", err)
	}
	executor := tools.NewExecutor(registry, sink, engine, meter, logger)
	catalog := tools.DefaultCatalog()

	// Completion client
	client, err := llm.NewClientFromConfig(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize completion client: %w", err)
	}
	client = llm.WithTimeout(client, cfg.CompletionTimeout)
	mode, ok := llm.ParseMode(cfg.DefaultMode)
	if !ok {
		return fmt.Errorf("unknown default mode %q", cfg.DefaultMode)
	}

	orch := service.NewOrchestrator(client, catalog, executor, sink, meter, service.Options{
		MaxToolIterations: cfg.MaxToolIterations,
		Mode:              mode,
		SystemPrompt:      cfg.SystemPrompt,
	}, logger)
	svc := service.New(orch, store, catalog, logger)

	// Transports
	limiter := ratelimiter.PerHour(cfg.RateLimitPerHour)
	hub := ws.NewHub(logger)
	go hub.Run(ctx)
	socket := ws.NewServer(ctx, hub, svc, ws.Options{Limiter: limiter}, logger)

	server := transporthttp.NewServer(svc, transporthttp.Options{
		Logger:  logger,
		Limiter: limiter,
		Metrics: meter.Handler(),
		Socket:  socket,
	})

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	logger.Info("server started", "port", cfg.HTTPPort, "provider", client.Name(), "mode", mode)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("stopped")
	return nil
}
