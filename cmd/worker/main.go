// Package main is the entry point of the study agent service: the job
// worker pool, the scheduler, the academic change feed consumer and the
// HTTP API, all in one process.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/mentorlink/study-agent/config"
	"github.com/mentorlink/study-agent/internal/app"
	httpserver "github.com/mentorlink/study-agent/internal/interface/http"
	"github.com/mentorlink/study-agent/pkg/logger"
	"github.com/mentorlink/study-agent/pkg/timeutil"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGER
	// ─────────────────────────────────────────────────────────────────────────
	log := logger.ForEnvironment(string(cfg.App.Environment), cfg.Observability.LogLevel).
		With(logger.Service(cfg.App.Name))
	log.Info("starting study agent",
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
		"timezone", cfg.App.Timezone,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. DEPENDENCIES
	// ─────────────────────────────────────────────────────────────────────────
	a, err := app.New(ctx, cfg, log, app.Options{Migrate: cfg.Database.AutoMigrate})
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.App.ShutdownTimeout)
		defer cancel()
		if err := a.Close(closeCtx); err != nil {
			log.Error("failed to release resources", "error", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)

	// ─────────────────────────────────────────────────────────────────────────
	// 4. WORKER POOL
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.Worker.Enabled {
		g.Go(func() error { return a.Pool.Run(gctx) })
	} else {
		log.Warn("worker pool disabled, jobs will only be queued")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.Scheduler.Enabled {
		if err := a.Scheduler.Start(gctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
		defer func() {
			if err := a.Scheduler.Stop(); err != nil {
				log.Error("failed to stop scheduler", "error", err)
			}
		}()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. CHANGE FEED
	// ─────────────────────────────────────────────────────────────────────────
	if a.ChangeFeed != nil {
		g.Go(func() error { return a.ChangeFeed.Run(gctx) })
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.HTTP.Enabled {
		srvCfg := httpserver.DefaultConfig()
		srvCfg.Port = cfg.HTTP.Port
		srvCfg.ReadTimeout = cfg.HTTP.ReadTimeout
		srvCfg.WriteTimeout = cfg.HTTP.WriteTimeout
		srvCfg.IdleTimeout = cfg.HTTP.IdleTimeout
		srvCfg.RateLimitPerMinute = cfg.HTTP.RateLimitPerMinute
		srvCfg.AllowedOrigins = cfg.HTTP.AllowedOrigins
		srvCfg.Version = cfg.App.Version

		server := httpserver.NewServer(srvCfg, httpserver.Dependencies{
			Triggers:      a.Triggers,
			Commands:      a.Commands,
			Jobs:          a.JobQueries,
			Suggestions:   a.SuggestionQueries,
			Auth:          a.Auth,
			Features:      cfg.Features,
			HealthChecker: a.Health,
			Operations:    func(limit int) any { return a.Operations(limit) },
			Logger:        log,
			Clock:         timeutil.ClockIn(cfg.App.Location),
		})

		g.Go(func() error {
			errCh := server.StartAsync()
			select {
			case err := <-errCh:
				return err
			case <-gctx.Done():
			}
			log.Info("stopping HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.App.ShutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 8. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("study agent is running",
		"worker", cfg.Worker.Enabled,
		"scheduler", cfg.Scheduler.Enabled,
		"http", cfg.HTTP.Enabled,
		"change_feed", a.ChangeFeed != nil,
	)

	<-gctx.Done()
	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("shutdown completed with errors", "error", err)
		return err
	}
	log.Info("shutdown completed successfully")
	return nil
}
