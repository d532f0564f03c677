package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mentorlink/study-agent/config"
	"github.com/mentorlink/study-agent/internal/app"
	"github.com/mentorlink/study-agent/pkg/logger"
)

// env carries state shared by the subcommands.
type env struct {
	cfg      *config.Config
	logLevel string
}

func newRootCommand() *cobra.Command {
	e := &env{}
	cmd := &cobra.Command{
		Use:           "agentctl",
		Short:         "Operate the study agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&e.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newMigrateCommand(e),
		newTriggerCommand(e),
		newStatusCommand(e),
		newRecentCommand(e),
		newMetricsCommand(e),
		newDrainCommand(e),
		newRunJobCommand(e),
		newScheduleCommand(e),
		newFeaturesCommand(e),
		newHousekeepingCommand(e),
		newAPIKeyCommand(),
		newTokenCommand(e),
	)
	return cmd
}

// loadConfig loads the configuration on first use, so commands that need none
// run without a valid environment.
func (e *env) loadConfig() (*config.Config, error) {
	if e.cfg != nil {
		return e.cfg, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	e.cfg = cfg
	return cfg, nil
}

func (e *env) logger() *slog.Logger {
	return logger.New(logger.Options{
		Output: os.Stderr,
		Level:  logger.ParseLevel(e.logLevel),
		Format: logger.FormatText,
	})
}

// withApp builds the service graph for the duration of fn.
func (e *env) withApp(ctx context.Context, opts app.Options, fn func(a *app.App) error) error {
	cfg, err := e.loadConfig()
	if err != nil {
		return err
	}
	opts.SkipConsumers = true
	a, err := app.New(ctx, cfg, e.logger(), opts)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close(context.WithoutCancel(ctx)) }()
	return fn(a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
