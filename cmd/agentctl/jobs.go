package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mentorlink/study-agent/internal/app"
	"github.com/mentorlink/study-agent/internal/application/query"
	"github.com/mentorlink/study-agent/internal/application/trigger"
	"github.com/mentorlink/study-agent/internal/domain/job"
)

func newTriggerCommand(e *env) *cobra.Command {
	var (
		jobType string
		force   bool
		drain   bool
		by      string
	)
	cmd := &cobra.Command{
		Use:   "trigger <user-id>",
		Short: "Queue a plan generation job for a student",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t := job.Type(jobType)
			if !t.IsValid() {
				return fmt.Errorf("unknown job type %q", jobType)
			}
			return e.withApp(cmd.Context(), app.Options{}, func(a *app.App) error {
				rec, err := a.Triggers.Manual(cmd.Context(), trigger.ManualRequest{
					UserID:      args[0],
					Type:        t,
					Force:       force,
					RequestedBy: by,
				})
				if err != nil {
					return err
				}
				if drain {
					if _, err := a.Pool.Drain(cmd.Context()); err != nil {
						return err
					}
					if rec, err = a.JobQueries.Status(cmd.Context(), rec.ID); err != nil {
						return err
					}
				}
				return printJSON(cmd.OutOrStdout(), rec)
			})
		},
	}
	cmd.Flags().StringVar(&jobType, "type", string(job.TypeMentorAgent), "job type (mentor_agent, career_planner, adhoc)")
	cmd.Flags().BoolVar(&force, "force", false, "bypass the duplicate window")
	cmd.Flags().BoolVar(&drain, "wait", false, "process the queue in this process before returning")
	cmd.Flags().StringVar(&by, "as", "agentctl", "requester recorded on the job")
	return cmd
}

func newStatusCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withApp(cmd.Context(), app.Options{}, func(a *app.App) error {
				rec, err := a.JobQueries.Status(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), rec)
			})
		},
	}
}

func newRecentCommand(e *env) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "recent <user-id>",
		Short: "List a student's recent jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withApp(cmd.Context(), app.Options{}, func(a *app.App) error {
				recs, err := a.JobQueries.Recent(cmd.Context(), args[0], time.Duration(days)*24*time.Hour)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), recs)
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "lookback in days")
	return cmd
}

func newMetricsCommand(e *env) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Aggregate job counts and durations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if days < 1 {
				return fmt.Errorf("--days must be positive")
			}
			return e.withApp(cmd.Context(), app.Options{}, func(a *app.App) error {
				to := time.Now()
				res, err := a.JobQueries.Metrics(cmd.Context(), query.MetricsQuery{
					From: to.Add(-time.Duration(days) * 24 * time.Hour),
					To:   to,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "window in days")
	return cmd
}

func newDrainCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Process every queued job in this process and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return e.withApp(cmd.Context(), app.Options{}, func(a *app.App) error {
				n, err := a.Pool.Drain(cmd.Context())
				fmt.Fprintf(cmd.OutOrStdout(), "processed %d job(s)\n", n)
				return err
			})
		},
	}
}

func newRunJobCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:       "run <daily_sweep|weekly_sweep|housekeeping>",
		Short:     "Run a scheduled job now",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"daily_sweep", "weekly_sweep", "housekeeping"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return e.withApp(cmd.Context(), app.Options{}, func(a *app.App) error {
				res, err := a.Scheduler.RunNow(cmd.Context(), args[0])
				if err != nil {
					if res != nil {
						return fmt.Errorf("%s failed after %s: %w", res.JobName, res.Duration, err)
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s finished in %s\n", res.JobName, res.Duration)
				return nil
			})
		},
	}
}

func newScheduleCommand(e *env) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Show registered scheduled jobs, run totals and event bus counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit < 0 {
				return fmt.Errorf("--limit must not be negative")
			}
			return e.withApp(cmd.Context(), app.Options{}, func(a *app.App) error {
				return printJSON(cmd.OutOrStdout(), a.Operations(limit))
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "recent runs to include (0 for all)")
	return cmd
}

func newHousekeepingCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "housekeeping",
		Short: "Deactivate stale suggestions and purge old unaccepted ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return e.withApp(cmd.Context(), app.Options{}, func(a *app.App) error {
				res, err := a.Housekeeping.Execute(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
}
