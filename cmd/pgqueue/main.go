// Command pgqueue runs queue workers and administers the job table.
//
// Subcommands:
//
//	worker   start a runner that executes jobs until interrupted
//	migrate  apply pending schema migrations and exit
//	publish  publish one job, optionally waiting for its result
//	stats    print job counts per status
//
// Configuration comes from PGQUEUE_* environment variables.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/RezaEskandarii/pgqueue/app"
	"github.com/RezaEskandarii/pgqueue/client"
	"github.com/RezaEskandarii/pgqueue/internal/db"
	"github.com/RezaEskandarii/pgqueue/internal/state"
	"github.com/RezaEskandarii/pgqueue/jobmanager"
	"github.com/RezaEskandarii/pgqueue/types/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func main() {
	root := &cobra.Command{
		Use:           "pgqueue",
		Short:         "Durable job queue on PostgreSQL",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.AddCommand(
		workerCmd(),
		migrateCmd(),
		publishCmd(),
		statsCmd(),
	)

	if err := root.Execute(); err != nil {
		logrus.WithError(err).Error("command failed")
		os.Exit(1)
	}
}

func workerCmd() *cobra.Command {
	var heartbeat string
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a queue runner until SIGINT or SIGTERM",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWorker(cmd.Context(), heartbeat)
		},
	}
	cmd.Flags().StringVar(&heartbeat, "heartbeat", "", "cron expression for publishing a heartbeat job, e.g. \"@every 1m\"")
	return cmd
}

func runWorker(ctx context.Context, heartbeat string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	container, err := app.NewContainer(ctx, cfg)
	if err != nil {
		return err
	}
	queue := container.Queue
	logger := container.Log

	if err := registerBuiltins(queue); err != nil {
		return err
	}
	if err := queue.Start(ctx); err != nil {
		_ = queue.Destroy()
		return err
	}

	scheduler := client.NewCronScheduler(queue.Publisher(), logger)
	if heartbeat != "" {
		if _, err := scheduler.Schedule(heartbeat, "heartbeat", cfg.Instance, client.WithQueueName("heartbeat")); err != nil {
			_ = queue.Destroy()
			return err
		}
		scheduler.Start()
	}

	logger.WithField("handlers", container.JobHandler.List()).Info("worker started")
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.MaxJobTimeout+cfg.LeaseGrace)
	defer cancel()

	g, gctx := errgroup.WithContext(shutdownCtx)
	g.Go(func() error { return scheduler.Stop(gctx) })
	g.Go(queue.Destroy)
	return g.Wait()
}

// registerBuiltins installs the handlers every worker understands.
func registerBuiltins(queue *client.Queue) error {
	if err := queue.Register("echo", func(ctx context.Context, args json.RawMessage) (any, error) {
		return args, nil
	}); err != nil {
		return err
	}
	return queue.Register("heartbeat", func(ctx context.Context, args json.RawMessage) (any, error) {
		return time.Now().UTC(), nil
	})
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFromEnv(config.WithMigrations(true))
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			if cfg.StorageDriver != config.Postgres {
				return fmt.Errorf("migrate needs the postgres storage driver, got %s", cfg.StorageDriver)
			}
			container, err := app.NewContainer(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer container.Queue.Destroy()

			return db.Migrate(cmd.Context(), cfg.PostgresConfig.ConnectionUrl, container.LockManager, container.Log)
		},
	}
}

func publishCmd() *cobra.Command {
	var (
		queueName string
		priority  int
		timeout   time.Duration
		wait      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "publish CATEGORY [ARGS_JSON]",
		Short: "Publish a job and optionally wait for its result",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload := json.RawMessage("null")
			if len(args) == 2 {
				payload = json.RawMessage(args[1])
				if !json.Valid(payload) {
					return fmt.Errorf("args must be valid JSON: %s", args[1])
				}
			}

			cfg, err := config.LoadFromEnv()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			queue, err := jobmanager.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer queue.Destroy()

			job, err := queue.Publish(cmd.Context(), args[0], payload,
				client.WithQueueName(queueName), client.WithPriority(priority), client.WithTimeout(timeout))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "published job %d\n", job.ID())

			if wait <= 0 {
				return nil
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), wait)
			defer cancel()
			result, err := job.Wait(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(result))
			return nil
		},
	}
	cmd.Flags().StringVar(&queueName, "queue", "default", "queue name; jobs in one queue run one at a time")
	cmd.Flags().IntVar(&priority, "priority", 0, "job priority")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "handler timeout, capped by the runner's maximum")
	cmd.Flags().DurationVar(&wait, "wait", 0, "wait this long for the job's result")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print job counts per status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadFromEnv()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			queue, err := jobmanager.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer queue.Destroy()

			stats, err := queue.Stats(cmd.Context())
			if err != nil {
				return err
			}
			statuses := make([]state.JobStatus, 0, len(stats))
			for status := range stats {
				statuses = append(statuses, status)
			}
			sort.Slice(statuses, func(i, j int) bool { return statuses[i] < statuses[j] })
			for _, status := range statuses {
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s %d\n", status, stats[status])
			}
			return nil
		},
	}
}
