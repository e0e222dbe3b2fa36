package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukex/drip/pkg/cmd"
	"github.com/dukex/drip/pkg/log"
	"github.com/dukex/drip/pkg/otelhelper"
	"github.com/dukex/drip/pkg/scheduler"
	"github.com/dukex/drip/pkg/services"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cmd := &cli.Command{
		Name:                  "drip-worker",
		EnableShellCompletion: true,
		Usage:                 "Trigger workflows from contact events and advance their executions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (file://, postgres://, redis://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus type (kafka, gochannel)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma separated Kafka brokers",
				Value:   "localhost:9092",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.DurationFlag{
				Name:    "resume-interval",
				Usage:   "How often waiting executions are checked for resumption",
				Value:   scheduler.DefaultResumeInterval,
				Sources: cli.EnvVars("RESUME_INTERVAL"),
			},
			&cli.StringFlag{
				Name:    "date-sweep-schedule",
				Usage:   "Cron expression (UTC) for birthday and anniversary triggers",
				Value:   scheduler.DefaultDateSweepSchedule,
				Sources: cli.EnvVars("DATE_SWEEP_SCHEDULE"),
			},
			&cli.DurationFlag{
				Name:    "webhook-timeout",
				Usage:   "Timeout of a single webhook delivery",
				Value:   10 * time.Second,
				Sources: cli.EnvVars("WEBHOOK_TIMEOUT"),
			},
			&cli.StringFlag{
				Name:    "workflows-file",
				Usage:   "YAML file of workflow definitions imported at startup",
				Sources: cli.EnvVars("WORKFLOWS_FILE"),
			},
			&cli.IntFlag{
				Name:    "api-port",
				Usage:   "Serve the HTTP API from the worker on this port (0 disables)",
				Value:   0,
				Sources: cli.EnvVars("API_PORT"),
			},
			&cli.BoolFlag{
				Name:    "otel-enabled",
				Usage:   "Export traces over OTLP/HTTP",
				Sources: cli.EnvVars("OTEL_ENABLED"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   log.FormatText,
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("drip-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing Drip Worker")

			var tracer trace.Tracer

			if command.Bool("otel-enabled") {
				t, shutdown, err := otelhelper.NewTracer(ctx, "drip-worker")
				if err != nil {
					return fmt.Errorf("failed to initialize tracer: %w", err)
				}

				defer func() {
					if err := shutdown(context.WithoutCancel(ctx)); err != nil {
						logger.ErrorContext(ctx, "Failed to flush traces", "error", err)
					}
				}()

				tracer = t
			}

			eventBus := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), "drip-worker", logger)
			defer func() {
				err := eventBus.Close()
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			engine := cmd.NewEngine(persistence, eventBus, tracer, logger, command.Duration("webhook-timeout"))

			if path := command.String("workflows-file"); path != "" {
				err := cmd.ProvisionWorkflows(ctx, services.NewWorkflow(persistence, engine, logger), path, logger)
				if err != nil {
					return err
				}
			}

			worker, err := NewWorkerManager(workerID, persistence, eventBus, engine, logger, WorkerConfig{
				ResumeInterval:    command.Duration("resume-interval"),
				DateSweepSchedule: command.String("date-sweep-schedule"),
				APIPort:           command.Int("api-port"),
			})
			if err != nil {
				return err
			}

			if err := worker.Start(ctx); err != nil {
				logger.ErrorContext(ctx, "Failed to start worker", "error", err)

				return err
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			select {
			case sig := <-sigChan:
				logger.InfoContext(ctx, "Received signal", "signal", sig)
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			return worker.Stop(shutdownCtx)
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
