// Package main provides the Drip API server.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dukex/drip/pkg/cmd"
	"github.com/dukex/drip/pkg/log"
	"github.com/dukex/drip/pkg/otelhelper"
	"github.com/dukex/drip/pkg/services"
	"github.com/dukex/drip/pkg/web"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
)

const defaultPort = 9091

func main() {
	cmd := &cli.Command{
		Name:                  "drip-api",
		Usage:                 "Manage workflows, inspect executions and ingest contact events",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
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
			&cli.StringFlag{
				Name:    "workflows-file",
				Usage:   "YAML file of workflow definitions imported at startup",
				Sources: cli.EnvVars("WORKFLOWS_FILE"),
			},
			&cli.DurationFlag{
				Name:    "webhook-timeout",
				Usage:   "Timeout of a single webhook delivery on manual resume",
				Value:   10 * time.Second,
				Sources: cli.EnvVars("WEBHOOK_TIMEOUT"),
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

			logger := log.WithModule("drip-api")

			logger.InfoContext(ctx, "Initializing Drip API")

			var tracer trace.Tracer

			if command.Bool("otel-enabled") {
				t, shutdown, err := otelhelper.NewTracer(ctx, "drip-api")
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

			persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				err := persistence.Close(ctx)
				if err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), command.String("kafka-brokers"), "drip-api", logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			if command.String("event-bus") == "gochannel" {
				logger.WarnContext(ctx, "Events ingested with the gochannel bus never leave this process; use drip-worker --api-port for a single-process setup")
			}

			engine := cmd.NewEngine(persistence, eventBus, tracer, logger, command.Duration("webhook-timeout"))

			if path := command.String("workflows-file"); path != "" {
				err := cmd.ProvisionWorkflows(ctx, services.NewWorkflow(persistence, engine, logger), path, logger)
				if err != nil {
					return err
				}
			}

			server := web.NewServer(logger, persistence, engine, eventBus)

			err := server.Start(command.Int("port"))
			if err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)
			}

			return nil
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
