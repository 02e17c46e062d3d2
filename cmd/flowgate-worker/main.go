// Package main runs queued executions, resume requests and the background triggers.
package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dukex/flowgate/pkg/cmd"
	"github.com/dukex/flowgate/pkg/log"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	cli "github.com/urfave/cli/v3"
)

const defaultMetricsPort = 9092

func main() {
	command := &cli.Command{
		Name:                  "flowgate-worker",
		EnableShellCompletion: true,
		Usage:                 "Start a worker to execute workflows",
		Flags: append(cmd.CommonFlags(),
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.IntFlag{
				Name:    "metrics-port",
				Usage:   "Port serving /metrics and health endpoints",
				Value:   defaultMetricsPort,
				Sources: cli.EnvVars("METRICS_PORT"),
			},
		),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("flowgate-worker").With("worker_id", workerID)
			logger.InfoContext(ctx, "Initializing Flowgate Worker")

			opts := cmd.OptionsFromCommand(command, "flowgate-worker")
			opts.Background = true

			runtime, err := cmd.NewRuntime(ctx, logger, opts)
			if err != nil {
				return err
			}
			defer runtime.Close(context.Background())

			if err := runtime.Start(ctx, true); err != nil {
				return err
			}

			app := fiber.New()
			app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
			app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker())
			app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(runtime.Registry, promhttp.HandlerOpts{})))

			go func() {
				<-ctx.Done()

				if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
					logger.Error("Failed to shut down metrics server", "error", err)
				}
			}()

			logger.InfoContext(ctx, "worker started")

			return app.Listen(":" + strconv.Itoa(command.Int("metrics-port")))
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := command.Run(ctx, os.Args); err != nil {
		log.WithModule("flowgate-worker").Error("Flowgate Worker stopped", "error", err)
		os.Exit(1)
	}
}
