package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/flowgate/pkg/cmd"
	"github.com/dukex/flowgate/pkg/log"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	command := &cli.Command{
		Name:                  "flowgate-api",
		Usage:                 "Manage workflows, fire actions and resume jobs over HTTP",
		EnableShellCompletion: true,
		Flags: append(cmd.CommonFlags(), &cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "Port to run the API server on",
			Value:   defaultPort,
			Sources: cli.EnvVars("PORT"),
		}),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("api")
			logger.InfoContext(ctx, "Initializing Flowgate API")

			opts := cmd.OptionsFromCommand(command, "flowgate-api")
			// The in-memory bus has no other consumer, so the API also does the worker's job.
			opts.Background = opts.EventBus == cmd.EventBusMemory

			runtime, err := cmd.NewRuntime(ctx, logger, opts)
			if err != nil {
				return err
			}
			defer runtime.Close(context.Background())

			if err := runtime.Start(ctx, opts.Background); err != nil {
				return err
			}

			return NewAPI(logger, runtime).Start(ctx, command.Int("port"))
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := command.Run(ctx, os.Args); err != nil {
		log.WithModule("api").Error("Flowgate API stopped", "error", err)
		os.Exit(1)
	}
}
