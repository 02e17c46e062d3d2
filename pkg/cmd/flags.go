package cmd

import (
	cli "github.com/urfave/cli/v3"
)

// CommonFlags are the flags shared by every binary.
func CommonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Database connection URL for persistence (postgres:// or a directory)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (memory, kafka)",
			Value:   EventBusMemory,
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringSliceFlag{
			Name:    "kafka-brokers",
			Usage:   "Kafka brokers for the event bus and the kafka trigger",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for the queue trigger and shared event deduplication",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.StringFlag{
			Name:    "plugins-path",
			Usage:   "Path to the directory containing instruction and trigger plugins",
			Value:   "./plugins",
			Sources: cli.EnvVars("PLUGINS_PATH"),
		},
		&cli.IntFlag{
			Name:    "max-depth",
			Usage:   "Maximum sub-workflow nesting depth",
			Value:   10,
			Sources: cli.EnvVars("MAX_DEPTH"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export OpenTelemetry traces over OTLP/HTTP",
			Sources: cli.EnvVars("TRACING_ENABLED"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
	}
}

// OptionsFromCommand reads CommonFlags.
func OptionsFromCommand(command *cli.Command, serviceName string) Options {
	return Options{
		ServiceName:  serviceName,
		DatabaseURL:  command.String("database-url"),
		EventBus:     command.String("event-bus"),
		KafkaBrokers: command.StringSlice("kafka-brokers"),
		RedisURL:     command.String("redis-url"),
		PluginsPath:  command.String("plugins-path"),
		MaxDepth:     command.Int("max-depth"),
		Tracing:      command.Bool("tracing"),
	}
}
