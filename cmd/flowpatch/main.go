// Package main provides the flowpatch command line and API server.
package main

import (
	"context"
	"errors"
	"io/fs"
	"os"

	"github.com/dukex/flowpatch/pkg/log"
	"github.com/joho/godotenv"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9092

func main() {
	logger := log.WithModule("flowpatch")

	cmd := &cli.Command{
		Name:                  "flowpatch",
		Usage:                 "Build and modify Flow Designer flows without the visual editor",
		EnableShellCompletion: true,
		Flags:                 globalFlags(),
		Before: func(ctx context.Context, command *cli.Command) (context.Context, error) {
			if err := godotenv.Load(command.String("env-file")); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return ctx, err
			}

			log.Setup(command.String("log-level"))

			return log.WithLogger(ctx, log.WithModule("flowpatch")), nil
		},
		Commands: []*cli.Command{
			serveCommand(logger),
			definitionsCommand(logger),
			resolveCommand(logger),
			createCommand(logger),
			lockCommand(logger),
			unlockCommand(logger),
			statusCommand(logger),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logger.Error("flowpatch failed", "error", err)
		os.Exit(1)
	}
}

func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to a YAML configuration file",
			Sources: cli.EnvVars("FLOWPATCH_CONFIG"),
		},
		&cli.StringFlag{
			Name:  "env-file",
			Usage: "Dotenv file loaded before flags are read",
			Value: ".env",
		},
		&cli.StringFlag{
			Name:    "instance-url",
			Usage:   "Base URL of the instance",
			Sources: cli.EnvVars("FLOWPATCH_INSTANCE_URL"),
		},
		&cli.StringFlag{
			Name:    "username",
			Usage:   "Instance user for basic auth",
			Sources: cli.EnvVars("FLOWPATCH_USERNAME"),
		},
		&cli.StringFlag{
			Name:    "password",
			Usage:   "Instance password for basic auth",
			Sources: cli.EnvVars("FLOWPATCH_PASSWORD"),
		},
		&cli.StringFlag{
			Name:    "token",
			Usage:   "Bearer token, used instead of basic auth",
			Sources: cli.EnvVars("FLOWPATCH_TOKEN"),
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Session ledger and report store (file://path or postgres://...)",
			Sources: cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "cache",
			Usage:   "Definition cache backend (memory, redis)",
			Sources: cli.EnvVars("FLOWPATCH_CACHE"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for the definition cache",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus provider (gochannel, kafka)",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export traces over OTLP/HTTP",
			Sources: cli.EnvVars("FLOWPATCH_TRACING"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
	}
}
