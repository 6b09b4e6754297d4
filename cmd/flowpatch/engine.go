package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/dukex/flowpatch/pkg/cmd"
	"github.com/dukex/flowpatch/pkg/config"
	"github.com/dukex/flowpatch/pkg/log"
	"github.com/dukex/flowpatch/pkg/otelhelper"
	cli "github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/trace"
)

// loadConfig reads the configuration file and applies flag overrides.
func loadConfig(command *cli.Command) (config.Config, error) {
	cfg, err := config.Load(command.String("config"))
	if err != nil {
		return cfg, err
	}

	overrides := []struct {
		flag   string
		target *string
	}{
		{"instance-url", &cfg.Instance.URL},
		{"username", &cfg.Instance.Username},
		{"password", &cfg.Instance.Password},
		{"token", &cfg.Instance.Token},
		{"database-url", &cfg.Persistence.URL},
		{"cache", &cfg.Cache.Backend},
		{"redis-url", &cfg.Cache.RedisURL},
		{"event-bus", &cfg.EventBus.Provider},
		{"kafka-brokers", &cfg.EventBus.Brokers},
	}

	for _, o := range overrides {
		if v := command.String(o.flag); v != "" {
			*o.target = v
		}
	}

	if command.IsSet("log-level") {
		cfg.LogLevel = command.String("log-level")
	}

	return cfg, nil
}

// withEngine builds the engine, runs fn and closes everything afterwards.
func withEngine(ctx context.Context, command *cli.Command, logger *slog.Logger, fn func(ctx context.Context, e *cmd.Engine) error) error {
	logger = log.FromContext(ctx, logger)

	cfg, err := loadConfig(command)
	if err != nil {
		return err
	}

	var tracer trace.Tracer

	if command.Bool("tracing") {
		tracer, err = otelhelper.NewTracer(ctx, "flowpatch")
		if err != nil {
			return fmt.Errorf("failed to set up tracing: %w", err)
		}
	}

	engine, err := cmd.NewEngine(ctx, cfg, logger, tracer)
	if err != nil {
		return err
	}

	defer func() {
		if err := engine.Close(context.WithoutCancel(ctx)); err != nil {
			logger.ErrorContext(ctx, "Failed to close engine", "error", err)
		}
	}()

	return fn(ctx, engine)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)

	return enc.Encode(v)
}
