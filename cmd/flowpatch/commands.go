package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/flowpatch/pkg/cmd"
	"github.com/dukex/flowpatch/pkg/log"
	"github.com/dukex/flowpatch/pkg/models"
	"github.com/dukex/flowpatch/pkg/provision"
	cli "github.com/urfave/cli/v3"
)

func requireArgs(command *cli.Command, names ...string) ([]string, error) {
	if command.NArg() < len(names) {
		return nil, cli.Exit(fmt.Sprintf("usage: %s <%s>", command.FullName(), strings.Join(names, "> <")), 2)
	}

	return command.Args().Slice()[:len(names)], nil
}

func serveCommand(logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			logger := log.FromContext(ctx, logger)

			return withEngine(ctx, command, logger, func(ctx context.Context, e *cmd.Engine) error {
				logger.InfoContext(ctx, "Initializing flowpatch API")

				return NewAPI(logger, e).Start(ctx, int(command.Int("port")))
			})
		},
	}
}

func definitionsCommand(logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:      "definitions",
		Usage:     "List trigger, action, flow logic or subflow definitions",
		ArgsUsage: "<kind>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "filter", Usage: "Substring of the name or internal name"},
			&cli.StringFlag{Name: "resolve", Usage: "Resolve one name through the full lookup cascade instead of listing"},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			args, err := requireArgs(command, "kind")
			if err != nil {
				return err
			}

			kind, err := models.ParseElementKind(args[0])
			if err != nil {
				return err
			}

			return withEngine(ctx, command, logger, func(ctx context.Context, e *cmd.Engine) error {
				if name := command.String("resolve"); name != "" {
					res, err := e.Capabilities.Resolve(ctx, kind, name)
					if err != nil {
						_ = printJSON(res)

						return err
					}

					return printJSON(res)
				}

				defs, err := e.Capabilities.List(ctx, kind, command.String("filter"))
				if err != nil {
					return err
				}

				return printJSON(defs)
			})
		},
	}
}

func resolveCommand(logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:      "resolve",
		Usage:     "Show how a condition resolves against a flow's trigger, without writing",
		ArgsUsage: "<flow> <expression>",
		Action: func(ctx context.Context, command *cli.Command) error {
			args, err := requireArgs(command, "flow", "expression")
			if err != nil {
				return err
			}

			return withEngine(ctx, command, logger, func(ctx context.Context, e *cmd.Engine) error {
				flow, err := e.Flows.Lookup(ctx, args[0])
				if err != nil {
					return err
				}

				res, err := e.Pills.Preview(ctx, flow.ID, args[1])
				if err != nil {
					return err
				}

				return printJSON(res)
			})
		},
	}
}

func createCommand(logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:      "create",
		Usage:     "Create a flow or subflow",
		ArgsUsage: "<name>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "type", Usage: "flow or subflow", Value: string(models.FlowTypeFlow)},
			&cli.StringFlag{Name: "description"},
			&cli.StringFlag{Name: "category"},
			&cli.StringFlag{Name: "run-as", Usage: "user or system"},
			&cli.BoolFlag{Name: "active", Value: true},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			args, err := requireArgs(command, "name")
			if err != nil {
				return err
			}

			return withEngine(ctx, command, logger, func(ctx context.Context, e *cmd.Engine) error {
				result, err := e.Flows.Create(ctx, provision.CreateRequest{
					Name:        args[0],
					Type:        models.FlowType(command.String("type")),
					Description: command.String("description"),
					Category:    command.String("category"),
					RunAs:       command.String("run-as"),
					Active:      command.Bool("active"),
				})
				if result != nil {
					if perr := printJSON(result); perr != nil {
						return errors.Join(err, perr)
					}
				}

				return err
			})
		},
	}
}

func lockCommand(logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:      "lock",
		Usage:     "Acquire the edit session on a flow and keep it",
		ArgsUsage: "<flow>",
		Action: func(ctx context.Context, command *cli.Command) error {
			args, err := requireArgs(command, "flow")
			if err != nil {
				return err
			}

			return withEngine(ctx, command, logger, func(ctx context.Context, e *cmd.Engine) error {
				sess, err := e.Editor.OpenSession(ctx, args[0])
				if err != nil {
					return err
				}

				return printJSON(map[string]any{"lock": sess.Lock(), "report": sess.Report})
			})
		},
	}
}

func unlockCommand(logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:      "unlock",
		Usage:     "Release the edit session on a flow",
		ArgsUsage: "<flow>",
		Action: func(ctx context.Context, command *cli.Command) error {
			args, err := requireArgs(command, "flow")
			if err != nil {
				return err
			}

			return withEngine(ctx, command, logger, func(ctx context.Context, e *cmd.Engine) error {
				return e.Editor.CloseSession(ctx, args[0])
			})
		},
	}
}

func statusCommand(logger *slog.Logger) *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show a flow's edit session, or every session that was never closed",
		ArgsUsage: "[flow]",
		Action: func(ctx context.Context, command *cli.Command) error {
			return withEngine(ctx, command, logger, func(ctx context.Context, e *cmd.Engine) error {
				if command.NArg() == 0 {
					stale, err := e.Sessions.Stale(ctx)
					if err != nil {
						return err
					}

					return printJSON(map[string]any{"stale": stale})
				}

				status, err := e.Editor.SessionStatus(ctx, command.Args().First())
				if err != nil {
					return err
				}

				return printJSON(status)
			})
		},
	}
}
