// Command prwatch is the terminal client of prwatchd. Without a subcommand
// it starts the interactive session.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	client "github.com/dmitrijs2005/prwatch/internal/cli"
	"github.com/dmitrijs2005/prwatch/internal/config"
	"github.com/dmitrijs2005/prwatch/internal/logging"
	"github.com/dmitrijs2005/prwatch/internal/rpc"
)

type appAction func(ctx context.Context, cmd *cli.Command, app *client.App) error

// withApp connects to the daemon and hands the client to f. Errors from f
// were already printed by the client, so only the exit code is set.
func withApp(f appAction) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, err := config.Load(nil)
		if err != nil {
			return err
		}
		root := cmd.Root()
		if root.IsSet("addr") {
			cfg.ListenAddr = root.String("addr")
			if err := cfg.Validate(); err != nil {
				return err
			}
		}

		logger := logging.New(os.Stderr, "text", root.String("log-level"))

		conn, err := rpc.Dial(cfg.ListenAddr)
		if err != nil {
			return fmt.Errorf("connect to %s: %w", cfg.ListenAddr, err)
		}
		defer conn.Close()

		app := client.NewApp(conn, os.Stdin, os.Stdout, logger)
		if err := f(ctx, cmd, app); err != nil {
			return cli.Exit("", 1)
		}
		return nil
	}
}

func main() {
	cmd := &cli.Command{
		Name:  "prwatch",
		Usage: "Track your open GitHub pull requests",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Aliases: []string{"a"},
				Usage:   "prwatchd bridge address (overrides config)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "warn",
				Usage: "client log level",
			},
		},
		Action: withApp(func(ctx context.Context, _ *cli.Command, app *client.App) error {
			return app.Run(ctx)
		}),
		Commands: []*cli.Command{
			{
				Name:  "status",
				Usage: "Print the sign-in state",
				Action: withApp(func(ctx context.Context, _ *cli.Command, app *client.App) error {
					return app.Status(ctx)
				}),
			},
			{
				Name:    "list",
				Aliases: []string{"l"},
				Usage:   "List pull requests from the last refresh",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "all", Usage: "include hidden pull requests"},
				},
				Action: withApp(func(ctx context.Context, cmd *cli.Command, app *client.App) error {
					if _, err := app.Attach(ctx); err != nil {
						return err
					}
					return app.List(ctx, cmd.Bool("all"))
				}),
			},
			{
				Name:      "refresh",
				Aliases:   []string{"r"},
				Usage:     "Check GitHub now and list the result",
				ArgsUsage: "[search query]",
				Action: withApp(func(ctx context.Context, cmd *cli.Command, app *client.App) error {
					if _, err := app.Attach(ctx); err != nil {
						return err
					}
					return app.Refresh(ctx, strings.Join(cmd.Args().Slice(), " "))
				}),
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
