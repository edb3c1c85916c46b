package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/runebook/internal"
	pkgconfig "github.com/starford/runebook/pkg/config"
)

var version = "dev"

func serve(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")

	cfg := internal.NewDefaultConfig()
	if err := pkgconfig.Load(configPath, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

// withClient opens the local workspace for one command and closes it after.
func withClient(fn func(ctx context.Context, cmd *cli.Command, c *internal.Client) error, extra ...internal.Option) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg := internal.NewDefaultConfig()
		if err := pkgconfig.LoadOptional(cmd.String("config"), cfg); err != nil {
			return fmt.Errorf("failed to parse config: %w", err)
		}

		opts := append([]internal.Option{
			internal.WithConfig(cfg),
			internal.WithAssumeYes(cmd.Bool("yes")),
		}, extra...)
		c, err := internal.OpenClient(ctx, opts...)
		if err != nil {
			return fmt.Errorf("open workspace: %w", err)
		}

		err = fn(ctx, cmd, c)
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
		return err
	}
}

// ref returns the first positional argument or fails with usage text.
func ref(cmd *cli.Command, what string) (string, error) {
	if cmd.Args().Len() < 1 {
		return "", fmt.Errorf("%s: missing document (id, position or name)", what)
	}
	return cmd.Args().First(), nil
}

func yesFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:    "yes",
		Aliases: []string{"y"},
		Usage:   "Answer yes to confirmations",
	}
}

func main() {
	cmd := &cli.Command{
		Name:    "runebook",
		Usage:   "Multi-document Go scratchpad with a local cache, remote sync and an embedded interpreter",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the remote document store server",
				Action: serve,
			},
			{
				Name:      "run",
				Usage:     "Run the selected document, or the given one",
				ArgsUsage: "[document]",
				Action: withClient(func(ctx context.Context, cmd *cli.Command, c *internal.Client) error {
					_, err := c.Run(ctx, cmd.Args().First())
					return err
				}),
			},
			{
				Name:  "tui",
				Usage: "Open the interactive workbench",
				Action: withClient(func(ctx context.Context, _ *cli.Command, c *internal.Client) error {
					return c.ServeTUI(ctx)
				}, internal.WithTerminalUI()),
			},
			{
				Name:  "mcp",
				Usage: "Serve the workspace over MCP on stdio",
				Action: withClient(func(_ context.Context, _ *cli.Command, c *internal.Client) error {
					return c.ServeMCP(version)
				}, internal.WithNoPrompt()),
			},
			{
				Name:  "docs",
				Usage: "Manage workspace documents",
				Commands: []*cli.Command{
					{
						Name:  "list",
						Usage: "List documents; * marks the selected one",
						Action: withClient(func(_ context.Context, _ *cli.Command, c *internal.Client) error {
							return c.List()
						}),
					},
					{
						Name:      "show",
						Usage:     "Print a document",
						ArgsUsage: "<document>",
						Action: withClient(func(_ context.Context, cmd *cli.Command, c *internal.Client) error {
							r, err := ref(cmd, "show")
							if err != nil {
								return err
							}
							return c.Show(r)
						}),
					},
					{
						Name:      "new",
						Usage:     "Create and select a document; prompts for a name when none is given",
						ArgsUsage: "[name]",
						Action: withClient(func(ctx context.Context, cmd *cli.Command, c *internal.Client) error {
							_, err := c.New(ctx, cmd.Args().First())
							return err
						}),
					},
					{
						Name:      "rm",
						Usage:     "Remove a document",
						ArgsUsage: "<document>",
						Flags:     []cli.Flag{yesFlag()},
						Action: withClient(func(ctx context.Context, cmd *cli.Command, c *internal.Client) error {
							r, err := ref(cmd, "rm")
							if err != nil {
								return err
							}
							return c.Remove(ctx, r)
						}),
					},
					{
						Name:      "select",
						Usage:     "Select a document",
						ArgsUsage: "<document>",
						Action: withClient(func(_ context.Context, cmd *cli.Command, c *internal.Client) error {
							r, err := ref(cmd, "select")
							if err != nil {
								return err
							}
							return c.Select(r)
						}),
					},
					{
						Name:      "put",
						Usage:     "Replace a document's content with stdin or --file",
						ArgsUsage: "<document>",
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "Read content from this file"},
						},
						Action: withClient(func(_ context.Context, cmd *cli.Command, c *internal.Client) error {
							r, err := ref(cmd, "put")
							if err != nil {
								return err
							}
							if path := cmd.String("file"); path != "" {
								f, err := os.Open(path)
								if err != nil {
									return err
								}
								defer f.Close()
								return c.Put(r, f)
							}
							return c.Put(r, os.Stdin)
						}),
					},
					{
						Name:      "rename",
						Usage:     "Rename a document",
						ArgsUsage: "<document> <name>",
						Action: withClient(func(_ context.Context, cmd *cli.Command, c *internal.Client) error {
							if cmd.Args().Len() != 2 {
								return fmt.Errorf("rename: expected <document> <name>")
							}
							return c.Rename(cmd.Args().Get(0), cmd.Args().Get(1))
						}),
					},
				},
			},
			{
				Name:  "sandbox",
				Usage: "List files staged in the engine sandbox",
				Action: withClient(func(_ context.Context, _ *cli.Command, c *internal.Client) error {
					return c.Sandbox()
				}),
			},
			{
				Name:      "login",
				Usage:     "Sync this workspace with an identity on the remote",
				ArgsUsage: "<identity>",
				Action: withClient(func(ctx context.Context, cmd *cli.Command, c *internal.Client) error {
					if cmd.Args().Len() != 1 {
						return fmt.Errorf("login: expected <identity>")
					}
					return c.Login(ctx, cmd.Args().First())
				}),
			},
			{
				Name:  "logout",
				Usage: "Stop syncing and clear local documents",
				Flags: []cli.Flag{yesFlag()},
				Action: withClient(func(ctx context.Context, _ *cli.Command, c *internal.Client) error {
					return c.Logout(ctx)
				}),
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
