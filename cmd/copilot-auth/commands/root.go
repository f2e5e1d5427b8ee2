package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/florianilch/copilot-auth/internal/app"
	"github.com/florianilch/copilot-auth/internal/observability"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	return newRootCommand().Run(ctx, args)
}

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:      "copilot-auth",
		Usage:     "GitHub Copilot credentials for LiteLLM",
		Writer:    os.Stdout,
		ErrWriter: os.Stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json)",
				Value: string(app.DefaultConfigLogFormat),
			},
			&cli.StringFlag{
				Name:  "telemetry--exporter",
				Usage: "OpenTelemetry log exporter (none|stdout|otlp-http|otlp-grpc)",
				Value: app.DefaultConfigTelemetryExporter,
			},
			&cli.StringFlag{
				Name:  "storage--dir",
				Usage: "directory holding access-token and api-key.json (default ~/.config/litellm/github_copilot)",
			},
			&cli.BoolFlag{
				Name:  "storage--keyring",
				Usage: "also keep the access token in the OS keyring",
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			modelsCommand(),
			smokeCommand(),
		},
	}
}

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "serve GET /github and store the tokens of completed device authorizations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "server--host",
				Usage: "server host",
				Value: app.DefaultConfigServerHost,
			},
			&cli.IntFlag{
				Name:  "server--port",
				Usage: "server port",
				Value: app.DefaultConfigServerPort,
			},
			&cli.DurationFlag{
				Name:  "rate-limit--interval",
				Usage: "minimum interval between new authorizations",
				Value: app.DefaultConfigRateLimitInterval,
			},
			&cli.IntFlag{
				Name:  "rate-limit--burst",
				Usage: "authorizations allowed in a burst",
				Value: app.DefaultConfigRateLimitBurst,
			},
		},
		Action: serveAction,
	}
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, shutdown, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer flush(shutdown)

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}

	slog.InfoContext(ctx, "starting")

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("app failed: %w", err)
	}

	slog.InfoContext(ctx, "stopped gracefully")
	return nil
}

func modelsCommand() *cli.Command {
	return &cli.Command{
		Name:  "models",
		Usage: "list the Copilot models reachable with the stored GitHub credential",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "output",
				Usage: "output format (table|json|auto), auto prints a table on terminals and JSON otherwise",
				Value: "auto",
				Validator: func(v string) error {
					switch v {
					case "table", "json", "auto":
						return nil
					default:
						return fmt.Errorf("unsupported output format: %s", v)
					}
				},
			},
			&cli.StringFlag{
				Name:  "storage--env-key",
				Usage: "environment variable holding a fallback GitHub token",
				Value: app.DefaultConfigEnvKey,
			},
		},
		Action: modelsAction,
	}
}

func modelsAction(ctx context.Context, cmd *cli.Command) error {
	cfg, shutdown, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer flush(shutdown)

	out := cmd.Root().Writer
	return app.ListModels(ctx, cfg, out, outputFormat(cmd.String("output"), out))
}

// outputFormat resolves auto to a table on terminals and JSON otherwise.
func outputFormat(flag string, w io.Writer) app.ModelsFormat {
	switch flag {
	case "table":
		return app.ModelsFormatTable
	case "json":
		return app.ModelsFormatJSON
	}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return app.ModelsFormatTable
	}
	return app.ModelsFormatJSON
}

func smokeCommand() *cli.Command {
	return &cli.Command{
		Name:  "smoke",
		Usage: "send one completion through the local LiteLLM proxy",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "smoke--base-url",
				Usage: "proxy base URL",
				Value: app.DefaultConfigSmokeBaseURL,
			},
			&cli.StringFlag{
				Name:  "smoke--api-key",
				Usage: "proxy API key",
			},
			&cli.StringFlag{
				Name:  "smoke--model",
				Usage: "model name",
				Value: app.DefaultConfigSmokeModel,
			},
			&cli.StringFlag{
				Name:  "smoke--prompt",
				Usage: "prompt to send",
				Value: app.DefaultConfigSmokePrompt,
			},
			&cli.StringFlag{
				Name:  "smoke--protocol",
				Usage: "API dialect (openai|anthropic)",
				Value: string(app.DefaultConfigSmokeProtocol),
			},
		},
		Action: smokeAction,
	}
}

func smokeAction(ctx context.Context, cmd *cli.Command) error {
	cfg, shutdown, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer flush(shutdown)

	return app.Smoke(ctx, cfg, cmd.Root().Writer)
}

// setup loads the configuration and installs logging.
func setup(ctx context.Context, cmd *cli.Command) (*app.Config, func(context.Context) error, error) {
	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	shutdown, err := observability.Instrument(ctx, observability.Options{
		Level:    cfg.LogLevel,
		Format:   string(cfg.LogFormat),
		Exporter: cfg.Telemetry.Exporter,
		Output:   cmd.Root().ErrWriter,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up observability layer: %w", err)
	}

	return cfg, shutdown, nil
}

// flush stops telemetry export with a fresh context, the command's may be cancelled.
func flush(shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), app.DefaultConfigShutdownTimeout)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "flushing telemetry:", err)
	}
}
