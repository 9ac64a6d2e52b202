package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/hopx-ai/hopx-cli/internal/app"
	"github.com/hopx-ai/hopx-cli/internal/observability"
)

// shutdownTimeout bounds flushing of pending log exports on exit.
const shutdownTimeout = 5 * time.Second

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	return newRootCommand().Run(ctx, args)
}

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "hopx",
		Usage: "Command-line client for hopx cloud sandboxes",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file (default ~/.hopx/config.toml if present)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json)",
			},
			&cli.StringFlag{
				Name:  "otlp--endpoint",
				Usage: "export logs to this OTLP collector URL",
			},
			&cli.StringFlag{
				Name:  "otlp--protocol",
				Usage: "OTLP transport (http|grpc)",
			},
			&cli.StringFlag{
				Name:    "profile",
				Aliases: []string{"p"},
				Usage:   "credential profile",
			},
			&cli.StringFlag{
				Name:  "base-url",
				Usage: "hopx API base URL",
			},
			&cli.StringFlag{
				Name:  "auth--storage",
				Usage: "credential storage (auto|keyring|file)",
			},
			&cli.StringFlag{
				Name:  "auth--file",
				Usage: "credentials file path",
			},
		},
		Commands: []*cli.Command{
			authCommand(),
		},
	}
}

// newApp loads the configuration, sets up logging and wires the application.
// The returned cleanup flushes exported log records and must run before exit.
func newApp(ctx context.Context, cmd *cli.Command) (*app.App, func(), error) {
	cfg, err := loadConfig(resolveConfigPath(cmd.String("config")), cmd, os.Environ)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// Set up observability before creating app
	shutdown, err := observability.Instrument(ctx, observability.Options{
		Level:        cfg.LogLevel,
		Format:       string(cfg.LogFormat),
		OTLPEndpoint: cfg.OTLP.Endpoint,
		OTLPProtocol: cfg.OTLP.Protocol,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up observability layer: %w", err)
	}
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "flushing logs: %v\n", err)
		}
	}

	application, err := app.New(cfg)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("failed to create app: %w", err)
	}
	return application, cleanup, nil
}
