package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rickgao/resilientws/internal/config"
	"github.com/rickgao/resilientws/internal/connection"
	"github.com/rickgao/resilientws/internal/logging"
	"github.com/rickgao/resilientws/internal/version"
)

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	url        string
	verbose    bool
	logFormat  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "wsclient",
		Short: "Resilient WebSocket client",
		Long: `wsclient keeps a WebSocket connection alive across network failures.

It can print incoming messages, send one-off messages, or record all
traffic and lifecycle events to PostgreSQL while exposing Prometheus
metrics.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to config file")
	flags.StringVarP(&opts.url, "url", "u", "", "server URL, overrides endpoint in the config file")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
	flags.StringVar(&opts.logFormat, "log-format", "", "log format: text or json")

	root.AddCommand(
		listenCmd(opts),
		sendCmd(opts),
		recordCmd(opts),
		versionCmd(),
	)
	return root
}

// app is the state every client-running command starts from.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	closer io.Closer
}

func (a *app) Close() error {
	return a.closer.Close()
}

// loadConfig reads the config file, if any, and applies flag overrides.
// mutate runs before validation.
func loadConfig(opts *rootOptions, mutate func(*config.Config)) (*config.Config, error) {
	cfg := config.Default()
	if opts.configPath != "" {
		var err error
		if cfg, err = config.LoadWithDefaults(opts.configPath); err != nil {
			return nil, err
		}
	}

	if opts.url != "" {
		cfg.Endpoint = config.EndpointConfig{URL: opts.url}
	}
	if opts.verbose {
		cfg.Log.Level = "debug"
	}
	if opts.logFormat != "" {
		cfg.Log.Format = opts.logFormat
	}
	if mutate != nil {
		mutate(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func setup(opts *rootOptions, mutate func(*config.Config)) (*app, error) {
	cfg, err := loadConfig(opts, mutate)
	if err != nil {
		return nil, err
	}

	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	logger.Debug("configuration loaded",
		"version", version.Version,
		"config", opts.configPath,
	)
	return &app{cfg: cfg, logger: logger, closer: closer}, nil
}

// newClient builds a client from the config and installs its headers.
func (a *app) newClient() (*connection.Client, error) {
	cc, err := a.cfg.BuildClientConfig()
	if err != nil {
		return nil, err
	}
	client, err := connection.New(cc, a.logger)
	if err != nil {
		return nil, err
	}
	for name, value := range a.cfg.Client.Headers {
		if !client.AddHeader(name, value) {
			a.logger.Warn("duplicate header ignored", "header", name)
		}
	}
	return client, nil
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// logLifecycle mirrors client events into the log.
func logLifecycle(client *connection.Client, logger *slog.Logger) {
	client.OnConnected().Register(func(ctx context.Context, _ connection.ConnectedEvent) error {
		logger.Info("connected", "session_id", client.SessionID())
		return nil
	})
	client.OnDisconnected().Register(func(ctx context.Context, e connection.DisconnectedEvent) error {
		logger.Info("disconnected", "code", int(e.Code), "reason", e.Reason)
		return nil
	})
	client.OnError().Register(func(ctx context.Context, e connection.ErrorEvent) error {
		logger.Warn("client error", "error", e.Err)
		return nil
	})
	client.OnRetry().Register(func(ctx context.Context, e connection.RetryEvent) error {
		logger.Info(e.Description)
		return nil
	})
}
