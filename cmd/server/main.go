package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirechat-rooms/internal/app"
	"github.com/vovakirdan/wirechat-rooms/internal/config"
	"github.com/vovakirdan/wirechat-rooms/internal/log"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "wirechat-rooms",
		Short:        "Real-time room and presence coordinator",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCmd(), newVersionCmd())
	return root
}

func newServeCmd() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the websocket gateway and HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			bootLog := log.New("info", "console")

			cfg, path, err := config.Load(bootLog, opts.configPath)
			if err != nil {
				return err
			}
			opts.apply(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := log.New(cfg.LogLevel, cfg.LogFormat)
			logger.Info().Str("config", path).Str("version", version).Msg("configuration loaded")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(ctx, &cfg, logger)
			if err != nil {
				return fmt.Errorf("init app: %w", err)
			}

			logger.Info().Str("addr", cfg.Addr).Msg("starting wirechat rooms")
			if err := application.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("server exited with error")
				return err
			}
			logger.Info().Msg("server stopped")
			return nil
		},
	}

	opts.bind(cmd)
	return cmd
}

// serveOptions holds the command-line overrides of the serve command.
type serveOptions struct {
	configPath string
	overrides  config.Config
}

func (o *serveOptions) bind(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&o.configPath, "config", "c", "", "path to config.yaml")
	flags.StringVar(&o.overrides.Addr, "addr", "", "HTTP listen address")
	flags.DurationVar(&o.overrides.ReadHeaderTimeout, "read-header-timeout", 0, "HTTP read header timeout")
	flags.DurationVar(&o.overrides.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")
	flags.StringVar(&o.overrides.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	flags.StringVar(&o.overrides.SessionBackend, "session-backend", "", "session snapshot backend (json, sqlite)")
	flags.StringVar(&o.overrides.SessionsPath, "sessions-path", "", "session snapshot location")
	flags.IntVar(&o.overrides.MessagesPerMinute, "messages-per-minute", 0, "per-connection inbound frames per minute, 0 disables")
}

// apply layers the flags over cfg. Zero values mean "not set" except for
// flags given explicitly, so --messages-per-minute=0 turns the limit off.
func (o *serveOptions) apply(cmd *cobra.Command, cfg *config.Config) {
	cfg.UpdateFrom(o.overrides)
	if cmd.Flags().Changed("messages-per-minute") {
		cfg.MessagesPerMinute = o.overrides.MessagesPerMinute
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
