package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/burnet/burnet/pkg/config"
	"github.com/burnet/burnet/pkg/telemetry"
)

func newAgentCommand(opts *globalOptions) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Keep the object store open and serve its metrics",
		Long: `Run in the foreground with the object store open.

The agent serves Prometheus metrics for the connection pool, store operations
and tasks, checks the store periodically, and applies log level changes from
the config file without a restart. It stops on SIGINT or SIGTERM.`,
		Example: `  burnet agent --config /etc/burnet/burnet.cue`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd.Context(), opts, interval)
		},
	}

	cmd.Flags().DurationVar(&interval, "check-interval", 30*time.Second, "interval between store health checks")

	return cmd
}

func runAgent(ctx context.Context, opts *globalOptions, interval time.Duration) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	// Component loggers are built once; the effective level is the global
	// one so that reloads take effect everywhere.
	tc := cfg.Telemetry()
	tc.Logging.Level = "trace"
	zerolog.SetGlobalLevel(telemetry.ParseLevel(cfg.Logging.Level))

	tel, err := telemetry.NewTelemetry(tc)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Telemetry shutdown failed")
		}
	}()

	store, err := openStore(ctx, cfg, tel)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := tel.StartMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	if opts.configPath != "" {
		err := config.Watch(ctx, opts.configPath, *tel.Logger.Zerolog(), func(next *config.Config) {
			opts.applyOverrides(next)
			level := next.Logging.Level
			zerolog.SetGlobalLevel(telemetry.ParseLevel(level))
			log.Info().Str("level", level).Msg("Log level updated")

			if next.Store != cfg.Store {
				log.Warn().Msg("Store settings changed; restart the agent to apply them")
			}
		})
		if err != nil {
			return err
		}
	}

	log.Info().
		Str("store", store.Path()).
		Bool("metrics", tc.Metrics.Enabled).
		Str("metrics_address", tc.Metrics.ListenAddress).
		Msg("Agent started")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Agent stopping")
			return nil
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, interval)
			err := store.HealthCheck(checkCtx)
			cancel()

			stats := store.Stats()
			event := log.Debug()
			if err != nil {
				event = log.Error().Err(err)
			}
			event.
				Int("connections_created", stats.Created).
				Int("connections_in_use", stats.InUse).
				Int64("pool_waits", stats.Waits).
				Msg("Store health check")
		}
	}
}
