package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/burnet/burnet/pkg/config"
	"github.com/burnet/burnet/pkg/objectstore"
	"github.com/burnet/burnet/pkg/telemetry"
)

// globalOptions holds the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	storePath  string
	poolSize   int
	verbose    bool
	jsonOutput bool
}

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "burnet",
		Short: "burnet - object store and task manager for a virtualization console",
		Long: `burnet manages the persistent records of a virtualization web console
(templates, storage pool and volume metadata) and runs long operations
in the background.

Records are JSON objects keyed by (type, ident) in a pooled SQLite store.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file path (.cue, .yaml)")
	rootCmd.PersistentFlags().StringVar(&opts.storePath, "store", "", "object store database file (overrides config)")
	rootCmd.PersistentFlags().IntVar(&opts.poolSize, "pool-size", 0, "maximum store connections (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newStoreCommand(opts))
	rootCmd.AddCommand(newAgentCommand(opts))

	return rootCmd
}

// loadConfig reads the config file, if any, and applies flag overrides.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.Load(o.configPath)
	} else {
		cfg, err = config.Default()
	}
	if err != nil {
		return nil, err
	}

	o.applyOverrides(cfg)
	return cfg, nil
}

// applyOverrides lets command line flags win over file settings.
func (o *globalOptions) applyOverrides(cfg *config.Config) {
	if o.storePath != "" {
		cfg.Store.Path = o.storePath
	}
	if o.poolSize != 0 {
		cfg.Store.PoolSize = o.poolSize
	}
	if o.verbose {
		cfg.Logging.Level = "debug"
	}
}

// newTelemetry builds telemetry for a one-shot command: no metrics server
// and synchronous events.
func newTelemetry(cfg *config.Config) (*telemetry.Telemetry, error) {
	tc := cfg.Telemetry()
	tc.Metrics.Enabled = false
	tc.Events.Async = false
	return telemetry.NewTelemetry(tc)
}

// openStore opens the configured object store.
func openStore(ctx context.Context, cfg *config.Config, tel *telemetry.Telemetry) (*objectstore.Store, error) {
	storeCfg, err := cfg.ObjectStore()
	if err != nil {
		return nil, err
	}
	return objectstore.Open(ctx, storeCfg, objectstore.WithTelemetry(tel))
}

// withStore runs fn against a freshly opened store and tears everything down
// afterwards.
func (o *globalOptions) withStore(ctx context.Context, fn func(*objectstore.Store, *telemetry.Telemetry) error) error {
	cfg, err := o.loadConfig()
	if err != nil {
		return err
	}

	tel, err := newTelemetry(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer tel.Shutdown(context.Background())

	store, err := openStore(ctx, cfg, tel)
	if err != nil {
		return err
	}
	defer store.Close()

	return fn(store, tel)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
