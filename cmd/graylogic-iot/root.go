package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/database"
	_ "github.com/nerrad567/gray-logic-iot/migrations" // registers the embedded migrations
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "graylogic-iot <command>",
		Short:         "Device command core: dispatch, feedback reconciliation and expiry",
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"config file (default $GRAYLOGIC_CONFIG or "+defaultConfigPath+")")

	root.AddCommand(
		newServeCmd(opts),
		newExpireCmd(opts),
		newMigrateCmd(opts),
		newEvalCmd(),
		newTokenCmd(opts),
	)
	return root
}

// loadConfig reads the configuration. An explicit path must exist; the
// implicit default path falls back to built-in defaults when missing.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	path := o.configPath
	if path == "" {
		path = os.Getenv("GRAYLOGIC_CONFIG")
	}
	if path != "" {
		return config.Load(path)
	}

	if _, err := os.Stat(defaultConfigPath); errors.Is(err, fs.ErrNotExist) {
		cfg := config.Default()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("validating config: %w", err)
		}
		return cfg, nil
	}
	return config.Load(defaultConfigPath)
}

// openDatabase opens the configured database and applies pending migrations.
func openDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	db, err := openRaw(cfg)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}
