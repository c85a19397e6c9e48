package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nerrad567/gray-logic-iot/internal/command"
	"github.com/nerrad567/gray-logic-iot/internal/infrastructure/logging"
)

func newExpireCmd(opts *rootOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Time out in-flight commands that never received feedback",
		Long: `Runs a single expiry sweep. Commands still pending, sent or acknowledged
after the command timeout are moved to timeout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			log := logging.New(cfg.Logging, version)

			db, err := openDatabase(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer db.Close() //nolint:errcheck // CLI exit

			timeout := cfg.CommandTimeout()
			if olderThan > 0 {
				timeout = olderThan
			}

			expirer := command.NewExpirer(command.NewSQLiteRepository(db.DB),
				command.LogSink{Logger: log}, timeout, log)
			cutoff := expirer.Cutoff()

			count, err := expirer.Sweep(cmd.Context())
			if err != nil {
				return fmt.Errorf("expiring commands: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Timed out %d command(s) older than %s.\n",
				count, cutoff.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 0, "override commands.timeout_seconds")
	return cmd
}
