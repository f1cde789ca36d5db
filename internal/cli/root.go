package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/bnema/altq/config"
	"github.com/bnema/altq/internal/infrastructure/logger"
)

// NewRootCmd builds the altq command tree. Configuration is loaded from the
// environment before any subcommand runs.
func NewRootCmd(version string) *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "altq",
		Short:         "Background ALT text generation queue",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			a.cfg = cfg

			// Stdout is kept for command output such as stats --json.
			level, _ := logger.ParseLevel(cfg.LogLevel)
			logger.Configure(os.Stderr, level)
			return nil
		},
	}

	root.AddCommand(
		newServeCmd(a),
		newTickCmd(a),
		newEnqueueCmd(a),
		newClearCmd(a),
		newStatsCmd(a),
		newRecentCmd(a),
		newFailuresCmd(a),
		newRetryCmd(a),
		newPurgeCmd(a),
		newCleanupCmd(a),
		newMigrateCmd(a),
		newHashTokenCmd(),
	)
	return root
}
