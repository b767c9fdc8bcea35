package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pgbridge/pgbridge/internal/applog"
)

var verbose bool

// rootCmd is the pgbridge entry point; subcommands attach themselves via
// init() in their own files.
var rootCmd = &cobra.Command{
	Use:   "pgbridge",
	Short: "Replicate PostgreSQL, MySQL, and SQLite sources into PostgreSQL",
	Long: `pgbridge copies one or more source databases into a PostgreSQL
target, either as a one-shot snapshot (init) or as continuous logical
replication (sync), and reports on progress and data integrity
(status, verify) along the way.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		applog.SetVerbose(verbose)
		log.Logger = applog.New("pgbridge")
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug-level logging")
}

// Execute runs the command tree and prints any returned error before
// propagating it to main for exit-code translation.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return err
}
