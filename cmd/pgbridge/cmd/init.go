package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pgbridge/pgbridge/internal/orchestrator"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Take a one-shot snapshot of source databases into the target",
	Long: `init copies schema and data from every selected source database into
the target, resuming from a prior interrupted run unless --no-resume is
given. For a PostgreSQL source this dumps and restores via pg_dump/pg_restore
plus a filtered streaming copy for predicate/time-filtered tables; for a
MySQL or SQLite source it converts each row into the canonical JSONB table
shape instead.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().String("source", "", "source connection string or file path (required)")
	initCmd.Flags().String("target", "", "target postgres:// connection string (required)")
	initCmd.Flags().BoolP("yes", "y", false, "skip the confirmation prompt")
	initCmd.Flags().Bool("drop-existing", false, "drop and recreate each target database before copying")
	initCmd.Flags().Bool("no-resume", false, "discard any existing checkpoint and start fresh")
	initCmd.Flags().Bool("enable-sync", false, "record that this init run is expected to be followed by sync, for checkpoint identity")
	initCmd.MarkFlagRequired("source")
	initCmd.MarkFlagRequired("target")
	addDatabaseFilterFlags(initCmd)
	addTableFilterFlags(initCmd)
	addTableRuleFlags(initCmd)

	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	source, _ := cmd.Flags().GetString("source")
	target, _ := cmd.Flags().GetString("target")
	yes, _ := cmd.Flags().GetBool("yes")
	dropExisting, _ := cmd.Flags().GetBool("drop-existing")
	noResume, _ := cmd.Flags().GetBool("no-resume")
	enableSync, _ := cmd.Flags().GetBool("enable-sync")

	f, err := buildFilter(cmd)
	if err != nil {
		return err
	}
	rules, err := buildTableRules(cmd)
	if err != nil {
		return err
	}

	if dropExisting && !yes {
		if !confirm(fmt.Sprintf("This will DROP and recreate every selected database on %s. Continue?", target)) {
			fmt.Println("aborted")
			return nil
		}
	}

	cfg := orchestrator.Config{
		SourceURL:    source,
		TargetURL:    target,
		SourceScheme: orchestrator.SchemeFromURL(source),
		Filter:       f,
		Rules:        rules,
		DropExisting: dropExisting,
		EnableSync:   enableSync,
		NoResume:     noResume,
	}

	if err := orchestrator.Run(cmd.Context(), cfg); err != nil {
		return err
	}
	log.Info().Msg("init complete")
	return nil
}

// confirm prompts message on stdout and reads a yes/no answer from stdin.
func confirm(message string) bool {
	fmt.Printf("%s [y/N]: ", message)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
