package cmd

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pgbridge/pgbridge/internal/orchestrator"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check that source and target are ready for replication",
	Long: `validate runs every pre-flight check init would run — URL shape,
same-endpoint protection, external tool presence, source connectivity and
database discovery, target connectivity — without copying any data.`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().String("source", "", "source connection string or file path (required)")
	validateCmd.Flags().String("target", "", "target postgres:// connection string (required)")
	validateCmd.MarkFlagRequired("source")
	validateCmd.MarkFlagRequired("target")
	addDatabaseFilterFlags(validateCmd)
	addTableFilterFlags(validateCmd)

	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	source, _ := cmd.Flags().GetString("source")
	target, _ := cmd.Flags().GetString("target")

	f, err := buildFilter(cmd)
	if err != nil {
		return err
	}

	cfg := orchestrator.Config{
		SourceURL:    source,
		TargetURL:    target,
		SourceScheme: orchestrator.SchemeFromURL(source),
		Filter:       f,
	}

	databases, err := orchestrator.Validate(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	fmt.Printf("OK: %d database(s) selected for replication:\n", len(databases))
	for _, db := range databases {
		fmt.Printf("  - %s\n", db)
	}
	log.Info().Int("databases", len(databases)).Msg("validation succeeded")
	return nil
}
