package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pgbridge/pgbridge/internal/orchestrator"
	"github.com/pgbridge/pgbridge/internal/statuscheck"
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Compare row counts between source and target per table",
	Long: `verify enumerates every included table in every selected database and
compares its source row count against the target's, reporting any
mismatch. It does not diff row contents.`,
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().String("source", "", "source connection string or file path (required)")
	verifyCmd.Flags().String("target", "", "target postgres:// connection string (required)")
	verifyCmd.MarkFlagRequired("source")
	verifyCmd.MarkFlagRequired("target")
	addDatabaseFilterFlags(verifyCmd)
	addTableFilterFlags(verifyCmd)

	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	source, _ := cmd.Flags().GetString("source")
	target, _ := cmd.Flags().GetString("target")

	f, err := buildFilter(cmd)
	if err != nil {
		return err
	}

	report, err := statuscheck.Verify(cmd.Context(), orchestrator.SchemeFromURL(source), source, target, f)
	if err != nil {
		return err
	}

	fmt.Printf("Checked %d table(s), %d mismatch(es)\n", report.TablesChecked, len(report.Mismatches))
	for _, m := range report.Mismatches {
		fmt.Printf("  - %s.%s: source=%d target=%d\n", m.Database, m.Table, m.SourceCount, m.TargetCount)
	}

	if len(report.Mismatches) > 0 {
		return fmt.Errorf("%d table(s) failed verification", len(report.Mismatches))
	}
	return nil
}
