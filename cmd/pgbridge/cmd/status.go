package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pgbridge/pgbridge/internal/statuscheck"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report checkpoint progress and replication lag",
	Long: `status reports, per database, whether init has completed it, and (when
--slot-name/--publication-name are given) the source replication slot's
current lag and the publication's table membership. It never reads row
data.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().String("source", "", "source postgres:// connection string (required)")
	statusCmd.Flags().String("target", "", "target postgres:// connection string (required)")
	statusCmd.Flags().String("slot-name", "", "replication slot to report lag for (omit to skip)")
	statusCmd.Flags().String("publication-name", "", "publication to report table membership for (omit to skip)")
	statusCmd.MarkFlagRequired("source")
	statusCmd.MarkFlagRequired("target")
	addDatabaseFilterFlags(statusCmd)

	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	source, _ := cmd.Flags().GetString("source")
	target, _ := cmd.Flags().GetString("target")
	slotName, _ := cmd.Flags().GetString("slot-name")
	publicationName, _ := cmd.Flags().GetString("publication-name")

	f, err := buildFilter(cmd)
	if err != nil {
		return err
	}

	report, err := statuscheck.Status(cmd.Context(), source, target, f, slotName, publicationName)
	if err != nil {
		return err
	}

	fmt.Printf("Databases: %d/%d completed\n", report.CompletedDatabases, report.TotalDatabases)
	for _, db := range report.Databases {
		state := "pending"
		if db.Completed {
			state = "completed"
		}
		fmt.Printf("  - %-30s %s\n", db.Database, state)
	}

	if slotName != "" {
		if report.SlotActive {
			fmt.Printf("Replication slot %q lag: %d bytes\n", slotName, report.SlotLagBytes)
		} else {
			fmt.Printf("Replication slot %q: not found\n", slotName)
		}
	}

	if publicationName != "" {
		fmt.Printf("Publication %q tables (%d):\n", publicationName, len(report.PublicationTables))
		for _, t := range report.PublicationTables {
			fmt.Printf("  - %s\n", t)
		}
	}

	return nil
}
