package cmd

import (
	"context"
	"fmt"
	"net/url"

	"golang.org/x/sync/errgroup"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pgbridge/pgbridge/internal/errkind"
	"github.com/pgbridge/pgbridge/internal/filter"
	"github.com/pgbridge/pgbridge/internal/orchestrator"
	"github.com/pgbridge/pgbridge/internal/pgpass"
	"github.com/pgbridge/pgbridge/internal/publication"
	"github.com/pgbridge/pgbridge/internal/source"
	"github.com/pgbridge/pgbridge/internal/syncapply"
	"github.com/pgbridge/pgbridge/internal/syncengine"
	"github.com/pgbridge/pgbridge/internal/tablerules"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Continuously replicate row changes from a PostgreSQL source",
	Long: `sync declares (or reuses) a publication covering the selected tables in
each selected database, creates (or resumes) one logical replication slot
per database, and applies every row change to the matching table on the
target as it arrives. It runs until cancelled.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().String("source", "", "source postgres:// connection string (required)")
	syncCmd.Flags().String("target", "", "target postgres:// connection string (required)")
	syncCmd.Flags().String("slot-name", "pgbridge_sync", "replication slot name (created per database, suffixed with the database name)")
	syncCmd.Flags().String("publication-name", "pgbridge_sync", "publication name (created per database, suffixed with the database name)")
	syncCmd.MarkFlagRequired("source")
	syncCmd.MarkFlagRequired("target")
	addDatabaseFilterFlags(syncCmd)
	addTableFilterFlags(syncCmd)
	addTableRuleFlags(syncCmd)

	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	sourceURL, _ := cmd.Flags().GetString("source")
	targetURL, _ := cmd.Flags().GetString("target")
	slotBase, _ := cmd.Flags().GetString("slot-name")
	pubBase, _ := cmd.Flags().GetString("publication-name")

	scheme := orchestrator.SchemeFromURL(sourceURL)
	if scheme != "postgres" && scheme != "postgresql" {
		return errkind.New(errkind.InvalidConfig, "sync only supports a PostgreSQL source, got scheme %q", scheme)
	}

	f, err := buildFilter(cmd)
	if err != nil {
		return err
	}
	rules, err := buildTableRules(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	adapter, err := source.Open(ctx, scheme, sourceURL)
	if err != nil {
		return errkind.New(errkind.ConnectionFailed, "failed to open source adapter: %w", err)
	}
	defer adapter.Close()

	databases, err := f.DatabasesToReplicate(ctx, sourceDatabaseLister{adapter})
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for _, db := range databases {
		db := db
		group.Go(func() error {
			return runSyncForDatabase(groupCtx, sourceURL, targetURL, db, adapter, f, rules, slotBase, pubBase)
		})
	}
	return group.Wait()
}

type sourceDatabaseLister struct{ adapter source.Adapter }

func (l sourceDatabaseLister) ListDatabaseNames(ctx context.Context) ([]string, error) {
	return l.adapter.ListDatabases(ctx)
}

func runSyncForDatabase(ctx context.Context, sourceURL, targetURL, db string, adapter source.Adapter, f *filter.Filter, rules *tablerules.TableRules, slotBase, pubBase string) error {
	slotName := slotBase + "_" + db
	pubName := pubBase + "_" + db

	sourceDBURL, err := pgpass.WithDatabase(sourceURL, db)
	if err != nil {
		return err
	}
	targetDBURL, err := pgpass.WithDatabase(targetURL, db)
	if err != nil {
		return err
	}

	sourcePool, err := pgxpool.New(ctx, sourceDBURL)
	if err != nil {
		return errkind.New(errkind.ConnectionFailed, "failed to connect to source database %q: %w", db, err)
	}
	defer sourcePool.Close()

	allTables := f.IsEmpty() && rules.IsEmpty()

	var specs []publication.TableSpec
	if !allTables {
		tables, err := adapter.ListTables(ctx, db)
		if err != nil {
			return fmt.Errorf("failed to list tables in database %q: %w", db, err)
		}
		for _, t := range tables {
			if !f.ShouldReplicateTable(db, t.Name) {
				continue
			}
			rule := rules.RuleForTable(db, t.Schema, t.Name)
			if rule.Tag == tablerules.KindSchemaOnly {
				continue
			}
			specs = append(specs, publication.TableSpec{Schema: t.Schema, Table: t.Name, Predicate: rule.Predicate})
		}
	}
	if err := publication.Create(ctx, sourcePool, pubName, specs, allTables); err != nil {
		return err
	}

	targetPool, err := pgxpool.New(ctx, targetDBURL)
	if err != nil {
		return errkind.New(errkind.ConnectionFailed, "failed to connect to target database %q: %w", db, err)
	}
	defer targetPool.Close()

	replConnString, err := replicationConnString(sourceDBURL)
	if err != nil {
		return err
	}
	replConn, err := pgconn.Connect(ctx, replConnString)
	if err != nil {
		return errkind.New(errkind.ConnectionFailed, "failed to open replication connection to database %q: %w", db, err)
	}
	defer replConn.Close(ctx)

	opts := syncengine.Options{SlotName: slotName, PublicationName: pubName}
	if err := syncengine.EnsureSlot(ctx, replConn, opts); err != nil {
		return err
	}

	log.Info().Str("database", db).Str("slot", slotName).Str("publication", pubName).Msg("starting sync loop")
	applier := syncapply.New(targetPool)
	return syncengine.Start(ctx, replConn, opts, applier.Handler())
}

// replicationConnString sets the "replication=database" runtime parameter
// pgconn needs to open a logical replication protocol connection, preserving
// every other part of dbURL.
func replicationConnString(dbURL string) (string, error) {
	parsed, err := url.Parse(dbURL)
	if err != nil {
		return "", errkind.New(errkind.InvalidConfig, "failed to parse connection URL: %w", err)
	}
	q := parsed.Query()
	q.Set("replication", "database")
	parsed.RawQuery = q.Encode()
	return parsed.String(), nil
}
