package commands

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/teranos/croplink/am"
	"github.com/teranos/croplink/db"
	"github.com/teranos/croplink/errors"
	"github.com/teranos/croplink/logger"
)

// DbCmd groups database commands
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: logger.SymDB + " Manage the croplink database",
	Long: logger.SymDB + ` db - database maintenance

Examples:
  croplink db migrate             # Apply pending migrations
  croplink db stats               # Row counts per table and job status`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := am.Load()
		if err != nil {
			return errors.Wrap(err, "failed to load configuration")
		}
		dbPath := cfg.GetDatabasePath()

		if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
			database, err := db.Open(dbPath, nil)
			if err != nil {
				return err
			}
			defer database.Close()
			return printPendingMigrations(cmd.OutOrStdout(), database)
		}

		database, err := openDatabase(dbPath)
		if err != nil {
			return err
		}
		defer database.Close()

		version, err := schemaVersion(cmd.Context(), database)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "✓ %s at schema version %s\n", dbPath, version)
		return nil
	},
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show row counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := openDatabase("")
		if err != nil {
			return err
		}
		defer database.Close()

		return printDBStats(cmd.Context(), cmd.OutOrStdout(), database)
	},
}

func init() {
	dbMigrateCmd.Flags().Bool("dry-run", false, "List pending migrations without applying them")

	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

func schemaVersion(ctx context.Context, database *sql.DB) (string, error) {
	var version sql.NullString
	if err := database.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version); err != nil {
		return "", errors.Wrap(err, "failed to read schema version")
	}
	if !version.Valid {
		return "none", nil
	}
	return version.String, nil
}

func printPendingMigrations(w io.Writer, database *sql.DB) error {
	pending, err := db.Pending(database)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		fmt.Fprintln(w, "No pending migrations")
		return nil
	}
	fmt.Fprintf(w, "%d pending migration(s):\n", len(pending))
	for _, m := range pending {
		fmt.Fprintf(w, "  %s  %s\n", m.Version, m.Filename)
	}
	return nil
}

// statTables are reported by db stats in this order
var statTables = []string{
	"source_configs",
	"ingestion_jobs",
	"dead_letters",
	"documents",
	"document_deliveries",
	"farmers",
	"factories",
	"grading_models",
	"regions",
}

func printDBStats(ctx context.Context, w io.Writer, database *sql.DB) error {
	version, err := schemaVersion(ctx, database)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s Database Statistics\n", logger.SymDB)
	fmt.Fprintf(w, "━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")
	fmt.Fprintf(w, "Schema version:      %s\n", version)
	for _, table := range statTables {
		var n int
		if err := database.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return errors.Wrapf(err, "failed to count %s", table)
		}
		fmt.Fprintf(w, "%-20s %d\n", table+":", n)
	}

	rows, err := database.QueryContext(ctx, `SELECT status, COUNT(*) FROM ingestion_jobs GROUP BY status ORDER BY status`)
	if err != nil {
		return errors.Wrap(err, "failed to count jobs by status")
	}
	defer rows.Close()

	fmt.Fprintf(w, "\nJobs by status:\n")
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return errors.Wrap(err, "failed to scan job status count")
		}
		fmt.Fprintf(w, "  %-12s %d\n", status, n)
	}
	return errors.Wrap(rows.Err(), "failed to iterate job status counts")
}
