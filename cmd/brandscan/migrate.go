package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/docutag/brandscan/db"
)

func newMigrateCmd() *cobra.Command {
	var dsn string

	cmd := &cobra.Command{
		Use:       "migrate <up|status|rollback>",
		Short:     "Manage the extraction history schema",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "status", "rollback"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if dsn == "" {
				return fmt.Errorf("no database configured: set --dsn or DB_HOST")
			}
			conn, err := db.Open(cmd.Context(), db.Config{DSN: dsn})
			if err != nil {
				return err
			}
			defer conn.Close()
			return runMigrate(cmd.Context(), conn, args[0], cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&dsn, "dsn", envDSN(), "PostgreSQL connection string")
	return cmd
}

// runMigrate applies one migrate action to conn and reports the result to w
func runMigrate(ctx context.Context, conn *sql.DB, action string, w io.Writer) error {
	switch action {
	case "up":
		logger := slog.New(slog.NewTextHandler(w, nil))
		if err := db.Migrate(ctx, conn, logger); err != nil {
			return err
		}
	case "rollback":
		if err := db.Rollback(ctx, conn); err != nil {
			return err
		}
		fmt.Fprintln(w, "rolled back one migration")
	case "status":
	default:
		return fmt.Errorf("unknown migrate action %q", action)
	}

	status, err := db.GetMigrationStatus(ctx, conn)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED")
	for _, s := range status {
		fmt.Fprintf(tw, "%d\t%s\t%t\n", s.Version, s.Name, s.Applied)
	}
	return tw.Flush()
}

// envDSN builds a connection string from the same variables the API server reads
func envDSN() string {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		return v
	}
	host := os.Getenv("DB_HOST")
	if host == "" {
		return ""
	}
	return db.DSN(host,
		envOr("DB_PORT", "5432"),
		envOr("DB_USER", "brandscan"),
		envOr("DB_PASSWORD", "brandscan_dev_pass"),
		envOr("DB_NAME", "brandscan"),
	)
}
