package main

import (
	"database/sql"
	"fmt"
	"os"
	"text/tabwriter"

	"wabagate/internal/config"
	"wabagate/internal/migrations"

	"github.com/spf13/cobra"
)

// migrateCmd applies pending schema migrations to an existing database without
// starting the gateway. It never needs the vault secret.
func (c *cli) migrateCmd() *cobra.Command {
	var statusOnly bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := c.databasePath()
			if err != nil {
				return err
			}
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("database file not found: %s", path)
			}
			db, err := sql.Open("sqlite3", path)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer db.Close()

			if statusOnly {
				return printMigrationStatus(cmd, db)
			}
			applied, err := migrations.Apply(cmd.Context(), db)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			}
			for _, v := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "%s applied migration %d\n", okMark(), v)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&statusOnly, "status", false, "List migrations and whether each is applied")
	return cmd
}

func (c *cli) databasePath() (string, error) {
	if c.opts.dbPath != "" {
		return c.opts.dbPath, nil
	}
	cfg, err := config.LoadConfig(c.opts.configPath)
	if err != nil {
		return "", fmt.Errorf("failed to load config: %w", err)
	}
	return cfg.Database.Path, nil
}

func printMigrationStatus(cmd *cobra.Command, db *sql.DB) error {
	all, err := migrations.Load()
	if err != nil {
		return err
	}
	applied := make(map[int]bool)
	rows, err := db.QueryContext(cmd.Context(), "SELECT version FROM schema_migrations")
	if err == nil {
		defer rows.Close()
		for rows.Next() {
			var v int
			if err := rows.Scan(&v); err != nil {
				return fmt.Errorf("failed to scan migration version: %w", err)
			}
			applied[v] = true
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to read migration versions: %w", err)
		}
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED")
	for _, m := range all {
		state := red("no")
		if applied[m.Version] {
			state = green("yes")
		}
		fmt.Fprintf(w, "%d\t%s\t%s\n", m.Version, m.Name, state)
	}
	return w.Flush()
}
