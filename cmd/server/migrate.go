package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warp/benefits-engine/store/sqlstore"
)

var (
	migrateSteps int
	migrateDir   string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the MySQL schema",
	Long:  "Applies the embedded MySQL migrations. SQLite databases create their schema on open and need no migrations.",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE:  runMigrate("up"),
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations",
	RunE:  runMigrate("down"),
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the applied schema version",
	RunE:  runMigrateVersion,
}

func init() {
	pf := migrateCmd.PersistentFlags()
	pf.IntVar(&migrateSteps, "steps", 0, "Number of migrations to apply or roll back (0 = all)")
	pf.StringVar(&migrateDir, "dir", "", "Read migrations from this directory instead of the embedded set (or set MIGRATION_DIR)")

	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(command string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		if cfg.DBDriver != sqlstore.DriverMySQL {
			return fmt.Errorf("migrations only apply to mysql, DB_DRIVER is %s", cfg.DBDriver)
		}
		dir := migrateDir
		if dir == "" {
			dir = cfg.MigrationDir
		}
		return sqlstore.Migrate(cfg.DatabaseDSN, dir, command, migrateSteps, log)
	}
}

func runMigrateVersion(cmd *cobra.Command, args []string) error {
	cfg, _, err := setup()
	if err != nil {
		return err
	}
	if cfg.DBDriver != sqlstore.DriverMySQL {
		return fmt.Errorf("migrations only apply to mysql, DB_DRIVER is %s", cfg.DBDriver)
	}
	dir := migrateDir
	if dir == "" {
		dir = cfg.MigrationDir
	}

	version, dirty, ok, err := sqlstore.MigrationVersion(cfg.DatabaseDSN, dir)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(cmd.OutOrStdout(), "no migrations applied")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", version, dirty)
	return nil
}
