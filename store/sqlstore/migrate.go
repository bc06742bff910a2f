package sqlstore

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"
)

// =============================================================================
// MIGRATIONS (MySQL)
// =============================================================================
//
// The MySQL schema lives in migrations/*.sql and is embedded in the binary.
// A migrations directory on disk can be used instead (dir != "") while
// developing a new migration.

//go:embed migrations/*.sql
var migrationsFS embed.FS

func newMigrate(dsn, dir string) (*migrate.Migrate, error) {
	dbURL := "mysql://" + dsn
	if !strings.Contains(dsn, "multiStatements") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dbURL += sep + "multiStatements=true"
	}

	if dir != "" {
		return migrate.New("file://"+dir, dbURL)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	return migrate.NewWithSourceInstance("iofs", src, dbURL)
}

// Migrate runs command ("up" or "down") against the MySQL database at dsn.
// steps > 0 limits how many migrations are applied or rolled back.
func Migrate(dsn, dir, command string, steps int, log zerolog.Logger) error {
	m, err := newMigrate(dsn, dir)
	if err != nil {
		return fmt.Errorf("failed to initialize migrate: %w", err)
	}
	defer m.Close()

	switch command {
	case "up":
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	default:
		return fmt.Errorf("invalid migration command: %s", command)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		log.Info().Str("command", command).Msg("no migration changes to apply")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration %s failed: %w", command, err)
	}
	log.Info().Str("command", command).Int("steps", steps).Msg("migration completed")
	return nil
}

// MigrationVersion reports the applied schema version. ok is false when no
// migration has run yet.
func MigrationVersion(dsn, dir string) (version uint, dirty, ok bool, err error) {
	m, err := newMigrate(dsn, dir)
	if err != nil {
		return 0, false, false, fmt.Errorf("failed to initialize migrate: %w", err)
	}
	defer m.Close()

	version, dirty, err = m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, false, nil
	}
	if err != nil {
		return 0, false, false, fmt.Errorf("failed to get version: %w", err)
	}
	return version, dirty, true, nil
}
