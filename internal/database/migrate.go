package database

import (
	"database/sql"
	"embed"
	"fmt"

	migrate "github.com/rubenv/sql-migrate"
)

var (
	//go:embed migrations/*/*.sql
	migrations embed.FS

	ErrMigrationsNotRun = fmt.Errorf("not all migrations applied")
)

const migrationTable = "rpc_absorber_migrations"

func migrationSource(d Dialect) *migrate.EmbedFileSystemMigrationSource {
	return &migrate.EmbedFileSystemMigrationSource{
		FileSystem: migrations,
		Root:       "migrations/" + d.Name,
	}
}

// Migrate applies the pending migrations of the dialect and returns how
// many ran.
func Migrate(db *sql.DB, d Dialect) (int, error) {
	ms := migrate.MigrationSet{
		TableName: migrationTable,
	}
	n, err := ms.Exec(db, d.Name, migrationSource(d), migrate.Up)
	if err != nil {
		return n, fmt.Errorf("failed to run %s migrations: %w", d.Name, err)
	}
	if n > 0 {
		pkgLogger.Info().Str("dialect", d.Name).Int("applied", n).Msg("migrations applied")
	}
	return n, nil
}

// CheckMigrations reports ErrMigrationsNotRun when the database is behind.
func CheckMigrations(db *sql.DB, d Dialect) error {
	ms := migrate.MigrationSet{
		TableName: migrationTable,
	}
	planned, _, err := ms.PlanMigration(db, d.Name, migrationSource(d), migrate.Up, 0)
	if err != nil {
		return err
	}
	if len(planned) > 0 {
		for _, mig := range planned {
			pkgLogger.Warn().Str("migrationID", mig.Id).Msg("missing migration")
		}
		return ErrMigrationsNotRun
	}
	return nil
}
