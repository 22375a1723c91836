package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver required by golang-migrate

	"github.com/marmos91/gracecoord/pkg/objectstore/postgres/migrations"
)

// Migrate applies the grace object store schema to dsn. golang-migrate takes
// a Postgres advisory lock internally, so concurrent callers across multiple
// node agents booting at once are safe.
func Migrate(ctx context.Context, dsn string, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("objectstore/postgres: open migration connection: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("objectstore/postgres: ping migration connection: %w", err)
	}

	driver, err := migratepg.WithInstance(db, &migratepg.Config{
		MigrationsTable: "grace_schema_migrations",
		DatabaseName:    "gracecoord",
	})
	if err != nil {
		return fmt.Errorf("objectstore/postgres: create migration driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("objectstore/postgres: open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", driver)
	if err != nil {
		return fmt.Errorf("objectstore/postgres: create migrate instance: %w", err)
	}

	log.Info("applying grace object store migrations")
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("objectstore/postgres: migration failed: %w", err)
	} else if err == migrate.ErrNoChange {
		log.Info("grace object store schema already up to date")
	}

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("objectstore/postgres: read migration version: %w", err)
	}
	if dirty {
		log.Warn("grace object store schema left dirty by a previous failed migration", "version", version)
	}

	return nil
}
