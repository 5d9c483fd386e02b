package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	pgxv5 "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for migrations

	dbmigrations "github.com/csisgpt/arbwatch/db/migrations"
	"github.com/csisgpt/arbwatch/internal/observability"
)

// Migrate applies the embedded schema migrations to the database at dsn.
// Already-applied migrations are a no-op.
func Migrate(ctx context.Context, dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("postgres: open migrations connection: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			observability.Log().Warn("migrations connection close",
				observability.F("error", cerr.Error()))
		}
	}()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres: ping migrations database: %w", err)
	}

	var driverConfig pgxv5.Config
	driver, err := pgxv5.WithInstance(db, &driverConfig)
	if err != nil {
		return fmt.Errorf("postgres: initialise migrations driver: %w", err)
	}
	source, err := iofs.New(dbmigrations.Files, ".")
	if err != nil {
		return fmt.Errorf("postgres: open embedded migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("postgres: initialise migrate instance: %w", err)
	}
	defer func() {
		sourceErr, dbErr := m.Close()
		if sourceErr != nil {
			observability.Log().Warn("migrations source close",
				observability.F("error", sourceErr.Error()))
		}
		if dbErr != nil {
			observability.Log().Warn("migrations db close",
				observability.F("error", dbErr.Error()))
		}
	}()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			observability.Log().Info("database migrations up-to-date")
			return nil
		}
		return fmt.Errorf("postgres: apply migrations: %w", err)
	}
	observability.Log().Info("database migrations applied")
	return nil
}
