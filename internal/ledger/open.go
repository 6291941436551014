package ledger

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

// Supported drivers. Each names its migrations directory.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open connects to the ledger for driver, migrating the schema first.
func Open(ctx context.Context, driver, dsn string, opts ...Option) (Store, error) {
	switch driver {
	case DriverSQLite:
		return NewSQLiteStore(ctx, dsn, opts...)
	case DriverPostgres:
		return NewPostgresStore(ctx, dsn, opts...)
	default:
		return nil, fmt.Errorf("unsupported ledger driver %q", driver)
	}
}

// Migrate applies pending migrations without opening a Store.
func Migrate(ctx context.Context, driver, dsn string) error {
	return withMigrationDB(ctx, driver, dsn, func(d goose.Dialect, db *sql.DB) error {
		return migrateUp(ctx, d, driver, db)
	})
}

// MigrationStatus lists every known migration and whether it has been applied.
func MigrationStatus(ctx context.Context, driver, dsn string) ([]MigrationState, error) {
	var out []MigrationState
	err := withMigrationDB(ctx, driver, dsn, func(d goose.Dialect, db *sql.DB) error {
		var err error
		out, err = migrationStatus(ctx, d, driver, db)
		return err
	})
	return out, err
}

func withMigrationDB(ctx context.Context, driver, dsn string, fn func(goose.Dialect, *sql.DB) error) error {
	switch driver {
	case DriverSQLite:
		db, err := openSQLite(dsn)
		if err != nil {
			return err
		}
		defer db.Close()
		return fn(goose.DialectSQLite3, db)
	case DriverPostgres:
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return fmt.Errorf("open postgres pool: %w", err)
		}
		defer pool.Close()
		db := stdlib.OpenDBFromPool(pool)
		defer db.Close()
		return fn(goose.DialectPostgres, db)
	default:
		return fmt.Errorf("unsupported ledger driver %q", driver)
	}
}
