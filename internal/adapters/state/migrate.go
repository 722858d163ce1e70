package state

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/sqlite/*.sql
var sqliteMigrationsFS embed.FS

//go:embed migrations/postgres/*.sql
var postgresMigrationsFS embed.FS

const (
	driverSQLite   = "sqlite3"
	driverPostgres = "postgres"
)

// runMigrations доводит схему базы до актуальной версии.
func runMigrations(db *sql.DB, driver string) error {
	var (
		sourceFS fs.FS
		subdir   string
	)
	switch driver {
	case driverSQLite:
		sourceFS = sqliteMigrationsFS
		subdir = "migrations/sqlite"
	case driverPostgres:
		sourceFS = postgresMigrationsFS
		subdir = "migrations/postgres"
	default:
		return fmt.Errorf("миграции: неизвестный драйвер %q", driver)
	}

	source, err := iofs.New(sourceFS, subdir)
	if err != nil {
		return fmt.Errorf("миграции: источник: %w", err)
	}

	var dbDriver database.Driver
	switch driver {
	case driverSQLite:
		dbDriver, err = migratesqlite.WithInstance(db, &migratesqlite.Config{})
	case driverPostgres:
		dbDriver, err = migratepgx.WithInstance(db, &migratepgx.Config{})
	}
	if err != nil {
		return fmt.Errorf("миграции: драйвер базы: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, driver, dbDriver)
	if err != nil {
		return fmt.Errorf("миграции: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("миграции: up: %w", err)
	}
	return nil
}
