// Package migrations holds the SQLite and PostgreSQL schema histories and
// applies them with golang-migrate.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

//go:embed sqlite/*.sql postgres/*.sql
var migrationFiles embed.FS

// dialect pairs a directory of migration files with the driver that
// applies them.
type dialect struct {
	dir    string
	name   string
	driver func(*sql.DB) (database.Driver, error)
}

var (
	sqliteDialect = dialect{
		dir:  "sqlite",
		name: "sqlite3",
		driver: func(db *sql.DB) (database.Driver, error) {
			return sqlite3.WithInstance(db, &sqlite3.Config{})
		},
	}
	postgresDialect = dialect{
		dir:  "postgres",
		name: "pgx5",
		driver: func(db *sql.DB) (database.Driver, error) {
			return pgxmigrate.WithInstance(db, &pgxmigrate.Config{})
		},
	}
)

// CheckDBMigrationStatus returns nil when the SQLite db is at the newest
// schema version shipped in this binary.
func CheckDBMigrationStatus(db *sql.DB) error {
	m, err := sqliteDialect.newMigrate(db)
	if err != nil {
		return err
	}
	// m is not closed: closing it would close db, which the caller owns.
	return sqliteDialect.check(m)
}

// MigrateUp applies every pending SQLite migration. An up-to-date database
// is not an error.
func MigrateUp(db *sql.DB) error {
	m, err := sqliteDialect.newMigrate(db)
	if err != nil {
		return err
	}
	return up(m)
}

// LatestVersion is the highest SQLite migration version embedded in the binary.
func LatestVersion() (uint, error) {
	return sqliteDialect.latest()
}

// CheckPostgresMigrationStatus is CheckDBMigrationStatus for a PostgreSQL pool.
func CheckPostgresMigrationStatus(pool *pgxpool.Pool) error {
	m, err := postgresDialect.newMigrate(stdlib.OpenDBFromPool(pool))
	if err != nil {
		return err
	}
	defer m.Close()
	return postgresDialect.check(m)
}

// MigratePostgresUp applies every pending PostgreSQL migration.
func MigratePostgresUp(pool *pgxpool.Pool) error {
	m, err := postgresDialect.newMigrate(stdlib.OpenDBFromPool(pool))
	if err != nil {
		return err
	}
	defer m.Close()
	return up(m)
}

// PostgresLatestVersion is the highest PostgreSQL migration version embedded
// in the binary.
func PostgresLatestVersion() (uint, error) {
	return postgresDialect.latest()
}

func up(m *migrate.Migrate) error {
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration failed: %w", err)
	}
	return nil
}

func (d dialect) check(m *migrate.Migrate) error {
	current, dirty, err := m.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			return fmt.Errorf("database has no schema version (needs migration)")
		}
		return fmt.Errorf("failed to get database version: %w", err)
	}
	if dirty {
		return fmt.Errorf("database is in dirty state at version %d (migration failed previously)", current)
	}

	latest, err := d.latest()
	if err != nil {
		return err
	}

	switch {
	case current < latest:
		return fmt.Errorf("database is at version %d but latest is %d (%d migrations behind)",
			current, latest, latest-current)
	case current > latest:
		return fmt.Errorf("database version %d is ahead of binary version %d (binary needs update)",
			current, latest)
	}
	return nil
}

func (d dialect) latest() (uint, error) {
	src, err := iofs.New(migrationFiles, d.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read migration files: %w", err)
	}
	defer src.Close()
	return lastVersion(src)
}

func (d dialect) newMigrate(db *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFiles, d.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to create source driver: %w", err)
	}

	driver, err := d.driver(db)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, d.name, driver)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return m, nil
}

func lastVersion(src source.Driver) (uint, error) {
	v, err := src.First()
	if err != nil {
		return 0, err
	}
	for {
		next, err := src.Next(v)
		if err != nil {
			// Next fails once there is nothing after v.
			return v, nil
		}
		v = next
	}
}
