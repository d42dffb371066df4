// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// WHY SQLITE?
// The tracker is a single process serving a handful of accounts. An embedded
// database file needs no server and survives restarts, and ":memory:" gives
// every test a fresh store.
//
// WHY modernc.org/sqlite?
// It is a pure Go translation of SQLite, so the binary cross-compiles
// without a C toolchain.
//
// SCHEMA MIGRATIONS:
// Migrations are plain SQL files embedded into the binary (migrations/*.sql)
// and applied with golang-migrate when the database is opened. golang-migrate
// records the applied version in schema_migrations, so opening an existing
// file is a no-op.
//
// TIMESTAMPS:
// All times are stored as INTEGER unix milliseconds in UTC. Window queries
// ("first seen in the last 24 hours") are then plain integer comparisons and
// never depend on how a driver formats time strings.
package sqlite

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// Registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB wraps a sql.DB and implements every repository interface.
type DB struct {
	conn *sql.DB
}

// New opens (or creates) the database at dbPath and applies migrations.
//
// dbPath examples:
//   - "./contacts.db" → file-based database (persistent)
//   - ":memory:"      → in-memory database (tests)
//
// SINGLE CONNECTION:
// SQLite allows one writer at a time, and an in-memory database exists per
// connection. Capping the pool at one connection makes both facts harmless:
// every query sees the same database, and writers queue in database/sql
// instead of failing with SQLITE_BUSY.
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// Foreign keys are OFF by default in SQLite.
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks the database is reachable. Used by the health endpoint.
func (db *DB) Ping() error {
	return db.conn.Ping()
}

// newMigrate builds a golang-migrate instance over the open connection.
//
// The returned *migrate.Migrate must NOT be closed: closing it closes the
// database driver, and the sqlite driver closes the *sql.DB it was given.
// Only the source needs releasing.
func (db *DB) newMigrate() (*migrate.Migrate, func(), error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, nil, fmt.Errorf("migration source: %w", err)
	}

	driver, err := migratesqlite.WithInstance(db.conn, &migratesqlite.Config{})
	if err != nil {
		src.Close()
		return nil, nil, fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		src.Close()
		return nil, nil, fmt.Errorf("migrate init: %w", err)
	}

	return m, func() { src.Close() }, nil
}

func (db *DB) migrate() error {
	m, release, err := db.newMigrate()
	if err != nil {
		return err
	}
	defer release()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// SchemaVersion reports the applied migration version and whether the last
// migration left the schema dirty.
func (db *DB) SchemaVersion() (uint, bool, error) {
	m, release, err := db.newMigrate()
	if err != nil {
		return 0, false, err
	}
	defer release()

	version, dirty, err := m.Version()
	if err != nil {
		return 0, false, fmt.Errorf("sqlite: reading schema version: %w", err)
	}
	return version, dirty, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}
