package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"campusbook/internal/config"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

var (
	ErrNotFound               = errors.New("record not found")
	ErrSlotTaken              = errors.New("slot already booked")
	ErrDuplicateInvitation    = errors.New("invitation already exists")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrStatusChanged          = errors.New("invitation is no longer pending")
)

//go:embed migrations
var migrationsFS embed.FS

type DB struct {
	*sqlx.DB
	driver string
	logger *zerolog.Logger
}

// NewDB opens the configured store and applies pending migrations.
func NewDB(cfg config.DatabaseConfig, logger *zerolog.Logger) (*DB, error) {
	switch cfg.Driver {
	case DriverPostgres:
		return Open(DriverPostgres, cfg.Postgres.DSN(), cfg.Postgres.MigrationTable, logger)
	default:
		return Open(DriverSQLite, cfg.Path, "", logger)
	}
}

// Open connects with driver and dsn. For SQLite dsn is a file path whose directory
// is created, or an in-memory DSN such as ":memory:".
func Open(driver, dsn, migrationTable string, logger *zerolog.Logger) (*DB, error) {
	inMemory := false
	if driver == DriverSQLite {
		inMemory = isSQLiteMemory(dsn)
		if dir := filepath.Dir(dsn); dir != "." && !inMemory {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
		dsn = sqliteDSN(dsn)
	}

	if !inMemory {
		if err := migrateUp(driver, dsn, migrationTable); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	conn, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if driver == DriverSQLite {
		conn.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if inMemory {
		// the schema only exists on this one connection
		if err := migrateInstance(driver, conn.DB, migrationTable); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	logger.Info().Str("driver", driver).Bool("in_memory", inMemory).Msg("Database initialized")
	return &DB{DB: conn, driver: driver, logger: logger}, nil
}

// NewWithConn wraps an existing connection without running migrations.
func NewWithConn(conn *sqlx.DB, logger *zerolog.Logger) *DB {
	return &DB{DB: conn, driver: conn.DriverName(), logger: logger}
}

func isSQLiteMemory(dsn string) bool {
	return dsn == ":memory:" || strings.HasPrefix(dsn, "file::memory:") || strings.Contains(dsn, "mode=memory")
}

func sqliteDSN(path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	q := url.Values{}
	q.Set("_busy_timeout", "5000")
	q.Set("_txlock", "immediate")
	q.Set("_foreign_keys", "on")
	return path + "?" + q.Encode()
}

// migrateUp runs the migrations on a connection of its own and closes it.
func migrateUp(driver, dsn, migrationTable string) error {
	raw, err := sql.Open(driver, dsn)
	if err != nil {
		return err
	}

	m, err := newMigrator(driver, raw, migrationTable)
	if err != nil {
		_ = raw.Close()
		return err
	}
	// Close also closes raw.
	defer m.Close()

	return up(m)
}

// migrateInstance runs the migrations on a handle the caller keeps using.
// The migrator is not closed because that would close raw.
func migrateInstance(driver string, raw *sql.DB, migrationTable string) error {
	m, err := newMigrator(driver, raw, migrationTable)
	if err != nil {
		return err
	}
	return up(m)
}

func newMigrator(driver string, raw *sql.DB, migrationTable string) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations/"+driver)
	if err != nil {
		return nil, err
	}

	switch driver {
	case DriverPostgres:
		drv, err := migratepg.WithInstance(raw, &migratepg.Config{MigrationsTable: migrationTable})
		if err != nil {
			return nil, err
		}
		return migrate.NewWithInstance("iofs", src, driver, drv)
	default:
		drv, err := migratesqlite.WithInstance(raw, &migratesqlite.Config{})
		if err != nil {
			return nil, err
		}
		return migrate.NewWithInstance("iofs", src, driver, drv)
	}
}

func up(m *migrate.Migrate) error {
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (db *DB) Driver() string {
	return db.driver
}

func (db *DB) Close() error {
	return db.DB.Close()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
