// Package storage provides the runtime's storage client: a thin wrapper
// over a Postgres-backed document store that exposes the
// get/index/update/search/transportRequest surface the orchestration core
// depends on, with Elasticsearch-shaped optimistic
// concurrency (seq_no/primary_term) modeled as two integer columns.
package storage

import (
	"context"
	stdsql "database/sql"
	"embed"
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver for database/sql
)

//go:embed migrations
var migrationsFS embed.FS

// Config holds database connection and pool settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Client wraps a pooled Postgres connection and runs the embedded document
// store migrations on construction.
type Client struct {
	db *stdsql.DB
}

// DB returns the underlying *sql.DB for health checks and direct queries.
func (c *Client) DB() *stdsql.DB { return c.db }

// NewClientFromDB wraps an already-open *sql.DB. Used by tests with
// sqlmock or a testcontainers-backed Postgres.
func NewClientFromDB(db *stdsql.DB) *Client {
	return &Client{db: db}
}

// NewClient opens a pooled connection to cfg and applies pending migrations.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := stdsql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db, cfg.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Client{db: db}, nil
}

// Close releases the underlying connection pool.
func (c *Client) Close() error { return c.db.Close() }

func runMigrations(db *stdsql.DB, dbName string) error {
	hasMigrations, err := hasEmbeddedMigrations()
	if err != nil {
		return fmt.Errorf("check embedded migrations: %w", err)
	}
	if !hasMigrations {
		return fmt.Errorf("no embedded migration files found -- binary built incorrectly")
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, dbName, driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	// Close only the migration source. Calling m.Close() also closes the
	// database driver, which would close the shared *sql.DB.
	return sourceDriver.Close()
}

func hasEmbeddedMigrations() (bool, error) {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return false, fmt.Errorf("read embedded migrations: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && len(entry.Name()) > 4 && entry.Name()[len(entry.Name())-4:] == ".sql" {
			return true, nil
		}
	}
	return false, nil
}

// Health reports basic database connectivity.
func Health(ctx context.Context, db *stdsql.DB) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return "unreachable", err
	}
	return "ok", nil
}
