// Package db provides the PostgreSQL persistence backend for property
// snapshots: a generic append/update/query store behind the
// snapshot.Repository interface.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"

	"github.com/sitelevels/sitelevels/internal/cache"
)

// DB represents a PostgreSQL database connection
type DB struct {
	client *sql.DB
	Cache  *cache.InMemoryCache
}

// Config holds PostgreSQL connection configuration
type Config struct {
	Host         string        // Database host
	Port         string        // Database port
	User         string        // Database user
	Password     string        // Database password
	Database     string        // Database name
	SSLMode      string        // SSL mode (disable, require, verify-ca, verify-full)
	MaxIdleConns int           // Maximum number of idle connections
	MaxOpenConns int           // Maximum number of open connections
	MaxLifetime  time.Duration // Maximum lifetime of a connection
	DatabaseURL  string        // Original DATABASE_URL if used
}

// ConnectionString returns the PostgreSQL connection string
func (c *Config) ConnectionString() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// New creates a new PostgreSQL database connection
func New(config *Config) (*DB, error) {
	if config.DatabaseURL == "" {
		if config.Host == "" {
			return nil, fmt.Errorf("database host is required")
		}
		if config.Port == "" {
			return nil, fmt.Errorf("database port is required")
		}
		if config.User == "" {
			return nil, fmt.Errorf("database user is required")
		}
		if config.Database == "" {
			return nil, fmt.Errorf("database name is required")
		}
	}

	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}
	if config.MaxIdleConns == 0 {
		config.MaxIdleConns = 10
	}
	if config.MaxOpenConns == 0 {
		config.MaxOpenConns = 25
	}
	if config.MaxLifetime == 0 {
		config.MaxLifetime = 20 * time.Minute
	}

	client, err := sql.Open("pgx", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	client.SetMaxOpenConns(config.MaxOpenConns)
	client.SetMaxIdleConns(config.MaxIdleConns)
	client.SetConnMaxLifetime(config.MaxLifetime)

	if err := client.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	if err := setupSchema(client); err != nil {
		return nil, fmt.Errorf("failed to setup schema: %w", err)
	}

	return &DB{client: client, Cache: cache.NewInMemoryCache()}, nil
}

// InitFromEnv creates a PostgreSQL connection using environment variables
func InitFromEnv() (*DB, error) {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return New(&Config{DatabaseURL: url})
	}

	config := &Config{
		Host:     os.Getenv("PGHOST"),
		Port:     os.Getenv("PGPORT"),
		User:     os.Getenv("PGUSER"),
		Password: os.Getenv("PGPASSWORD"),
		Database: os.Getenv("PGDATABASE"),
		SSLMode:  os.Getenv("PGSSLMODE"),
	}
	if config.Port == "" {
		config.Port = "5432"
	}

	return New(config)
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.client.Close()
}

// Health checks the database connection
func (d *DB) Health(ctx context.Context) error {
	return d.client.PingContext(ctx)
}

// Execute runs a database operation in a transaction
func (d *DB) Execute(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := d.client.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// setupSchema creates the snapshot tables if they don't exist
func setupSchema(client *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS properties (
			name TEXT PRIMARY KEY,
			base_url TEXT NOT NULL,
			technologies JSONB,
			last_updated TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS url_records (
			id BIGSERIAL PRIMARY KEY,
			property TEXT NOT NULL REFERENCES properties(name) ON DELETE CASCADE,
			url TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL,
			header_tags JSONB NOT NULL,
			version TEXT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL,
			top_level_count INT NOT NULL,
			level INT NOT NULL,
			like_count TEXT NOT NULL,
			target_likes TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_url_records_property_url
			ON url_records (property, url, recorded_at DESC)`,
	}

	for _, stmt := range schema {
		if _, err := client.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	log.Debug().Msg("Database schema ready")
	return nil
}

// isRetryableError reports whether a connection error is worth retrying.
// Configuration and authentication failures are not.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	msg := strings.ToLower(err.Error())
	retryable := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"timeout",
		"temporary failure",
		"no such host",
		"eof",
		"too many connections",
	}
	for _, fragment := range retryable {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}
