// Package postgres is a store.Layer over a single key/value table, used
// as the durable last tier so session mirrors survive a portal restart.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"bankflow/pkg/store"

	_ "github.com/lib/pq"
)

// Config holds the connection settings.
type Config struct {
	Name string
	// DSN is a lib/pq connection string. When empty the discrete fields
	// below are used.
	DSN      string
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	// Table defaults to bankflow_sessions.
	Table      string
	DefaultTTL time.Duration
}

// DefaultConfig returns a local development configuration.
func DefaultConfig() Config {
	return Config{
		Name:       "postgres",
		Host:       "localhost",
		Port:       5432,
		User:       "postgres",
		Password:   "postgres",
		Database:   "bankflow",
		SSLMode:    "disable",
		Table:      "bankflow_sessions",
		DefaultTTL: 24 * time.Hour,
	}
}

func (c Config) dsn() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Layer stores values in Postgres with an expiry column. Expired rows
// read as misses and are removed by Purge.
type Layer struct {
	db     *sql.DB
	config Config

	getQuery    string
	setQuery    string
	deleteQuery string
	purgeQuery  string
}

// New opens the pool, pings the server and creates the table.
func New(config Config) (*Layer, error) {
	if config.Name == "" {
		config.Name = "postgres"
	}
	if config.Table == "" {
		config.Table = "bankflow_sessions"
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = 24 * time.Hour
	}

	db, err := sql.Open("postgres", config.dsn())
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	l := newLayer(db, config)
	if err := l.initTable(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: init table: %w", err)
	}
	return l, nil
}

func newLayer(db *sql.DB, config Config) *Layer {
	t := config.Table
	return &Layer{
		db:          db,
		config:      config,
		getQuery:    `SELECT value FROM ` + t + ` WHERE key = $1 AND expires_at > $2`,
		setQuery:    `INSERT INTO ` + t + ` (key, value, expires_at) VALUES ($1, $2, $3) ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		deleteQuery: `DELETE FROM ` + t + ` WHERE key = $1`,
		purgeQuery:  `DELETE FROM ` + t + ` WHERE expires_at <= $1`,
	}
}

func (l *Layer) initTable(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS ` + l.config.Table + ` (
			key TEXT PRIMARY KEY,
			value BYTEA NOT NULL,
			expires_at TIMESTAMP WITH TIME ZONE NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_` + l.config.Table + `_expires_at ON ` + l.config.Table + `(expires_at)`,
	}
	for _, q := range queries {
		if _, err := l.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// Get implements store.Layer.
func (l *Layer) Get(ctx context.Context, key string) ([]byte, error) {
	if err := store.ValidateKey(key); err != nil {
		return nil, err
	}
	var value []byte
	err := l.db.QueryRowContext(ctx, l.getQuery, key, time.Now()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get %s: %w", key, err)
	}
	return value, nil
}

// Set implements store.Layer.
func (l *Layer) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := store.ValidateKey(key); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = l.config.DefaultTTL
	}
	if _, err := l.db.ExecContext(ctx, l.setQuery, key, value, time.Now().Add(ttl)); err != nil {
		return fmt.Errorf("postgres: set %s: %w", key, err)
	}
	return nil
}

// Delete implements store.Layer.
func (l *Layer) Delete(ctx context.Context, key string) error {
	if err := store.ValidateKey(key); err != nil {
		return err
	}
	if _, err := l.db.ExecContext(ctx, l.deleteQuery, key); err != nil {
		return fmt.Errorf("postgres: delete %s: %w", key, err)
	}
	return nil
}

// Purge removes expired rows and returns how many were deleted.
func (l *Layer) Purge(ctx context.Context) (int64, error) {
	res, err := l.db.ExecContext(ctx, l.purgeQuery, time.Now())
	if err != nil {
		return 0, fmt.Errorf("postgres: purge: %w", err)
	}
	return res.RowsAffected()
}

// Name implements store.Layer.
func (l *Layer) Name() string {
	return l.config.Name
}

// Close implements store.Layer.
func (l *Layer) Close() error {
	return l.db.Close()
}
