// Package analytics persists hourly usage aggregates to Postgres,
// supplementing the JSONL request log (which remains the system of
// record) with a queryable rollup for dashboards. It is entirely
// best-effort: a database outage degrades to "no aggregates", never to a
// blocked request.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"clproxy/internal/model"
)

// DBConfig holds the Postgres connection settings for the analytics store.
type DBConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSLMode  string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultDBConfig returns sane pool defaults for a single-instance proxy.
func DefaultDBConfig() DBConfig {
	return DBConfig{
		Host:            "localhost",
		Port:            5432,
		Database:        "clproxy",
		User:            "postgres",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// Store is the analytics database handle.
type Store struct {
	conn *sqlx.DB
}

// Open connects to Postgres and configures the pool per cfg.
func Open(cfg DBConfig) (*Store, error) {
	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password, cfg.SSLMode)
	conn, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("analytics: connect: %w", err)
	}
	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return &Store{conn: conn}, nil
}

// OpenDSN connects using a raw libpq DSN (as read from the process-level
// CLPROXY_ANALYTICS_DSN knob) with the default pool sizing, rather than
// building one up field by field.
func OpenDSN(dsn string) (*Store, error) {
	conn, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("analytics: connect: %w", err)
	}
	defaults := DefaultDBConfig()
	conn.SetMaxOpenConns(defaults.MaxOpenConns)
	conn.SetMaxIdleConns(defaults.MaxIdleConns)
	conn.SetConnMaxLifetime(defaults.ConnMaxLifetime)
	return &Store{conn: conn}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error { return s.conn.Close() }

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error { return s.conn.PingContext(ctx) }

const upsertHourlySQL = `
INSERT INTO usage_aggregates (
	family, channel, window_start,
	input, cached_create, cached_read, output, reasoning, total, request_count
) VALUES (
	:family, :channel, :window_start,
	:input, :cached_create, :cached_read, :output, :reasoning, :total, :request_count
)
ON CONFLICT (family, channel, window_start) DO UPDATE SET
	input         = usage_aggregates.input         + excluded.input,
	cached_create = usage_aggregates.cached_create + excluded.cached_create,
	cached_read   = usage_aggregates.cached_read   + excluded.cached_read,
	output        = usage_aggregates.output        + excluded.output,
	reasoning     = usage_aggregates.reasoning     + excluded.reasoning,
	total         = usage_aggregates.total         + excluded.total,
	request_count = usage_aggregates.request_count + excluded.request_count
`

// UpsertHourly adds agg's deltas onto the existing (family, channel,
// window_start) bucket, creating it if absent.
func (s *Store) UpsertHourly(ctx context.Context, agg model.UsageAggregate) error {
	_, err := s.conn.NamedExecContext(ctx, upsertHourlySQL, agg)
	if err != nil {
		return fmt.Errorf("analytics: upsert hourly aggregate: %w", err)
	}
	return nil
}

// ClearAll deletes every aggregate row, mirroring RequestLog.Clear so an
// operator "clear logs" action also resets the dashboards.
func (s *Store) ClearAll(ctx context.Context) error {
	_, err := s.conn.ExecContext(ctx, "DELETE FROM usage_aggregates")
	if err != nil {
		return fmt.Errorf("analytics: clear: %w", err)
	}
	return nil
}

// HourBucket truncates t to the start of its UTC hour, the aggregation
// window unit.
func HourBucket(t time.Time) int64 {
	return t.UTC().Truncate(time.Hour).Unix()
}
