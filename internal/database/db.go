// Package database persists trades, pattern records, hard negatives,
// budget state, and calibration events to PostgreSQL.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gocityvibes/emini/internal/logging"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a new database connection
func NewDB(cfg Config) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log := logging.Component("database")
	log.Info().Str("database", cfg.Database).Msg("connected to PostgreSQL")

	return &DB{Pool: pool}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		log := logging.Component("database")
		log.Info().Msg("database connection closed")
	}
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	log := logging.Component("database")
	log.Info().Msg("running database migrations")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id UUID PRIMARY KEY,
			candidate_id UUID NOT NULL,
			fingerprint VARCHAR(64) NOT NULL,
			setup VARCHAR(40) NOT NULL,
			direction VARCHAR(8) NOT NULL,
			session VARCHAR(20) NOT NULL,
			confidence INTEGER NOT NULL,
			entry_price DECIMAL(12, 4) NOT NULL,
			entry_time TIMESTAMPTZ NOT NULL,
			stop_loss DECIMAL(12, 4) NOT NULL,
			initial_sl DECIMAL(12, 4) NOT NULL,
			take_profit DECIMAL(12, 4) NOT NULL,
			breakeven_moved BOOLEAN NOT NULL DEFAULT FALSE,
			trail_active BOOLEAN NOT NULL DEFAULT FALSE,
			exit_price DECIMAL(12, 4),
			exit_time TIMESTAMPTZ,
			exit_reason VARCHAR(20),
			gross_points DECIMAL(10, 4),
			net_points DECIMAL(10, 4),
			mae DECIMAL(10, 4),
			mfe DECIMAL(10, 4),
			created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_fingerprint ON trades(fingerprint)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_entry_time ON trades(entry_time)`,

		`CREATE TABLE IF NOT EXISTS fingerprints (
			fingerprint VARCHAR(64) PRIMARY KEY,
			features JSONB NOT NULL,
			status VARCHAR(20) NOT NULL,
			samples INTEGER NOT NULL,
			wins INTEGER NOT NULL,
			win_rate DECIMAL(6, 2) NOT NULL,
			trailing_win_rate DECIMAL(6, 2) NOT NULL,
			expectancy DECIMAL(10, 4) NOT NULL,
			wilson_lower DECIMAL(6, 2) NOT NULL,
			total_points DECIMAL(10, 4) NOT NULL,
			first_seen TIMESTAMPTZ NOT NULL,
			last_seen TIMESTAMPTZ NOT NULL,
			status_since TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_fingerprints_status ON fingerprints(status)`,

		`CREATE TABLE IF NOT EXISTS hard_negatives (
			id SERIAL PRIMARY KEY,
			trade_id UUID NOT NULL,
			fingerprint VARCHAR(64) NOT NULL,
			setup VARCHAR(40) NOT NULL,
			direction VARCHAR(8) NOT NULL,
			session VARCHAR(20) NOT NULL,
			score DECIMAL(6, 2) NOT NULL,
			confidence INTEGER NOT NULL,
			net_points DECIMAL(10, 4) NOT NULL,
			exit_reason VARCHAR(20) NOT NULL,
			features JSONB NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_hard_negatives_fingerprint ON hard_negatives(fingerprint)`,

		`CREATE TABLE IF NOT EXISTS budget_state (
			reset_date VARCHAR(10) PRIMARY KEY,
			used_today INTEGER NOT NULL,
			daily_cap INTEGER NOT NULL,
			paused BOOLEAN NOT NULL DEFAULT FALSE,
			paused_reason VARCHAR(40),
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS calibration_events (
			id SERIAL PRIMARY KEY,
			setup VARCHAR(40) NOT NULL,
			old_floor INTEGER NOT NULL,
			new_floor INTEGER NOT NULL,
			win_rate DECIMAL(6, 2) NOT NULL,
			window_size INTEGER NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS daily_summaries (
			trading_date VARCHAR(10) PRIMARY KEY,
			trade_count INTEGER NOT NULL,
			win_count INTEGER NOT NULL,
			loss_count INTEGER NOT NULL,
			win_rate DECIMAL(6, 2) NOT NULL,
			net_points DECIMAL(10, 4) NOT NULL,
			largest_win DECIMAL(10, 4) NOT NULL,
			largest_loss DECIMAL(10, 4) NOT NULL,
			oracle_calls INTEGER NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	log.Info().Msg("database migrations completed")
	return nil
}
