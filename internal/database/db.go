package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"multi-exchange-trading-bot/config"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// DSN builds a key/value connection string
func DSN(cfg config.DatabaseConfig) string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)
}

// NewDB creates a new database connection
func NewDB(ctx context.Context, cfg config.DatabaseConfig, logger zerolog.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(DSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 5
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logger = logger.With().Str("component", "database").Logger()
	logger.Info().Str("database", cfg.Database).Msg("Connected to PostgreSQL")

	return &DB{Pool: pool, logger: logger}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("Database connection closed")
	}
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS trade_reports (
		id SERIAL PRIMARY KEY,
		reason VARCHAR(20) NOT NULL,
		file TEXT NOT NULL,
		win_rate DECIMAL(10, 6) NOT NULL,
		avg_profit DECIMAL(20, 8) NOT NULL,
		total_profit DECIMAL(20, 8) NOT NULL,
		trade_count INT NOT NULL,
		batch_trades INT NOT NULL,
		generated_at TIMESTAMPTZ NOT NULL,
		created_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trade_reports_generated_at ON trade_reports(generated_at)`,

	`CREATE TABLE IF NOT EXISTS trades (
		id UUID PRIMARY KEY,
		report_id INT REFERENCES trade_reports(id) ON DELETE SET NULL,
		time TIMESTAMPTZ NOT NULL,
		pair VARCHAR(20) NOT NULL,
		venue VARCHAR(20) NOT NULL,
		signal VARCHAR(64) NOT NULL,
		buy_price DECIMAL(24, 10) NOT NULL,
		sell_price DECIMAL(24, 10) NOT NULL,
		amount DECIMAL(24, 10) NOT NULL,
		gross_profit DECIMAL(24, 10) NOT NULL,
		fees DECIMAL(24, 10) NOT NULL,
		net_profit DECIMAL(24, 10) NOT NULL,
		latency_ms BIGINT NOT NULL DEFAULT 0,
		slippage DECIMAL(12, 8) NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_pair ON trades(pair)`,
	`CREATE INDEX IF NOT EXISTS idx_trades_time ON trades(time)`,
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info().Msg("Running database migrations")

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info().Int("count", len(migrations)).Msg("Database migrations completed")
	return nil
}

// HealthCheck performs a database health check
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
