package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PoolOptions tunes the shared pool. Zero values keep pgx defaults.
type PoolOptions struct {
	MaxConns        int32
	MaxConnIdleTime time.Duration
	// ConnectAttempts bounds the startup pings; the database container may come up after us.
	ConnectAttempts int
	RetryDelay      time.Duration
}

// NewPostgresPool creates a pgx connection pool and waits until the database answers.
func NewPostgresPool(ctx context.Context, dsn string, opts PoolOptions, logger *zap.Logger) (*pgxpool.Pool, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pgx config: %w", err)
	}
	if opts.MaxConns > 0 {
		config.MaxConns = opts.MaxConns
	}
	if opts.MaxConnIdleTime > 0 {
		config.MaxConnIdleTime = opts.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := waitReady(ctx, pool, opts, logger); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("PostgreSQL connection pool established",
		zap.String("host", config.ConnConfig.Host), zap.Int32("max_conns", config.MaxConns))
	return pool, nil
}

func waitReady(ctx context.Context, pool *pgxpool.Pool, opts PoolOptions, logger *zap.Logger) error {
	attempts := opts.ConnectAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := opts.RetryDelay
	if delay <= 0 {
		delay = 2 * time.Second
	}
	var err error
	for i := 1; i <= attempts; i++ {
		if err = pool.Ping(ctx); err == nil {
			return nil
		}
		if i == attempts {
			break
		}
		logger.Warn("database not ready, retrying", zap.Int("attempt", i), zap.Error(err))
		select {
		case <-ctx.Done():
			return fmt.Errorf("ping database: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("ping database after %d attempts: %w", attempts, err)
}
