package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrSnakeDoc/licensed/internal/connect"
	"github.com/MrSnakeDoc/licensed/internal/logger"
)

// Options configures the connection pool.
type Options struct {
	DSN      string
	Schema   string
	MaxConns int32
	MinConns int32
	Retry    connect.Options
}

// Connect opens a pool and waits until the database answers.
func Connect(ctx context.Context, opts Options, log logger.Logger) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	if opts.MaxConns > 0 {
		poolConfig.MaxConns = opts.MaxConns
	}
	if opts.MinConns > 0 {
		poolConfig.MinConns = opts.MinConns
	}

	if opts.Schema != "" {
		poolConfig.ConnConfig.RuntimeParams["search_path"] = opts.Schema

		// Poolers such as PgBouncer may reset session settings between transactions.
		poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{opts.Schema}.Sanitize())
			return err
		}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	addr := poolConfig.ConnConfig.Host
	if err := connect.WithRetry(ctx, "postgres", addr, opts.Retry, pool.Ping, log); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}
