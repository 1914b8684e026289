package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/querylens/schema-engine/pkg/retry"
)

// DB wraps a pgxpool connection pool for the engine database (history and
// chunk tables). pgvector types are registered on every connection.
type DB struct {
	*pgxpool.Pool
}

// NewEngineDB creates the engine database connection pool. Construction is
// retried with backoff so a service starting alongside its database does not
// fail on the first refused connection.
func NewEngineDB(ctx context.Context, url string, maxConns int32) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse engine database URL: %w", err)
	}

	if maxConns > 0 {
		poolConfig.MaxConns = maxConns
	}

	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := retry.DoWithResult(ctx, nil, func() (*pgxpool.Pool, error) {
		p, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, err
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return nil, err
		}
		return p, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to engine database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// NewTargetPool creates a pool against the introspected target database.
// Pool creation is lazy, so the ping is what actually reaches the server
// and is the part worth retrying.
func NewTargetPool(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to target database: %w", err)
	}

	if err := retry.Do(ctx, nil, func() error { return pool.Ping(ctx) }); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping target database: %w", err)
	}

	return pool, nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	db.Pool.Close()
}
