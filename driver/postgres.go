// Package driver opens the connections the cart storage and event layers run on.
package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresPool is the subset of *pgxpool.Pool the repositories depend on.
type PostgresPool interface {
	// BeginTx starts a new transaction and returns a Tx.
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)

	// Exec executes an SQL command and returns the command tag.
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)

	// Query executes an SQL query and returns the resulting rows.
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)

	// QueryRow executes an SQL query and returns a single row.
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row

	// Ping checks that a connection can be acquired and answers.
	Ping(ctx context.Context) error

	// Close closes the pool and all its connections.
	Close()
}

var _ PostgresPool = (*pgxpool.Pool)(nil)

// DB holds the driver connection pool
type DB struct {
	Pool PostgresPool
}

// maxOpenDbConn bounds concurrent connections to the server.
const maxOpenDbConn = 10

// maxDbLifetime recycles connections older than this.
const maxDbLifetime = 5 * time.Minute

// ConnectSQL parses dsn, opens a bounded pgx pool and pings it once.
func ConnectSQL(ctx context.Context, dsn string, logger *zap.Logger) (*DB, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	config.MaxConns = int32(maxOpenDbConn)
	config.MaxConnLifetime = maxDbLifetime

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		logger.Error("Postgres connection error", zap.Error(err))
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logger.Info("Connected to Postgres", zap.String("host", config.ConnConfig.Host))
	return &DB{Pool: pool}, nil
}

func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}
