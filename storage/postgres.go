package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"gofalre.io/gomarket/driver"
)

var _ Storage = (*Postgres)(nil)

const (
	createKVTable = `CREATE TABLE IF NOT EXISTS kv_storage (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

	selectKV = `SELECT value FROM kv_storage WHERE key = $1`

	upsertKV = `INSERT INTO kv_storage (key, value, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`

	deleteKV = `DELETE FROM kv_storage WHERE key = $1`
)

// Postgres keeps values in the kv_storage table.
type Postgres struct {
	conn               driver.PostgresPool
	transactionManager *driver.TransactionManager
	logger             *zap.Logger
}

func NewPostgres(conn driver.PostgresPool, tm *driver.TransactionManager, logger *zap.Logger) *Postgres {
	return &Postgres{
		conn:               conn,
		transactionManager: tm,
		logger:             logger,
	}
}

// EnsureSchema creates the kv_storage table when it does not exist yet.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.conn.Exec(ctx, createKVTable); err != nil {
		return fmt.Errorf("create kv_storage: %w", err)
	}
	return nil
}

func (p *Postgres) GetItem(ctx context.Context, key string) (string, error) {
	var value string
	err := p.conn.QueryRow(ctx, selectKV, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		p.logger.Error("Failed to get item", zap.String("key", key), zap.Error(err))
		return "", fmt.Errorf("select %q: %w", key, err)
	}
	return value, nil
}

// SetItem upserts value under serializable isolation, retrying on
// serialization failures and deadlocks.
func (p *Postgres) SetItem(ctx context.Context, key, value string) error {
	return p.transactionManager.ExecuteSerializableTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertKV, key, value); err != nil {
			p.logger.Error("Failed to set item", zap.String("key", key), zap.Error(err))
			return fmt.Errorf("upsert %q: %w", key, err)
		}
		return nil
	})
}

func (p *Postgres) RemoveItem(ctx context.Context, key string) error {
	return p.transactionManager.ExecuteTransaction(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, deleteKV, key); err != nil {
			return fmt.Errorf("delete %q: %w", key, err)
		}
		return nil
	})
}
