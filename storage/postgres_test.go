package storage

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gofalre.io/gomarket/driver"
)

// fakePool answers the kv_storage statements from a map.
type fakePool struct {
	mu      sync.Mutex
	rows    map[string]string
	execErr error

	// failures are returned by the next Exec calls, one each, before execErr.
	failures  []error
	isoLevels []pgx.TxIsoLevel
	commits   int
	aborts    int
}

func newFakePool() *fakePool {
	return &fakePool{rows: make(map[string]string)}
}

func (p *fakePool) BeginTx(_ context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.isoLevels = append(p.isoLevels, opts.IsoLevel)
	return &fakeTx{pool: p}, nil
}

func (p *fakePool) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.failures) > 0 {
		err := p.failures[0]
		p.failures = p.failures[1:]
		return pgconn.CommandTag{}, err
	}
	if p.execErr != nil {
		return pgconn.CommandTag{}, p.execErr
	}
	switch sql {
	case upsertKV:
		p.rows[args[0].(string)] = args[1].(string)
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	case deleteKV:
		delete(p.rows, args[0].(string))
		return pgconn.NewCommandTag("DELETE 1"), nil
	case createKVTable:
		return pgconn.NewCommandTag("CREATE TABLE"), nil
	}
	return pgconn.CommandTag{}, errors.New("unexpected statement")
}

func (p *fakePool) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (p *fakePool) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	p.mu.Lock()
	defer p.mu.Unlock()

	if sql != selectKV {
		return fakeRow{err: errors.New("unexpected query")}
	}
	v, ok := p.rows[args[0].(string)]
	if !ok {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return fakeRow{value: v}
}

func (p *fakePool) Ping(context.Context) error { return nil }
func (p *fakePool) Close()                     {}

type fakeRow struct {
	value string
	err   error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*string) = r.value
	return nil
}

// fakeTx forwards Exec to the pool; the embedded interface covers the rest.
type fakeTx struct {
	pgx.Tx
	pool *fakePool
}

func (tx *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return tx.pool.Exec(ctx, sql, args...)
}

func (tx *fakeTx) Commit(context.Context) error {
	tx.pool.commits++
	return nil
}

func (tx *fakeTx) Rollback(context.Context) error {
	tx.pool.aborts++
	return nil
}

func newTestPostgres(pool *fakePool) *Postgres {
	logger := zap.NewNop()
	return NewPostgres(pool, driver.NewTransactionManager(pool, logger), logger)
}

func TestPostgres(t *testing.T) {
	pool := newFakePool()
	s := newTestPostgres(pool)
	require.NoError(t, s.EnsureSchema(context.Background()))

	exerciseStorage(t, s)
	assert.Equal(t, 5, pool.commits, "each SetItem and RemoveItem commits its own transaction")
	assert.Equal(t, []pgx.TxIsoLevel{
		pgx.Serializable, pgx.Serializable, pgx.Serializable, pgx.ReadCommitted, pgx.ReadCommitted,
	}, pool.isoLevels)
}

func TestPostgresSetItemRetriesSerializationFailure(t *testing.T) {
	pool := newFakePool()
	pool.failures = []error{
		&pgconn.PgError{Code: "40001", Message: "could not serialize access"},
		&pgconn.PgError{Code: "40P01", Message: "deadlock detected"},
	}
	s := newTestPostgres(pool)

	require.NoError(t, s.SetItem(context.Background(), "k", "v"))
	assert.Equal(t, 2, pool.aborts)
	assert.Equal(t, 1, pool.commits)

	got, err := s.GetItem(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestPostgresSetItemGivesUpAfterRetries(t *testing.T) {
	pool := newFakePool()
	pool.execErr = &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
	s := newTestPostgres(pool)

	err := s.SetItem(context.Background(), "k", "v")
	require.Error(t, err)
	assert.True(t, driver.IsRetryableError(err))
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, 3, pool.aborts)
	assert.Zero(t, pool.commits)
}

func TestPostgresSetItemRollsBack(t *testing.T) {
	pool := newFakePool()
	pool.execErr = errors.New("connection reset")
	s := newTestPostgres(pool)

	err := s.SetItem(context.Background(), "k", "v")
	require.Error(t, err)
	assert.ErrorIs(t, err, pool.execErr)
	assert.Equal(t, 1, pool.aborts)
	assert.Zero(t, pool.commits)
}
