package event

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gofalre.io/gomarket/models"
	"gofalre.io/gomarket/models/enum"
)

type execCall struct {
	sql  string
	args []any
}

type fakePool struct {
	execs   []execCall
	execErr error
	rows    [][]any
}

func (p *fakePool) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) {
	return nil, errors.New("not implemented")
}

func (p *fakePool) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.execs = append(p.execs, execCall{sql: sql, args: args})
	return pgconn.NewCommandTag("INSERT 0 1"), p.execErr
}

func (p *fakePool) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return &fakeRows{rows: p.rows, pos: -1}, nil
}

func (p *fakePool) QueryRow(context.Context, string, ...any) pgx.Row { return nil }
func (p *fakePool) Ping(context.Context) error                       { return nil }
func (p *fakePool) Close()                                           {}

// fakeRows copies canned values into Scan destinations.
type fakeRows struct {
	pgx.Rows
	rows   [][]any
	pos    int
	closed bool
}

func (r *fakeRows) Next() bool {
	r.pos++
	return r.pos < len(r.rows)
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.rows[r.pos]
	for i, d := range dest {
		switch d := d.(type) {
		case *uuid.UUID:
			*d = row[i].(uuid.UUID)
		case *string:
			*d = row[i].(string)
		case *int:
			*d = row[i].(int)
		case *int64:
			*d = row[i].(int64)
		case *time.Time:
			*d = row[i].(time.Time)
		default:
			return errors.New("unsupported destination")
		}
	}
	return nil
}

func (r *fakeRows) Close()     { r.closed = true }
func (r *fakeRows) Err() error { return nil }

func TestRepositoryCreate(t *testing.T) {
	pool := &fakePool{}
	repo := NewRepository(pool, zap.NewNop())

	ev := models.NewCartEvent("s1", enum.CartEventTypeAdded, "1", 1, 3)
	require.NoError(t, repo.Create(context.Background(), ev))

	require.Len(t, pool.execs, 1)
	assert.Equal(t, insertEvent, pool.execs[0].sql)
	assert.Equal(t, []any{ev.ID, "s1", "added", "1", 1, int64(3), ev.CreatedAt}, pool.execs[0].args)
}

func TestRepositoryCreateError(t *testing.T) {
	pool := &fakePool{execErr: errors.New("disk full")}
	repo := NewRepository(pool, zap.NewNop())

	err := repo.Create(context.Background(), models.NewCartEvent("s1", enum.CartEventTypeAdded, "1", 1, 1))
	assert.ErrorIs(t, err, pool.execErr)
}

func TestRepositoryListByScope(t *testing.T) {
	id := uuid.New()
	at := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	pool := &fakePool{rows: [][]any{
		{id, "s1", "removed", "1", 0, int64(4), at},
	}}
	repo := NewRepository(pool, zap.NewNop())

	events, err := repo.ListByScope(context.Background(), "s1", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, &models.CartEvent{
		ID:        id,
		Scope:     "s1",
		Type:      enum.CartEventTypeRemoved,
		ItemID:    "1",
		Quantity:  0,
		Version:   4,
		CreatedAt: at,
	}, events[0])
}
