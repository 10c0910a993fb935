package event

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"gofalre.io/gomarket/driver"
	"gofalre.io/gomarket/models"
	"gofalre.io/gomarket/models/enum"
)

var _ Repository = (*repository)(nil)

const (
	createEventsTable = `CREATE TABLE IF NOT EXISTS cart_events (
	id         UUID PRIMARY KEY,
	scope      TEXT NOT NULL,
	type       TEXT NOT NULL,
	item_id    TEXT NOT NULL DEFAULT '',
	quantity   INTEGER NOT NULL,
	version    BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
)`

	insertEvent = `INSERT INTO cart_events (id, scope, type, item_id, quantity, version, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO NOTHING`

	selectEventsByScope = `SELECT id, scope, type, item_id, quantity, version, created_at
FROM cart_events WHERE scope = $1 ORDER BY version DESC LIMIT $2`
)

// Repository journals cart events in Postgres.
type Repository interface {
	EnsureSchema(ctx context.Context) error
	Create(ctx context.Context, event *models.CartEvent) error
	ListByScope(ctx context.Context, scope string, limit int) ([]*models.CartEvent, error)
}

type repository struct {
	conn   driver.PostgresPool
	logger *zap.Logger
}

func NewRepository(conn driver.PostgresPool, logger *zap.Logger) Repository {
	return &repository{
		conn:   conn,
		logger: logger,
	}
}

func (r *repository) EnsureSchema(ctx context.Context) error {
	if _, err := r.conn.Exec(ctx, createEventsTable); err != nil {
		return fmt.Errorf("create cart_events: %w", err)
	}
	return nil
}

// Create stores event; replaying an id already journaled is a no-op.
func (r *repository) Create(ctx context.Context, event *models.CartEvent) error {
	_, err := r.conn.Exec(ctx, insertEvent,
		event.ID,
		event.Scope,
		string(event.Type),
		event.ItemID,
		event.Quantity,
		int64(event.Version),
		event.CreatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to journal cart event", zap.String("event_id", event.ID.String()), zap.Error(err))
		return fmt.Errorf("insert cart event: %w", err)
	}
	return nil
}

// ListByScope returns the newest events of scope first.
func (r *repository) ListByScope(ctx context.Context, scope string, limit int) ([]*models.CartEvent, error) {
	rows, err := r.conn.Query(ctx, selectEventsByScope, scope, limit)
	if err != nil {
		return nil, fmt.Errorf("query cart events: %w", err)
	}

	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.CartEvent, error) {
		var (
			e         models.CartEvent
			eventType string
			version   int64
		)
		if err := row.Scan(&e.ID, &e.Scope, &eventType, &e.ItemID, &e.Quantity, &version, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = enum.CartEventType(eventType)
		e.Version = uint64(version)
		return &e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan cart events: %w", err)
	}
	return events, nil
}
