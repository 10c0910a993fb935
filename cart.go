// Package gomarket holds the shopping-cart store: an in-memory list of line
// items mirrored into key-value storage after every change, handed to
// consumers through a scope-bound Provider.
package gomarket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"gofalre.io/gomarket/models"
	"gofalre.io/gomarket/models/enum"
	"gofalre.io/gomarket/storage"
)

// Cart is what a consumer sees: the current items and the three mutations.
type Cart interface {
	Products() []models.LineItem
	AddToCart(ctx context.Context, item models.LineItem) error
	Increment(ctx context.Context, id string) error
	Decrement(ctx context.Context, id string) error
}

// EventPublisher receives one event per cart transition.
type EventPublisher interface {
	Publish(ctx context.Context, event *models.CartEvent) error
}

var _ Cart = (*Store)(nil)

// Store owns the canonical cart for one scope.
//
// Transitions are serialized by mu. Each one publishes a snapshot to the
// observers and appends the full serialized sequence to pending before mu is
// released. A single flush task per store drains pending on the shared
// writer, so persisted writes follow transition order and no reader waits
// on the writer.
type Store struct {
	scope     string
	key       string
	storage   storage.Storage
	writer    *WorkerPool
	publisher EventPublisher
	logger    *zap.Logger

	initOnce sync.Once

	mu           sync.Mutex
	items        models.Items
	version      uint64
	observers    map[uint64]chan models.Snapshot
	nextObserver uint64
	pending      []pendingWrite
	flushing     bool
}

type pendingWrite struct {
	ctx  context.Context
	blob string
	done chan error
}

func newStore(scope, key string, st storage.Storage, writer *WorkerPool, publisher EventPublisher, logger *zap.Logger) *Store {
	return &Store{
		scope:     scope,
		key:       key,
		storage:   st,
		writer:    writer,
		publisher: publisher,
		logger:    logger.With(zap.String("scope", scope), zap.String("storage_key", key)),
		items:     models.Items{},
		observers: make(map[uint64]chan models.Snapshot),
	}
}

// Scope returns the name the store was mounted under.
func (s *Store) Scope() string {
	return s.scope
}

// Initialize replaces the cart with the persisted sequence, if any. A missing
// key, a read failure or an unparsable blob all leave the cart as it is.
func (s *Store) Initialize(ctx context.Context) {
	blob, err := s.storage.GetItem(ctx, s.key)
	if errors.Is(err, storage.ErrNotFound) {
		s.logger.Debug("No persisted cart")
		return
	}
	if err != nil {
		s.logger.Warn("Failed to load persisted cart", zap.Error(err))
		return
	}

	var items models.Items
	if err = json.Unmarshal([]byte(blob), &items); err != nil {
		s.logger.Warn("Failed to parse persisted cart", zap.Error(err))
		return
	}

	s.mu.Lock()
	s.items = items.Clone()
	s.version++
	snapshot := s.snapshotLocked()
	s.broadcastLocked(snapshot)
	s.mu.Unlock()

	s.logger.Info("Restored persisted cart", zap.Int("items", len(snapshot.Items)))
	s.publish(ctx, models.NewCartEvent(s.scope, enum.CartEventTypeRestored, "", len(snapshot.Items), snapshot.Version))
}

// Products returns a copy of the current items.
func (s *Store) Products() []models.LineItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.items.Clone()
}

// Snapshot returns the current state with its version.
func (s *Store) Snapshot() models.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snapshotLocked()
}

// AddToCart merges item into the cart; see models.Items.Add.
func (s *Store) AddToCart(ctx context.Context, item models.LineItem) error {
	return s.mutate(ctx, enum.CartEventTypeAdded, item.ID, func(items models.Items) models.Items {
		return items.Add(item)
	})
}

// Increment adds one unit to the item with the given id, if present.
func (s *Store) Increment(ctx context.Context, id string) error {
	return s.mutate(ctx, enum.CartEventTypeIncremented, id, func(items models.Items) models.Items {
		return items.Increment(id)
	})
}

// Decrement removes one unit from the item with the given id and drops the
// item when its quantity reaches zero.
func (s *Store) Decrement(ctx context.Context, id string) error {
	return s.mutate(ctx, enum.CartEventTypeDecremented, id, func(items models.Items) models.Items {
		return items.Decrement(id)
	})
}

// Subscribe returns a channel that always holds the newest snapshot not yet
// received, starting with the current one. Stale snapshots are dropped, so a
// slow reader never holds up a mutation.
func (s *Store) Subscribe() (<-chan models.Snapshot, func()) {
	ch := make(chan models.Snapshot, 1)

	s.mu.Lock()
	id := s.nextObserver
	s.nextObserver++
	s.observers[id] = ch
	ch <- s.snapshotLocked()
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.observers, id)
			close(ch)
			s.mu.Unlock()
		})
	}
	return ch, cancel
}

// mutate applies transform to the current items and then waits for the
// resulting write. A failed write leaves memory ahead of storage; nothing is
// rolled back or retried.
func (s *Store) mutate(ctx context.Context, eventType enum.CartEventType, id string, transform func(models.Items) models.Items) error {
	s.mu.Lock()
	prev := s.items
	s.items = transform(prev)
	s.version++
	snapshot := s.snapshotLocked()
	s.broadcastLocked(snapshot)

	done, schedule, err := s.queueWriteLocked(ctx, snapshot.Items)
	s.mu.Unlock()

	if eventType == enum.CartEventTypeDecremented && prev.Index(id) >= 0 && snapshot.Items.Index(id) < 0 {
		eventType = enum.CartEventTypeRemoved
	}
	s.publish(ctx, models.NewCartEvent(s.scope, eventType, id, snapshot.Items.Quantity(id), snapshot.Version))

	if err != nil {
		s.logger.Error("Failed to queue cart write", zap.Uint64("version", snapshot.Version), zap.Error(err))
		return fmt.Errorf("persist cart %q: %w", s.key, err)
	}
	if schedule {
		s.scheduleFlush(ctx)
	}

	select {
	case err = <-done:
		if err != nil {
			s.logger.Error("Failed to persist cart", zap.Uint64("version", snapshot.Version), zap.Error(err))
			return fmt.Errorf("persist cart %q: %w", s.key, err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// queueWriteLocked serializes items onto pending. It reports whether the
// caller has to hand a flush to the writer. The write outlives ctx
// cancellation; only ctx values are carried over.
func (s *Store) queueWriteLocked(ctx context.Context, items models.Items) (<-chan error, bool, error) {
	blob, err := json.Marshal(items)
	if err != nil {
		return nil, false, fmt.Errorf("encode cart: %w", err)
	}

	done := make(chan error, 1)
	s.pending = append(s.pending, pendingWrite{
		ctx:  context.WithoutCancel(ctx),
		blob: string(blob),
		done: done,
	})
	if s.flushing {
		return done, false, nil
	}
	s.flushing = true
	return done, true, nil
}

// scheduleFlush hands flush to the writer. When ctx ends while the writer's
// backlog is full, the hand-off carries on in the background so queued
// writes still land.
func (s *Store) scheduleFlush(ctx context.Context) {
	err := s.writer.Submit(ctx, s.flush)
	switch {
	case err == nil:
	case errors.Is(err, ErrPoolClosed):
		s.failPending(err)
	default:
		go func() {
			if err := s.writer.Submit(context.WithoutCancel(ctx), s.flush); err != nil {
				s.failPending(err)
			}
		}()
	}
}

// flush writes pending snapshots oldest first until none are left.
func (s *Store) flush() {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.flushing = false
			s.mu.Unlock()
			return
		}
		w := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		w.done <- s.write(w)
	}
}

func (s *Store) write(w pendingWrite) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("storage panic: %v", p)
		}
	}()
	return s.storage.SetItem(w.ctx, s.key, w.blob)
}

func (s *Store) failPending(err error) {
	s.mu.Lock()
	failed := s.pending
	s.pending = nil
	s.flushing = false
	s.mu.Unlock()

	for _, w := range failed {
		w.done <- err
	}
}

func (s *Store) publish(ctx context.Context, event *models.CartEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("Failed to publish cart event",
			zap.String("event_type", string(event.Type)),
			zap.String("event_id", event.ID.String()),
			zap.Error(err))
	}
}

func (s *Store) snapshotLocked() models.Snapshot {
	return models.Snapshot{
		Scope:   s.scope,
		Version: s.version,
		Items:   s.items.Clone(),
	}
}

func (s *Store) broadcastLocked(snapshot models.Snapshot) {
	for _, ch := range s.observers {
		select {
		case ch <- snapshot:
		default:
			// 丟棄尚未讀取的舊快照
			select {
			case <-ch:
			default:
			}
			ch <- snapshot
		}
	}
}
