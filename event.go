package gomarket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"gofalre.io/gomarket/models"
	"gofalre.io/gomarket/models/enum"
)

const (
	eventSubjectPrefix = "gomarket.cart."
	eventSubjectAll    = eventSubjectPrefix + ">"
)

type EventHandler func(context.Context, *models.CartEvent) error

var _ EventPublisher = (*EventManager)(nil)

// EventManager publishes cart events on NATS and dispatches the ones it
// receives to the handler registered for their type.
type EventManager struct {
	natsConn *nats.Conn
	logger   *zap.Logger

	mu       sync.RWMutex
	handlers map[enum.CartEventType]EventHandler
}

func NewEventManager(natsConn *nats.Conn, logger *zap.Logger) *EventManager {
	return &EventManager{
		natsConn: natsConn,
		handlers: make(map[enum.CartEventType]EventHandler),
		logger:   logger,
	}
}

// EventSubject is the NATS subject events of the given type travel on.
func EventSubject(eventType enum.CartEventType) string {
	return eventSubjectPrefix + string(eventType)
}

func (em *EventManager) Publish(_ context.Context, event *models.CartEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode cart event: %w", err)
	}
	if err = em.natsConn.Publish(EventSubject(event.Type), data); err != nil {
		return fmt.Errorf("publish cart event %s: %w", event.ID, err)
	}
	return nil
}

func (em *EventManager) RegisterHandler(eventType enum.CartEventType, handler EventHandler) {
	em.mu.Lock()
	defer em.mu.Unlock()

	em.handlers[eventType] = handler
}

func (em *EventManager) GetHandler(eventType enum.CartEventType) (EventHandler, bool) {
	em.mu.RLock()
	defer em.mu.RUnlock()

	handler, exists := em.handlers[eventType]
	return handler, exists
}

// SubscribeToEvents listens on every cart subject and runs handlers on wp.
func (em *EventManager) SubscribeToEvents(wp *WorkerPool) (*nats.Subscription, error) {
	return em.natsConn.Subscribe(eventSubjectAll, func(msg *nats.Msg) {
		em.dispatch(msg.Data, wp)
	})
}

func (em *EventManager) dispatch(data []byte, wp *WorkerPool) {
	var event models.CartEvent
	if err := json.Unmarshal(data, &event); err != nil {
		em.logger.Error("Failed to unmarshal event", zap.Error(err))
		return
	}

	if !event.Type.Valid() {
		em.logger.Warn("Dropped event of unknown type",
			zap.String("event_type", string(event.Type)),
			zap.String("event_id", event.ID.String()))
		return
	}

	handler, ok := em.GetHandler(event.Type)
	if !ok {
		em.logger.Debug("No handler for event", zap.String("event_type", string(event.Type)))
		return
	}

	err := wp.Submit(context.Background(), func() {
		if err := handler(context.Background(), &event); err != nil {
			em.logger.Error("Failed to process event",
				zap.Error(err),
				zap.String("event_type", string(event.Type)),
				zap.String("event_id", event.ID.String()))
		}
	})
	if err != nil {
		em.logger.Warn("Dropped event", zap.String("event_id", event.ID.String()), zap.Error(err))
	}
}
