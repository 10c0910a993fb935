package models

import (
	"time"

	"github.com/google/uuid"

	"gofalre.io/gomarket/models/enum"
)

// CartEvent describes a single cart state transition.
type CartEvent struct {
	ID        uuid.UUID          `json:"id"`
	Scope     string             `json:"scope"`
	Type      enum.CartEventType `json:"type"`
	ItemID    string             `json:"item_id,omitempty"`
	Quantity  int                `json:"quantity"`
	Version   uint64             `json:"version"`
	CreatedAt time.Time          `json:"created_at"`
}

func NewCartEvent(scope string, eventType enum.CartEventType, itemID string, quantity int, version uint64) *CartEvent {
	return &CartEvent{
		ID:        uuid.New(),
		Scope:     scope,
		Type:      eventType,
		ItemID:    itemID,
		Quantity:  quantity,
		Version:   version,
		CreatedAt: time.Now().UTC(),
	}
}
