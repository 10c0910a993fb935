// Package storage holds the key-value persistence port the cart mirrors
// itself into, with memory, file, Redis and Postgres backends.
//
// Values are opaque strings. Every backend reports a missing key with
// ErrNotFound so callers can tell "never written" apart from a failure.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by GetItem when nothing is stored under the key.
var ErrNotFound = errors.New("storage: key not found")

type Storage interface {
	GetItem(ctx context.Context, key string) (string, error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
}
