package gomarket

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"gofalre.io/gomarket/models"
	"gofalre.io/gomarket/storage"
)

// DefaultStorageKey is the key the unnamed scope persists under.
const DefaultStorageKey = "@GoMarket:product"

const defaultWriteBacklog = 128

var (
	// ErrNoCartProvider is returned when a cart is looked up in a context
	// that no Provider has mounted.
	ErrNoCartProvider = errors.New("gomarket: UseCart must be used within a mounted cart Provider")

	// ErrProviderClosed is returned by Mount after Close.
	ErrProviderClosed = errors.New("gomarket: cart provider is closed")
)

type cartContextKey struct{}

type Option func(*Provider)

// WithStorageKey replaces DefaultStorageKey as the base key.
func WithStorageKey(key string) Option {
	return func(p *Provider) {
		if key != "" {
			p.baseKey = key
		}
	}
}

// WithEventPublisher makes every mounted cart report its transitions.
func WithEventPublisher(publisher EventPublisher) Option {
	return func(p *Provider) {
		p.publisher = publisher
	}
}

// WithWriteBacklog sets how many writes may wait for the writer.
func WithWriteBacklog(n int) Option {
	return func(p *Provider) {
		p.backlog = n
	}
}

// Provider mounts carts into contexts. Every scope gets one Store, created
// and rehydrated on first mount; all stores share a single writer.
type Provider struct {
	storage   storage.Storage
	publisher EventPublisher
	logger    *zap.Logger
	baseKey   string
	backlog   int
	writer    *WorkerPool

	mu     sync.Mutex
	carts  map[string]*Store
	closed bool
}

func NewProvider(st storage.Storage, logger *zap.Logger, opts ...Option) *Provider {
	p := &Provider{
		storage: st,
		logger:  logger,
		baseKey: DefaultStorageKey,
		backlog: defaultWriteBacklog,
		carts:   make(map[string]*Store),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.writer = NewWorkerPool(1, p.backlog, logger)
	return p
}

// StorageKey returns the key the cart for scope persists under.
func (p *Provider) StorageKey(scope string) string {
	if scope == "" {
		return p.baseKey
	}
	return p.baseKey + ":" + scope
}

// Mount returns a context carrying the cart for scope. The first mount of a
// scope reads the persisted cart before returning, even if ctx is already
// done.
func (p *Provider) Mount(ctx context.Context, scope string) (context.Context, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrProviderClosed
	}
	store, ok := p.carts[scope]
	if !ok {
		store = newStore(scope, p.StorageKey(scope), p.storage, p.writer, p.publisher, p.logger)
		p.carts[scope] = store
	}
	p.mu.Unlock()

	// the store outlives the mounting request
	store.initOnce.Do(func() {
		store.Initialize(context.WithoutCancel(ctx))
	})

	return context.WithValue(ctx, cartContextKey{}, store), nil
}

// Scopes lists the scopes mounted so far.
func (p *Provider) Scopes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	scopes := make([]string, 0, len(p.carts))
	for scope := range p.carts {
		scopes = append(scopes, scope)
	}
	return scopes
}

// Close refuses further mounts and waits for queued writes to land.
func (p *Provider) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.writer.Shutdown()
	p.logger.Info("Cart provider closed")
}

// UseCart returns the cart mounted into ctx.
func UseCart(ctx context.Context) (Cart, error) {
	store, err := storeFrom(ctx)
	if err != nil {
		return nil, err
	}
	return store, nil
}

// MustUseCart is UseCart for callers that treat a scope-miss as a bug.
func MustUseCart(ctx context.Context) Cart {
	cart, err := UseCart(ctx)
	if err != nil {
		panic(err)
	}
	return cart
}

// Watch streams snapshots of the mounted cart until ctx is done.
func Watch(ctx context.Context) (<-chan models.Snapshot, error) {
	store, err := storeFrom(ctx)
	if err != nil {
		return nil, err
	}

	ch, cancel := store.Subscribe()
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch, nil
}

func storeFrom(ctx context.Context) (*Store, error) {
	if ctx == nil {
		return nil, ErrNoCartProvider
	}
	store, ok := ctx.Value(cartContextKey{}).(*Store)
	if !ok || store == nil {
		return nil, ErrNoCartProvider
	}
	return store, nil
}
