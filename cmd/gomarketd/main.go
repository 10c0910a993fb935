package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gofalre.io/gomarket"
	"gofalre.io/gomarket/config"
	"gofalre.io/gomarket/driver"
	"gofalre.io/gomarket/event"
	"gofalre.io/gomarket/handler"
	"gofalre.io/gomarket/models"
	"gofalre.io/gomarket/models/enum"
	"gofalre.io/gomarket/storage"
)

const (
	eventBacklog    = 1000
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg := config.Load()

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err = run(cfg, logger); err != nil {
		logger.Fatal("gomarketd stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backend, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backend.close()

	opts := []gomarket.Option{gomarket.WithStorageKey(cfg.Storage.Key)}

	if cfg.EventsEnabled() {
		natsConn, err := driver.ConnectNATS(cfg.NATS.URL, "gomarketd", logger)
		if err != nil {
			return err
		}
		defer natsConn.Close()

		eventManager := gomarket.NewEventManager(natsConn, logger)
		eventPool := gomarket.NewWorkerPool(cfg.NATS.EventWorkers, eventBacklog, logger)
		defer eventPool.Shutdown()

		if err = registerEventHandlers(ctx, eventManager, backend, logger); err != nil {
			return err
		}
		sub, err := eventManager.SubscribeToEvents(eventPool)
		if err != nil {
			return fmt.Errorf("subscribe cart events: %w", err)
		}
		defer func() { _ = sub.Unsubscribe() }()

		opts = append(opts, gomarket.WithEventPublisher(eventManager))
	}

	provider := gomarket.NewProvider(backend.storage, logger, opts...)
	defer provider.Close()

	gin.SetMode(cfg.Server.GinMode)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           handler.NewRouter(provider, logger),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP server starting", zap.String("addr", server.Addr), zap.String("storage", cfg.Storage.Backend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown requested")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.AppEnv == "dev" {
		zcfg = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zcfg.Level = level

	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", "gomarketd"), zap.String("env", cfg.AppEnv)), nil
}

type storageBackend struct {
	storage storage.Storage
	db      *driver.DB
	close   func()
}

func openStorage(ctx context.Context, cfg config.Config, logger *zap.Logger) (*storageBackend, error) {
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return &storageBackend{storage: storage.NewMemory(), close: func() {}}, nil

	case config.BackendFile:
		st, err := storage.NewFile(cfg.Storage.Dir, logger)
		if err != nil {
			return nil, err
		}
		return &storageBackend{storage: st, close: func() {}}, nil

	case config.BackendRedis:
		client, err := driver.ConnectRedis(ctx, driver.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger)
		if err != nil {
			return nil, err
		}
		return &storageBackend{
			storage: storage.NewRedis(client, cfg.Redis.Prefix, logger),
			close:   func() { _ = client.Close() },
		}, nil

	case config.BackendPostgres:
		db, err := driver.ConnectSQL(ctx, cfg.PostgresDSN, logger)
		if err != nil {
			return nil, err
		}
		st := storage.NewPostgres(db.Pool, driver.NewTransactionManager(db.Pool, logger), logger)
		if err = st.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return &storageBackend{storage: st, db: db, close: db.Close}, nil
	}

	return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}

// registerEventHandlers journals events when Postgres is available and
// otherwise just logs them.
func registerEventHandlers(ctx context.Context, em *gomarket.EventManager, backend *storageBackend, logger *zap.Logger) error {
	handle := func(_ context.Context, e *models.CartEvent) error {
		logger.Debug("Cart event",
			zap.String("event_id", e.ID.String()),
			zap.String("scope", e.Scope),
			zap.String("event_type", string(e.Type)),
			zap.Uint64("version", e.Version))
		return nil
	}

	if backend.db != nil {
		journal := event.NewRepository(backend.db.Pool, logger)
		if err := journal.EnsureSchema(ctx); err != nil {
			return err
		}
		handle = journal.Create
	}

	for _, t := range []enum.CartEventType{
		enum.CartEventTypeRestored,
		enum.CartEventTypeAdded,
		enum.CartEventTypeIncremented,
		enum.CartEventTypeDecremented,
		enum.CartEventTypeRemoved,
	} {
		em.RegisterHandler(t, handle)
	}
	return nil
}
