package gridfs

import (
	"context"
	"fmt"

	httpadapter "gridfs-store/internal/gridfs/adapter/http"
	redispersistence "gridfs-store/internal/gridfs/adapter/persistence"
	"gridfs-store/internal/gridfs/adapter/persistence/mongodb"
	"gridfs-store/internal/gridfs/adapter/security"
	"gridfs-store/internal/gridfs/config"
	"gridfs-store/internal/gridfs/domain/model"
	"gridfs-store/internal/gridfs/domain/repository"
	"gridfs-store/internal/gridfs/domain/service"
	"gridfs-store/internal/gridfs/usecase"
	"gridfs-store/internal/shared/eventbus"
	"gridfs-store/internal/shared/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
)

// GridFSModule wires the file store, its HTTP API and the event feed.
type GridFSModule struct {
	Config       *config.Config
	FileUsecase  usecase.FileUsecase
	EventBus     *eventbus.EventBus
	EventStore   *redispersistence.RedisEventStore // nil without redis
	TokenService repository.TokenService           // nil when auth is disabled
	Middleware   *httpadapter.Middleware
	WatchHub     *httpadapter.WatchHub
	Logger       logger.Logger
}

// NewGridFSModule creates the module over db. redisClient may be nil.
func NewGridFSModule(cfg *config.Config, db mongodb.DatabaseInterface, redisClient *redis.Client, log logger.Logger) (*GridFSModule, error) {
	log.Info("Initializing GridFS module...")
	if cfg == nil {
		cfg = config.DefaultConfig()
		log.Info("No configuration provided, using defaults.")
	}

	policy, err := service.NewUploadPolicy(cfg.UploadPolicy)
	if err != nil {
		return nil, fmt.Errorf("invalid GRIDFS_UPLOAD_POLICY: %w", err)
	}

	bus := eventbus.NewEventBusWithConfig(log, eventbus.BusConfig{
		Async:      cfg.Events.Async,
		QueueSize:  cfg.Events.QueueSize,
		MaxRetries: cfg.Events.MaxRetries,
		RetryDelay: cfg.Events.RetryDelay,
	})
	m := &GridFSModule{
		Config:   cfg,
		EventBus: bus,
		WatchHub: httpadapter.NewWatchHub(cfg.Realtime.ClientSendChannelBuffer, log),
		Logger:   log,
	}
	bus.SubscribeAll(eventbus.FileEventTypes, m.WatchHub.HandleEvent)

	opts := usecase.Options{
		ChunkSize:     cfg.ChunkSize,
		MaxUploadSize: cfg.MaxUploadSize,
		Policy:        policy,
		EventBus:      bus,
	}
	if redisClient != nil {
		m.EventStore = redispersistence.NewRedisEventStore(redisClient, cfg.Redis.StreamPrefix, cfg.Redis.StreamMaxLength, log)
		opts.EventStore = m.EventStore
		bus.SubscribeAll(eventbus.FileEventTypes, m.storeEvent)
		log.Info("RedisEventStore initialized successfully.")
	}

	if cfg.Auth.Enabled {
		tokens, err := security.NewJWTokenService(&cfg.Auth)
		if err != nil {
			return nil, fmt.Errorf("failed to create token service: %w", err)
		}
		m.TokenService = tokens
	}
	m.Middleware = httpadapter.NewMiddleware(m.TokenService, cfg.Server.RateLimit, log)
	m.FileUsecase = usecase.NewFileUsecase(db, log, opts)

	log.Infof("GridFS module ready (database %s, default bucket %s)", db.Name(), cfg.DefaultPrefix)
	return m, nil
}

// storeEvent appends file events to the redis stream. A failed append only loses replay history.
func (m *GridFSModule) storeEvent(ctx context.Context, event eventbus.Event) error {
	fileEvent, ok := event.Data().(model.FileEvent)
	if !ok {
		return nil
	}
	if err := m.EventStore.StoreEvent(ctx, fileEvent); err != nil {
		m.Logger.Warnf("Failed to persist %s event for bucket %s: %v", fileEvent.Type, fileEvent.Bucket, err)
	}
	return nil
}

// RegisterRoutes registers the file API and the watch endpoint.
func (m *GridFSModule) RegisterRoutes(router fiber.Router) {
	m.WatchHub.RegisterRoutes(router, m.Config.Realtime.WebSocketPath)

	handler := httpadapter.NewFileHandler(m.FileUsecase, m.Middleware, m.Config.UploadTempDir, m.Logger)
	handler.RegisterRoutes(router)

	m.Logger.Info("GridFS HTTP routes and watch endpoint registered.")
}

// Start prepares the default bucket
func (m *GridFSModule) Start(ctx context.Context) error {
	if !m.Config.EnsureIndexesOnStartup {
		return nil
	}
	if err := m.FileUsecase.EnsureIndexes(ctx, m.Config.DefaultPrefix, false); err != nil {
		return fmt.Errorf("failed to ensure indexes of bucket %s: %w", m.Config.DefaultPrefix, err)
	}
	m.Logger.Infof("Indexes of bucket %s ensured", m.Config.DefaultPrefix)
	return nil
}

// Stop delivers the queued events, then detaches every subscriber.
func (m *GridFSModule) Stop() error {
	m.Logger.Info("Stopping GridFS module...")
	m.EventBus.Close()
	for _, eventType := range m.EventBus.GetEventTypes() {
		m.EventBus.Unsubscribe(eventType)
	}
	m.Logger.Info("GridFS module stopped.")
	return nil
}
