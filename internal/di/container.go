package di

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"gridfs-store/internal/gridfs"
	"gridfs-store/internal/gridfs/adapter/persistence/mongodb"
	"gridfs-store/internal/gridfs/adapter/security"
	"gridfs-store/internal/gridfs/config"
	"gridfs-store/internal/gridfs/domain/repository"
	"gridfs-store/internal/shared/logger"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Container owns the connections of the server and a typed registry of its services.
// InitializeGridFS registers *gridfs.GridFSModule and usecase.FileUsecase;
// repository.TokenService resolves from Config.Auth.
type Container struct {
	mu        sync.RWMutex
	services  map[reflect.Type]interface{}
	factories map[reflect.Type]func() (interface{}, error)

	// Database connections
	MongoClient *mongo.Client
	Database    mongodb.DatabaseInterface
	Redis       *redis.Client

	Config *config.Config
	Logger logger.Logger
}

// NewContainer creates a new DI container
func NewContainer(cfg *config.Config, log logger.Logger) *Container {
	if log == nil {
		log = logger.NewLogger()
	}
	c := &Container{
		services:  make(map[reflect.Type]interface{}),
		factories: make(map[reflect.Type]func() (interface{}, error)),
		Config:    cfg,
		Logger:    log,
	}
	RegisterFactory(c, func() (repository.TokenService, error) {
		return security.NewJWTokenService(&c.Config.Auth)
	})
	return c
}

// InitializeStorage connects the configured backend
func (c *Container) InitializeStorage(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Config.Backend == config.BackendMemory {
		c.Logger.Warn("Using the in-memory backend, stored files are lost on restart")
		c.Database = mongodb.NewMemoryDatabase(c.Config.DatabaseName)
		return nil
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(c.Config.MongoDBURI))
	if err != nil {
		return fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	c.MongoClient = client
	c.Database = mongodb.NewMongoDatabaseAdapter(client.Database(c.Config.DatabaseName))
	c.Logger.Infof("Connected to MongoDB database %s", c.Config.DatabaseName)
	return nil
}

// InitializeRedis connects Redis when it is enabled. An unreachable server is not fatal;
// the event log is disabled instead.
func (c *Container) InitializeRedis(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.Config.Redis.Enabled {
		c.Logger.Info("Redis disabled, file event log unavailable")
		return
	}

	client := config.NewRedisClient(&c.Config.Redis)
	if err := client.Ping(ctx).Err(); err != nil {
		c.Logger.Warnf("Redis at %s is unreachable, continuing without the event log: %v", c.Config.Redis.GetAddr(), err)
		client.Close()
		return
	}
	c.Redis = client
	c.Logger.Infof("Connected to Redis at %s", c.Config.Redis.GetAddr())
}

// InitializeGridFS creates the GridFS module over the initialized storage and registers it
func (c *Container) InitializeGridFS() error {
	c.mu.RLock()
	db, redisClient := c.Database, c.Redis
	c.mu.RUnlock()
	if db == nil {
		return errors.New("storage must be initialized before the GridFS module")
	}

	module, err := gridfs.NewGridFSModule(c.Config, db, redisClient, c.Logger)
	if err != nil {
		return fmt.Errorf("failed to create GridFS module: %w", err)
	}
	Register(c, module)
	Register(c, module.FileUsecase)
	if module.TokenService != nil {
		Register(c, module.TokenService)
	}
	return nil
}

func serviceKey[T any]() reflect.Type {
	t := reflect.TypeOf((*T)(nil)).Elem()
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

// Register stores service under T, replacing an earlier instance or factory result
func Register[T any](c *Container, service T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.services[serviceKey[T]()] = service
}

// RegisterFactory registers a constructor for T, invoked on first resolve
func RegisterFactory[T any](c *Container, factory func() (T, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.factories[serviceKey[T]()] = func() (interface{}, error) {
		return factory()
	}
}

// Resolve returns the service registered under serviceType, building it from its factory once
func (c *Container) Resolve(serviceType reflect.Type) (interface{}, error) {
	c.mu.RLock()
	if service, exists := c.services[serviceType]; exists {
		c.mu.RUnlock()
		return service, nil
	}
	factory, exists := c.factories[serviceType]
	c.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("service of type %v not registered", serviceType)
	}

	service, err := factory()
	if err != nil {
		return nil, fmt.Errorf("failed to create %v: %w", serviceType, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, exists := c.services[serviceType]; exists {
		return existing, nil
	}
	c.services[serviceType] = service
	return service, nil
}

// GetService resolves the service registered under T
func GetService[T any](c *Container) (T, error) {
	var zero T
	service, err := c.Resolve(serviceKey[T]())
	if err != nil {
		return zero, err
	}
	if typed, ok := service.(T); ok {
		return typed, nil
	}
	return zero, fmt.Errorf("service is not of expected type %T", zero)
}

// HealthCheck pings every connected backend
func (c *Container) HealthCheck(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.MongoClient != nil {
		if err := c.MongoClient.Ping(ctx, nil); err != nil {
			return fmt.Errorf("MongoDB health check failed: %w", err)
		}
	}
	if c.Redis != nil {
		if err := c.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("Redis health check failed: %w", err)
		}
	}
	return nil
}

// Cleanup stops the registered services, then closes the connections
func (c *Container) Cleanup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, service := range c.services {
		switch s := service.(type) {
		case interface{ Stop() error }:
			if err := s.Stop(); err != nil {
				errs = append(errs, err)
			}
		case interface{ Cleanup(context.Context) error }:
			if err := s.Cleanup(ctx); err != nil {
				errs = append(errs, fmt.Errorf("failed to cleanup service: %w", err))
			}
		}
	}
	c.services = make(map[reflect.Type]interface{})
	c.factories = make(map[reflect.Type]func() (interface{}, error))

	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close Redis: %w", err))
		}
		c.Redis = nil
	}
	if c.MongoClient != nil {
		if err := c.MongoClient.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to disconnect MongoDB: %w", err))
		}
		c.MongoClient = nil
	}
	c.Database = nil

	return errors.Join(errs...)
}

// Close gracefully shuts down all services with a 30 second timeout
func (c *Container) Close() error {
	c.Logger.Info("Closing DI container resources...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.Cleanup(ctx); err != nil {
		c.Logger.Warnf("Cleanup errors occurred: %v", err)
		return err
	}
	c.Logger.Info("DI container resources closed.")
	return nil
}
