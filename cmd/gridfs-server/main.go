package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gridfs-store/internal/di"
	"gridfs-store/internal/gridfs"
	"gridfs-store/internal/gridfs/config"
	apperrors "gridfs-store/internal/shared/errors"
	"gridfs-store/internal/shared/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	appLogger := logger.NewLogger()

	cfg, err := config.LoadConfig()
	if err != nil {
		appLogger.Fatalf("Failed to load configuration: %v", err)
	}
	appLogger.Infof("Configuration loaded (backend %s)", cfg.Backend)

	container := di.NewContainer(cfg, appLogger)
	defer func() {
		if err := container.Close(); err != nil {
			appLogger.Errorf("Failed to close container: %v", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := container.InitializeStorage(ctx); err != nil {
		appLogger.Fatalf("Failed to initialize storage: %v", err)
	}
	container.InitializeRedis(ctx)
	if err := container.InitializeGridFS(); err != nil {
		appLogger.Fatalf("Failed to initialize GridFS module: %v", err)
	}
	module, err := di.GetService[*gridfs.GridFSModule](container)
	if err != nil {
		appLogger.Fatalf("GridFS module is not registered: %v", err)
	}
	if err := module.Start(ctx); err != nil {
		appLogger.Fatalf("Failed to start GridFS module: %v", err)
	}

	app := fiber.New(fiber.Config{
		AppName:      "GridFS Store API v1.0",
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
		BodyLimit:    int(cfg.MaxUploadSize) + 1024*1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			var fiberErr *fiber.Error
			if errors.As(err, &fiberErr) {
				return c.Status(fiberErr.Code).JSON(fiber.Map{"error": fiberErr.Message})
			}
			appLogger.Errorf("HTTP Error: %v", err)
			return c.Status(apperrors.HTTPStatus(err)).JSON(fiber.Map{
				"error": "Internal Server Error",
			})
		},
	})

	app.Use(recover.New())
	app.Use(module.Middleware.RequestID())
	app.Use(module.Middleware.WithRequestContext())
	app.Use(module.Middleware.CORS())
	app.Use(module.Middleware.RateLimiter())

	app.Get("/health", func(c *fiber.Ctx) error {
		healthCtx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
		defer cancel()

		if err := container.HealthCheck(healthCtx); err != nil {
			appLogger.Errorf("Health check failed: %v", err)
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status":  "UNHEALTHY",
				"error":   err.Error(),
				"message": "One or more services are unhealthy",
			})
		}

		return c.JSON(fiber.Map{
			"status":    "HEALTHY",
			"message":   "GridFS Store API is running",
			"timestamp": time.Now().UTC(),
			"backend":   cfg.Backend,
			"eventLog":  container.Redis != nil,
		})
	})

	module.RegisterRoutes(app)

	serverAddr := cfg.Server.Addr()
	appLogger.Infof("Starting HTTP server on %s", serverAddr)

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(sigCtx)
	g.Go(func() error {
		return app.Listen(serverAddr)
	})
	g.Go(func() error {
		<-gctx.Done()
		appLogger.Info("Shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		appLogger.Errorf("Server stopped with error: %v", err)
	}
	appLogger.Info("HTTP server stopped")
}
