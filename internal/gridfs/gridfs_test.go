package gridfs

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gridfs-store/internal/gridfs/adapter/persistence/mongodb"
	"gridfs-store/internal/gridfs/config"
	"gridfs-store/internal/shared/eventbus"
	"gridfs-store/internal/shared/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Backend = config.BackendMemory
	cfg.Server.RateLimit = 0
	return cfg
}

func uploadRequest(t *testing.T, bucket, filename, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/buckets/"+bucket+"/files", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func TestGridFSModule_Initialization(t *testing.T) {
	db := mongodb.NewMemoryDatabase("gridfs_test")
	module, err := NewGridFSModule(testConfig(), db, nil, logger.NewTestLogger())
	require.NoError(t, err)
	require.NotNil(t, module)

	assert.NotNil(t, module.FileUsecase)
	assert.NotNil(t, module.Middleware)
	assert.NotNil(t, module.WatchHub)
	assert.Nil(t, module.EventStore)
	assert.Nil(t, module.TokenService)
	assert.Equal(t, 1, module.EventBus.GetSubscriberCount(eventbus.EventTypeFileCreated))

	require.NoError(t, module.Start(context.Background()))
	specs, err := db.Collection("fs.files").Indexes().List(context.Background())
	require.NoError(t, err)
	assert.Len(t, specs, 2)

	require.NoError(t, module.Stop())
	assert.Zero(t, module.EventBus.GetSubscriberCount(eventbus.EventTypeFileCreated))
}

func TestGridFSModule_InvalidPolicy(t *testing.T) {
	cfg := testConfig()
	cfg.UploadPolicy = "size +"

	_, err := NewGridFSModule(cfg, mongodb.NewMemoryDatabase("gridfs_test"), nil, logger.NewTestLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GRIDFS_UPLOAD_POLICY")
}

func TestGridFSModule_AuthGuardsMutations(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Enabled = true
	cfg.Auth.JWTSecretKey = "test-secret-key-32-characters-long-12345"

	module, err := NewGridFSModule(cfg, mongodb.NewMemoryDatabase("gridfs_test"), nil, logger.NewTestLogger())
	require.NoError(t, err)
	require.NotNil(t, module.TokenService)

	app := fiber.New()
	module.RegisterRoutes(app)

	resp, err := app.Test(uploadRequest(t, "fs", "a.txt", "a"))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := module.TokenService.GenerateToken(context.Background(), "user-1", []string{"fs"})
	require.NoError(t, err)
	req := uploadRequest(t, "fs", "a.txt", "a")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	// reads stay public
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/v1/buckets/fs/files", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGridFSModule_PersistsEventsToRedis(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	defer client.FlushDB(context.Background())

	cfg := testConfig()
	cfg.Redis.StreamPrefix = "gridfs:test"
	module, err := NewGridFSModule(cfg, mongodb.NewMemoryDatabase("gridfs_test"), client, logger.NewTestLogger())
	require.NoError(t, err)
	require.NotNil(t, module.EventStore)

	app := fiber.New()
	module.RegisterRoutes(app)
	resp, err := app.Test(uploadRequest(t, "events", "a.txt", "a"))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	events, err := module.FileUsecase.EventsSince(context.Background(), "events", "")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, eventbus.EventTypeFileCreated, events[0].Type)
	assert.Equal(t, "a.txt", events[0].Filename)
	assert.NotEmpty(t, events[0].ResumeToken)
}

func TestGridFSModule_AsyncEventsDrainOnStop(t *testing.T) {
	cfg := testConfig()
	cfg.Events.Async = true

	module, err := NewGridFSModule(cfg, mongodb.NewMemoryDatabase("gridfs_test"), nil, logger.NewTestLogger())
	require.NoError(t, err)

	var created []string
	module.EventBus.Subscribe(eventbus.EventTypeFileCreated, func(ctx context.Context, event eventbus.Event) error {
		created = append(created, event.Source())
		return nil
	})

	app := fiber.New()
	module.RegisterRoutes(app)
	for _, name := range []string{"a.txt", "b.txt"} {
		resp, err := app.Test(uploadRequest(t, "fs", name, "a"))
		require.NoError(t, err)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	require.NoError(t, module.Stop())
	assert.Len(t, created, 2)
	assert.Empty(t, module.EventBus.GetEventTypes())
}
