package integration

import (
	"bytes"
	"context"
	"mime/multipart"
	"net"
	"net/http"
	"os"
	"testing"
	"time"

	"gridfs-store/internal/gridfs"
	"gridfs-store/internal/gridfs/adapter/persistence/mongodb"
	"gridfs-store/internal/gridfs/config"
	"gridfs-store/internal/shared/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// liveServer is a GridFS module served on a loopback port
type liveServer struct {
	module *gridfs.GridFSModule
	app    *fiber.App
	addr   string
}

func startServer(t *testing.T, cfg *config.Config, db mongodb.DatabaseInterface) *liveServer {
	t.Helper()
	log := logger.NewTestLogger()
	module, err := gridfs.NewGridFSModule(cfg, db, nil, log)
	require.NoError(t, err)
	require.NoError(t, module.Start(context.Background()))

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	module.RegisterRoutes(app)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go app.Listener(ln)

	t.Cleanup(func() {
		app.Shutdown()
		module.Stop()
	})
	return &liveServer{module: module, app: app, addr: ln.Addr().String()}
}

func memoryConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Backend = config.BackendMemory
	cfg.Server.RateLimit = 0
	cfg.ChunkSize = 8
	return cfg
}

// mongoDatabase connects MONGODB_TEST_URI (default localhost) and skips the test when it is unreachable
func mongoDatabase(t *testing.T) *mongo.Database {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping MongoDB integration test in short mode")
	}
	uri := os.Getenv("MONGODB_TEST_URI")
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetServerSelectionTimeout(2*time.Second))
	if err != nil {
		t.Skip("MongoDB not available for integration testing:", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		t.Skip("MongoDB not available for integration testing:", err)
	}

	db := client.Database("gridfs_integration_" + time.Now().Format("20060102150405"))
	t.Cleanup(func() {
		db.Drop(context.Background())
		client.Disconnect(context.Background())
	})
	return db
}

func postFile(t *testing.T, addr, bucket, filename string, content []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	resp, err := http.Post("http://"+addr+"/v1/buckets/"+bucket+"/files", w.FormDataContentType(), &buf)
	require.NoError(t, err)
	return resp
}
