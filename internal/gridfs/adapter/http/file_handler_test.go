package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	gridfshttp "gridfs-store/internal/gridfs/adapter/http"
	"gridfs-store/internal/gridfs/adapter/persistence/mongodb"
	"gridfs-store/internal/gridfs/usecase"
	"gridfs-store/internal/shared/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

type testServer struct {
	app     *fiber.App
	db      *mongodb.MemoryDatabase
	tempDir string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := logger.NewTestLogger()
	db := mongodb.NewMemoryDatabase("testdb")
	uc := usecase.NewFileUsecase(db, log, usecase.Options{ChunkSize: 4, MaxUploadSize: 1024})
	tempDir := t.TempDir()

	app := fiber.New()
	handler := gridfshttp.NewFileHandler(uc, gridfshttp.NewMiddleware(nil, 0, log), tempDir, log)
	handler.RegisterRoutes(app)
	return &testServer{app: app, db: db, tempDir: tempDir}
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func multipartRequest(t *testing.T, url, field, filename, content string, values map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range values {
		require.NoError(t, w.WriteField(k, v))
	}
	if field != "" {
		part, err := w.CreateFormFile(field, filename)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, url, &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func (s *testServer) upload(t *testing.T, bucket, filename, content string) string {
	t.Helper()
	resp, err := s.app.Test(multipartRequest(t, "/v1/buckets/"+bucket+"/files", "file", filename, content, nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decodeBody(t, resp)["id"].(string)
}

func TestFileHandler_UploadAndDownload(t *testing.T) {
	s := newTestServer(t)

	req := multipartRequest(t, "/v1/buckets/docs/files", "file", "hello.txt", "hello world", map[string]string{
		"metadata": `{"owner":"alice"}`,
	})
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	body := decodeBody(t, resp)
	id := body["id"].(string)
	assert.Equal(t, "hello.txt", body["filename"])
	assert.Equal(t, float64(11), body["length"])
	assert.Equal(t, float64(4), body["chunkSize"])
	assert.Equal(t, "5eb63bbbe01eeed093cb22bb8f5acdc3", body["md5"])
	assert.Equal(t, map[string]interface{}{"owner": "alice"}, body["metadata"])
	assert.Equal(t, 3, s.db.Collection("docs.chunks").(*mongodb.MemoryCollection).Count())

	resp, err = s.app.Test(httptest.NewRequest(http.MethodGet, "/v1/buckets/docs/files/"+id, nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), `filename="hello.txt"`)
	assert.Equal(t, `"5eb63bbbe01eeed093cb22bb8f5acdc3"`, resp.Header.Get("ETag"))
	content, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(content))

	resp, err = s.app.Test(httptest.NewRequest(http.MethodGet, "/v1/buckets/docs/files/"+id+"/metadata", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, decodeBody(t, resp)["id"])

	// spooled temp files are removed after the request
	entries, err := os.ReadDir(s.tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFileHandler_UploadOptions(t *testing.T) {
	s := newTestServer(t)

	req := multipartRequest(t, "/v1/buckets/fs/files?field=attachment", "attachment", "a.bin", "abcdef", map[string]string{
		"id":        "custom-id",
		"chunkSize": "2",
	})
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "custom-id", body["id"])
	assert.Equal(t, float64(2), body["chunkSize"])

	// same id again conflicts with the stored chunks
	resp, err = s.app.Test(multipartRequest(t, "/v1/buckets/fs/files?field=attachment", "attachment", "a.bin", "abcdef", map[string]string{"id": "custom-id"}))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, resp.StatusCode, 400)
}

func TestFileHandler_UploadErrors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		req    *http.Request
		status int
		errTyp string
	}{
		{
			name:   "not multipart",
			req:    httptest.NewRequest(http.MethodPost, "/v1/buckets/fs/files", strings.NewReader("{}")),
			status: http.StatusBadRequest,
			errTyp: "VALIDATION_ERROR",
		},
		{
			name:   "missing field",
			req:    multipartRequest(t, "/v1/buckets/fs/files", "other", "a.txt", "a", nil),
			status: http.StatusBadRequest,
			errTyp: "INVALID_CONFIGURATION_ERROR",
		},
		{
			name:   "bad chunk size",
			req:    multipartRequest(t, "/v1/buckets/fs/files", "file", "a.txt", "a", map[string]string{"chunkSize": "zero"}),
			status: http.StatusBadRequest,
			errTyp: "VALIDATION_ERROR",
		},
		{
			name:   "chunk size above limit",
			req:    multipartRequest(t, "/v1/buckets/fs/files", "file", "a.txt", "a", map[string]string{"chunkSize": "1073741824"}),
			status: http.StatusBadRequest,
			errTyp: "VALIDATION_ERROR",
		},
		{
			name:   "bad metadata",
			req:    multipartRequest(t, "/v1/buckets/fs/files", "file", "a.txt", "a", map[string]string{"metadata": "[1,2"}),
			status: http.StatusBadRequest,
			errTyp: "VALIDATION_ERROR",
		},
		{
			name:   "too large",
			req:    multipartRequest(t, "/v1/buckets/fs/files", "file", "big.bin", strings.Repeat("x", 2048), nil),
			status: http.StatusRequestEntityTooLarge,
			errTyp: "VALIDATION_ERROR",
		},
		{
			name:   "bad bucket",
			req:    multipartRequest(t, "/v1/buckets/system.users/files", "file", "a.txt", "a", nil),
			status: http.StatusBadRequest,
			errTyp: "VALIDATION_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := s.app.Test(tt.req)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.errTyp, decodeBody(t, resp)["error"])
		})
	}
}

func TestFileHandler_MissingFile(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/v1/buckets/fs/files/missing", "/v1/buckets/fs/files/missing/metadata"} {
		resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, path, nil))
		require.NoError(t, err)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
		assert.Equal(t, "NOT_FOUND_ERROR", decodeBody(t, resp)["error"])
	}

	// deleting what is not there still reports success
	resp, err := s.app.Test(httptest.NewRequest(http.MethodDelete, "/v1/buckets/fs/files/missing", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decodeBody(t, resp)["deleted"])
}

func TestFileHandler_ListFiles(t *testing.T) {
	s := newTestServer(t)
	s.upload(t, "fs", "b.txt", "b")
	s.upload(t, "fs", "a.txt", "a")
	s.upload(t, "fs", "a.txt", "aa")

	resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, "/v1/buckets/fs/files", nil))
	require.NoError(t, err)
	body := decodeBody(t, resp)
	assert.Equal(t, float64(3), body["count"])
	files := body["files"].([]interface{})
	assert.Equal(t, "a.txt", files[0].(map[string]interface{})["filename"])

	resp, err = s.app.Test(httptest.NewRequest(http.MethodGet, "/v1/buckets/fs/files?filename=a.txt&limit=1", nil))
	require.NoError(t, err)
	assert.Equal(t, float64(1), decodeBody(t, resp)["count"])

	resp, err = s.app.Test(httptest.NewRequest(http.MethodGet, "/v1/buckets/empty/files", nil))
	require.NoError(t, err)
	body = decodeBody(t, resp)
	assert.Equal(t, float64(0), body["count"])
	assert.Equal(t, []interface{}{}, body["files"])
}

func TestFileHandler_DeleteAndRemove(t *testing.T) {
	s := newTestServer(t)
	id := s.upload(t, "fs", "one.txt", "one")
	s.upload(t, "fs", "tmp.txt", "x")
	s.upload(t, "fs", "tmp.txt", "y")

	resp, err := s.app.Test(httptest.NewRequest(http.MethodDelete, "/v1/buckets/fs/files/"+id, nil))
	require.NoError(t, err)
	assert.Equal(t, true, decodeBody(t, resp)["deleted"])

	removeReq := func(body string) *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/v1/buckets/fs/files/remove", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		return req
	}

	resp, err = s.app.Test(removeReq(`{"filter":{"filename":"tmp.txt"},"limit":1}`))
	require.NoError(t, err)
	assert.Equal(t, float64(1), decodeBody(t, resp)["removed"])

	resp, err = s.app.Test(removeReq(`{"filter":{"filename":"tmp.txt"}}`))
	require.NoError(t, err)
	assert.Equal(t, float64(1), decodeBody(t, resp)["removed"])

	resp, err = s.app.Test(removeReq(`{"filter":{"$where":"1"}}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	ctx := context.Background()
	chunks, err := s.db.Collection("fs.chunks").Find(ctx, bson.M{})
	require.NoError(t, err)
	assert.False(t, chunks.Next(ctx))
}

func TestFileHandler_IndexesAndDrop(t *testing.T) {
	s := newTestServer(t)
	s.upload(t, "fs", "a.txt", "a")

	resp, err := s.app.Test(httptest.NewRequest(http.MethodPost, "/v1/buckets/fs/indexes?force=true", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ensured", decodeBody(t, resp)["indexes"])

	resp, err = s.app.Test(httptest.NewRequest(http.MethodDelete, "/v1/buckets/fs", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, decodeBody(t, resp)["dropped"])
	assert.Equal(t, 0, s.db.Collection("fs.files").(*mongodb.MemoryCollection).Count())
}

func TestFileHandler_EventsDisabled(t *testing.T) {
	s := newTestServer(t)

	resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, "/v1/buckets/fs/events", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestFileHandler_ErrorCarriesRequestID(t *testing.T) {
	log := logger.NewTestLogger()
	uc := usecase.NewFileUsecase(mongodb.NewMemoryDatabase("testdb"), log, usecase.Options{})
	mw := gridfshttp.NewMiddleware(nil, 0, log)

	app := fiber.New()
	app.Use(mw.RequestID(), mw.WithRequestContext())
	gridfshttp.NewFileHandler(uc, mw, t.TempDir(), log).RegisterRoutes(app)

	req := httptest.NewRequest(http.MethodGet, "/v1/buckets/fs/files/missing/metadata", nil)
	req.Header.Set("X-Request-ID", "req-404")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "NOT_FOUND_ERROR", body["error"])
	assert.Equal(t, "req-404", body["requestId"])
}
