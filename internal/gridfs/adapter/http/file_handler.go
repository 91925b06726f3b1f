package http

import (
	"context"
	"encoding/json"
	"strconv"

	"gridfs-store/internal/gridfs/domain/model"
	"gridfs-store/internal/gridfs/usecase"
	"gridfs-store/internal/shared/logger"
	"gridfs-store/internal/shared/utils"

	"github.com/gofiber/fiber/v2"
)

// FileHandler serves the file API of every bucket
type FileHandler struct {
	uc      usecase.FileUsecase
	mw      *Middleware
	log     logger.Logger
	tempDir string
}

// NewFileHandler creates a new FileHandler. tempDir receives spooled uploads.
func NewFileHandler(uc usecase.FileUsecase, mw *Middleware, tempDir string, log logger.Logger) *FileHandler {
	return &FileHandler{
		uc:      uc,
		mw:      mw,
		log:     log.WithComponent("file_handler"),
		tempDir: tempDir,
	}
}

// RemoveRequest is the body of POST /files/remove
type RemoveRequest struct {
	Filter map[string]interface{} `json:"filter"`
	Limit  int64                  `json:"limit"`
}

// requestContext tags the user context with the bucket and operation for the loggers
func requestContext(c *fiber.Ctx, operation string) context.Context {
	ctx := utils.WithBucket(c.UserContext(), c.Params("bucket"))
	return utils.WithOperation(ctx, operation)
}

// RegisterRoutes mounts the file API under /v1/buckets/:bucket
func (h *FileHandler) RegisterRoutes(router fiber.Router) {
	bucket := router.Group("/v1/buckets/:bucket")

	bucket.Get("/files", h.ListFiles)
	bucket.Get("/files/:id", h.DownloadFile)
	bucket.Get("/files/:id/metadata", h.GetFileMetadata)
	bucket.Get("/events", h.GetEvents)

	bucket.Post("/files", h.mw.Protect(), h.UploadFile)
	bucket.Post("/files/remove", h.mw.Protect(), h.RemoveFiles)
	bucket.Delete("/files/:id", h.mw.Protect(), h.DeleteFile)
	bucket.Post("/indexes", h.mw.Protect(), h.EnsureIndexes)
	bucket.Delete("/", h.mw.Protect(), h.DropBucket)
}

func (h *FileHandler) UploadFile(c *fiber.Ctx) error {
	ctx := requestContext(c, "upload")
	form, err := c.MultipartForm()
	if err != nil {
		return badRequest(c, "request must be multipart/form-data")
	}

	req := usecase.UploadFileRequest{
		Bucket:    c.Params("bucket"),
		FieldName: c.Query("field", "file"),
	}
	if values := form.Value["id"]; len(values) > 0 {
		req.ID = values[0]
	}
	if values := form.Value["chunkSize"]; len(values) > 0 && values[0] != "" {
		size, err := strconv.Atoi(values[0])
		if err != nil || size <= 0 {
			return badRequest(c, "chunkSize must be a positive integer")
		}
		req.ChunkSize = size
	}
	if values := form.Value["metadata"]; len(values) > 0 && values[0] != "" {
		if err := json.Unmarshal([]byte(values[0]), &req.Metadata); err != nil {
			return badRequest(c, "metadata must be a JSON object")
		}
	}

	uploads, err := NewMultipartUploadRegistry(form, h.tempDir)
	if err != nil {
		h.log.WithContext(ctx).Errorf("Failed to spool upload: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "upload_failed",
			"message": "Failed to receive uploaded file",
		})
	}
	defer uploads.Cleanup()
	req.Uploads = uploads

	doc, err := h.uc.UploadFile(ctx, req)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(doc)
}

func (h *FileHandler) ListFiles(c *fiber.Ctx) error {
	ctx := requestContext(c, "list")
	query := usecase.ListFilesQuery{
		Filename: c.Query("filename"),
		Limit:    int64(c.QueryInt("limit", 0)),
		Skip:     int64(c.QueryInt("skip", 0)),
	}

	docs, err := h.uc.ListFiles(ctx, c.Params("bucket"), query)
	if err != nil {
		return errorResponse(c, err)
	}
	if docs == nil {
		docs = []*model.FileDocument{}
	}
	return c.JSON(fiber.Map{
		"files": docs,
		"count": len(docs),
	})
}

func (h *FileHandler) GetFileMetadata(c *fiber.Ctx) error {
	ctx := requestContext(c, "metadata")
	doc, err := h.uc.GetFile(ctx, c.Params("bucket"), c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(doc)
}

// DownloadFile streams the file contents. A corrupt file is only detected
// once the headers are sent, so it surfaces as a truncated body.
func (h *FileHandler) DownloadFile(c *fiber.Ctx) error {
	ctx := requestContext(c, "download")
	doc, reader, err := h.uc.OpenFile(ctx, c.Params("bucket"), c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}

	if doc.Filename != "" {
		c.Attachment(doc.Filename)
	}
	if doc.ContentType != "" {
		c.Set(fiber.HeaderContentType, doc.ContentType)
	} else if doc.Filename == "" {
		c.Set(fiber.HeaderContentType, fiber.MIMEOctetStream)
	}
	if doc.MD5 != "" {
		c.Set(fiber.HeaderETag, strconv.Quote(doc.MD5))
	}
	return c.SendStream(reader, int(doc.Length))
}

func (h *FileHandler) DeleteFile(c *fiber.Ctx) error {
	ctx := requestContext(c, "delete")
	deleted, err := h.uc.DeleteFile(ctx, c.Params("bucket"), c.Params("id"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"deleted": deleted})
}

func (h *FileHandler) RemoveFiles(c *fiber.Ctx) error {
	ctx := requestContext(c, "remove")
	var req RemoveRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "Failed to parse request body")
		}
	}

	removed, err := h.uc.RemoveFiles(ctx, c.Params("bucket"), req.Filter, req.Limit)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"removed": removed})
}

func (h *FileHandler) EnsureIndexes(c *fiber.Ctx) error {
	ctx := requestContext(c, "ensure_indexes")
	bucket := c.Params("bucket")
	if err := h.uc.EnsureIndexes(ctx, bucket, c.QueryBool("force", false)); err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"bucket": bucket, "indexes": "ensured"})
}

func (h *FileHandler) DropBucket(c *fiber.Ctx) error {
	ctx := requestContext(c, "drop_bucket")
	bucket := c.Params("bucket")
	if err := h.uc.DropBucket(ctx, bucket); err != nil {
		return errorResponse(c, err)
	}
	h.log.WithContext(ctx).Info("Bucket dropped over HTTP")
	return c.JSON(fiber.Map{"dropped": true})
}

func (h *FileHandler) GetEvents(c *fiber.Ctx) error {
	ctx := requestContext(c, "events")
	events, err := h.uc.EventsSince(ctx, c.Params("bucket"), c.Query("since"))
	if err != nil {
		return errorResponse(c, err)
	}
	if events == nil {
		events = []model.FileEvent{}
	}
	return c.JSON(fiber.Map{"events": events})
}
