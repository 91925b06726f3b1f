package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"gridfs-store/internal/gridfs/adapter/persistence/mongodb"
	"gridfs-store/internal/gridfs/domain/model"
	"gridfs-store/internal/gridfs/domain/repository"
	"gridfs-store/internal/gridfs/domain/service"
	apperrors "gridfs-store/internal/shared/errors"
	"gridfs-store/internal/shared/eventbus"
	"gridfs-store/internal/shared/logger"
	"gridfs-store/internal/shared/utils"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	componentName    = "file_usecase"
	eventSource      = "gridfs"
	defaultListLimit = 100
	maxListLimit     = 1000
)

var bucketNamePattern = regexp.MustCompile(`^[A-Za-z0-9_\-]+(\.[A-Za-z0-9_\-]+)*$`)

// FileUsecase defines the file operations exposed by the service.
type FileUsecase interface {
	UploadFile(ctx context.Context, req UploadFileRequest) (*model.FileDocument, error)
	ListFiles(ctx context.Context, bucket string, query ListFilesQuery) ([]*model.FileDocument, error)
	GetFile(ctx context.Context, bucket, id string) (*model.FileDocument, error)
	OpenFile(ctx context.Context, bucket, id string) (*model.FileDocument, io.ReadCloser, error)
	DeleteFile(ctx context.Context, bucket, id string) (bool, error)
	RemoveFiles(ctx context.Context, bucket string, filter map[string]interface{}, limit int64) (int64, error)
	EnsureIndexes(ctx context.Context, bucket string, force bool) error
	DropBucket(ctx context.Context, bucket string) error
	EventsSince(ctx context.Context, bucket, resumeToken string) ([]model.FileEvent, error)
}

// UploadFileRequest describes one file received by a request
type UploadFileRequest struct {
	Bucket    string
	Uploads   repository.UploadRegistry
	FieldName string
	ID        string
	ChunkSize int
	Metadata  map[string]interface{}
}

// ListFilesQuery filters and pages ListFiles
type ListFilesQuery struct {
	Filename string
	Limit    int64
	Skip     int64
}

// Options configures a file usecase
type Options struct {
	ChunkSize     int
	MaxUploadSize int64
	Policy        *service.UploadPolicy
	EventStore    repository.EventStore
	EventBus      eventbus.EventBusInterface
}

type fileUsecaseImpl struct {
	db   mongodb.DatabaseInterface
	log  logger.Logger
	opts Options

	mu          sync.Mutex
	collections map[string]*mongodb.FileCollection
}

// NewFileUsecase creates a new instance of FileUsecase.
func NewFileUsecase(db mongodb.DatabaseInterface, log logger.Logger, opts Options) FileUsecase {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = model.DefaultChunkSize
	}
	return &fileUsecaseImpl{
		db:          db,
		log:         log.WithComponent(componentName),
		opts:        opts,
		collections: make(map[string]*mongodb.FileCollection),
	}
}

// ValidateBucketName checks that bucket can be used as a collection prefix
func ValidateBucketName(bucket string) error {
	switch {
	case bucket == "":
		return apperrors.NewValidationError("bucket name is required")
	case len(bucket) > 64:
		return apperrors.NewValidationError("bucket name must be at most 64 characters")
	case strings.HasPrefix(bucket, "system."):
		return apperrors.NewValidationError("bucket name must not start with 'system.'")
	case !bucketNamePattern.MatchString(bucket):
		return apperrors.NewValidationError(fmt.Sprintf("invalid bucket name %q", bucket))
	}
	return nil
}

// collection returns the cached file collection of bucket
func (uc *fileUsecaseImpl) collection(bucket string) (*mongodb.FileCollection, error) {
	if err := ValidateBucketName(bucket); err != nil {
		return nil, err
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()
	if c, ok := uc.collections[bucket]; ok {
		return c, nil
	}
	c := mongodb.NewFileCollection(uc.db, bucket, uc.log.WithFields(map[string]interface{}{"bucket": bucket}))
	c.SetDefaultChunkSize(uc.opts.ChunkSize)
	uc.collections[bucket] = c
	return c, nil
}

func (uc *fileUsecaseImpl) UploadFile(ctx context.Context, req UploadFileRequest) (*model.FileDocument, error) {
	c, err := uc.collection(req.Bucket)
	if err != nil {
		return nil, err
	}
	if req.Uploads == nil {
		return nil, apperrors.NewValidationError("no files were uploaded")
	}
	if req.FieldName == "" {
		req.FieldName = "file"
	}
	if req.ChunkSize < 0 {
		return nil, apperrors.NewValidationError("chunkSize must be positive")
	}
	if req.ChunkSize > model.MaxChunkSize {
		return nil, apperrors.NewValidationError(fmt.Sprintf("chunkSize must be at most %d bytes", model.MaxChunkSize)).
			WithDetail("chunkSize", req.ChunkSize)
	}

	uploaded, ok := req.Uploads.Lookup(req.FieldName)
	if ok {
		if uc.opts.MaxUploadSize > 0 && uploaded.Size > uc.opts.MaxUploadSize {
			return nil, apperrors.NewAppError(apperrors.ErrorTypeValidation,
				fmt.Sprintf("file exceeds the maximum upload size of %d bytes", uc.opts.MaxUploadSize),
				http.StatusRequestEntityTooLarge)
		}

		allowed, err := uc.opts.Policy.Allows(service.UploadRequest{
			Bucket:      req.Bucket,
			Filename:    uploaded.Name,
			Size:        uploaded.Size,
			ContentType: uploaded.ContentType,
			UserID:      utils.GetUserIDOrDefault(ctx, ""),
			Metadata:    req.Metadata,
		})
		if err != nil {
			return nil, apperrors.NewInternalError("failed to evaluate upload policy").WithCause(err)
		}
		if !allowed {
			return nil, apperrors.NewAuthorizationError("upload rejected by policy").
				WithCause(apperrors.ErrPolicyDenied).
				WithDetail("filename", uploaded.Name)
		}
	}

	opts := model.UploadOptions{ChunkSize: req.ChunkSize}
	if req.ID != "" {
		opts.ID = model.ParseID(req.ID)
	}

	id, err := c.InsertUploads(ctx, req.Uploads, req.FieldName, req.Metadata, opts)
	if err != nil {
		return nil, uc.toAppError(err, "upload file")
	}
	doc, err := c.FindOne(ctx, bson.M{"_id": id})
	if err != nil {
		return nil, uc.toAppError(err, "read uploaded file")
	}
	if doc == nil {
		return nil, apperrors.NewStorageError("uploaded file document is missing")
	}

	uc.log.WithContext(ctx).WithFields(map[string]interface{}{
		"file_id":  doc.IDString(),
		"filename": doc.Filename,
		"length":   doc.Length,
	}).Info("File uploaded")
	uc.publish(ctx, eventbus.EventTypeFileCreated, model.FileEvent{
		Bucket:   req.Bucket,
		FileID:   doc.IDString(),
		Filename: doc.Filename,
		Length:   doc.Length,
	})
	return doc, nil
}

func (uc *fileUsecaseImpl) ListFiles(ctx context.Context, bucket string, query ListFilesQuery) ([]*model.FileDocument, error) {
	c, err := uc.collection(bucket)
	if err != nil {
		return nil, err
	}
	if query.Limit < 0 || query.Skip < 0 {
		return nil, apperrors.NewValidationError("limit and skip must not be negative")
	}
	if query.Limit == 0 {
		query.Limit = defaultListLimit
	}
	if query.Limit > maxListLimit {
		query.Limit = maxListLimit
	}

	filter := bson.M{}
	if query.Filename != "" {
		filter["filename"] = query.Filename
	}
	findOpts := options.Find().
		SetSort(bson.D{{Key: "filename", Value: 1}, {Key: "uploadDate", Value: 1}}).
		SetLimit(query.Limit).
		SetSkip(query.Skip)

	cursor, err := c.Find(ctx, filter, nil, findOpts)
	if err != nil {
		return nil, uc.toAppError(err, "list files")
	}
	docs, err := cursor.Documents(ctx)
	if err != nil {
		return nil, uc.toAppError(err, "list files")
	}
	return docs, nil
}

func (uc *fileUsecaseImpl) GetFile(ctx context.Context, bucket, id string) (*model.FileDocument, error) {
	download, err := uc.get(ctx, bucket, id)
	if err != nil {
		return nil, err
	}
	doc, err := download.Document(ctx)
	if err != nil {
		return nil, uc.toAppError(err, "get file")
	}
	return doc, nil
}

func (uc *fileUsecaseImpl) OpenFile(ctx context.Context, bucket, id string) (*model.FileDocument, io.ReadCloser, error) {
	download, err := uc.get(ctx, bucket, id)
	if err != nil {
		return nil, nil, err
	}
	doc, err := download.Document(ctx)
	if err != nil {
		return nil, nil, uc.toAppError(err, "open file")
	}
	return doc, download.Reader(ctx), nil
}

func (uc *fileUsecaseImpl) get(ctx context.Context, bucket, id string) (*mongodb.Download, error) {
	c, err := uc.collection(bucket)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return nil, apperrors.NewValidationError("file id is required")
	}
	download, err := c.Get(ctx, model.ParseID(id))
	if err != nil {
		return nil, uc.toAppError(err, "get file")
	}
	if download == nil {
		return nil, apperrors.NewNotFoundError("file").WithCause(apperrors.ErrFileNotFound).WithDetail("id", id)
	}
	return download, nil
}

func (uc *fileUsecaseImpl) DeleteFile(ctx context.Context, bucket, id string) (bool, error) {
	c, err := uc.collection(bucket)
	if err != nil {
		return false, err
	}
	if id == "" {
		return false, apperrors.NewValidationError("file id is required")
	}

	// same contract as FileCollection.Delete, but the count decides whether anything happened
	removed, err := c.Remove(ctx, bson.M{"_id": model.ParseID(id)}, model.RemoveOptions{Limit: 1})
	if err != nil {
		return false, uc.toAppError(err, "delete file")
	}
	if removed > 0 {
		uc.publish(ctx, eventbus.EventTypeFileDeleted, model.FileEvent{Bucket: bucket, FileID: id})
	}
	return true, nil
}

func (uc *fileUsecaseImpl) RemoveFiles(ctx context.Context, bucket string, filter map[string]interface{}, limit int64) (int64, error) {
	c, err := uc.collection(bucket)
	if err != nil {
		return 0, err
	}
	if limit < 0 {
		return 0, apperrors.NewValidationError("limit must not be negative")
	}
	query := bson.M{}
	for k, v := range filter {
		if strings.HasPrefix(k, "$") {
			return 0, apperrors.NewValidationError(fmt.Sprintf("top-level operator %q is not allowed", k))
		}
		if k == "_id" {
			if s, ok := v.(string); ok {
				v = model.ParseID(s)
			}
		}
		query[k] = v
	}

	removed, err := c.Remove(ctx, query, model.RemoveOptions{Limit: limit})
	if err != nil {
		appErr := uc.toAppError(err, "remove files")
		if removed > 0 {
			appErr.WithDetail("removed", removed)
		}
		return removed, appErr
	}
	if removed > 0 {
		uc.publish(ctx, eventbus.EventTypeFilesRemoved, model.FileEvent{Bucket: bucket, Count: removed})
	}
	return removed, nil
}

func (uc *fileUsecaseImpl) EnsureIndexes(ctx context.Context, bucket string, force bool) error {
	c, err := uc.collection(bucket)
	if err != nil {
		return err
	}
	if err := c.EnsureIndexes(ctx, force); err != nil {
		return uc.toAppError(err, "ensure indexes")
	}
	return nil
}

func (uc *fileUsecaseImpl) DropBucket(ctx context.Context, bucket string) error {
	c, err := uc.collection(bucket)
	if err != nil {
		return err
	}
	if err := c.Drop(ctx); err != nil {
		return uc.toAppError(err, "drop bucket")
	}
	uc.log.WithContext(ctx).Warnf("Bucket %s dropped", bucket)
	uc.publish(ctx, eventbus.EventTypeBucketDropped, model.FileEvent{Bucket: bucket})
	return nil
}

func (uc *fileUsecaseImpl) EventsSince(ctx context.Context, bucket, resumeToken string) ([]model.FileEvent, error) {
	if err := ValidateBucketName(bucket); err != nil {
		return nil, err
	}
	if uc.opts.EventStore == nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeInvalidConfiguration, "event log is not enabled", http.StatusNotImplemented)
	}
	events, err := uc.opts.EventStore.GetEventsSince(ctx, bucket, resumeToken)
	if err != nil {
		return nil, apperrors.NewStorageError("failed to read file events").WithCause(err)
	}
	return events, nil
}

// publish emits a file event. The bus logs handler failures; the file operation already succeeded.
func (uc *fileUsecaseImpl) publish(ctx context.Context, eventType string, event model.FileEvent) {
	if uc.opts.EventBus == nil {
		return
	}
	event.Type = eventType
	event.Timestamp = time.Now().UTC()
	uc.opts.EventBus.PublishAndForget(ctx, eventbus.NewBasicEventWithSource(eventType, event, eventSource))
}

// toAppError converts persistence errors into application errors
func (uc *fileUsecaseImpl) toAppError(err error, operation string) *apperrors.AppError {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var result *apperrors.AppError
	switch {
	case errors.Is(err, mongodb.ErrUploadNotFound):
		result = apperrors.NewInvalidConfigurationError("uploaded file does not exist").WithCause(errors.Join(apperrors.ErrUploadNotFound, err))
	case errors.Is(err, mongodb.ErrDocumentNotFound):
		result = apperrors.NewInvalidConfigurationError("file document does not exist").WithCause(err)
	case errors.Is(err, mongodb.ErrPartialRemove), errors.Is(err, mongodb.ErrPartialDrop):
		result = apperrors.NewPartialFailureError(operation + " did not complete").WithCause(err)
	case errors.Is(err, mongodb.ErrChunkMismatch):
		result = apperrors.NewInternalError("stored file is corrupt").WithCode("CHUNK_MISMATCH").WithCause(err)
	case errors.Is(err, mongodb.ErrChunkSizeTooLarge):
		result = apperrors.NewValidationError("chunk size is too large").WithCause(err)
	case errors.Is(err, mongodb.ErrFileExists), errors.Is(err, mongodb.ErrUploadCompleted), mongo.IsDuplicateKeyError(err):
		result = apperrors.NewConflictError("file already exists").WithCause(err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		result = apperrors.NewAppError(apperrors.ErrorTypeStorage, operation+" timed out", http.StatusGatewayTimeout).WithCause(err)
	default:
		result = apperrors.NewStorageError(operation + " failed").WithCause(err)
	}

	uc.log.WithFields(map[string]interface{}{
		"operation":  operation,
		"error_type": string(result.Type),
		"error":      err.Error(),
	}).Error("File operation failed")
	return result.WithComponent(componentName)
}
