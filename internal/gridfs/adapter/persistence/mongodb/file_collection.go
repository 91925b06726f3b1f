package mongodb

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gridfs-store/internal/gridfs/domain/model"
	"gridfs-store/internal/gridfs/domain/repository"
	"gridfs-store/internal/shared/logger"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// FileCollection stores files as a "<prefix>.files" collection of metadata
// documents plus a "<prefix>.chunks" collection holding their content.
type FileCollection struct {
	db               DatabaseInterface
	logger           logger.Logger
	defaultChunkSize int

	mu              sync.Mutex
	prefix          string
	files           CollectionInterface
	chunkCollection CollectionInterface
	indexesEnsured  bool
}

// NewFileCollection creates a file collection for prefix inside db.
// An empty prefix falls back to model.DefaultPrefix.
func NewFileCollection(db DatabaseInterface, prefix string, log logger.Logger) *FileCollection {
	c := &FileCollection{
		db:               db,
		logger:           log,
		defaultChunkSize: model.DefaultChunkSize,
	}
	c.SetPrefix(prefix)
	return c
}

// SetPrefix switches the collection to another bucket. No I/O happens here;
// the cached chunk collection is dropped so the next access resolves the new name.
func (c *FileCollection) SetPrefix(prefix string) {
	if prefix == "" {
		prefix = model.DefaultPrefix
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prefix = prefix
	c.files = c.db.Collection(model.FilesCollectionName(prefix))
	c.chunkCollection = nil
}

// SetDefaultChunkSize changes the chunk size used by uploads that do not set one
func (c *FileCollection) SetDefaultChunkSize(size int) {
	if size > 0 {
		c.defaultChunkSize = size
	}
}

func (c *FileCollection) Prefix() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prefix
}

// Name returns the physical name of the files collection
func (c *FileCollection) Name() string {
	return model.FilesCollectionName(c.Prefix())
}

// FullName returns the files collection name qualified by its database
func (c *FileCollection) FullName() string {
	return c.db.Name() + "." + c.Name()
}

// FilesCollection returns the handle of the files collection
func (c *FileCollection) FilesCollection() CollectionInterface {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.files
}

// ChunkCollection returns the chunks collection, resolving it on first use
// or whenever refresh is set.
func (c *FileCollection) ChunkCollection(refresh bool) CollectionInterface {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.chunkCollectionLocked(refresh)
}

func (c *FileCollection) chunkCollectionLocked(refresh bool) CollectionInterface {
	if refresh || c.chunkCollection == nil {
		c.chunkCollection = c.db.Collection(model.ChunksCollectionName(c.prefix))
	}
	return c.chunkCollection
}

// Drop removes the files collection and then the chunks collection.
// A failure on the second step leaves the bucket without its files collection.
func (c *FileCollection) Drop(ctx context.Context) error {
	files := c.FilesCollection()
	chunks := c.ChunkCollection(false)

	if err := files.Drop(ctx); err != nil {
		return fmt.Errorf("failed to drop %s: %w", files.Name(), err)
	}
	if err := c.db.DropCollection(ctx, chunks.Name()); err != nil {
		c.logger.WithFields(map[string]interface{}{
			"collection": chunks.Name(),
			"error":      err.Error(),
		}).Error("Chunks collection left behind after files collection was dropped")
		return fmt.Errorf("%w: %s: %w", ErrPartialDrop, chunks.Name(), err)
	}

	c.mu.Lock()
	c.indexesEnsured = false
	c.mu.Unlock()
	return nil
}

// Find queries the files collection. fields, when given, limits the returned fields.
func (c *FileCollection) Find(ctx context.Context, filter interface{}, fields []string, opts ...*options.FindOptions) (*FileCursor, error) {
	if filter == nil {
		filter = bson.M{}
	}
	if len(fields) > 0 {
		projection := bson.M{}
		for _, f := range fields {
			projection[f] = 1
		}
		opts = append(opts, options.Find().SetProjection(projection))
	}

	cursor, err := c.FilesCollection().Find(ctx, filter, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", c.Name(), err)
	}
	return newFileCursor(c, cursor), nil
}

// FindOne returns the first matching file document, or nil when nothing matches
func (c *FileCollection) FindOne(ctx context.Context, filter interface{}) (*model.FileDocument, error) {
	if filter == nil {
		filter = bson.M{}
	}
	var doc model.FileDocument
	if err := c.FilesCollection().FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query %s: %w", c.Name(), err)
	}
	return &doc, nil
}

// Remove deletes every file matching filter together with its chunks and
// returns the number of file documents removed. Matching ids are collected
// first; each file is then deleted before its chunks.
func (c *FileCollection) Remove(ctx context.Context, filter interface{}, opts model.RemoveOptions) (int64, error) {
	if filter == nil {
		filter = bson.M{}
	}
	findOpts := options.Find().SetProjection(bson.M{"_id": 1})
	if opts.Limit > 0 {
		findOpts.SetLimit(opts.Limit)
	}

	files := c.FilesCollection()
	cursor, err := files.Find(ctx, filter, findOpts)
	if err != nil {
		return 0, fmt.Errorf("failed to query %s: %w", files.Name(), err)
	}
	ids, err := collectIDs(ctx, cursor)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", files.Name(), err)
	}

	chunks := c.ChunkCollection(false)
	var removed int64
	for i, id := range ids {
		res, err := files.DeleteOne(ctx, bson.M{"_id": id})
		if err != nil {
			if i == 0 {
				return 0, fmt.Errorf("failed to remove file %s: %w", model.FormatID(id), err)
			}
			return removed, fmt.Errorf("%w: file %s: %w", ErrPartialRemove, model.FormatID(id), err)
		}
		removed += res.Deleted()

		if _, err := chunks.DeleteMany(ctx, bson.M{"files_id": id}); err != nil {
			return removed, fmt.Errorf("%w: chunks of %s: %w", ErrPartialRemove, model.FormatID(id), err)
		}
	}

	c.logger.Debugf("Removed %d of %d matching files from %s", removed, len(ids), files.Name())
	return removed, nil
}

func collectIDs(ctx context.Context, cursor CursorInterface) ([]interface{}, error) {
	defer cursor.Close(ctx)

	var ids []interface{}
	for cursor.Next(ctx) {
		var row struct {
			ID interface{} `bson:"_id"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, err
		}
		ids = append(ids, row.ID)
	}
	return ids, cursor.Err()
}

// InsertFile stores the file at path and returns its id.
// metadata, when not nil, replaces opts.Metadata.
func (c *FileCollection) InsertFile(ctx context.Context, path string, metadata map[string]interface{}, opts model.UploadOptions) (interface{}, error) {
	if metadata != nil {
		opts.Metadata = metadata
	}
	upload := c.CreateUpload(opts)
	if err := upload.AddFile(ctx, path); err != nil {
		return nil, err
	}
	return c.completeUpload(ctx, upload)
}

// InsertFileContent stores content as a new file and returns its id
func (c *FileCollection) InsertFileContent(ctx context.Context, content []byte, metadata map[string]interface{}, opts model.UploadOptions) (interface{}, error) {
	if metadata != nil {
		opts.Metadata = metadata
	}
	upload := c.CreateUpload(opts)
	if err := upload.AddContent(ctx, content); err != nil {
		return nil, err
	}
	return c.completeUpload(ctx, upload)
}

// InsertUploads stores the file received under fieldName. The uploaded name
// becomes the stored filename.
func (c *FileCollection) InsertUploads(ctx context.Context, uploads repository.UploadRegistry, fieldName string, metadata map[string]interface{}, opts model.UploadOptions) (interface{}, error) {
	uploaded, ok := uploads.Lookup(fieldName)
	if !ok {
		return nil, fmt.Errorf("%w: field %q", ErrUploadNotFound, fieldName)
	}
	opts.Filename = uploaded.Name
	if opts.ContentType == "" {
		opts.ContentType = uploaded.ContentType
	}
	return c.InsertFile(ctx, uploaded.TempPath, metadata, opts)
}

func (c *FileCollection) completeUpload(ctx context.Context, upload *Upload) (interface{}, error) {
	doc, err := upload.Complete(ctx)
	if err != nil {
		return nil, err
	}
	return doc.ID, nil
}

// Get returns a download for the file with the given id, or nil when it does not exist
func (c *FileCollection) Get(ctx context.Context, id interface{}) (*Download, error) {
	doc, err := c.FindOne(ctx, bson.M{"_id": id})
	if err != nil || doc == nil {
		return nil, err
	}
	return c.CreateDownload(doc), nil
}

// Delete removes the file with the given id. Deleting a missing file succeeds.
func (c *FileCollection) Delete(ctx context.Context, id interface{}) (bool, error) {
	if _, err := c.Remove(ctx, bson.M{"_id": id}, model.RemoveOptions{Limit: 1}); err != nil {
		return false, err
	}
	return true, nil
}

// CreateUpload starts a new upload into this collection
func (c *FileCollection) CreateUpload(opts model.UploadOptions) *Upload {
	return newUpload(c, opts)
}

// CreateDownload accepts a file id, a *model.FileDocument or a raw document map
func (c *FileCollection) CreateDownload(document interface{}) *Download {
	return newDownload(c, document)
}
