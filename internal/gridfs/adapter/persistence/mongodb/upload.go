package mongodb

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"time"

	"gridfs-store/internal/gridfs/domain/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// streamReadSize bounds the read buffer of AddStream independently of the chunk size
const streamReadSize = 64 * 1024

// reservedFields are computed by the upload and never taken from caller metadata
var reservedFields = []string{"_id", "filename", "length", "chunkSize", "uploadDate", "md5", "contentType"}

// Upload writes one file into a FileCollection. Content is buffered and
// flushed as a chunk whenever a full chunk is available; Complete writes the
// remaining bytes and then the file document.
type Upload struct {
	collection  *FileCollection
	id          interface{}
	filename    string
	contentType string
	chunkSize   int
	metadata    bson.M

	buffer         []byte
	chunkCount     int
	length         int64
	hash           hash.Hash
	indexesChecked bool
	idSupplied     bool
	idChecked      bool
	document       *model.FileDocument
	closed         bool
	err            error
}

func newUpload(c *FileCollection, opts model.UploadOptions) *Upload {
	metadata := bson.M{}
	for k, v := range opts.Metadata {
		metadata[k] = v
	}

	u := &Upload{
		collection:  c,
		id:          opts.ID,
		filename:    opts.Filename,
		contentType: opts.ContentType,
		chunkSize:   opts.ChunkSize,
		hash:        md5.New(),
	}
	u.idSupplied = u.id != nil
	if u.id == nil {
		if id, ok := metadata["_id"]; ok && id != nil {
			u.id = id
			u.idSupplied = true
		} else {
			u.id = primitive.NewObjectID()
		}
	}
	if u.filename == "" {
		if name, ok := metadata["filename"].(string); ok {
			u.filename = name
		}
	}
	if u.contentType == "" {
		if ct, ok := metadata["contentType"].(string); ok {
			u.contentType = ct
		}
	}
	if u.chunkSize <= 0 {
		u.chunkSize = c.defaultChunkSize
	}
	if u.chunkSize > model.MaxChunkSize {
		u.err = fmt.Errorf("%w: %d bytes, at most %d", ErrChunkSizeTooLarge, u.chunkSize, model.MaxChunkSize)
	}
	for _, k := range reservedFields {
		delete(metadata, k)
	}
	if len(metadata) > 0 {
		u.metadata = metadata
	}
	return u
}

// ID returns the _id the file document will be written with
func (u *Upload) ID() interface{} {
	return u.id
}

// Length returns the number of bytes added so far
func (u *Upload) Length() int64 {
	return u.length + int64(len(u.buffer))
}

// AddContent appends data to the file
func (u *Upload) AddContent(ctx context.Context, data []byte) error {
	if u.closed {
		return ErrUploadCompleted
	}
	if u.err != nil {
		return u.err
	}
	// the buffer grows with the content so a large chunk size costs nothing for small files
	for len(data) > 0 {
		n := u.chunkSize - len(u.buffer)
		if n > len(data) {
			n = len(data)
		}
		u.buffer = append(u.buffer, data[:n]...)
		data = data[n:]
		if len(u.buffer) == u.chunkSize {
			if err := u.flush(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// AddStream appends everything read from r until EOF
func (u *Upload) AddStream(ctx context.Context, r io.Reader) error {
	if u.closed {
		return ErrUploadCompleted
	}
	if u.err != nil {
		return u.err
	}
	buf := make([]byte, min(u.chunkSize, streamReadSize))
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if addErr := u.AddContent(ctx, buf[:n]); addErr != nil {
				return addErr
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read upload content: %w", err)
		}
	}
}

// AddFile appends the contents of the file at path. The base name of path
// becomes the filename when none was configured.
func (u *Upload) AddFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	if u.filename == "" {
		u.filename = filepath.Base(path)
	}
	return u.AddStream(ctx, f)
}

// Complete flushes buffered content and writes the file document.
// Calling it again returns the same document.
func (u *Upload) Complete(ctx context.Context) (*model.FileDocument, error) {
	if u.document != nil {
		return u.document, nil
	}
	if u.closed {
		return nil, ErrUploadCompleted
	}
	if u.err != nil {
		return nil, u.err
	}
	if len(u.buffer) > 0 {
		if err := u.flush(ctx); err != nil {
			return nil, err
		}
	} else if err := u.prepare(ctx); err != nil {
		return nil, err
	}

	doc := &model.FileDocument{
		ID:          u.id,
		Filename:    u.filename,
		Length:      u.length,
		ChunkSize:   int32(u.chunkSize),
		UploadDate:  time.Now().UTC().Truncate(time.Millisecond),
		MD5:         hex.EncodeToString(u.hash.Sum(nil)),
		ContentType: u.contentType,
		Metadata:    u.metadata,
		HasLength:   true,
	}
	files := u.collection.FilesCollection()
	if _, err := files.InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to write file document %s: %w", model.FormatID(u.id), err)
	}

	u.document = doc
	u.closed = true
	u.collection.logger.WithFields(map[string]interface{}{
		"file_id": model.FormatID(u.id),
		"length":  u.length,
		"chunks":  u.chunkCount,
	}).Debug("Upload completed")
	return doc, nil
}

// Cancel discards buffered content and deletes the chunks already written
func (u *Upload) Cancel(ctx context.Context) error {
	if u.document != nil {
		return ErrUploadCompleted
	}
	u.closed = true
	u.buffer = nil
	if u.chunkCount == 0 {
		return nil
	}
	chunks := u.collection.ChunkCollection(false)
	if _, err := chunks.DeleteMany(ctx, bson.M{"files_id": u.id}); err != nil {
		return fmt.Errorf("failed to delete chunks of %s: %w", model.FormatID(u.id), err)
	}
	return nil
}

// prepare runs before the first write: it ensures indexes and, for a caller
// supplied _id, checks that no file uses it yet. Without the check the chunks
// of a rejected upload would attach to an existing empty file. Two uploads
// racing for the same _id are not detected.
func (u *Upload) prepare(ctx context.Context) error {
	if !u.indexesChecked {
		if err := u.collection.EnsureIndexes(ctx, false); err != nil {
			return err
		}
		u.indexesChecked = true
	}
	if u.idSupplied && !u.idChecked {
		existing, err := u.collection.FindOne(ctx, bson.M{"_id": u.id})
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: %s in %s", ErrFileExists, model.FormatID(u.id), u.collection.Name())
		}
		u.idChecked = true
	}
	return nil
}

func (u *Upload) flush(ctx context.Context) error {
	if err := u.prepare(ctx); err != nil {
		return err
	}

	data := make([]byte, len(u.buffer))
	copy(data, u.buffer)
	chunk := model.ChunkDocument{
		ID:      primitive.NewObjectID(),
		FilesID: u.id,
		N:       u.chunkCount,
		Data:    data,
	}
	chunks := u.collection.ChunkCollection(false)
	if _, err := chunks.InsertOne(ctx, chunk); err != nil {
		return fmt.Errorf("failed to write chunk %d of %s: %w", u.chunkCount, model.FormatID(u.id), err)
	}

	u.hash.Write(data)
	u.chunkCount++
	u.length += int64(len(data))
	u.buffer = u.buffer[:0]
	return nil
}
