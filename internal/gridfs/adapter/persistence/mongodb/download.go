package mongodb

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gridfs-store/internal/gridfs/domain/model"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Download reads one stored file back from its chunks.
//
// The file document is resolved lazily. Every export (ToStream, ToFile,
// ToString, Bytes, Reader) opens its own chunk cursor, so a Download can be
// exported any number of times. ChunkCursor exposes a single cached cursor
// for callers that want to iterate chunks themselves.
type Download struct {
	collection *FileCollection
	id         interface{}
	raw        interface{}
	document   *model.FileDocument

	chunkCursor CursorInterface
}

func newDownload(c *FileCollection, document interface{}) *Download {
	d := &Download{collection: c}
	switch v := document.(type) {
	case *model.FileDocument:
		d.document = v
	case model.FileDocument:
		d.document = &v
	case bson.M, bson.D, map[string]interface{}:
		d.raw = v
	default:
		d.id = v
	}
	return d
}

// Document returns the file document, querying it on first use
func (d *Download) Document(ctx context.Context) (*model.FileDocument, error) {
	if d.document != nil {
		return d.document, nil
	}

	if d.raw != nil {
		doc, err := coerceFileDocument(d.raw)
		if err != nil {
			return nil, err
		}
		d.document = doc
		return doc, nil
	}

	doc, err := d.collection.FindOne(ctx, bson.M{"_id": d.id})
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: id %q in %s", ErrDocumentNotFound, model.FormatID(d.id), d.collection.FullName())
	}
	d.document = doc
	return doc, nil
}

func coerceFileDocument(raw interface{}) (*model.FileDocument, error) {
	data, err := bson.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid file document: %w", err)
	}
	var doc model.FileDocument
	if err := bson.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid file document: %w", err)
	}
	return &doc, nil
}

// Size returns the file length in bytes, 0 when the document has no length
func (d *Download) Size(ctx context.Context) (int64, error) {
	doc, err := d.Document(ctx)
	if err != nil {
		return 0, err
	}
	return doc.Length, nil
}

// Filename returns the stored filename, empty when the file has none
func (d *Download) Filename(ctx context.Context) (string, error) {
	doc, err := d.Document(ctx)
	if err != nil {
		return "", err
	}
	return doc.Filename, nil
}

// ChunkCursor returns the cached cursor over the file chunks ordered by n.
// The cursor is consumed by whoever iterates it first.
func (d *Download) ChunkCursor(ctx context.Context) (CursorInterface, error) {
	if d.chunkCursor != nil {
		return d.chunkCursor, nil
	}
	cursor, err := d.openChunks(ctx)
	if err != nil {
		return nil, err
	}
	d.chunkCursor = cursor
	return cursor, nil
}

func (d *Download) openChunks(ctx context.Context) (CursorInterface, error) {
	doc, err := d.Document(ctx)
	if err != nil {
		return nil, err
	}
	chunks := d.collection.ChunkCollection(false)
	cursor, err := chunks.Find(ctx, bson.M{"files_id": doc.ID}, options.Find().SetSort(bson.D{{Key: "n", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks of %s: %w", doc.IDString(), err)
	}
	return cursor, nil
}

// ToStream writes the file content to w and returns the number of bytes written
func (d *Download) ToStream(ctx context.Context, w io.Writer) (int64, error) {
	doc, err := d.Document(ctx)
	if err != nil {
		return 0, err
	}
	cursor, err := d.openChunks(ctx)
	if err != nil {
		return 0, err
	}
	defer cursor.Close(ctx)

	var written int64
	expected := 0
	for cursor.Next(ctx) {
		var chunk model.ChunkDocument
		if err := cursor.Decode(&chunk); err != nil {
			return written, fmt.Errorf("failed to decode chunk of %s: %w", doc.IDString(), err)
		}
		if chunk.N != expected {
			return written, fmt.Errorf("%w: %s expected chunk %d, got %d", ErrChunkMismatch, doc.IDString(), expected, chunk.N)
		}
		expected++

		n, err := w.Write(chunk.Data)
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	if err := cursor.Err(); err != nil {
		return written, fmt.Errorf("failed to read chunks of %s: %w", doc.IDString(), err)
	}
	if doc.LengthKnown() && written != doc.Length {
		return written, fmt.Errorf("%w: %s has %d bytes in chunks, length is %d", ErrChunkMismatch, doc.IDString(), written, doc.Length)
	}
	return written, nil
}

// ToFile writes the file content to path, creating missing parent directories
func (d *Download) ToFile(ctx context.Context, path string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", path, err)
	}

	n, err := d.ToStream(ctx, f)
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = closeErr
	}
	return n, err
}

// Bytes returns the whole file content
func (d *Download) Bytes(ctx context.Context) ([]byte, error) {
	var buf bytes.Buffer
	if doc, err := d.Document(ctx); err == nil && doc.Length > 0 {
		buf.Grow(int(doc.Length))
	}
	if _, err := d.ToStream(ctx, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ToString returns the whole file content as a string
func (d *Download) ToString(ctx context.Context) (string, error) {
	b, err := d.Bytes(ctx)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Reader streams the file content through a pipe. Errors, including chunk
// mismatches, are returned from Read.
func (d *Download) Reader(ctx context.Context) io.ReadCloser {
	pr, pw := io.Pipe()
	go func() {
		_, err := d.ToStream(ctx, pw)
		pw.CloseWithError(err)
	}()
	return pr
}
