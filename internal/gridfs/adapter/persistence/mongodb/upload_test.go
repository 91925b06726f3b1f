package mongodb

import (
	"context"
	"strings"
	"testing"

	"gridfs-store/internal/gridfs/domain/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestUpload_AddStream(t *testing.T) {
	ctx := context.Background()
	c, db := newTestCollection("fs")

	upload := c.CreateUpload(model.UploadOptions{Filename: "stream.txt", ChunkSize: 3})
	require.NoError(t, upload.AddStream(ctx, strings.NewReader("abcdefgh")))
	require.NoError(t, upload.AddContent(ctx, []byte("ij")))
	assert.Equal(t, int64(10), upload.Length())

	doc, err := upload.Complete(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), doc.Length)
	assert.Equal(t, upload.ID(), doc.ID)

	chunks := chunksOf(t, db, "fs", doc.ID)
	require.Len(t, chunks, 4)
	assert.Equal(t, "abc", string(chunks[0].Data))
	assert.Equal(t, "j", string(chunks[3].Data))
}

func TestUpload_CompleteIsFinal(t *testing.T) {
	ctx := context.Background()
	c, db := newTestCollection("fs")

	upload := c.CreateUpload(model.UploadOptions{})
	require.NoError(t, upload.AddContent(ctx, []byte("payload")))
	doc, err := upload.Complete(ctx)
	require.NoError(t, err)

	again, err := upload.Complete(ctx)
	require.NoError(t, err)
	assert.Same(t, doc, again)
	assert.Equal(t, 1, db.collection("fs.files").Count())

	assert.ErrorIs(t, upload.AddContent(ctx, []byte("more")), ErrUploadCompleted)
	assert.ErrorIs(t, upload.AddStream(ctx, strings.NewReader("more")), ErrUploadCompleted)
	assert.ErrorIs(t, upload.Cancel(ctx), ErrUploadCompleted)
}

func TestUpload_DefaultChunkSize(t *testing.T) {
	ctx := context.Background()
	c, db := newTestCollection("fs")

	content := make([]byte, model.DefaultChunkSize+10)
	upload := c.CreateUpload(model.UploadOptions{})
	require.NoError(t, upload.AddContent(ctx, content))
	doc, err := upload.Complete(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(261120), doc.ChunkSize)

	chunks := chunksOf(t, db, "fs", doc.ID)
	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0].Data, model.DefaultChunkSize)
	assert.Len(t, chunks[1].Data, 10)

	c.SetDefaultChunkSize(1024)
	doc, err = c.CreateUpload(model.UploadOptions{}).Complete(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1024), doc.ChunkSize)
}

func TestUpload_EmptyFile(t *testing.T) {
	ctx := context.Background()
	c, db := newTestCollection("fs")

	doc, err := c.CreateUpload(model.UploadOptions{Filename: "empty"}).Complete(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), doc.Length)
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", doc.MD5)
	assert.Equal(t, 0, db.collection("fs.chunks").Count())
	assert.True(t, c.IndexesEnsured())

	content, err := c.CreateDownload(doc.ID).ToString(ctx)
	require.NoError(t, err)
	assert.Empty(t, content)
}

func TestUpload_Cancel(t *testing.T) {
	ctx := context.Background()
	c, db := newTestCollection("fs")

	upload := c.CreateUpload(model.UploadOptions{ChunkSize: 2})
	require.NoError(t, upload.AddContent(ctx, []byte("abcde")))
	require.Len(t, chunksOf(t, db, "fs", upload.ID()), 2)

	require.NoError(t, upload.Cancel(ctx))
	assert.Empty(t, chunksOf(t, db, "fs", upload.ID()))
	assert.Equal(t, 0, db.collection("fs.files").Count())

	_, err := upload.Complete(ctx)
	assert.ErrorIs(t, err, ErrUploadCompleted)
}

func TestUpload_ChunkWriteFailureLeavesWrittenChunks(t *testing.T) {
	ctx := context.Background()
	c, db := newTestCollection("fs")
	db.collection("fs.chunks").failInsertAt = 2

	_, err := c.InsertFileContent(ctx, []byte("abcdefgh"), nil, model.UploadOptions{ChunkSize: 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk 1")
	assert.Equal(t, 0, db.collection("fs.files").Count())
	assert.Equal(t, 1, db.collection("fs.chunks").Count())
}

func TestUpload_FileDocumentWriteFailure(t *testing.T) {
	ctx := context.Background()
	c, db := newTestCollection("fs")
	db.collection("fs.files").failInsertAt = 1

	upload := c.CreateUpload(model.UploadOptions{ID: "doc-fails"})
	require.NoError(t, upload.AddContent(ctx, []byte("abc")))
	_, err := upload.Complete(ctx)
	require.Error(t, err)

	// no automatic rollback; the caller decides
	assert.Len(t, chunksOf(t, db, "fs", "doc-fails"), 1)
	require.NoError(t, upload.Cancel(ctx))
	assert.Empty(t, chunksOf(t, db, "fs", "doc-fails"))
}

func TestUpload_DuplicateID(t *testing.T) {
	ctx := context.Background()
	c, db := newTestCollection("fs")

	_, err := c.InsertFileContent(ctx, []byte("first"), nil, model.UploadOptions{ID: "same"})
	require.NoError(t, err)
	_, err = c.InsertFileContent(ctx, []byte("second"), nil, model.UploadOptions{ID: "same"})
	require.Error(t, err)

	doc, err := c.FindOne(ctx, bson.M{"_id": "same"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), doc.Length)
	assert.Equal(t, 1, db.collection("fs.files").Count())
}

func TestUpload_LargeChunkSizeAllocatesLazily(t *testing.T) {
	ctx := context.Background()
	c, db := newTestCollection("fs")

	upload := c.CreateUpload(model.UploadOptions{ChunkSize: model.MaxChunkSize})
	require.NoError(t, upload.AddStream(ctx, strings.NewReader("x")))
	assert.Less(t, cap(upload.buffer), 1024)

	doc, err := upload.Complete(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(model.MaxChunkSize), doc.ChunkSize)
	require.Len(t, chunksOf(t, db, "fs", doc.ID), 1)
}

func TestUpload_ChunkSizeTooLarge(t *testing.T) {
	ctx := context.Background()
	c, db := newTestCollection("fs")

	upload := c.CreateUpload(model.UploadOptions{ChunkSize: model.MaxChunkSize + 1})
	assert.ErrorIs(t, upload.AddContent(ctx, []byte("x")), ErrChunkSizeTooLarge)
	assert.ErrorIs(t, upload.AddStream(ctx, strings.NewReader("x")), ErrChunkSizeTooLarge)
	_, err := upload.Complete(ctx)
	assert.ErrorIs(t, err, ErrChunkSizeTooLarge)

	assert.Equal(t, 0, db.collection("fs.files").Count())
	assert.Equal(t, 0, db.collection("fs.chunks").Count())
}

func TestUpload_ExistingEmptyFileKeepsItsChunks(t *testing.T) {
	ctx := context.Background()
	c, db := newTestCollection("fs")

	_, err := c.InsertFileContent(ctx, nil, nil, model.UploadOptions{ID: "empty"})
	require.NoError(t, err)

	_, err = c.InsertFileContent(ctx, []byte("not empty"), nil, model.UploadOptions{ChunkSize: 4, ID: "empty"})
	assert.ErrorIs(t, err, ErrFileExists)
	_, err = c.InsertFileContent(ctx, []byte("not empty"), bson.M{"_id": "empty"}, model.UploadOptions{})
	assert.ErrorIs(t, err, ErrFileExists)
	assert.Equal(t, 0, db.collection("fs.chunks").Count())

	content, err := c.CreateDownload("empty").ToString(ctx)
	require.NoError(t, err)
	assert.Empty(t, content)
}
