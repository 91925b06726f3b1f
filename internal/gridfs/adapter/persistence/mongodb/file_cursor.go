package mongodb

import (
	"context"
	"fmt"

	"gridfs-store/internal/gridfs/domain/model"
)

// FileCursor iterates file documents returned by FileCollection.Find
type FileCursor struct {
	collection *FileCollection
	cursor     CursorInterface
	current    *model.FileDocument
	err        error
}

func newFileCursor(c *FileCollection, cursor CursorInterface) *FileCursor {
	return &FileCursor{collection: c, cursor: cursor}
}

// Next advances to the next file document
func (c *FileCursor) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	if !c.cursor.Next(ctx) {
		c.current = nil
		return false
	}
	var doc model.FileDocument
	if err := c.cursor.Decode(&doc); err != nil {
		c.err = fmt.Errorf("failed to decode file document: %w", err)
		c.current = nil
		return false
	}
	c.current = &doc
	return true
}

// Document returns the current file document
func (c *FileCursor) Document() *model.FileDocument {
	return c.current
}

// Current wraps the current file document in a Download
func (c *FileCursor) Current() (*Download, error) {
	if c.current == nil {
		return nil, fmt.Errorf("cursor has no current document")
	}
	return c.collection.CreateDownload(c.current), nil
}

// All drains the cursor into downloads and closes it
func (c *FileCursor) All(ctx context.Context) ([]*Download, error) {
	docs, err := c.Documents(ctx)
	if err != nil {
		return nil, err
	}
	downloads := make([]*Download, 0, len(docs))
	for _, doc := range docs {
		downloads = append(downloads, c.collection.CreateDownload(doc))
	}
	return downloads, nil
}

// Documents drains the cursor into file documents and closes it
func (c *FileCursor) Documents(ctx context.Context) ([]*model.FileDocument, error) {
	defer c.Close(ctx)

	docs := []*model.FileDocument{}
	for c.Next(ctx) {
		docs = append(docs, c.current)
	}
	if err := c.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

func (c *FileCursor) Err() error {
	if c.err != nil {
		return c.err
	}
	return c.cursor.Err()
}

func (c *FileCursor) Close(ctx context.Context) error {
	return c.cursor.Close(ctx)
}
