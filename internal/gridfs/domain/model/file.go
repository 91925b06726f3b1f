package model

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	// DefaultPrefix is the bucket name GridFS tools assume when none is given.
	DefaultPrefix = "fs"
	// DefaultChunkSize is the GridFS default of 255 KiB.
	DefaultChunkSize = 255 * 1024
	// MaxChunkSize keeps a chunk document below the 16 MiB BSON limit.
	MaxChunkSize = 15 * 1024 * 1024
)

// FileDocument is one entry of the "<prefix>.files" collection.
// Caller supplied metadata is stored inline next to the computed fields.
type FileDocument struct {
	ID          interface{} `bson:"_id" json:"id"`
	Filename    string      `bson:"filename,omitempty" json:"filename,omitempty"`
	Length      int64       `bson:"length" json:"length"`
	ChunkSize   int32       `bson:"chunkSize" json:"chunkSize"`
	UploadDate  time.Time   `bson:"uploadDate" json:"uploadDate"`
	MD5         string      `bson:"md5,omitempty" json:"md5,omitempty"`
	ContentType string      `bson:"contentType,omitempty" json:"contentType,omitempty"`
	Metadata    bson.M      `bson:",inline" json:"metadata,omitempty"`

	// HasLength is set when the stored or decoded document carried a length field.
	// Projected or hand-built documents may not.
	HasLength bool `bson:"-" json:"-"`
}

type fileDocumentFields FileDocument

// UnmarshalBSON decodes the document and records whether length was present
func (f *FileDocument) UnmarshalBSON(data []byte) error {
	var fields fileDocumentFields
	if err := bson.Unmarshal(data, &fields); err != nil {
		return err
	}
	*f = FileDocument(fields)
	_, err := bson.Raw(data).LookupErr("length")
	f.HasLength = err == nil
	return nil
}

// LengthKnown reports whether Length can be trusted as the content size
func (f *FileDocument) LengthKnown() bool {
	return f.HasLength || f.Length != 0
}

// IDString renders the document id for logs and URLs
func (f *FileDocument) IDString() string {
	return FormatID(f.ID)
}

// ChunkDocument is one entry of the "<prefix>.chunks" collection
type ChunkDocument struct {
	ID      primitive.ObjectID `bson:"_id"`
	FilesID interface{}        `bson:"files_id"`
	N       int                `bson:"n"`
	Data    []byte             `bson:"data"`
}

// FilesCollectionName returns the physical files collection for prefix
func FilesCollectionName(prefix string) string {
	return prefix + ".files"
}

// ChunksCollectionName returns the physical chunks collection for prefix
func ChunksCollectionName(prefix string) string {
	return prefix + ".chunks"
}

// ParseID turns an external identifier into the value stored in _id.
// 24-character hex strings are treated as ObjectIDs, anything else is kept as a string.
func ParseID(raw string) interface{} {
	if oid, err := primitive.ObjectIDFromHex(raw); err == nil {
		return oid
	}
	return raw
}

// FormatID is the inverse of ParseID for display purposes
func FormatID(id interface{}) string {
	switch v := id.(type) {
	case nil:
		return ""
	case primitive.ObjectID:
		return v.Hex()
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
