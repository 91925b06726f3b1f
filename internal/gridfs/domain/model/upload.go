package model

// UploadedFile describes a file received by a request before it is stored.
type UploadedFile struct {
	FieldName   string
	Name        string
	TempPath    string
	Size        int64
	ContentType string
}

// UploadOptions configures a single GridFS upload.
// ID and Filename override the "_id" and "filename" entries of Metadata.
type UploadOptions struct {
	ID          interface{}
	Filename    string
	ChunkSize   int
	ContentType string
	Metadata    map[string]interface{}
}

// RemoveOptions limits a cascading remove
type RemoveOptions struct {
	Limit int64
}
