package mongodb

import "errors"

// File storage errors
var (
	ErrDocumentNotFound  = errors.New("file document does not exist")
	ErrUploadNotFound    = errors.New("uploaded file does not exist")
	ErrUploadCompleted   = errors.New("upload already completed")
	ErrFileExists        = errors.New("a file with this id already exists")
	ErrChunkSizeTooLarge = errors.New("chunk size exceeds the chunk document limit")
	ErrChunkMismatch     = errors.New("file chunks do not match file document")
	ErrPartialRemove     = errors.New("remove stopped before all matching files were deleted")
	ErrPartialDrop       = errors.New("files collection dropped but chunks collection was not")
)
