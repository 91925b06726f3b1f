package http

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"

	"gridfs-store/internal/gridfs/domain/model"

	"github.com/google/uuid"
)

// MultipartUploadRegistry exposes the files of a multipart form as uploads.
// Every part is spooled to its own temp file; Cleanup removes them.
type MultipartUploadRegistry struct {
	files map[string]*model.UploadedFile
}

// NewMultipartUploadRegistry spools the first file of every form field into tempDir.
// An empty tempDir means os.TempDir().
func NewMultipartUploadRegistry(form *multipart.Form, tempDir string) (*MultipartUploadRegistry, error) {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	r := &MultipartUploadRegistry{files: make(map[string]*model.UploadedFile)}
	if form == nil {
		return r, nil
	}

	for field, headers := range form.File {
		if len(headers) == 0 {
			continue
		}
		header := headers[0]
		path := filepath.Join(tempDir, "gridfs-upload-"+uuid.NewString())
		size, err := spool(header, path)
		if err != nil {
			r.Cleanup()
			return nil, fmt.Errorf("failed to store form field %q: %w", field, err)
		}
		r.files[field] = &model.UploadedFile{
			FieldName:   field,
			Name:        header.Filename,
			TempPath:    path,
			Size:        size,
			ContentType: header.Header.Get("Content-Type"),
		}
	}
	return r, nil
}

func spool(header *multipart.FileHeader, path string) (int64, error) {
	src, err := header.Open()
	if err != nil {
		return 0, err
	}
	defer src.Close()

	dst, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return 0, err
	}
	return n, nil
}

// Lookup implements repository.UploadRegistry
func (r *MultipartUploadRegistry) Lookup(fieldName string) (*model.UploadedFile, bool) {
	f, ok := r.files[fieldName]
	return f, ok
}

// Cleanup deletes the spooled temp files
func (r *MultipartUploadRegistry) Cleanup() {
	for field, f := range r.files {
		os.Remove(f.TempPath)
		delete(r.files, field)
	}
}
