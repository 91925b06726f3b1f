package repository

import "gridfs-store/internal/gridfs/domain/model"

// UploadRegistry resolves files received by the current request by the name
// of the form field they were posted under.
type UploadRegistry interface {
	Lookup(fieldName string) (*model.UploadedFile, bool)
}

// StaticUploadRegistry is an UploadRegistry over a fixed map
type StaticUploadRegistry map[string]*model.UploadedFile

// Lookup implements UploadRegistry
func (r StaticUploadRegistry) Lookup(fieldName string) (*model.UploadedFile, bool) {
	f, ok := r[fieldName]
	return f, ok && f != nil
}
