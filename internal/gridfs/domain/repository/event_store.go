package repository

import (
	"context"

	"gridfs-store/internal/gridfs/domain/model"
)

// EventStore persists file events so watchers can replay what they missed.
type EventStore interface {
	StoreEvent(ctx context.Context, event model.FileEvent) error
	GetEventsSince(ctx context.Context, bucket string, resumeToken string) ([]model.FileEvent, error)
}
