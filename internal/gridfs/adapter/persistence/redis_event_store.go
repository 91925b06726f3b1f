package persistence

import (
	"context"
	"errors"
	"strconv"
	"time"

	"gridfs-store/internal/gridfs/domain/model"
	"gridfs-store/internal/shared/logger"

	"github.com/redis/go-redis/v9"
)

const (
	defaultStreamPrefix = "gridfs:events"
	maxEventsPerRead    = 1000
)

// RedisEventStore implements repository.EventStore using one Redis Stream per bucket.
// Stream entry ids double as resume tokens.
type RedisEventStore struct {
	client    *redis.Client
	logger    logger.Logger
	prefix    string
	maxLength int64
}

// NewRedisEventStore creates a new Redis-based event store. maxLength caps each
// bucket stream approximately, 0 keeps everything.
func NewRedisEventStore(client *redis.Client, prefix string, maxLength int64, log logger.Logger) *RedisEventStore {
	if prefix == "" {
		prefix = defaultStreamPrefix
	}
	return &RedisEventStore{
		client:    client,
		logger:    log.WithComponent("redis_event_store"),
		prefix:    prefix,
		maxLength: maxLength,
	}
}

// StreamName returns the stream holding the events of bucket
func (r *RedisEventStore) StreamName(bucket string) string {
	return r.prefix + ":" + bucket
}

// StoreEvent appends event to the stream of its bucket
func (r *RedisEventStore) StoreEvent(ctx context.Context, event model.FileEvent) error {
	stream := r.StreamName(event.Bucket)
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"type":      event.Type,
			"bucket":    event.Bucket,
			"fileId":    event.FileID,
			"filename":  event.Filename,
			"length":    event.Length,
			"count":     event.Count,
			"timestamp": event.Timestamp.UnixNano(),
		},
	}
	if r.maxLength > 0 {
		args.MaxLen = r.maxLength
		args.Approx = true
	}

	id, err := r.client.XAdd(ctx, args).Result()
	if err != nil {
		r.logger.WithFields(map[string]interface{}{
			"stream":     stream,
			"event_type": event.Type,
			"error":      err.Error(),
		}).Error("Failed to store file event in Redis")
		return err
	}

	r.logger.WithFields(map[string]interface{}{
		"stream":       stream,
		"event_type":   event.Type,
		"resume_token": id,
	}).Debug("File event stored")
	return nil
}

// GetEventsSince returns the events of bucket stored after resumeToken.
// An empty token replays the whole retained stream.
func (r *RedisEventStore) GetEventsSince(ctx context.Context, bucket string, resumeToken string) ([]model.FileEvent, error) {
	stream := r.StreamName(bucket)
	lastID := "0"
	if resumeToken != "" {
		lastID = resumeToken
	}

	res, err := r.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{stream, lastID},
		Count:   maxEventsPerRead,
		Block:   -1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []model.FileEvent{}, nil
		}
		r.logger.WithFields(map[string]interface{}{
			"stream":       stream,
			"resume_token": resumeToken,
			"error":        err.Error(),
		}).Error("Failed to read file events from Redis")
		return nil, err
	}

	events := []model.FileEvent{}
	for _, streamRes := range res {
		for _, msg := range streamRes.Messages {
			events = append(events, parseFileEvent(msg))
		}
	}
	return events, nil
}

// EventCount returns the number of retained events of bucket
func (r *RedisEventStore) EventCount(ctx context.Context, bucket string) (int64, error) {
	return r.client.XLen(ctx, r.StreamName(bucket)).Result()
}

// DeleteStream drops the retained events of bucket
func (r *RedisEventStore) DeleteStream(ctx context.Context, bucket string) error {
	return r.client.Del(ctx, r.StreamName(bucket)).Err()
}

func parseFileEvent(msg redis.XMessage) model.FileEvent {
	event := model.FileEvent{ResumeToken: msg.ID}

	if v, ok := msg.Values["type"].(string); ok {
		event.Type = v
	}
	if v, ok := msg.Values["bucket"].(string); ok {
		event.Bucket = v
	}
	if v, ok := msg.Values["fileId"].(string); ok {
		event.FileID = v
	}
	if v, ok := msg.Values["filename"].(string); ok {
		event.Filename = v
	}
	if v, ok := msg.Values["length"].(string); ok {
		event.Length, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := msg.Values["count"].(string); ok {
		event.Count, _ = strconv.ParseInt(v, 10, 64)
	}
	if v, ok := msg.Values["timestamp"].(string); ok {
		if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
			event.Timestamp = time.Unix(0, ts)
		}
	}
	return event
}
