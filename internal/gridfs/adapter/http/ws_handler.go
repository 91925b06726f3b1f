package http

import (
	"context"
	"sync"
	"time"

	"gridfs-store/internal/gridfs/domain/model"
	"gridfs-store/internal/gridfs/usecase"
	"gridfs-store/internal/shared/eventbus"
	"gridfs-store/internal/shared/logger"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 10 * time.Second
)

// WatchMessage is what a watcher receives over the socket
type WatchMessage struct {
	Type    string           `json:"type"`
	Event   *model.FileEvent `json:"event,omitempty"`
	Message string           `json:"message,omitempty"`
}

// WatchHub pushes file events to websocket clients watching a bucket.
// A client that falls behind by more than the buffer is disconnected.
type WatchHub struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan model.FileEvent
	buffer      int
	log         logger.Logger
}

// NewWatchHub creates a hub queueing up to buffer events per client
func NewWatchHub(buffer int, log logger.Logger) *WatchHub {
	if buffer <= 0 {
		buffer = 16
	}
	return &WatchHub{
		subscribers: make(map[string]map[string]chan model.FileEvent),
		buffer:      buffer,
		log:         log.WithComponent("watch_hub"),
	}
}

// HandleEvent is an eventbus.Handler fanning file events out to watchers
func (h *WatchHub) HandleEvent(ctx context.Context, event eventbus.Event) error {
	fileEvent, ok := event.Data().(model.FileEvent)
	if !ok {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.subscribers[fileEvent.Bucket] {
		select {
		case ch <- fileEvent:
		default:
			h.log.Warnf("Dropping slow watcher %s of bucket %s", id, fileEvent.Bucket)
			close(ch)
			delete(h.subscribers[fileEvent.Bucket], id)
		}
	}
	return nil
}

// SubscriberCount returns the number of watchers of bucket
func (h *WatchHub) SubscriberCount(bucket string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[bucket])
}

func (h *WatchHub) subscribe(bucket string) (string, <-chan model.FileEvent) {
	id := uuid.NewString()
	ch := make(chan model.FileEvent, h.buffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subscribers[bucket] == nil {
		h.subscribers[bucket] = make(map[string]chan model.FileEvent)
	}
	h.subscribers[bucket][id] = ch
	return id, ch
}

func (h *WatchHub) unsubscribe(bucket, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[bucket][id]; ok {
		close(ch)
		delete(h.subscribers[bucket], id)
	}
	if len(h.subscribers[bucket]) == 0 {
		delete(h.subscribers, bucket)
	}
}

// RegisterRoutes mounts the watch endpoint at path, which must contain ":bucket"
func (h *WatchHub) RegisterRoutes(router fiber.Router, path string) {
	router.Get(path, h.upgrade, websocket.New(h.serve))
}

func (h *WatchHub) upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}
	if err := usecase.ValidateBucketName(c.Params("bucket")); err != nil {
		return errorResponse(c, err)
	}
	return c.Next()
}

func (h *WatchHub) serve(conn *websocket.Conn) {
	bucket := conn.Params("bucket")
	id, events := h.subscribe(bucket)
	log := h.log.WithFields(map[string]interface{}{"bucket": bucket, "subscriber_id": id})
	log.Info("Watcher connected")
	defer func() {
		h.unsubscribe(bucket, id)
		log.Info("Watcher disconnected")
	}()

	// clients only send close frames; reading detects the disconnect
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Warnf("Watcher read failed: %v", err)
				}
				return
			}
		}
	}()

	if err := conn.WriteJSON(WatchMessage{Type: "subscribed"}); err != nil {
		return
	}

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()
	for {
		select {
		case <-closed:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case event, ok := <-events:
			if !ok {
				conn.WriteJSON(WatchMessage{Type: "error", Message: "watcher fell behind and was disconnected"})
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(WatchMessage{Type: "event", Event: &event}); err != nil {
				log.Warnf("Failed to push event: %v", err)
				return
			}
		}
	}
}
