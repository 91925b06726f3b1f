package integration

import (
	"net/http"
	"testing"
	"time"

	gridfshttp "gridfs-store/internal/gridfs/adapter/http"
	"gridfs-store/internal/gridfs/adapter/persistence/mongodb"
	"gridfs-store/internal/shared/eventbus"

	"github.com/fasthttp/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialWatch(t *testing.T, addr, bucket string) *websocket.Conn {
	t.Helper()
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial("ws://"+addr+"/ws/v1/buckets/"+bucket+"/watch", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { conn.Close() })

	var hello gridfshttp.WatchMessage
	require.NoError(t, conn.ReadJSON(&hello))
	require.Equal(t, "subscribed", hello.Type)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) gridfshttp.WatchMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg gridfshttp.WatchMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestWatch_ReceivesBucketEvents(t *testing.T) {
	server := startServer(t, memoryConfig(), mongodb.NewMemoryDatabase("watch_test"))
	photos := dialWatch(t, server.addr, "photos")
	docs := dialWatch(t, server.addr, "docs")
	assert.Equal(t, 1, server.module.WatchHub.SubscriberCount("photos"))

	resp := postFile(t, server.addr, "photos", "cat.jpg", []byte("meow meow meow"))
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	msg := readMessage(t, photos)
	assert.Equal(t, "event", msg.Type)
	require.NotNil(t, msg.Event)
	assert.Equal(t, eventbus.EventTypeFileCreated, msg.Event.Type)
	assert.Equal(t, "photos", msg.Event.Bucket)
	assert.Equal(t, "cat.jpg", msg.Event.Filename)
	assert.EqualValues(t, 14, msg.Event.Length)

	// other buckets stay quiet
	require.NoError(t, docs.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	var none gridfshttp.WatchMessage
	assert.Error(t, docs.ReadJSON(&none))
}

func TestWatch_CloseUnsubscribes(t *testing.T) {
	server := startServer(t, memoryConfig(), mongodb.NewMemoryDatabase("watch_test"))
	conn := dialWatch(t, server.addr, "photos")
	require.Equal(t, 1, server.module.WatchHub.SubscriberCount("photos"))

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	assert.Eventually(t, func() bool {
		return server.module.WatchHub.SubscriberCount("photos") == 0
	}, 2*time.Second, 20*time.Millisecond)
}

func TestWatch_RejectsInvalidBucket(t *testing.T) {
	server := startServer(t, memoryConfig(), mongodb.NewMemoryDatabase("watch_test"))
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	_, resp, err := dialer.Dial("ws://"+server.addr+"/ws/v1/buckets/system.profile/watch", nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
