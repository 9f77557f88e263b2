package feed

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/scorekeeper/pkg/api"
)

func setupHub(t *testing.T, cfg Config) (*Hub, string) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)), cfg)
	go hub.Run(ctx)

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Serve(conn, r.URL.Query().Get("device"))
	}))
	t.Cleanup(srv.Close)

	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url, deviceID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url+"?device="+deviceID, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) api.FeedMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg api.FeedMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHub_BroadcastSkipsAuthor(t *testing.T) {
	hub, url := setupHub(t, Config{})

	author := dial(t, url, "device-A")
	other := dial(t, url, "device-B")
	require.Eventually(t, func() bool { return hub.Connections() == 2 }, 2*time.Second, 10*time.Millisecond)

	hub.Broadcast([]api.Delta{{Seq: 1, ID: "r1-p1-h1", Record: api.Record{ID: "r1-p1-h1"}}}, "device-A")
	hub.Broadcast([]api.Delta{{Seq: 2, ID: "r1-p1-h2", Record: api.Record{ID: "r1-p1-h2"}}}, "device-B")

	msg := readMessage(t, other)
	assert.Equal(t, api.FeedMessageDeltas, msg.Type)
	require.Len(t, msg.Deltas, 1)
	assert.Equal(t, uint64(1), msg.Deltas[0].Seq)

	// Автор получает только чужое изменение
	msg = readMessage(t, author)
	require.Len(t, msg.Deltas, 1)
	assert.Equal(t, uint64(2), msg.Deltas[0].Seq)
}

func TestHub_MaxConnectionsPerDevice(t *testing.T) {
	hub, url := setupHub(t, Config{MaxConnPerDevice: 1})

	dial(t, url, "device-A")
	require.Eventually(t, func() bool { return hub.Connections() == 1 }, 2*time.Second, 10*time.Millisecond)

	extra := dial(t, url, "device-A")
	require.NoError(t, extra.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := extra.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected error: %v", err)
	assert.Equal(t, 1, hub.Connections())
}

func TestHub_UnregisterOnDisconnect(t *testing.T) {
	hub, url := setupHub(t, Config{})

	conn := dial(t, url, "device-A")
	require.Eventually(t, func() bool { return hub.Connections() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Connections() == 0 }, 2*time.Second, 10*time.Millisecond)

	// Пустая рассылка игнорируется
	hub.Broadcast(nil, "")
}
