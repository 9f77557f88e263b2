package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/iudanet/scorekeeper/internal/syncerr"
	"github.com/iudanet/scorekeeper/pkg/api"
)

const feedHandshakeTimeout = 10 * time.Second

// feedURL переводит базовый http(s) адрес в адрес websocket-ленты
func (c *Client) feedURL() string {
	base := c.baseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return strings.TrimRight(base, "/") + "/api/v1/feed"
}

// Subscribe подключается к ленте изменений и передает handler каждую пачку
// изменений. Блокируется до отмены ctx (возвращает nil) или обрыва соединения
// (возвращает NetworkFailure).
func (c *Client) Subscribe(ctx context.Context, handler func([]api.Delta)) error {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: feedHandshakeTimeout,
	}

	header := http.Header{}
	if token := c.getToken(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := dialer.DialContext(ctx, c.feedURL(), header)
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return statusError("feed", resp.StatusCode, nil)
		}
		return syncerr.Network("feed", err)
	}
	defer func() {
		_ = conn.Close()
	}()

	// Закрываем соединение при отмене контекста, чтобы прервать ReadJSON
	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	})
	defer stop()

	for {
		var msg api.FeedMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return syncerr.Network("feed", fmt.Errorf("failed to read feed message: %w", err))
		}
		if msg.Type != api.FeedMessageDeltas || len(msg.Deltas) == 0 {
			continue
		}
		handler(msg.Deltas)
	}
}
