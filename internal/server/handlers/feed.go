package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/iudanet/scorekeeper/internal/server/feed"
)

// FeedHandler подключает устройства к ленте изменений
type FeedHandler struct {
	logger   *slog.Logger
	hub      *feed.Hub
	upgrader websocket.Upgrader
}

// NewFeedHandler создает handler websocket-ленты
func NewFeedHandler(logger *slog.Logger, hub *feed.Hub) *FeedHandler {
	return &FeedHandler{
		logger: logger,
		hub:    hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// устройства не браузеры, токен проверен AuthMiddleware
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Feed обрабатывает GET /api/v1/feed
func (h *FeedHandler) Feed(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := GetDeviceID(r.Context())
	if !ok {
		sendError(h.logger, w, codeUnauthorized, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade уже записал ответ с ошибкой
		h.logger.Warn("Failed to upgrade feed connection", "device_id", deviceID, "error", err)
		return
	}

	h.logger.Info("Feed connected", "device_id", deviceID)
	h.hub.Serve(conn, deviceID)
	h.logger.Info("Feed disconnected", "device_id", deviceID)
}
