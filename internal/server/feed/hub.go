// Package feed рассылает принятые изменения подключенным устройствам
// через websocket.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/iudanet/scorekeeper/pkg/api"
)

// Значения по умолчанию для соединений ленты
const (
	DefaultWriteWait        = 10 * time.Second
	DefaultPongWait         = 60 * time.Second
	DefaultMaxConnPerDevice = 4
	sendBufferSize          = 64
)

// Config параметры хаба
type Config struct {
	WriteWait        time.Duration
	PongWait         time.Duration
	MaxConnPerDevice int
}

func (c Config) withDefaults() Config {
	if c.WriteWait <= 0 {
		c.WriteWait = DefaultWriteWait
	}
	if c.PongWait <= 0 {
		c.PongWait = DefaultPongWait
	}
	if c.MaxConnPerDevice <= 0 {
		c.MaxConnPerDevice = DefaultMaxConnPerDevice
	}
	return c
}

// pingPeriod должен быть меньше pongWait
func (c Config) pingPeriod() time.Duration {
	return c.PongWait * 9 / 10
}

type broadcast struct {
	message       []byte
	excludeDevice string
}

// Hub хранит подключения и рассылает им изменения. Все изменения набора
// клиентов выполняются в горутине Run.
type Hub struct {
	logger     *slog.Logger
	clients    map[*Client]struct{}
	byDevice   map[string]int
	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcast
	done       chan struct{}
	cfg        Config
	count      atomic.Int64
}

// NewHub создает хаб; Run должен быть запущен до регистрации клиентов
func NewHub(logger *slog.Logger, cfg Config) *Hub {
	return &Hub{
		logger:     logger,
		cfg:        cfg.withDefaults(),
		clients:    make(map[*Client]struct{}),
		byDevice:   make(map[string]int),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan broadcast, 16),
		done:       make(chan struct{}),
	}
}

// Run обслуживает хаб до отмены ctx, затем закрывает все соединения
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			h.logger.Info("Feed hub stopped")
			return

		case c := <-h.register:
			if h.byDevice[c.deviceID] >= h.cfg.MaxConnPerDevice {
				h.logger.Warn("Max feed connections reached", "device_id", c.deviceID)
				close(c.send)
				continue
			}
			h.clients[c] = struct{}{}
			h.byDevice[c.deviceID]++
			h.count.Add(1)
			h.logger.Debug("Feed client registered", "device_id", c.deviceID, "clients", len(h.clients))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				h.logger.Debug("Feed client unregistered", "device_id", c.deviceID)
			}

		case b := <-h.broadcast:
			for c := range h.clients {
				if c.deviceID == b.excludeDevice {
					continue
				}
				select {
				case c.send <- b.message:
				default:
					// медленный клиент догонит через pull после переподключения
					h.logger.Warn("Feed send buffer full, closing connection", "device_id", c.deviceID)
					h.drop(c)
				}
			}
		}
	}
}

func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	h.count.Add(-1)
	h.byDevice[c.deviceID]--
	if h.byDevice[c.deviceID] <= 0 {
		delete(h.byDevice, c.deviceID)
	}
	close(c.send)
}

// Broadcast отправляет изменения всем устройствам, кроме excludeDevice.
// Не блокируется после остановки хаба.
func (h *Hub) Broadcast(deltas []api.Delta, excludeDevice string) {
	if len(deltas) == 0 {
		return
	}

	message, err := json.Marshal(api.FeedMessage{Type: api.FeedMessageDeltas, Deltas: deltas})
	if err != nil {
		h.logger.Error("Failed to encode feed message", "error", err)
		return
	}

	select {
	case h.broadcast <- broadcast{message: message, excludeDevice: excludeDevice}:
	case <-h.done:
	}
}

// Connections возвращает число активных соединений
func (h *Hub) Connections() int {
	return int(h.count.Load())
}
