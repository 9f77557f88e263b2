package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/golang/snappy"

	"github.com/iudanet/scorekeeper/internal/syncerr"
	"github.com/iudanet/scorekeeper/pkg/api"
)

//go:generate moq -out client_mock.go . ClientAPI

// ClientAPI defines the remote store operations used by the client.
type ClientAPI interface {
	// Enroll registers the device and returns its token
	Enroll(ctx context.Context, req api.EnrollRequest) (*api.EnrollResponse, error)

	// Probe checks that the remote store is reachable
	Probe(ctx context.Context) error

	// Push sends a batch of pending changes
	Push(ctx context.Context, items []api.PushItem) (*api.PushResponse, error)

	// Pull returns remote changes after cursor
	Pull(ctx context.Context, cursor uint64, limit int) (*api.PullResponse, error)

	// Subscribe reads the websocket change feed until ctx is done or the connection breaks
	Subscribe(ctx context.Context, handler func([]api.Delta)) error
}

// DefaultTimeout таймаут HTTP клиента по умолчанию
const DefaultTimeout = 30 * time.Second

// Client представляет HTTP клиент для взаимодействия с сервером
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	mu         sync.RWMutex
	compress   bool
}

var _ ClientAPI = (*Client)(nil)

// Option настраивает Client
type Option func(*Client)

// WithToken задает токен устройства
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithCompression включает snappy-сжатие тела push
func WithCompression(enabled bool) Option {
	return func(c *Client) { c.compress = enabled }
}

// WithHTTPClient подменяет HTTP клиент (для тестов)
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient создает новый API клиент
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("stopped after 10 redirects")
				}
				// Копируем заголовки Authorization при редиректе
				if len(via) > 0 && via[0].Header.Get("Authorization") != "" {
					req.Header.Set("Authorization", via[0].Header.Get("Authorization"))
				}
				return nil
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken заменяет токен устройства (после enroll)
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) getToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Enroll регистрирует устройство
func (c *Client) Enroll(ctx context.Context, req api.EnrollRequest) (*api.EnrollResponse, error) {
	var resp api.EnrollResponse
	if err := c.doRequest(ctx, "enroll", http.MethodPost, "/api/v1/devices/enroll", req, &resp, false); err != nil {
		return nil, fmt.Errorf("enroll request failed: %w", err)
	}
	return &resp, nil
}

// Probe выполняет легкую проверку доступности сервера
func (c *Client) Probe(ctx context.Context) error {
	var resp api.HealthResponse
	if err := c.doRequest(ctx, "probe", http.MethodGet, "/api/v1/health", nil, &resp, false); err != nil {
		return fmt.Errorf("health request failed: %w", err)
	}
	return nil
}

// Push отправляет пакет изменений
func (c *Client) Push(ctx context.Context, items []api.PushItem) (*api.PushResponse, error) {
	var resp api.PushResponse
	req := api.PushRequest{Items: items}
	if err := c.doRequest(ctx, "push", http.MethodPost, "/api/v1/sync/push", req, &resp, c.compress); err != nil {
		return nil, fmt.Errorf("push request failed: %w", err)
	}
	if len(resp.Results) != len(items) {
		return nil, syncerr.Network("push", fmt.Errorf("expected %d results, got %d", len(items), len(resp.Results)))
	}
	return &resp, nil
}

// Pull получает изменения после курсора
func (c *Client) Pull(ctx context.Context, cursor uint64, limit int) (*api.PullResponse, error) {
	q := url.Values{}
	q.Set("cursor", strconv.FormatUint(cursor, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var resp api.PullResponse
	if err := c.doRequest(ctx, "pull", http.MethodGet, "/api/v1/sync/pull?"+q.Encode(), nil, &resp, false); err != nil {
		return nil, fmt.Errorf("pull request failed: %w", err)
	}
	return &resp, nil
}

// doRequest выполняет HTTP запрос и классифицирует ошибки:
// обрыв, таймаут, 5xx, 429 и 408 - NetworkFailure; остальные не-2xx - RemoteRejection.
func (c *Client) doRequest(ctx context.Context, op, method, path string, body, result any, compress bool) error {
	var bodyReader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		if compress {
			jsonData = snappy.Encode(nil, jsonData)
		}
		bodyReader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		if compress {
			req.Header.Set("Content-Encoding", "snappy")
		}
	}
	if token := c.getToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return syncerr.Network(op, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return syncerr.Network(op, fmt.Errorf("failed to read response body: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(op, resp.StatusCode, respBody)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return syncerr.Network(op, fmt.Errorf("failed to decode response: %w", err))
		}
	}

	return nil
}

func statusError(op string, status int, body []byte) error {
	var errResp api.ErrorResponse
	_ = json.Unmarshal(body, &errResp)

	if status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout {
		msg := errResp.Message
		if msg == "" {
			msg = http.StatusText(status)
		}
		return &syncerr.NetworkFailure{Op: op, StatusCode: status, Err: errors.New(msg)}
	}

	rejection := &syncerr.RemoteRejection{
		StatusCode: status,
		Code:       errResp.Error,
		Message:    errResp.Message,
	}
	if rejection.Code == "" && rejection.Message == "" {
		rejection.Message = string(bytes.TrimSpace(body))
	}
	return rejection
}
