package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang/snappy"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/scorekeeper/internal/crdt"
	"github.com/iudanet/scorekeeper/internal/models"
	"github.com/iudanet/scorekeeper/internal/syncerr"
	"github.com/iudanet/scorekeeper/pkg/api"
)

// TestNewClient проверяет создание нового клиента
func TestNewClient(t *testing.T) {
	baseURL := "http://localhost:8080"
	client := NewClient(baseURL, WithToken("tok"))

	assert.NotNil(t, client)
	assert.Equal(t, baseURL, client.baseURL)
	assert.Equal(t, "tok", client.getToken())
	assert.Equal(t, DefaultTimeout, client.httpClient.Timeout)
	assert.Equal(t, "ws://localhost:8080/api/v1/feed", client.feedURL())
}

// TestClient_Enroll проверяет регистрацию устройства
func TestClient_Enroll(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/devices/enroll", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req api.EnrollRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "marker-1", req.Name)
		assert.Equal(t, "recorder", req.Role)

		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(api.EnrollResponse{DeviceID: req.DeviceID, Role: req.Role, Token: "jwt"})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	resp, err := client.Enroll(context.Background(), api.EnrollRequest{
		DeviceID: "7b7e4b8e-3c1f-4f5e-9d51-6d2c1e0a9b11",
		Name:     "marker-1",
		Role:     "recorder",
		Secret:   "secret-123",
	})

	require.NoError(t, err)
	assert.Equal(t, "jwt", resp.Token)
}

// TestClient_ErrorClassification проверяет разделение ошибок на сетевые и отказы
func TestClient_ErrorClassification(t *testing.T) {
	tests := []struct {
		name         string
		body         string
		statusCode   int
		wantNetwork  bool
		wantRejected bool
		wantCode     string
	}{
		{name: "internal error", statusCode: http.StatusInternalServerError, body: "boom", wantNetwork: true},
		{name: "bad gateway", statusCode: http.StatusBadGateway, wantNetwork: true},
		{name: "too many requests", statusCode: http.StatusTooManyRequests, wantNetwork: true},
		{name: "forbidden", statusCode: http.StatusForbidden, body: `{"error":"forbidden","message":"official role required"}`, wantRejected: true, wantCode: "forbidden"},
		{name: "unauthorized", statusCode: http.StatusUnauthorized, body: `{"error":"unauthorized"}`, wantRejected: true, wantCode: "unauthorized"},
		{name: "bad request", statusCode: http.StatusBadRequest, body: "invalid", wantRejected: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient(server.URL)
			_, err := client.Pull(context.Background(), 0, 10)
			require.Error(t, err)

			assert.Equal(t, tt.wantNetwork, syncerr.IsRetryable(err))
			assert.Equal(t, tt.wantRejected, errors.Is(err, syncerr.ErrRejected))

			if tt.wantRejected {
				var rej *syncerr.RemoteRejection
				require.ErrorAs(t, err, &rej)
				assert.Equal(t, tt.statusCode, rej.StatusCode)
				assert.Equal(t, tt.wantCode, rej.Code)
			}
		})
	}
}

// TestClient_TransportFailure проверяет, что недоступный сервер - сетевая ошибка
func TestClient_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClient(url)
	err := client.Probe(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, syncerr.ErrNetwork)
}

// TestClient_ContextTimeout проверяет, что таймаут вызова - сетевая ошибка
func TestClient_ContextTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	client := NewClient(server.URL)
	_, err := client.Pull(ctx, 0, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, syncerr.ErrNetwork)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// TestClient_PushCompressed проверяет snappy-сжатие и заголовок авторизации
func TestClient_PushCompressed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/sync/push", r.URL.Path)
		assert.Equal(t, "snappy", r.Header.Get("Content-Encoding"))
		assert.Equal(t, "Bearer device-token", r.Header.Get("Authorization"))

		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		decoded, err := snappy.Decode(nil, raw)
		require.NoError(t, err)

		var req api.PushRequest
		require.NoError(t, json.Unmarshal(decoded, &req))
		require.Len(t, req.Items, 1)
		assert.Equal(t, "key-1", req.Items[0].IdempotencyKey)

		_ = json.NewEncoder(w).Encode(api.PushResponse{Results: []api.PushResult{
			{ID: req.Items[0].ID, IdempotencyKey: "key-1", Status: api.PushStatusAccepted, ServerVersionVector: map[string]uint64{"A": 1}},
		}})
	}))
	defer server.Close()

	client := NewClient(server.URL, WithToken("device-token"), WithCompression(true))
	resp, err := client.Push(context.Background(), []api.PushItem{{ID: "score-1", IdempotencyKey: "key-1"}})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, api.PushStatusAccepted, resp.Results[0].Status)
}

// TestClient_PushResultCountMismatch проверяет защиту от неполного ответа
func TestClient_PushResultCountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(api.PushResponse{})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	_, err := client.Push(context.Background(), []api.PushItem{{ID: "score-1"}})
	assert.ErrorIs(t, err, syncerr.ErrNetwork)
}

// TestClient_Pull проверяет параметры курсора
func TestClient_Pull(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "42", r.URL.Query().Get("cursor"))
		assert.Equal(t, "10", r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode(api.PullResponse{Cursor: 43, Deltas: []api.Delta{{ID: "score-1", Seq: 43}}})
	}))
	defer server.Close()

	client := NewClient(server.URL)
	resp, err := client.Pull(context.Background(), 42, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(43), resp.Cursor)
	assert.Len(t, resp.Deltas, 1)
}

// TestClient_Subscribe проверяет чтение websocket-ленты и остановку по контексту
func TestClient_Subscribe(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/feed", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		_ = conn.WriteJSON(api.FeedMessage{Type: api.FeedMessageDeltas, Deltas: []api.Delta{{ID: "score-1", Seq: 1}}})
		// Ждем закрытия клиентом
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, WithToken("tok"))
	ctx, cancel := context.WithCancel(context.Background())

	received := make(chan []api.Delta, 1)
	done := make(chan error, 1)
	go func() {
		done <- client.Subscribe(ctx, func(d []api.Delta) { received <- d })
	}()

	select {
	case deltas := <-received:
		require.Len(t, deltas, 1)
		assert.Equal(t, "score-1", deltas[0].ID)
	case <-time.After(2 * time.Second):
		t.Fatal("no deltas received")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Subscribe did not return after cancel")
	}
}

// TestPushItemFromChange проверяет сборку элемента push
func TestPushItemFromChange(t *testing.T) {
	at := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	rec := &models.Record{
		ID:              "score-1",
		Type:            models.EntityTypeHoleScore,
		Fields:          map[string]any{"strokes": 4.0, "putts": 2.0},
		FieldWriteTimes: map[string]time.Time{"strokes": at, "putts": at.Add(time.Second)},
		VersionVector:   crdt.VersionVector{"A": 3},
		RemoteVersion:   crdt.VersionVector{"A": 1},
		UpdatedAt:       at.Add(time.Second),
		WriterDeviceID:  "A",
		WriterRole:      models.RoleRecorder,
	}
	change := &models.PendingChange{RecordID: "score-1", Delta: map[string]any{"putts": 2.0}, IdempotencyKey: "k"}

	item := PushItemFromChange(rec, change)
	assert.Equal(t, map[string]any{"putts": 2.0}, item.Delta)
	assert.Equal(t, map[string]time.Time{"putts": at.Add(time.Second)}, item.FieldWriteTimes)
	assert.Equal(t, map[string]uint64{"A": 1}, item.BaseVersionVector)
	assert.Equal(t, map[string]uint64{"A": 3}, item.VersionVector)
	assert.Equal(t, "recorder", item.WriterRole)

	back := RecordFromAPI(RecordToAPI(rec))
	assert.Equal(t, rec.Fields, back.Fields)
	assert.Equal(t, rec.VersionVector, back.VersionVector)
	assert.Equal(t, rec.WriterRole, back.WriterRole)
}
