package server

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clientapi "github.com/iudanet/scorekeeper/internal/client/api"
	"github.com/iudanet/scorekeeper/internal/client/connectivity"
	"github.com/iudanet/scorekeeper/internal/client/storage/boltdb"
	clientsync "github.com/iudanet/scorekeeper/internal/client/sync"
	"github.com/iudanet/scorekeeper/internal/client/tracker"
	"github.com/iudanet/scorekeeper/internal/conflict"
	"github.com/iudanet/scorekeeper/internal/crdt"
	"github.com/iudanet/scorekeeper/internal/models"
	"github.com/iudanet/scorekeeper/internal/server/feed"
	"github.com/iudanet/scorekeeper/internal/server/jwt"
	"github.com/iudanet/scorekeeper/internal/server/storage/sqlstore"
	"github.com/iudanet/scorekeeper/internal/validation"
	"github.com/iudanet/scorekeeper/pkg/api"
)

const testEnrollCode = "course-2026"

type testServer struct {
	url    string
	hub    *feed.Hub
	store  *sqlstore.Storage
	logger *slog.Logger
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := sqlstore.New(ctx, filepath.Join(t.TempDir(), "server.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	hub := feed.NewHub(logger, feed.Config{})
	go hub.Run(ctx)

	srv := httptest.NewServer(NewRouter(ctx, logger, Deps{
		Records:    store,
		Devices:    store,
		DB:         store,
		Tokens:     jwt.NewService("0123456789abcdef0123456789abcdef", time.Hour),
		Hub:        hub,
		EnrollCode: testEnrollCode,
		EnrollRate: 100,
		Version:    "test",
	}))
	t.Cleanup(srv.Close)

	return &testServer{url: srv.URL, hub: hub, store: store, logger: logger}
}

// peer устройство со своим локальным хранилищем и движком синхронизации
type peer struct {
	id      string
	store   *boltdb.Storage
	client  *clientapi.Client
	tracker tracker.Tracker
	engine  *clientsync.Engine
}

// newPeer регистрирует устройство с ролью role. Локальный трекер пишет
// изменения от имени authorRole.
func (ts *testServer) newPeer(t *testing.T, name string, role, authorRole models.Role) *peer {
	t.Helper()
	ctx := context.Background()

	deviceID := uuid.NewString()
	client := clientapi.NewClient(ts.url, clientapi.WithCompression(true))

	req := api.EnrollRequest{
		DeviceID: deviceID,
		Name:     name,
		Role:     string(role),
		Secret:   "correct-horse-battery",
	}
	if role == models.RoleOfficial {
		req.EnrollCode = testEnrollCode
	}
	resp, err := client.Enroll(ctx, req)
	require.NoError(t, err)
	require.Equal(t, deviceID, resp.DeviceID)
	client.SetToken(resp.Token)

	store, err := boltdb.New(ctx, filepath.Join(t.TempDir(), name+".db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	monitor := connectivity.NewMonitor(client, connectivity.Config{}, ts.logger)
	resolver := conflict.NewResolver(validation.NewRecordValidator(nil), ts.logger)
	engine := clientsync.NewEngine(store, client, monitor, resolver, deviceID, clientsync.Config{}, ts.logger)
	tr := tracker.New(store, deviceID, authorRole, ts.logger, tracker.WithNotifier(engine))

	return &peer{id: deviceID, store: store, client: client, tracker: tr, engine: engine}
}

func (p *peer) update(t *testing.T, id string, fields map[string]any) {
	t.Helper()
	_, err := p.tracker.Update(context.Background(), id, models.EntityTypeHoleScore, fields)
	require.NoError(t, err)
}

func (p *peer) sync(t *testing.T) {
	t.Helper()
	require.NoError(t, p.engine.SyncOnce(context.Background()))
}

func (p *peer) record(t *testing.T, id string) *models.Record {
	t.Helper()
	rec, err := p.store.GetRecord(context.Background(), id)
	require.NoError(t, err)
	return rec
}

func TestServer_ConcurrentDisjointEditsConverge(t *testing.T) {
	ts := setupTestServer(t)
	a := ts.newPeer(t, "cart-a", models.RoleRecorder, models.RoleRecorder)
	b := ts.newPeer(t, "cart-b", models.RoleRecorder, models.RoleRecorder)

	a.update(t, "r1-p1-h1", map[string]any{"strokes": 4, "putts": 2, "penalties": 0})
	a.sync(t)
	b.sync(t)
	require.Equal(t, 4.0, b.record(t, "r1-p1-h1").Fields["strokes"])

	// Оба устройства правят разные поля без связи друг с другом
	b.update(t, "r1-p1-h1", map[string]any{"putts": 1})
	a.update(t, "r1-p1-h1", map[string]any{"penalties": 1})

	b.sync(t)
	a.sync(t) // конфликт на push, слияние полей
	a.sync(t) // отправка результата слияния
	b.sync(t)

	want := map[string]any{"strokes": 4.0, "putts": 1.0, "penalties": 1.0}
	for _, p := range []*peer{a, b} {
		rec := p.record(t, "r1-p1-h1")
		assert.Equal(t, want, rec.Fields)
		assert.Equal(t, models.SyncStatusSynced, rec.SyncStatus)
	}

	server, err := ts.store.GetRecord(context.Background(), "r1-p1-h1")
	require.NoError(t, err)
	assert.Equal(t, want, server.Fields)
	assert.Equal(t, crdt.Equal, server.VersionVector.Compare(a.record(t, "r1-p1-h1").VersionVector))
}

func TestServer_OfficialEditWinsAndIsRepushed(t *testing.T) {
	ts := setupTestServer(t)
	recorder := ts.newPeer(t, "cart-a", models.RoleRecorder, models.RoleRecorder)
	official := ts.newPeer(t, "marshal", models.RoleOfficial, models.RoleOfficial)

	recorder.update(t, "r1-p1-h2", map[string]any{"strokes": 4})
	recorder.sync(t)
	official.sync(t)

	official.update(t, "r1-p1-h2", map[string]any{"strokes": 5})
	recorder.update(t, "r1-p1-h2", map[string]any{"strokes": 6})
	official.sync(t)

	recorder.sync(t)
	recorder.sync(t)

	rec := recorder.record(t, "r1-p1-h2")
	assert.Equal(t, 5.0, rec.Fields["strokes"])
	assert.Equal(t, models.RoleOfficial, rec.WriterRole)
	assert.Equal(t, models.SyncStatusSynced, rec.SyncStatus)

	entries, err := recorder.store.QueryResolutions(context.Background(), "r1-p1-h2")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, models.StrategyRoleOverride, entries[0].Strategy)

	official.sync(t)
	assert.Equal(t, 5.0, official.record(t, "r1-p1-h2").Fields["strokes"])
}

func TestServer_ForgedOfficialEditIsParked(t *testing.T) {
	ts := setupTestServer(t)
	// Устройство зарегистрировано как recorder, но подписывает правки как official
	forger := ts.newPeer(t, "cart-x", models.RoleRecorder, models.RoleOfficial)
	observer := ts.newPeer(t, "cart-b", models.RoleRecorder, models.RoleRecorder)

	forger.update(t, "r1-p1-h3", map[string]any{"strokes": 2})
	forger.sync(t)

	conflicts, err := forger.store.ListConflicts(context.Background())
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, models.ReasonPushRejected, conflicts[0].Reason)
	assert.Equal(t, models.SyncStatusConflict, forger.record(t, "r1-p1-h3").SyncStatus)
	assert.Equal(t, models.StatusError, forger.engine.Status().Status)

	observer.sync(t)
	records, err := observer.store.ListRecords(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestServer_FeedDeliversOtherDevicesChanges(t *testing.T) {
	ts := setupTestServer(t)
	a := ts.newPeer(t, "cart-a", models.RoleRecorder, models.RoleRecorder)
	b := ts.newPeer(t, "cart-b", models.RoleRecorder, models.RoleRecorder)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan []api.Delta, 4)
	done := make(chan error, 1)
	go func() {
		done <- b.client.Subscribe(ctx, func(deltas []api.Delta) { received <- deltas })
	}()

	require.Eventually(t, func() bool { return ts.hub.Connections() == 1 }, 2*time.Second, 10*time.Millisecond)

	a.update(t, "r1-p2-h1", map[string]any{"strokes": 3})
	a.sync(t)

	select {
	case deltas := <-received:
		require.Len(t, deltas, 1)
		assert.Equal(t, "r1-p2-h1", deltas[0].ID)
		assert.Equal(t, 3.0, deltas[0].Record.Fields["strokes"])
		assert.Equal(t, a.id, deltas[0].Record.WriterDeviceID)
	case <-time.After(2 * time.Second):
		t.Fatal("feed delta was not delivered")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not stop")
	}
}
