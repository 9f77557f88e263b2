package connectivity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	events []Event
	mu     sync.Mutex
}

func (r *recorder) add(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) get() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

type switchProber struct {
	fail atomic.Bool
}

func (p *switchProber) Probe(ctx context.Context) error {
	if p.fail.Load() {
		return errors.New("connection refused")
	}
	return nil
}

func newTestMonitor(prober Prober, debounce time.Duration) *Monitor {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewMonitor(prober, Config{ProbeInterval: time.Hour, ProbeTimeout: time.Second, Debounce: debounce}, logger)
}

func TestMonitor_FlagOffline(t *testing.T) {
	m := newTestMonitor(&switchProber{}, 0)
	rec := &recorder{}
	m.Subscribe(rec.add)

	assert.True(t, m.Online())

	m.ReportFlag(false)
	assert.False(t, m.Online())

	m.ReportFlag(true)
	assert.True(t, m.Online())

	assert.Equal(t, []Event{WentOffline, WentOnline}, rec.get())
}

func TestMonitor_ProbeThenWriteFailureConfirmsOffline(t *testing.T) {
	ctx := context.Background()
	prober := &switchProber{}
	m := newTestMonitor(prober, 0)
	rec := &recorder{}
	m.Subscribe(rec.add)

	// Только неудачная проба еще не означает offline
	prober.fail.Store(true)
	require.Error(t, m.ProbeNow(ctx))
	assert.True(t, m.Online())

	// Неудачный запрос после неудачной пробы - подтвержденный offline, хотя флаг online
	m.ReportWriteFailure()
	assert.False(t, m.Online())

	// Успешная проба возвращает online
	prober.fail.Store(false)
	require.NoError(t, m.ProbeNow(ctx))
	assert.True(t, m.Online())

	assert.Equal(t, []Event{WentOffline, WentOnline}, rec.get())
}

func TestMonitor_WriteFailureAloneKeepsOnline(t *testing.T) {
	m := newTestMonitor(&switchProber{}, 0)

	m.ReportWriteFailure()
	m.ReportWriteFailure()
	assert.True(t, m.Online())
}

func TestMonitor_WriteSuccessClearsConfirmedOffline(t *testing.T) {
	prober := &switchProber{}
	prober.fail.Store(true)
	m := newTestMonitor(prober, 0)

	_ = m.ProbeNow(context.Background())
	m.ReportWriteFailure()
	require.False(t, m.Online())

	m.ReportWriteSuccess()
	assert.True(t, m.Online())
}

func TestMonitor_Debounce(t *testing.T) {
	m := newTestMonitor(&switchProber{}, 50*time.Millisecond)
	rec := &recorder{}
	m.Subscribe(rec.add)

	// Быстрое колебание не публикуется
	m.ReportFlag(false)
	m.ReportFlag(true)
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, rec.get())
	assert.True(t, m.Online())

	// Стабильное состояние публикуется после окна debounce
	m.ReportFlag(false)
	assert.True(t, m.Online(), "state is not published before the window elapses")
	assert.Eventually(t, func() bool { return !m.Online() }, time.Second, 10*time.Millisecond)
	assert.Equal(t, []Event{WentOffline}, rec.get())
}

func TestMonitor_Unsubscribe(t *testing.T) {
	m := newTestMonitor(&switchProber{}, 0)
	rec := &recorder{}
	unsubscribe := m.Subscribe(rec.add)

	m.ReportFlag(false)
	unsubscribe()
	m.ReportFlag(true)

	assert.Equal(t, []Event{WentOffline}, rec.get())
}

func TestMonitor_RunProbesUntilCancelled(t *testing.T) {
	var probes atomic.Int32
	prober := ProberFunc(func(ctx context.Context) error {
		probes.Add(1)
		return nil
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewMonitor(prober, Config{ProbeInterval: 10 * time.Millisecond, ProbeTimeout: time.Second}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	assert.Eventually(t, func() bool { return probes.Load() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestMonitor_ProbeTimeout(t *testing.T) {
	prober := ProberFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewMonitor(prober, Config{ProbeTimeout: 20 * time.Millisecond}, logger)

	err := m.ProbeNow(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
