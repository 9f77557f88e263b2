// Package connectivity определяет, есть ли связь с удаленным хранилищем.
//
// Монитор объединяет три сигнала: флаг платформы, периодические пробы
// доступности и исход реальных запросов движка синхронизации. Флаг "offline"
// принимается сразу; флагу "online" монитор верит, пока неудачная проба не
// подтвердится неудачным запросом.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Event переход состояния связи
type Event string

const (
	WentOnline  Event = "went_online"
	WentOffline Event = "went_offline"
)

const (
	DefaultProbeInterval = 30 * time.Second
	DefaultProbeTimeout  = 10 * time.Second
	DefaultDebounce      = 2 * time.Second
)

// Prober проверяет доступность удаленного хранилища
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc адаптер функции к Prober
type ProberFunc func(ctx context.Context) error

// Probe вызывает f
func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// Config настройки монитора
type Config struct {
	ProbeInterval time.Duration // период проб
	ProbeTimeout  time.Duration // таймаут одной пробы
	Debounce      time.Duration // сколько состояние должно продержаться перед публикацией (0 - сразу)
}

// Monitor наблюдаемый сервис состояния связи. Глобального состояния нет:
// каждый потребитель получает монитор явно.
type Monitor struct {
	prober Prober
	logger *slog.Logger
	timer  *time.Timer
	subs   map[int]func(Event)
	cfg    Config

	mu     sync.Mutex
	nextID int

	flagOnline       bool // последний флаг платформы
	probeFailed      bool // последняя проба неудачна
	confirmedOffline bool // неудачная проба + неудачный запрос
	published        bool // опубликованное состояние (true - online)
	pendingTarget    bool // состояние, ожидающее окончания debounce
	pending          bool // идет отсчет debounce
}

// NewMonitor creates a connectivity monitor. Initial state is online.
func NewMonitor(prober Prober, cfg Config, logger *slog.Logger) *Monitor {
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = DefaultProbeInterval
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.Debounce < 0 {
		cfg.Debounce = 0
	}

	return &Monitor{
		prober:     prober,
		logger:     logger,
		cfg:        cfg,
		subs:       make(map[int]func(Event)),
		flagOnline: true,
		published:  true,
	}
}

// Online возвращает опубликованное состояние связи
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.published
}

// Subscribe регистрирует получателя событий перехода. Получатель вызывается
// вне блокировок монитора и не должен блокироваться надолго.
// Возвращает функцию отписки.
func (m *Monitor) Subscribe(fn func(Event)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.subs[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// ReportFlag передает флаг связи от платформы
func (m *Monitor) ReportFlag(online bool) {
	m.update(func() {
		m.flagOnline = online
	})
}

// ReportWriteFailure сообщает о сетевой ошибке реального запроса
func (m *Monitor) ReportWriteFailure() {
	m.update(func() {
		if m.probeFailed {
			m.confirmedOffline = true
		}
	})
}

// ReportWriteSuccess сообщает об успешном запросе
func (m *Monitor) ReportWriteSuccess() {
	m.update(func() {
		m.probeFailed = false
		m.confirmedOffline = false
	})
}

// ProbeNow выполняет одну пробу доступности
func (m *Monitor) ProbeNow(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	err := m.prober.Probe(probeCtx)
	if err != nil && ctx.Err() != nil {
		// Остановка монитора - не признак отсутствия связи
		return ctx.Err()
	}

	m.update(func() {
		if err != nil {
			m.probeFailed = true
			return
		}
		m.probeFailed = false
		m.confirmedOffline = false
	})

	if err != nil {
		m.logger.Debug("Connectivity probe failed", "error", err)
	}
	return err
}

// Run выполняет пробы с заданным периодом до отмены ctx
func (m *Monitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	defer func() {
		m.mu.Lock()
		if m.timer != nil {
			m.timer.Stop()
		}
		m.pending = false
		m.mu.Unlock()
	}()

	_ = m.ProbeNow(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			_ = m.ProbeNow(ctx)
		}
	}
}

// effective вычисляет текущее состояние по всем сигналам. Вызывается под m.mu.
func (m *Monitor) effective() bool {
	if !m.flagOnline {
		return false
	}
	return !m.confirmedOffline
}

// update применяет изменение сигналов и, если итоговое состояние изменилось,
// публикует его сразу или после debounce
func (m *Monitor) update(change func()) {
	m.mu.Lock()
	change()
	target := m.effective()

	if target == m.published {
		// Кратковременное колебание - отменяем отложенную публикацию
		if m.pending && m.timer != nil {
			m.timer.Stop()
		}
		m.pending = false
		m.mu.Unlock()
		return
	}

	if m.cfg.Debounce == 0 {
		event, subs := m.publishLocked(target)
		m.mu.Unlock()
		notify(subs, event)
		return
	}

	if m.pending && m.pendingTarget == target {
		m.mu.Unlock()
		return
	}

	if m.timer != nil {
		m.timer.Stop()
	}
	m.pending = true
	m.pendingTarget = target
	m.timer = time.AfterFunc(m.cfg.Debounce, m.fireDebounced)
	m.mu.Unlock()
}

func (m *Monitor) fireDebounced() {
	m.mu.Lock()
	if !m.pending {
		m.mu.Unlock()
		return
	}
	m.pending = false

	target := m.effective()
	if target != m.pendingTarget || target == m.published {
		m.mu.Unlock()
		return
	}

	event, subs := m.publishLocked(target)
	m.mu.Unlock()
	notify(subs, event)
}

func (m *Monitor) publishLocked(online bool) (Event, []func(Event)) {
	m.published = online

	event := WentOffline
	if online {
		event = WentOnline
	}
	m.logger.Info("Connectivity changed", "event", string(event))

	subs := make([]func(Event), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	return event, subs
}

func notify(subs []func(Event), event Event) {
	for _, fn := range subs {
		fn(event)
	}
}
