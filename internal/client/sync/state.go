package sync

import (
	"fmt"
	"time"
)

// State состояние движка синхронизации
type State string

const (
	StateIdle      State = "idle"
	StatePushing   State = "pushing"
	StatePulling   State = "pulling"
	StateResolving State = "resolving"
	StateBackoff   State = "error-backoff"
)

// transitions допустимые переходы. Переход в idle из pushing/pulling -
// отмена цикла (went_offline) или окончательная ошибка.
var transitions = map[State][]State{
	StateIdle:      {StatePushing},
	StatePushing:   {StatePulling, StateBackoff, StateIdle},
	StatePulling:   {StateResolving, StateIdle, StateBackoff},
	StateResolving: {StateIdle, StateBackoff},
	StateBackoff:   {StatePushing, StateIdle},
}

// canTransition проверяет переход по таблице
func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Значения по умолчанию
const (
	DefaultBatchSize      = 10
	DefaultPullLimit      = 100
	DefaultCallTimeout    = 10 * time.Second
	DefaultBackoffBase    = time.Second
	DefaultBackoffMax     = 60 * time.Second
	DefaultMaxAttempts    = 8
	DefaultErrorThreshold = 3
)

// Config настройки движка
type Config struct {
	BatchSize      int           // максимум изменений в одном push
	PullLimit      int           // размер страницы pull
	CallTimeout    time.Duration // таймаут одного сетевого вызова
	BackoffBase    time.Duration // первая задержка после сетевой ошибки
	BackoffMax     time.Duration // верхняя граница задержки
	MaxAttempts    int           // попыток push одного изменения при наличии связи (<0 - без ограничения)
	ErrorThreshold int           // подряд сетевых ошибок до показа пользователю
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.PullLimit <= 0 {
		c.PullLimit = DefaultPullLimit
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = DefaultBackoffMax
	}
	switch {
	case c.MaxAttempts == 0:
		c.MaxAttempts = DefaultMaxAttempts
	case c.MaxAttempts < 0:
		c.MaxAttempts = 0
	}
	if c.ErrorThreshold <= 0 {
		c.ErrorThreshold = DefaultErrorThreshold
	}
	return c
}

// BackoffDelay возвращает задержку перед повтором после failures подряд
// неудачных попыток: base * 2^(failures-1), не более max.
func BackoffDelay(base, max time.Duration, failures int) time.Duration {
	if failures <= 0 {
		return 0
	}
	delay := base
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// TransitionError недопустимый переход состояния
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid sync state transition %s -> %s", e.From, e.To)
}
