package models

import "time"

// PendingChange локальное изменение записи, ожидающее отправки на сервер.
// На одну запись приходится не более одного PendingChange: последующие
// правки до очередного цикла синхронизации сливаются в него.
type PendingChange struct {
	EnqueuedAt     time.Time      `json:"enqueued_at"`          // EnqueuedAt время первой постановки в очередь
	Delta          map[string]any `json:"delta"`                // Delta последние значения измененных полей
	RecordID       string         `json:"record_id"`            // RecordID идентификатор записи
	EntityType     string         `json:"entity_type"`          // EntityType тип сущности (для группировки в батчи)
	IdempotencyKey string         `json:"idempotency_key"`      // IdempotencyKey ключ для безопасного повтора push
	LastError      string         `json:"last_error,omitempty"` // LastError текст последней ошибки отправки
	Seq            uint64         `json:"seq"`                  // Seq порядковый номер в очереди (FIFO)
	Attempts       int            `json:"attempts"`             // Attempts количество неудачных попыток отправки
}

// Coalesce вливает новые значения полей в изменение, не теряя ранее измененных полей.
func (p *PendingChange) Coalesce(delta map[string]any) {
	if p.Delta == nil {
		p.Delta = make(map[string]any, len(delta))
	}
	for k, v := range delta {
		p.Delta[k] = v
	}
}

// Strategy имя политики, разрешившей конфликт.
type Strategy string

const (
	StrategyRoleOverride      Strategy = "role_override"
	StrategyValidationAware   Strategy = "validation_aware"
	StrategyFieldMerge        Strategy = "field_merge"
	StrategyTimestampFallback Strategy = "timestamp_fallback"
	StrategyManualKeepLocal   Strategy = "manual_keep_local"
	StrategyManualKeepRemote  Strategy = "manual_keep_remote"
	StrategyManualAcceptMerge Strategy = "manual_accept_merge"
)

// Outcome результат автоматического разрешения.
type Outcome string

const (
	OutcomeAutoResolved          Outcome = "auto_resolved"
	OutcomeNeedsManualResolution Outcome = "needs_manual_resolution"
)

// Choice выбор пользователя при ручном разрешении конфликта.
type Choice string

const (
	ChoiceKeepLocal   Choice = "keep_local"
	ChoiceKeepRemote  Choice = "keep_remote"
	ChoiceAcceptMerge Choice = "accept_merge"
)

// Strategy возвращает стратегию, под которой ручное решение попадает в журнал.
func (c Choice) Strategy() (Strategy, bool) {
	switch c {
	case ChoiceKeepLocal:
		return StrategyManualKeepLocal, true
	case ChoiceKeepRemote:
		return StrategyManualKeepRemote, true
	case ChoiceAcceptMerge:
		return StrategyManualAcceptMerge, true
	default:
		return "", false
	}
}

// Side сторона конфликта.
type Side string

const (
	SideLocal  Side = "local"
	SideRemote Side = "remote"
	SideBoth   Side = "both" // значения совпадают
)

// Причины создания ConflictCase, не связанные с конкурентной записью.
const (
	ReasonConcurrentWrite = "concurrent_write"
	ReasonPushAbandoned   = "push_abandoned"
	ReasonPushRejected    = "push_rejected"
	ReasonBothInvalid     = "both_sides_invalid"
	ReasonMergedInvalid   = "merged_record_invalid"
)

// ConflictCase конфликт между локальной и удаленной версией записи.
// Существует только пока разрешение не завершено.
type ConflictCase struct {
	DetectedAt        time.Time `json:"detected_at"`
	Local             *Record   `json:"local"`
	Remote            *Record   `json:"remote,omitempty"`
	Merged            *Record   `json:"merged,omitempty"` // Merged кандидат автоматического слияния
	ID                string    `json:"id"`
	RecordID          string    `json:"record_id"`
	Strategy          Strategy  `json:"strategy,omitempty"`
	Outcome           Outcome   `json:"outcome"`
	Reason            string    `json:"reason"`
	ConflictingFields []string  `json:"conflicting_fields"`
	FieldResolvable   bool      `json:"field_resolvable"` // FieldResolvable false если у одной из сторон нет FieldWriteTimes
}

// FieldDecision решение по одному полю.
type FieldDecision struct {
	Field    string   `json:"field"`
	Chosen   Side     `json:"chosen"`
	Policy   Strategy `json:"policy"`
	Reason   string   `json:"reason"`
	Value    any      `json:"value"`
	Previous any      `json:"previous,omitempty"` // Previous локальное значение до разрешения
}

// ResolutionLogEntry неизменяемая запись журнала разрешений конфликтов.
type ResolutionLogEntry struct {
	Timestamp     time.Time       `json:"timestamp"`
	Local         *Record         `json:"local"`
	Remote        *Record         `json:"remote,omitempty"`
	Resolved      *Record         `json:"resolved"`
	ID            string          `json:"id"`
	RecordID      string          `json:"record_id"`
	Strategy      Strategy        `json:"strategy"`
	Decisions     []FieldDecision `json:"decisions,omitempty"`
	UserConfirmed bool            `json:"user_confirmed"`
}

// StatusKind агрегированное состояние синхронизации для UI.
type StatusKind string

const (
	StatusSynced  StatusKind = "synced"
	StatusPending StatusKind = "pending"
	StatusSyncing StatusKind = "syncing"
	StatusError   StatusKind = "error"
)

// SyncStatusEvent событие изменения состояния синхронизации.
type SyncStatusEvent struct {
	Status       StatusKind `json:"status"`
	Message      string     `json:"message,omitempty"`
	PendingCount int        `json:"pending_count"`
	ErrorCount   int        `json:"error_count"`
}
