package api

import "time"

// Статусы обработки элемента push
const (
	PushStatusAccepted = "accepted"
	PushStatusConflict = "conflict"
)

// Record представляет запись результата в формате обмена с сервером
type Record struct {
	UpdatedAt       time.Time            `json:"updated_at"`
	Fields          map[string]any       `json:"fields"`
	FieldWriteTimes map[string]time.Time `json:"field_write_times,omitempty"`
	VersionVector   map[string]uint64    `json:"version_vector"`
	ID              string               `json:"id"`
	Type            string               `json:"type"`
	WriterDeviceID  string               `json:"writer_device_id"`
	WriterRole      string               `json:"writer_role"`
}

// PushItem одно локальное изменение записи
type PushItem struct {
	UpdatedAt         time.Time            `json:"updated_at"`
	Delta             map[string]any       `json:"delta" validate:"required,min=1"`
	FieldWriteTimes   map[string]time.Time `json:"field_write_times,omitempty"`
	BaseVersionVector map[string]uint64    `json:"base_version_vector,omitempty"` // последний вектор, подтвержденный сервером
	VersionVector     map[string]uint64    `json:"version_vector" validate:"required,min=1"`
	ID                string               `json:"id" validate:"required,max=128"`
	Type              string               `json:"type" validate:"required,max=64"`
	IdempotencyKey    string               `json:"idempotency_key" validate:"required,uuid"`
	WriterDeviceID    string               `json:"writer_device_id" validate:"required"`
	WriterRole        string               `json:"writer_role" validate:"required,oneof=player recorder official system"`
}

// PushRequest пакет изменений одного типа сущности
type PushRequest struct {
	Items []PushItem `json:"items" validate:"required,min=1,max=100,dive"`
}

// PushResult результат обработки одного элемента
type PushResult struct {
	ServerVersionVector map[string]uint64 `json:"server_version_vector"`
	Record              *Record           `json:"record,omitempty"` // серверная версия при конфликте
	ID                  string            `json:"id"`
	IdempotencyKey      string            `json:"idempotency_key"`
	Status              string            `json:"status"` // accepted | conflict
	Seq                 uint64            `json:"seq,omitempty"`
}

// PushResponse ответ на push, результаты в порядке элементов запроса
type PushResponse struct {
	Results []PushResult `json:"results"`
}

// Delta изменение записи на сервере
type Delta struct {
	ChangeTimestamp time.Time         `json:"change_timestamp"`
	VersionVector   map[string]uint64 `json:"version_vector"`
	Record          Record            `json:"record"`
	ID              string            `json:"id"`
	Seq             uint64            `json:"seq"`
}

// PullResponse страница изменений после курсора
type PullResponse struct {
	Deltas  []Delta `json:"deltas"`
	Cursor  uint64  `json:"cursor"`   // seq последнего изменения страницы
	HasMore bool    `json:"has_more"` // есть еще изменения после Cursor
}

// FeedMessage сообщение websocket-ленты изменений
type FeedMessage struct {
	Type   string  `json:"type"` // "deltas"
	Deltas []Delta `json:"deltas"`
}

// FeedMessageDeltas тип сообщения ленты с изменениями
const FeedMessageDeltas = "deltas"
