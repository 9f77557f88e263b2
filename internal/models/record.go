package models

import (
	"encoding/json"
	"time"

	"github.com/iudanet/scorekeeper/internal/crdt"
)

// Role роль автора записи. Определяет приоритет при разрешении конфликтов.
type Role string

const (
	RolePlayer   Role = "player"
	RoleRecorder Role = "recorder"
	RoleSystem   Role = "system"
	RoleOfficial Role = "official"
)

// Rank возвращает приоритет роли: official > system > recorder > player.
// Неизвестная роль имеет ранг 0.
func (r Role) Rank() int {
	switch r {
	case RolePlayer:
		return 1
	case RoleRecorder:
		return 2
	case RoleSystem:
		return 3
	case RoleOfficial:
		return 4
	default:
		return 0
	}
}

// Valid проверяет, что роль входит в известный набор.
func (r Role) Valid() bool {
	return r.Rank() > 0
}

// SyncStatus состояние синхронизации записи.
type SyncStatus string

const (
	SyncStatusSynced   SyncStatus = "synced"   // подтверждена сервером
	SyncStatusPending  SyncStatus = "pending"  // есть неотправленные локальные изменения
	SyncStatusConflict SyncStatus = "conflict" // ждет ручного разрешения, push заблокирован
)

// EntityTypeHoleScore тип записи со счетом игрока на лунке.
const EntityTypeHoleScore = "hole_score"

// Record представляет запись результата (например, счет на лунке),
// которая реплицируется между устройствами и сервером.
type Record struct {
	UpdatedAt       time.Time            `json:"updated_at"`                  // UpdatedAt время последней записи (wall clock автора)
	Fields          map[string]any       `json:"fields"`                      // Fields значения полей (JSON scalars)
	FieldWriteTimes map[string]time.Time `json:"field_write_times,omitempty"` // FieldWriteTimes время последней записи каждого поля
	BaseFieldTimes  map[string]time.Time `json:"base_field_times,omitempty"`  // BaseFieldTimes FieldWriteTimes на момент последней синхронизации
	VersionVector   crdt.VersionVector   `json:"version_vector"`              // VersionVector счетчики записей по устройствам
	RemoteVersion   crdt.VersionVector   `json:"remote_version,omitempty"`    // RemoteVersion последний вектор, подтвержденный сервером
	ID              string               `json:"id"`                          // ID стабильный идентификатор записи
	Type            string               `json:"type"`                        // Type тип сущности, например "hole_score"
	WriterDeviceID  string               `json:"writer_device_id"`            // WriterDeviceID устройство последнего автора
	WriterRole      Role                 `json:"writer_role"`                 // WriterRole роль последнего автора
	SyncStatus      SyncStatus           `json:"sync_status"`                 // SyncStatus состояние синхронизации
	LastError       string               `json:"last_error,omitempty"`        // LastError последняя ошибка отправки
}

// Clone создает глубокую копию записи
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}

	out := *r
	out.Fields = make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		out.Fields[k] = v
	}
	out.FieldWriteTimes = cloneTimes(r.FieldWriteTimes)
	out.BaseFieldTimes = cloneTimes(r.BaseFieldTimes)
	if r.VersionVector != nil {
		out.VersionVector = r.VersionVector.Clone()
	}
	if r.RemoteVersion != nil {
		out.RemoteVersion = r.RemoteVersion.Clone()
	}
	return &out
}

// HasFieldTimes сообщает, есть ли у записи метаданные по полям.
// Без них возможно только разрешение конфликта целиком по записи.
func (r *Record) HasFieldTimes() bool {
	return len(r.FieldWriteTimes) > 0
}

// Register возвращает LWW-регистр поля.
func (r *Record) Register(field string) crdt.Register {
	return crdt.Register{
		Value:     r.Fields[field],
		WrittenAt: r.FieldWriteTimes[field],
		DeviceID:  r.WriterDeviceID,
	}
}

// FieldNames возвращает объединение имен полей из значений и времен записи.
func (r *Record) FieldNames() []string {
	seen := make(map[string]struct{}, len(r.Fields))
	names := make([]string, 0, len(r.Fields))
	for f := range r.Fields {
		seen[f] = struct{}{}
		names = append(names, f)
	}
	for f := range r.FieldWriteTimes {
		if _, ok := seen[f]; !ok {
			names = append(names, f)
		}
	}
	return names
}

// IsNewerThan сравнивает записи целиком по UpdatedAt,
// при равенстве - по WriterDeviceID (детерминированно).
func (r *Record) IsNewerThan(other *Record) bool {
	if r.UpdatedAt.After(other.UpdatedAt) {
		return true
	}
	if r.UpdatedAt.Before(other.UpdatedAt) {
		return false
	}
	return r.WriterDeviceID > other.WriterDeviceID
}

func cloneTimes(in map[string]time.Time) map[string]time.Time {
	if in == nil {
		return nil
	}
	out := make(map[string]time.Time, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// NormalizeFields приводит значения полей к виду, в котором они вернутся
// после JSON round-trip (все числа - float64). Это позволяет сравнивать
// локальные и удаленные значения без учета способа их получения.
func NormalizeFields(fields map[string]any) (map[string]any, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(fields))
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AsNumber извлекает числовое значение поля.
func AsNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
