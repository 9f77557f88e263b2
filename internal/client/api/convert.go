package api

import (
	"time"

	"github.com/iudanet/scorekeeper/internal/crdt"
	"github.com/iudanet/scorekeeper/internal/models"
	"github.com/iudanet/scorekeeper/pkg/api"
)

// RecordFromAPI конвертирует серверную запись в модель.
// Синхронизационные поля (статус, базовые времена) заполняет вызывающий.
func RecordFromAPI(r api.Record) *models.Record {
	rec := &models.Record{
		ID:              r.ID,
		Type:            r.Type,
		Fields:          make(map[string]any, len(r.Fields)),
		FieldWriteTimes: copyTimes(r.FieldWriteTimes),
		VersionVector:   crdt.VersionVector(r.VersionVector).Clone(),
		UpdatedAt:       r.UpdatedAt,
		WriterDeviceID:  r.WriterDeviceID,
		WriterRole:      models.Role(r.WriterRole),
	}
	for k, v := range r.Fields {
		rec.Fields[k] = v
	}
	return rec
}

// RecordToAPI конвертирует модель в формат обмена
func RecordToAPI(rec *models.Record) api.Record {
	out := api.Record{
		ID:              rec.ID,
		Type:            rec.Type,
		Fields:          make(map[string]any, len(rec.Fields)),
		FieldWriteTimes: copyTimes(rec.FieldWriteTimes),
		VersionVector:   rec.VersionVector.Clone(),
		UpdatedAt:       rec.UpdatedAt,
		WriterDeviceID:  rec.WriterDeviceID,
		WriterRole:      string(rec.WriterRole),
	}
	for k, v := range rec.Fields {
		out.Fields[k] = v
	}
	return out
}

// PushItemFromChange собирает элемент push из записи и ее ожидающего изменения.
// Значения полей берутся из текущей записи: после разрешения конфликта они могут
// отличаться от значений в delta. Поле, которого нет в записи, передается как nil
// (удаление на сервере).
func PushItemFromChange(rec *models.Record, change *models.PendingChange) api.PushItem {
	times := make(map[string]time.Time, len(change.Delta))
	delta := make(map[string]any, len(change.Delta))
	for field := range change.Delta {
		delta[field] = rec.Fields[field]
		if t, ok := rec.FieldWriteTimes[field]; ok {
			times[field] = t
		}
	}

	return api.PushItem{
		ID:                rec.ID,
		Type:              rec.Type,
		Delta:             delta,
		FieldWriteTimes:   times,
		IdempotencyKey:    change.IdempotencyKey,
		BaseVersionVector: rec.RemoteVersion.Clone(),
		VersionVector:     rec.VersionVector.Clone(),
		UpdatedAt:         rec.UpdatedAt,
		WriterDeviceID:    rec.WriterDeviceID,
		WriterRole:        string(rec.WriterRole),
	}
}

func copyTimes(in map[string]time.Time) map[string]time.Time {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]time.Time, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
