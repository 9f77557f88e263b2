package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/golang/snappy"

	"github.com/iudanet/scorekeeper/internal/crdt"
	"github.com/iudanet/scorekeeper/internal/models"
	"github.com/iudanet/scorekeeper/internal/server/storage"
	"github.com/iudanet/scorekeeper/internal/validation"
	"github.com/iudanet/scorekeeper/pkg/api"
)

// Ограничения pull и размера тела push
const (
	DefaultPullLimit = 100
	MaxPullLimit     = 500
	maxPushBody      = 4 << 20
)

// Broadcaster рассылает принятые изменения подписчикам ленты
type Broadcaster interface {
	Broadcast(deltas []api.Delta, excludeDevice string)
}

// errForbiddenRole изменение official записи устройством без этой роли
type errForbiddenRole struct {
	recordID string
}

func (e *errForbiddenRole) Error() string {
	return fmt.Sprintf("record %s: official edits require an official device", e.recordID)
}

// SyncHandler handles push and pull requests
type SyncHandler struct {
	logger   *slog.Logger
	records  storage.RecordStorage
	feed     Broadcaster
	validate *validator.Validate
}

// NewSyncHandler creates a new sync handler. feed may be nil.
func NewSyncHandler(logger *slog.Logger, records storage.RecordStorage, feed Broadcaster) *SyncHandler {
	return &SyncHandler{
		logger:   logger,
		records:  records,
		feed:     feed,
		validate: validator.New(),
	}
}

// Push обрабатывает POST /api/v1/sync/push
// Каждый элемент применяется в отдельной транзакции, результаты в порядке запроса
func (h *SyncHandler) Push(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	deviceID, ok := GetDeviceID(ctx)
	if !ok {
		h.logger.Error("Device ID not found in context")
		sendError(h.logger, w, codeUnauthorized, "unauthorized", http.StatusUnauthorized)
		return
	}
	role, _ := GetRole(ctx)

	req, err := h.decodePush(w, r)
	if err != nil {
		h.logger.Warn("Failed to decode push request", "device_id", deviceID, "error", err)
		sendError(h.logger, w, codeInvalidRequest, err.Error(), http.StatusBadRequest)
		return
	}

	changes := make([]*storage.Change, 0, len(req.Items))
	for i := range req.Items {
		change, err := changeFromItem(&req.Items[i])
		if err != nil {
			sendError(h.logger, w, codeInvalidRequest, err.Error(), http.StatusBadRequest)
			return
		}
		changes = append(changes, change)
	}

	// Проверяем роль до применения: отклоненный пакет не должен быть применен частично
	guard := officialGuard(role)
	for _, change := range changes {
		current, err := h.records.GetRecord(ctx, change.ID)
		if err != nil && !errors.Is(err, storage.ErrRecordNotFound) {
			h.logger.Error("Failed to get record", "record_id", change.ID, "error", err)
			sendError(h.logger, w, codeInternal, "internal server error", http.StatusInternalServerError)
			return
		}
		var serverVersion crdt.VersionVector
		if current != nil {
			serverVersion = current.VersionVector
		}
		if !change.VersionVector.Descends(serverVersion) {
			continue
		}
		if err := guard(current, change); err != nil {
			h.forbidden(w, deviceID, role, err)
			return
		}
	}

	resp := api.PushResponse{Results: make([]api.PushResult, 0, len(changes))}
	deltas := make([]api.Delta, 0, len(changes))
	conflicts := 0

	for _, change := range changes {
		out, err := h.records.ApplyChange(ctx, change, guard)
		if err != nil {
			var forbidden *errForbiddenRole
			switch {
			case errors.As(err, &forbidden):
				h.forbidden(w, deviceID, role, err)
			case errors.Is(err, storage.ErrIdempotencyMismatch):
				sendError(h.logger, w, codeIdempotencyKey, err.Error(), http.StatusConflict)
			default:
				h.logger.Error("Failed to apply change", "record_id", change.ID, "error", err)
				sendError(h.logger, w, codeInternal, "internal server error", http.StatusInternalServerError)
			}
			return
		}

		result := api.PushResult{
			ID:             change.ID,
			IdempotencyKey: change.IdempotencyKey,
		}
		if out.Record != nil {
			result.ServerVersionVector = out.Record.VersionVector.Clone()
		}

		if out.Accepted {
			result.Status = api.PushStatusAccepted
			result.Seq = out.Seq
			deltas = append(deltas, deltaFromEntry(&storage.ChangeEntry{Seq: out.Seq, Record: out.Record, ChangedAt: out.Record.UpdatedAt}))
		} else {
			conflicts++
			result.Status = api.PushStatusConflict
			rec := recordToAPI(out.Record)
			result.Record = &rec
			h.logger.Debug("Push conflict", "record_id", change.ID, "device_id", deviceID)
		}
		resp.Results = append(resp.Results, result)
	}

	if h.feed != nil && len(deltas) > 0 {
		h.feed.Broadcast(deltas, deviceID)
	}

	h.logger.Info("Push completed",
		"device_id", deviceID,
		"items", len(changes),
		"accepted", len(deltas),
		"conflicts", conflicts)

	sendJSON(h.logger, w, resp, http.StatusOK)
}

// Pull обрабатывает GET /api/v1/sync/pull?cursor=&limit=
// Возвращает изменения с seq > cursor в порядке seq
func (h *SyncHandler) Pull(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	deviceID, ok := GetDeviceID(ctx)
	if !ok {
		h.logger.Error("Device ID not found in context")
		sendError(h.logger, w, codeUnauthorized, "unauthorized", http.StatusUnauthorized)
		return
	}

	var cursor uint64
	if s := r.URL.Query().Get("cursor"); s != "" {
		var err error
		cursor, err = strconv.ParseUint(s, 10, 64)
		if err != nil {
			h.logger.Warn("Invalid cursor parameter", "cursor", s, "error", err)
			sendError(h.logger, w, codeInvalidRequest, "invalid cursor parameter", http.StatusBadRequest)
			return
		}
	}

	limit := DefaultPullLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			sendError(h.logger, w, codeInvalidRequest, "invalid limit parameter", http.StatusBadRequest)
			return
		}
		limit = min(n, MaxPullLimit)
	}

	// Запрашиваем на одну запись больше, чтобы узнать о следующей странице
	entries, err := h.records.ChangesSince(ctx, cursor, limit+1)
	if err != nil {
		h.logger.Error("Failed to get changes", "error", err, "cursor", cursor)
		sendError(h.logger, w, codeInternal, "internal server error", http.StatusInternalServerError)
		return
	}

	resp := api.PullResponse{Cursor: cursor}
	if len(entries) > limit {
		entries = entries[:limit]
		resp.HasMore = true
	}

	resp.Deltas = make([]api.Delta, 0, len(entries))
	for _, entry := range entries {
		resp.Deltas = append(resp.Deltas, deltaFromEntry(entry))
		resp.Cursor = entry.Seq
	}

	h.logger.Debug("Pull completed",
		"device_id", deviceID,
		"cursor", cursor,
		"deltas", len(resp.Deltas),
		"has_more", resp.HasMore)

	sendJSON(h.logger, w, resp, http.StatusOK)
}

// decodePush читает тело (snappy при Content-Encoding: snappy) и проверяет его
func (h *SyncHandler) decodePush(w http.ResponseWriter, r *http.Request) (*api.PushRequest, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPushBody))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}

	if r.Header.Get("Content-Encoding") == "snappy" {
		body, err = snappy.Decode(nil, body)
		if err != nil {
			return nil, fmt.Errorf("failed to decode snappy body: %w", err)
		}
	}

	var req api.PushRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("invalid request body: %w", err)
	}

	if err := h.validate.Struct(req); err != nil {
		return nil, err
	}

	return &req, nil
}

func (h *SyncHandler) forbidden(w http.ResponseWriter, deviceID string, role models.Role, err error) {
	h.logger.Warn("Push rejected by role check",
		"device_id", deviceID,
		"role", role,
		"error", err)
	sendError(h.logger, w, codeForbiddenRole, err.Error(), http.StatusForbidden)
}

// officialGuard запрещает устройству без роли official менять значения
// в изменениях с автором official. Пересылка неизмененных значений official
// (например, после разрешения конфликта в их пользу) допускается.
func officialGuard(role models.Role) storage.GuardFunc {
	return func(current *models.Record, change *storage.Change) error {
		if change.WriterRole != models.RoleOfficial || role == models.RoleOfficial {
			return nil
		}
		if current == nil {
			return &errForbiddenRole{recordID: change.ID}
		}
		for field, value := range change.Delta {
			old, ok := current.Fields[field]
			if value == nil {
				if ok {
					return &errForbiddenRole{recordID: change.ID}
				}
				continue
			}
			if !ok || !reflect.DeepEqual(old, value) {
				return &errForbiddenRole{recordID: change.ID}
			}
		}
		return nil
	}
}

// changeFromItem проверяет идентификаторы и собирает изменение для хранилища
func changeFromItem(item *api.PushItem) (*storage.Change, error) {
	if err := validation.ValidateRecordID(item.ID); err != nil {
		return nil, err
	}
	for field := range item.Delta {
		if err := validation.ValidateFieldName(field); err != nil {
			return nil, fmt.Errorf("record %s: %w", item.ID, err)
		}
	}

	delta, err := models.NormalizeFields(item.Delta)
	if err != nil {
		return nil, fmt.Errorf("record %s: invalid delta: %w", item.ID, err)
	}

	return &storage.Change{
		ID:              item.ID,
		Type:            item.Type,
		Delta:           delta,
		FieldWriteTimes: item.FieldWriteTimes,
		VersionVector:   crdt.VersionVector(item.VersionVector).Clone(),
		IdempotencyKey:  item.IdempotencyKey,
		UpdatedAt:       item.UpdatedAt,
		WriterDeviceID:  item.WriterDeviceID,
		WriterRole:      models.Role(item.WriterRole),
	}, nil
}

func deltaFromEntry(entry *storage.ChangeEntry) api.Delta {
	rec := recordToAPI(entry.Record)
	return api.Delta{
		ID:              entry.Record.ID,
		Seq:             entry.Seq,
		ChangeTimestamp: entry.ChangedAt,
		VersionVector:   rec.VersionVector,
		Record:          rec,
	}
}

func recordToAPI(rec *models.Record) api.Record {
	if rec == nil {
		return api.Record{}
	}
	return api.Record{
		ID:              rec.ID,
		Type:            rec.Type,
		Fields:          rec.Fields,
		FieldWriteTimes: rec.FieldWriteTimes,
		VersionVector:   rec.VersionVector.Clone(),
		UpdatedAt:       rec.UpdatedAt,
		WriterDeviceID:  rec.WriterDeviceID,
		WriterRole:      string(rec.WriterRole),
	}
}
