// Package handlers содержит HTTP обработчики сервера синхронизации.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/iudanet/scorekeeper/internal/models"
	"github.com/iudanet/scorekeeper/pkg/api"
)

// contextKey тип для ключей контекста
type contextKey string

const (
	// DeviceIDKey ключ для хранения device_id в контексте
	DeviceIDKey contextKey = "device_id"
	// RoleKey ключ для хранения роли устройства в контексте
	RoleKey contextKey = "role"
)

// Коды ошибок в ErrorResponse.Error
const (
	codeInvalidRequest = "invalid_request"
	codeUnauthorized   = "unauthorized"
	codeForbiddenRole  = "forbidden_role"
	codeDeviceExists   = "device_exists"
	codeIdempotencyKey = "idempotency_key_reused"
	codeInternal       = "internal_error"
	codeUnavailable    = "unavailable"
	codeEnrollCode     = "invalid_enroll_code"
)

// GetDeviceID извлекает device_id из контекста запроса
func GetDeviceID(ctx context.Context) (string, bool) {
	deviceID, ok := ctx.Value(DeviceIDKey).(string)
	return deviceID, ok && deviceID != ""
}

// GetRole извлекает роль устройства из контекста запроса
func GetRole(ctx context.Context) (models.Role, bool) {
	role, ok := ctx.Value(RoleKey).(models.Role)
	return role, ok
}

// WithDevice кладет данные устройства в контекст (используется AuthMiddleware)
func WithDevice(ctx context.Context, deviceID string, role models.Role) context.Context {
	ctx = context.WithValue(ctx, DeviceIDKey, deviceID)
	return context.WithValue(ctx, RoleKey, role)
}

// sendJSON отправляет JSON ответ
func sendJSON(logger *slog.Logger, w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode JSON response", slog.Any("error", err))
	}
}

// sendError отправляет JSON ответ с ошибкой
func sendError(logger *slog.Logger, w http.ResponseWriter, code, message string, statusCode int) {
	sendJSON(logger, w, api.ErrorResponse{Error: code, Message: message}, statusCode)
}
